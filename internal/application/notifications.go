package application

import (
	"context"
	"strconv"
	"sync"
	"time"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/metrics"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
)

const defaultBodyLimit = 100

// notifier raises a system notification for messages that arrive while the
// application is not visible.
type notifier struct {
	logger         domain.Logger
	configProvider config.Provider
	host           domain.NotificationHost
	listeners      *ListenerRegistry
	schedule       scheduleFunc
}

func newNotifier(logger domain.Logger, configProvider config.Provider, host domain.NotificationHost, listeners *ListenerRegistry) *notifier {
	return &notifier{
		logger:         logger,
		configProvider: configProvider,
		host:           host,
		listeners:      listeners,
		schedule:       afterFunc,
	}
}

func (n *notifier) supported() bool {
	return n.host != nil && n.host.Supported()
}

func (n *notifier) requestPermission(ctx context.Context) bool {
	if !n.supported() {
		return false
	}
	if timeout := n.configProvider.Get().Notifications.PermissionTimeoutS; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}
	perm, err := n.host.RequestPermission(ctx)
	if err != nil {
		n.logger.Warn(ctx, "Notification permission request failed", "error", err.Error())
		return false
	}
	return perm == domain.PermissionGranted
}

func (n *notifier) notify(ctx context.Context, msg domain.Message) {
	cfg := n.configProvider.Get().Notifications
	if !cfg.Enabled || !n.supported() {
		return
	}
	if n.host.Visible() || n.host.Permission() != domain.PermissionGranted {
		return
	}

	limit := cfg.BodyLimit
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	title := "New message"
	if msg.SenderName != "" {
		title = "New message from " + msg.SenderName
	}
	note := domain.Notification{
		Title: title,
		Body:  truncateRunes(msg.Content, limit),
		Icon:  cfg.Icon,
		Badge: cfg.Icon,
		Tag:   "message-" + formatID(msg.ID),
	}

	handle := &notificationHandle{}
	onClick := func() {
		n.host.Focus(ctx)
		handle.close()
		n.listeners.notifications.dispatch(ctx, domain.NotificationEvent{Type: domain.NotificationEventClick, Message: msg})
	}

	displayed, err := n.host.Show(ctx, note, onClick)
	if err != nil {
		n.logger.Warn(ctx, "Failed to show notification", "tag", note.Tag, "error", err.Error())
		return
	}
	handle.set(displayed)
	metrics.IncrementNotificationsShown()
	n.schedule(cfg.AutoClose(), handle.close)
}

// notificationHandle closes a notification exactly once, even when the close is
// requested before Show has returned the handle.
type notificationHandle struct {
	mu        sync.Mutex
	displayed domain.DisplayedNotification
	closed    bool
}

func (h *notificationHandle) set(d domain.DisplayedNotification) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		if d != nil {
			d.Close()
		}
		return
	}
	h.displayed = d
	h.mu.Unlock()
}

func (h *notificationHandle) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	d := h.displayed
	h.mu.Unlock()
	if d != nil {
		d.Close()
	}
}

// truncateRunes returns the first limit characters of s.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
