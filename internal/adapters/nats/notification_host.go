// Package nats bridges the messaging client to the desktop shell that owns the
// window and the system notification center.
//
//	<prefix>.visibility  shell -> client  {"visible": bool}
//	<prefix>.clicks      shell -> client  {"tag": "..."}
//	<prefix>.permission  client -> shell  request, reply {"permission": "..."}
//	<prefix>.show        client -> shell  domain.Notification
//	<prefix>.dismiss     client -> shell  {"tag": "..."}
//	<prefix>.focus       client -> shell
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
	"gitlab.com/timkado/api/edumate-realtime/internal/domain"
	"gitlab.com/timkado/api/edumate-realtime/pkg/safego"
)

// Subjects lists the bridge subjects under one prefix.
type Subjects struct {
	Visibility string
	Clicks     string
	Permission string
	Show       string
	Dismiss    string
	Focus      string
}

// NewSubjects derives the bridge subjects from prefix.
func NewSubjects(prefix string) Subjects {
	if prefix == "" {
		prefix = "edumate.desktop"
	}
	return Subjects{
		Visibility: prefix + ".visibility",
		Clicks:     prefix + ".clicks",
		Permission: prefix + ".permission",
		Show:       prefix + ".show",
		Dismiss:    prefix + ".dismiss",
		Focus:      prefix + ".focus",
	}
}

// NotificationHost implements domain.NotificationHost over NATS. Until the shell
// reports otherwise the window counts as visible, so nothing is shown.
type NotificationHost struct {
	nc       *nats.Conn
	logger   domain.Logger
	subjects Subjects
	subs     []*nats.Subscription

	mu         sync.Mutex
	visible    bool
	permission domain.NotificationPermission
	clicks     map[string]*displayed
}

// NewNotificationHost connects to NATS and subscribes to the shell's subjects.
// The returned cleanup drains the connection.
func NewNotificationHost(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*NotificationHost, func(), error) {
	cfg := cfgProvider.Get()
	appLogger.Info(ctx, "Attempting to connect to NATS server", "url", cfg.NATS.URL)

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.App.ServiceName+"-notifications"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.ErrorHandler(func(c *nats.Conn, s *nats.Subscription, err error) {
			subject := ""
			if s != nil {
				subject = s.Subject
			}
			appLogger.Error(ctx, "NATS error", "subscription", subject, "error", err.Error())
		}),
		nats.ClosedHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS connection closed")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			appLogger.Info(ctx, "NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			appLogger.Warn(ctx, "NATS disconnected", "error", err)
		}),
	)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to NATS", "url", cfg.NATS.URL, "error", err.Error())
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	h, err := newNotificationHost(nc, appLogger, NewSubjects(cfg.NATS.SubjectPrefix), domain.NotificationPermission(cfg.Notifications.Permission))
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	appLogger.Info(ctx, "Notification bridge ready", "url", nc.ConnectedUrl(), "prefix", cfg.NATS.SubjectPrefix)

	cleanup := func() {
		appLogger.Info(context.Background(), "Closing NATS connection...")
		h.Close()
	}
	return h, cleanup, nil
}

func newNotificationHost(nc *nats.Conn, logger domain.Logger, subjects Subjects, initial domain.NotificationPermission) (*NotificationHost, error) {
	switch initial {
	case domain.PermissionGranted, domain.PermissionDenied:
	default:
		initial = domain.PermissionDefault
	}
	h := &NotificationHost{
		nc:         nc,
		logger:     logger,
		subjects:   subjects,
		visible:    true,
		permission: initial,
		clicks:     make(map[string]*displayed),
	}

	visSub, err := nc.Subscribe(subjects.Visibility, h.onVisibility)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subjects.Visibility, err)
	}
	clickSub, err := nc.Subscribe(subjects.Clicks, h.onClick)
	if err != nil {
		_ = visSub.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", subjects.Clicks, err)
	}
	h.subs = []*nats.Subscription{visSub, clickSub}
	if err := nc.Flush(); err != nil {
		logger.Warn(context.Background(), "NATS flush after subscribe failed", "error", err.Error())
	}
	return h, nil
}

// Supported reports whether the bridge connection is usable.
func (h *NotificationHost) Supported() bool {
	return h.nc != nil && !h.nc.IsClosed()
}

// Ping reports an error unless the bridge connection is currently up.
func (h *NotificationHost) Ping(ctx context.Context) error {
	if status := h.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection %s", status.String())
	}
	return nil
}

// Visible implements domain.NotificationHost.
func (h *NotificationHost) Visible() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.visible
}

// Permission implements domain.NotificationHost.
func (h *NotificationHost) Permission() domain.NotificationPermission {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.permission
}

// RequestPermission asks the shell and remembers its answer.
func (h *NotificationHost) RequestPermission(ctx context.Context) (domain.NotificationPermission, error) {
	msg, err := h.nc.RequestWithContext(ctx, h.subjects.Permission, nil)
	if err != nil {
		return h.Permission(), fmt.Errorf("permission request: %w", err)
	}
	var reply domain.PermissionPayload
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return h.Permission(), fmt.Errorf("malformed permission reply: %w", err)
	}

	h.mu.Lock()
	switch reply.Permission {
	case domain.PermissionGranted, domain.PermissionDenied, domain.PermissionDefault:
		h.permission = reply.Permission
	}
	perm := h.permission
	h.mu.Unlock()
	h.logger.Info(ctx, "Notification permission answered", "permission", string(perm))
	return perm, nil
}

// Show publishes n. A later notification with the same tag replaces the click
// handler of the earlier one.
func (h *NotificationHost) Show(ctx context.Context, n domain.Notification, onClick func()) (domain.DisplayedNotification, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	d := &displayed{host: h, tag: n.Tag, onClick: onClick}

	h.mu.Lock()
	h.clicks[n.Tag] = d
	h.mu.Unlock()

	if err := h.nc.Publish(h.subjects.Show, data); err != nil {
		h.forget(d)
		return nil, fmt.Errorf("publish %s: %w", h.subjects.Show, err)
	}
	h.logger.Debug(ctx, "Notification published", "tag", n.Tag)
	return d, nil
}

// Focus asks the shell to bring the window to the front.
func (h *NotificationHost) Focus(ctx context.Context) {
	if err := h.nc.Publish(h.subjects.Focus, nil); err != nil {
		h.logger.Warn(ctx, "Failed to publish focus request", "error", err.Error())
	}
}

// Close unsubscribes and drains the connection.
func (h *NotificationHost) Close() {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	if h.nc != nil && !h.nc.IsClosed() {
		if err := h.nc.Drain(); err != nil {
			h.logger.Error(context.Background(), "Error draining NATS connection", "error", err.Error())
		}
	}
}

func (h *NotificationHost) onVisibility(msg *nats.Msg) {
	var p domain.VisibilityPayload
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		h.logger.Warn(context.Background(), "Malformed visibility update", "subject", msg.Subject, "error", err.Error())
		return
	}
	h.mu.Lock()
	h.visible = p.Visible
	h.mu.Unlock()
	h.logger.Debug(context.Background(), "Window visibility changed", "visible", p.Visible)
}

func (h *NotificationHost) onClick(msg *nats.Msg) {
	var p domain.NotificationTagPayload
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		h.logger.Warn(context.Background(), "Malformed notification click", "subject", msg.Subject, "error", err.Error())
		return
	}
	h.mu.Lock()
	d := h.clicks[p.Tag]
	delete(h.clicks, p.Tag)
	h.mu.Unlock()
	if d == nil {
		return
	}
	safego.Run(context.Background(), h.logger, "NotificationClick-"+p.Tag, d.click)
}

// forget drops d's click handler unless a newer notification took over its tag.
func (h *NotificationHost) forget(d *displayed) {
	h.mu.Lock()
	if h.clicks[d.tag] == d {
		delete(h.clicks, d.tag)
	}
	h.mu.Unlock()
}

// displayed is a notification the shell was asked to show.
type displayed struct {
	host      *NotificationHost
	tag       string
	onClick   func()
	clickOnce sync.Once
	closeOnce sync.Once
}

func (d *displayed) click() {
	d.clickOnce.Do(func() {
		if d.onClick != nil {
			d.onClick()
		}
	})
}

// Close dismisses the notification on the shell.
func (d *displayed) Close() {
	d.closeOnce.Do(func() {
		d.host.forget(d)
		data, _ := json.Marshal(domain.NotificationTagPayload{Tag: d.tag})
		if err := d.host.nc.Publish(d.host.subjects.Dismiss, data); err != nil {
			d.host.logger.Warn(context.Background(), "Failed to publish dismiss", "tag", d.tag, "error", err.Error())
		}
	})
}
