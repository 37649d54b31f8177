package application

import (
	"time"

	"gitlab.com/timkado/api/edumate-realtime/internal/adapters/config"
)

// ReconnectPolicy holds the live transport's retry parameters.
type ReconnectPolicy struct {
	// BaseDelay is the linear backoff unit: attempt n waits n*BaseDelay.
	BaseDelay time.Duration
	// MaxAttempts is how many consecutive failures are retried before giving up.
	MaxAttempts int
	// ServerDisconnectDelay is the fixed delay before reconnecting after the server
	// closed the session cleanly. That reconnect is not counted against MaxAttempts.
	ServerDisconnectDelay time.Duration
	// ConnectTimeout bounds a single dial.
	ConnectTimeout time.Duration
}

// DefaultReconnectPolicy is 1s linear backoff, 5 attempts, 2s after a server disconnect, 20s dial timeout.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:             time.Second,
		MaxAttempts:           5,
		ServerDisconnectDelay: 2 * time.Second,
		ConnectTimeout:        20 * time.Second,
	}
}

// ReconnectPolicyFromConfig builds the policy from the messaging section.
func ReconnectPolicyFromConfig(cfg config.MessagingConfig) ReconnectPolicy {
	p := ReconnectPolicy{
		BaseDelay:             cfg.ReconnectDelay(),
		MaxAttempts:           cfg.MaxReconnectAttempts,
		ServerDisconnectDelay: cfg.ServerDisconnectReconnectDelay(),
		ConnectTimeout:        cfg.ConnectTimeout(),
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// Backoff returns the delay before reconnect attempt n (1-indexed).
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.BaseDelay
}

// stopFunc cancels a scheduled callback; it reports whether the callback was prevented.
type stopFunc func() bool

// scheduleFunc runs fn after d. The live transport uses it for every delayed reconnect
// so tests can observe and fast-forward the delays.
type scheduleFunc func(d time.Duration, fn func()) stopFunc

func afterFunc(d time.Duration, fn func()) stopFunc {
	return time.AfterFunc(d, fn).Stop
}
