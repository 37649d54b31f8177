package domain

import (
	"context"
	"time"
)

// UserClaims is the subset of the access token payload the messaging client relies on.
type UserClaims struct {
	UserID    int64     `json:"userId"`
	Role      string    `json:"role,omitempty"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// AuthProvider is the opaque source of the current identity. Token returns "" with a
// nil error when nobody is logged in.
type AuthProvider interface {
	Token(ctx context.Context) (string, error)
	UserID(ctx context.Context) (int64, bool)
	IsAuthenticated(ctx context.Context) bool
}

// AuthEventType names an identity change published by the login flow.
type AuthEventType string

const (
	AuthEventLogin  AuthEventType = "login"
	AuthEventLogout AuthEventType = "logout"
)

// AuthEvent tells a running client that the stored identity changed.
type AuthEvent struct {
	Type   AuthEventType `json:"type"`
	UserID int64         `json:"userId,omitempty"`
}

// AuthEventHandler processes one AuthEvent.
type AuthEventHandler func(ctx context.Context, ev AuthEvent)

// AuthEventSubscriber delivers AuthEvents until ctx is cancelled or Close is called.
type AuthEventSubscriber interface {
	SubscribeAuthEvents(ctx context.Context, handler AuthEventHandler) error
	Close() error
}
