package domain

import (
	"context"
)

// NotificationPermission mirrors the host's permission states.
type NotificationPermission string

const (
	PermissionDefault NotificationPermission = "default"
	PermissionGranted NotificationPermission = "granted"
	PermissionDenied  NotificationPermission = "denied"
)

// Notification is a user-facing system notification.
type Notification struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Icon               string `json:"icon,omitempty"`
	Badge              string `json:"badge,omitempty"`
	Tag                string `json:"tag"`
	RequireInteraction bool   `json:"requireInteraction"`
	Silent             bool   `json:"silent"`
}

// DisplayedNotification is a handle to a notification currently on screen.
type DisplayedNotification interface {
	Close()
}

// NotificationHost is the host environment: document visibility, notification
// permission and display, and application focus.
type NotificationHost interface {
	Supported() bool
	Visible() bool
	Permission() NotificationPermission
	RequestPermission(ctx context.Context) (NotificationPermission, error)
	// Show displays n; onClick runs at most once if the user clicks it.
	Show(ctx context.Context, n Notification, onClick func()) (DisplayedNotification, error)
	Focus(ctx context.Context)
}
