package domain

// Payloads exchanged with the desktop shell over the notification bridge.

// VisibilityPayload is published by the shell when the window is shown or hidden.
type VisibilityPayload struct {
	Visible bool `json:"visible"`
}

// NotificationTagPayload identifies a displayed notification. It is used for
// dismiss requests and click reports.
type NotificationTagPayload struct {
	Tag string `json:"tag"`
}

// PermissionPayload is the shell's answer to a permission request.
type PermissionPayload struct {
	Permission NotificationPermission `json:"permission"`
}
