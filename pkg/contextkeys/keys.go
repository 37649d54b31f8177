package contextkeys

// Key is the type of context keys set by this module; a distinct type avoids collisions with other packages.
type Key string

const (
	// RequestIDKey carries the id of the HTTP request or operation being logged.
	RequestIDKey Key = "request_id"

	// UserIDKey carries the authenticated user id (as a string).
	UserIDKey Key = "user_id"

	// SocketIDKey carries the server-assigned socket id of the live connection.
	SocketIDKey Key = "socket_id"

	// EventKey carries the name of the inbound or outbound event being processed.
	EventKey Key = "event"

	// TransportKey carries the transport name ("websocket", "polling", "simulated").
	TransportKey Key = "transport"
)

// String makes Key satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c Key) String() string {
	return string(c)
}
