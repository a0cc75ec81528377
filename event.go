package passport

import "time"

// EventKind identifies a session lifecycle transition
type EventKind string

const (
	// EventLogin is emitted after a successful login
	EventLogin EventKind = "login"

	// EventLogout is emitted whenever the persisted session is cleared
	EventLogout EventKind = "logout"

	// EventRefreshed is emitted after a successful refresh
	EventRefreshed EventKind = "refreshed"

	// EventRefreshFailed is emitted when a refresh ends the session
	EventRefreshFailed EventKind = "refresh_failed"
)

// SessionEvent describes a session transition. It never carries token material.
type SessionEvent struct {
	Kind       EventKind `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}
