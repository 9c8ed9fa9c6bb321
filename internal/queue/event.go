// Package queue defines message payloads exchanged over the message broker.
package queue

// AuthEventsQueue is the durable queue carrying AuthEvent messages.
const AuthEventsQueue = "auth.events"

// AuthEvent is published for every security-relevant step of the session
// lifecycle.  It never contains secrets: only the owner, the refresh token
// id and the client fingerprint.
type AuthEvent struct {
	Type       string `json:"type"`
	OwnerKind  string `json:"owner_kind,omitempty"`
	OwnerID    string `json:"owner_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	IP         string `json:"ip,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	Detail     string `json:"detail,omitempty"`
	OccurredAt string `json:"occurred_at"`
}
