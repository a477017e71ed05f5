package dto

import "time"

// Presence statuses writable by clients.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// PresenceUpdateRequest is the heartbeat payload. Clients send online on
// mount and every 30 seconds, and offline on unmount (best effort).
type PresenceUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=online offline"`
}

// PresenceResponse is the last-known presence of a user. Online already
// accounts for the read-side staleness cutoff when one is configured.
type PresenceResponse struct {
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	Online     bool      `json:"online"`
	LastSeen   time.Time `json:"last_seen"`
	LastSeenMs int64     `json:"last_seen_ms"`
}
