package models

import "time"

// Notification priorities.
const (
	NotificationPriorityNormal = "normal"
	NotificationPriorityHigh   = "high"
)

// Notification permission states mirrored from the client. The transition
// default -> granted|denied is one-way from the application's point of view.
const (
	PermissionDefault = "default"
	PermissionGranted = "granted"
	PermissionDenied  = "denied"
)

// Notification is a message alert surfaced to a user. Tag carries the chat
// id so repeated alerts for the same conversation replace rather than stack.
type Notification struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             string    `gorm:"size:64;index;not null" json:"user_id"`
	Title              string    `gorm:"size:255" json:"title"`
	Body               string    `gorm:"size:255" json:"body"`
	Tag                string    `gorm:"size:160;index" json:"tag"`
	Priority           string    `gorm:"size:16;default:normal" json:"priority"`
	RequireInteraction bool      `gorm:"not null;default:false" json:"require_interaction"`
	Sound              bool      `gorm:"not null;default:false" json:"sound"`
	Read               bool      `gorm:"not null;default:false" json:"read"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// NotificationPreference stores a user's per-device alert settings. Muted is
// independent of Permission: un-muting does not require the client to
// re-request the browser permission.
type NotificationPreference struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     string    `gorm:"size:64;uniqueIndex:idx_pref_user_device;not null" json:"user_id"`
	DeviceID   string    `gorm:"size:128;uniqueIndex:idx_pref_user_device;not null;default:''" json:"device_id"`
	Muted      bool      `gorm:"not null;default:false" json:"muted"`
	Permission string    `gorm:"size:16;not null;default:default" json:"permission"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Enabled reports whether alerts may be surfaced on this device.
func (p NotificationPreference) Enabled() bool {
	return p.Permission == PermissionGranted && !p.Muted
}
