package dto

import (
	"time"

	"github.com/brightdesk/brightdesk-api/internal/models"
)

// MessageAlert is the dispatcher input describing an incoming message that
// a recipient may need to be alerted about.
type MessageAlert struct {
	RecipientID string `json:"recipient_id" validate:"required,max=64"`
	SenderID    string `json:"sender_id" validate:"required,max=64"`
	SenderName  string `json:"sender_name" validate:"required,max=255"`
	Body        string `json:"body" validate:"required"`
	ChatID      string `json:"chat_id" validate:"required,max=160"`
	GroupChat   bool   `json:"group_chat"`
	Priority    string `json:"priority" validate:"omitempty,oneof=normal high"`
}

// NotificationResponse is the alert payload streamed to clients and
// returned from the inbox listing.
type NotificationResponse struct {
	ID                 uint      `json:"id"`
	UserID             string    `json:"user_id"`
	Title              string    `json:"title"`
	Body               string    `json:"body"`
	Tag                string    `json:"tag"`
	Priority           string    `json:"priority"`
	RequireInteraction bool      `json:"require_interaction"`
	Sound              bool      `json:"sound"`
	Read               bool      `json:"read"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewNotificationResponse converts a notification model to a DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:                 model.ID,
		UserID:             model.UserID,
		Title:              model.Title,
		Body:               model.Body,
		Tag:                model.Tag,
		Priority:           model.Priority,
		RequireInteraction: model.RequireInteraction,
		Sound:              model.Sound,
		Read:               model.Read,
		CreatedAt:          model.CreatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// PreferenceUpdateRequest toggles the per-device mute switch and records
// the browser permission state reported by the client.
type PreferenceUpdateRequest struct {
	DeviceID   string `json:"device_id" validate:"omitempty,max=128"`
	Muted      *bool  `json:"muted" validate:"omitempty"`
	Permission string `json:"permission" validate:"omitempty,oneof=default granted denied"`
}

// PreferenceResponse reports the stored alert settings for one device.
type PreferenceResponse struct {
	UserID     string `json:"user_id"`
	DeviceID   string `json:"device_id"`
	Muted      bool   `json:"muted"`
	Permission string `json:"permission"`
	Enabled    bool   `json:"enabled"`
}

// NewPreferenceResponse converts a preference model to a DTO.
func NewPreferenceResponse(model models.NotificationPreference) PreferenceResponse {
	return PreferenceResponse{
		UserID:     model.UserID,
		DeviceID:   model.DeviceID,
		Muted:      model.Muted,
		Permission: model.Permission,
		Enabled:    model.Enabled(),
	}
}
