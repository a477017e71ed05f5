package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Chat types. The workspace has exactly one group chat that implicitly
// includes every user; direct chats exist per unordered participant pair.
const (
	ChatTypeGroup  = "group"
	ChatTypeDirect = "direct"
)

// GroupChatID is the well-known identifier of the singleton broadcast chat.
const GroupChatID = "general"

// DirectChatID derives the deterministic id for a direct chat between two
// users. The pair is sorted so both participants compute the same id, which
// makes concurrent creation idempotent.
func DirectChatID(userA, userB string) string {
	pair := []string{strings.TrimSpace(userA), strings.TrimSpace(userB)}
	sort.Strings(pair)
	return "dm:" + pair[0] + "-" + pair[1]
}

// Chat is a conversation container plus its denormalized last-message
// preview. The preview is a cache over the message log, never a second
// source of truth.
type Chat struct {
	ID                string            `gorm:"primaryKey;size:160" json:"id"`
	Type              string            `gorm:"size:16;not null;index" json:"type"`
	Name              string            `gorm:"size:255" json:"name"`
	ParticipantIDs    datatypes.JSON    `gorm:"type:json" json:"participant_ids"`
	ParticipantNames  datatypes.JSONMap `gorm:"type:json" json:"participant_names"`
	LastMessageBody   string            `gorm:"type:text" json:"last_message_body"`
	LastMessageSender string            `gorm:"size:255" json:"last_message_sender"`
	LastMessageAt     time.Time         `gorm:"index" json:"last_message_at"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Participants decodes the stored participant id list. The group chat has
// no explicit participants; it implicitly includes everyone.
func (c Chat) Participants() []string {
	if len(c.ParticipantIDs) == 0 {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(c.ParticipantIDs, &ids); err != nil {
		return nil
	}
	return ids
}

// HasParticipant reports whether the user may take part in this chat.
func (c Chat) HasParticipant(userID string) bool {
	if c.Type == ChatTypeGroup {
		return true
	}
	for _, id := range c.Participants() {
		if id == userID {
			return true
		}
	}
	return false
}

// DisplayNameFor resolves the label a viewer should see. Direct chats are
// named after the other participant, using the name captured at creation
// time so the label survives later user-directory changes.
func (c Chat) DisplayNameFor(viewerID string) string {
	if c.Type != ChatTypeDirect {
		return c.Name
	}
	for _, id := range c.Participants() {
		if id == viewerID {
			continue
		}
		if raw, ok := c.ParticipantNames[id]; ok {
			if name, ok := raw.(string); ok && name != "" {
				return name
			}
		}
	}
	return c.Name
}

// ParticipantLabel joins the stored participant names for views that are
// not tied to one participant, such as the conversation monitor.
func (c Chat) ParticipantLabel() string {
	var names []string
	for _, id := range c.Participants() {
		if raw, ok := c.ParticipantNames[id]; ok {
			if name, ok := raw.(string); ok && name != "" {
				names = append(names, name)
				continue
			}
		}
		names = append(names, id)
	}
	if len(names) == 0 {
		return c.Name
	}
	return strings.Join(names, " & ")
}

// ChatMessage is a single entry in a chat's append-only log. Messages are
// never edited or deleted; only the ReadBy map mutates after creation. The
// autoincrement id doubles as the insertion-order tiebreak when two messages
// share a timestamp.
type ChatMessage struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	ChatID     string            `gorm:"size:160;index;not null" json:"chat_id"`
	SenderID   string            `gorm:"size:64;index;not null" json:"sender_id"`
	SenderName string            `gorm:"size:255" json:"sender_name"`
	SenderRole string            `gorm:"size:32" json:"sender_role"`
	Body       string            `gorm:"type:text;not null" json:"body"`
	ReadBy     datatypes.JSONMap `gorm:"type:json" json:"read_by"`
	CreatedAt  time.Time         `gorm:"index" json:"created_at"`
}
