package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/brightdesk/brightdesk-api/internal/models"
)

// MessageRepository persists the append-only per-chat message log.
type MessageRepository interface {
	Append(ctx context.Context, message *models.ChatMessage) error
	// Recent returns the newest messages of a chat, capped to limit,
	// reordered oldest to newest. Ordering is (created_at, id) so two
	// messages written in the same millisecond keep their insertion order.
	Recent(ctx context.Context, chatID string, limit int) ([]models.ChatMessage, error)
	// MarkRead stamps the user's read time on every message currently in
	// the log. Messages already carrying the stamp are left untouched, so
	// repeated calls are idempotent.
	MarkRead(ctx context.Context, chatID, userID string, at time.Time) (int, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, message *models.ChatMessage) error {
	if message.ReadBy == nil {
		message.ReadBy = datatypes.JSONMap{}
	}
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) Recent(ctx context.Context, chatID string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var messages []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, chatID, userID string, at time.Time) (int, error) {
	var messages []models.ChatMessage
	if err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Find(&messages).Error; err != nil {
		return 0, err
	}

	updated := 0
	for i := range messages {
		if messages[i].ReadBy == nil {
			messages[i].ReadBy = datatypes.JSONMap{}
		}
		if _, seen := messages[i].ReadBy[userID]; seen {
			continue
		}
		messages[i].ReadBy[userID] = at.UTC().Format(time.RFC3339Nano)
		if err := r.db.WithContext(ctx).Model(&messages[i]).Update("read_by", messages[i].ReadBy).Error; err != nil {
			return updated, err
		}
		updated++
	}

	return updated, nil
}
