package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/brightdesk/brightdesk-api/internal/models"
)

// ChatRepository persists the chat directory: the singleton group chat,
// direct chats keyed by participant pair, and the denormalized last-message
// summaries.
type ChatRepository interface {
	// EnsureGroup creates the singleton broadcast chat if absent.
	EnsureGroup(ctx context.Context, name string) (models.Chat, error)
	// EnsureDirect creates the direct chat for the pair if absent and
	// returns the stored row. The deterministic id makes the creation race
	// converge: both sides insert the same key, the conflict is ignored.
	EnsureDirect(ctx context.Context, userA, userB, nameA, nameB string) (models.Chat, error)
	FindByID(ctx context.Context, id string) (models.Chat, error)
	// ListForUser returns the group chat plus the user's direct chats,
	// sorted by most recent activity descending.
	ListForUser(ctx context.Context, userID string) ([]models.Chat, error)
	// ListAll returns every chat without a participant filter. Admin
	// monitor only.
	ListAll(ctx context.Context) ([]models.Chat, error)
	// UpdateLastMessage refreshes the chat's preview cache. Last write
	// wins under concurrent sends; the message log stays authoritative.
	UpdateLastMessage(ctx context.Context, chatID, body, senderName string, at time.Time) error
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) EnsureGroup(ctx context.Context, name string) (models.Chat, error) {
	chat := models.Chat{
		ID:   models.GroupChatID,
		Type: models.ChatTypeGroup,
		Name: name,
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&chat).Error
	if err != nil {
		return models.Chat{}, err
	}

	return r.FindByID(ctx, models.GroupChatID)
}

func (r *chatRepository) EnsureDirect(ctx context.Context, userA, userB, nameA, nameB string) (models.Chat, error) {
	participants, err := json.Marshal([]string{userA, userB})
	if err != nil {
		return models.Chat{}, err
	}

	chat := models.Chat{
		ID:             models.DirectChatID(userA, userB),
		Type:           models.ChatTypeDirect,
		ParticipantIDs: datatypes.JSON(participants),
		ParticipantNames: datatypes.JSONMap{
			userA: nameA,
			userB: nameB,
		},
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&chat).Error
	if err != nil {
		return models.Chat{}, err
	}

	return r.FindByID(ctx, chat.ID)
}

func (r *chatRepository) FindByID(ctx context.Context, id string) (models.Chat, error) {
	var chat models.Chat
	if err := r.db.WithContext(ctx).First(&chat, "id = ?", id).Error; err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) ListForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	chats, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	// Participant filtering happens in memory: JSON containment operators
	// differ between the production and test dialects, and the directory
	// of a small business stays small.
	visible := make([]models.Chat, 0, len(chats))
	for _, chat := range chats {
		if chat.HasParticipant(userID) {
			visible = append(visible, chat)
		}
	}

	return visible, nil
}

func (r *chatRepository) ListAll(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	err := r.db.WithContext(ctx).
		Order("last_message_at DESC").
		Order("created_at DESC").
		Find(&chats).Error
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (r *chatRepository) UpdateLastMessage(ctx context.Context, chatID, body, senderName string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]interface{}{
			"last_message_body":   body,
			"last_message_sender": senderName,
			"last_message_at":     at,
		}).Error
}
