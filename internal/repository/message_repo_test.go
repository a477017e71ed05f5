package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brightdesk/brightdesk-api/internal/models"
)

func TestMessageRepositoryRecentOrdersByTimeThenID(t *testing.T) {
	db := setupChatTestDB(t, &models.ChatMessage{})
	repo := NewMessageRepository(db)

	chatID := "dm:order-a-order-b"
	base := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)

	// Two messages share a timestamp; the autoincrement id breaks the tie
	// in insertion order.
	first := models.ChatMessage{ChatID: chatID, SenderID: "1", SenderName: "Ana", Body: "first", CreatedAt: base}
	second := models.ChatMessage{ChatID: chatID, SenderID: "2", SenderName: "Ben", Body: "second", CreatedAt: base}
	third := models.ChatMessage{ChatID: chatID, SenderID: "1", SenderName: "Ana", Body: "third", CreatedAt: base.Add(time.Second)}

	require.NoError(t, repo.Append(context.Background(), &first))
	require.NoError(t, repo.Append(context.Background(), &second))
	require.NoError(t, repo.Append(context.Background(), &third))

	messages, err := repo.Recent(context.Background(), chatID, 10)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "first", messages[0].Body)
	require.Equal(t, "second", messages[1].Body)
	require.Equal(t, "third", messages[2].Body)
}

func TestMessageRepositoryRecentReturnsNewestWindow(t *testing.T) {
	db := setupChatTestDB(t, &models.ChatMessage{})
	repo := NewMessageRepository(db)

	chatID := "dm:window-a-window-b"
	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < 5; i++ {
		message := models.ChatMessage{
			ChatID:    chatID,
			SenderID:  "1",
			Body:      fmt.Sprintf("msg-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.Append(context.Background(), &message))
	}

	messages, err := repo.Recent(context.Background(), chatID, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	require.Equal(t, "msg-3", messages[0].Body)
	require.Equal(t, "msg-4", messages[1].Body)
}

func TestMessageRepositoryMarkReadIsIdempotent(t *testing.T) {
	db := setupChatTestDB(t, &models.ChatMessage{})
	repo := NewMessageRepository(db)

	chatID := "dm:read-a-read-b"
	for i := 0; i < 3; i++ {
		message := models.ChatMessage{ChatID: chatID, SenderID: "1", Body: fmt.Sprintf("m%d", i)}
		require.NoError(t, repo.Append(context.Background(), &message))
	}

	updated, err := repo.MarkRead(context.Background(), chatID, "7", time.Now())
	require.NoError(t, err)
	require.Equal(t, 3, updated)

	updated, err = repo.MarkRead(context.Background(), chatID, "7", time.Now())
	require.NoError(t, err)
	require.Zero(t, updated)

	messages, err := repo.Recent(context.Background(), chatID, 10)
	require.NoError(t, err)
	for _, message := range messages {
		require.Contains(t, message.ReadBy, "7")
	}
}

func setupChatTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))
	return db
}
