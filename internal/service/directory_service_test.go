package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brightdesk/brightdesk-api/internal/dto"
	"github.com/brightdesk/brightdesk-api/internal/models"
	"github.com/brightdesk/brightdesk-api/internal/repository"
)

func setupServiceDB(t *testing.T, entities ...interface{}) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(entities...))
	return db
}

func setupDirectoryService(t *testing.T) (DirectoryService, repository.ChatRepository) {
	t.Helper()
	db := setupServiceDB(t, &models.Chat{})
	repo := repository.NewChatRepository(db)
	return NewDirectoryService(repo, nil, "test", "Team", zerolog.Nop()), repo
}

func TestDirectoryServiceRejectsSelfChat(t *testing.T) {
	svc, _ := setupDirectoryService(t)

	_, err := svc.GetOrCreateDirectChat(context.Background(), "11", "11", "Ana", "Ana")
	require.ErrorIs(t, err, ErrSelfChat)
}

func TestDirectoryServiceDirectChatIsSingleton(t *testing.T) {
	svc, _ := setupDirectoryService(t)

	first, err := svc.GetOrCreateDirectChat(context.Background(), "21", "22", "Ana", "Ben")
	require.NoError(t, err)
	// The viewer sees the other participant's name.
	require.Equal(t, "Ben", first.Name)

	second, err := svc.GetOrCreateDirectChat(context.Background(), "22", "21", "Ben", "Ana")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "Ana", second.Name)
}

func TestDirectoryServiceListForUserIncludesGroupChat(t *testing.T) {
	svc, _ := setupDirectoryService(t)

	_, err := svc.GetOrCreateDirectChat(context.Background(), "31", "32", "Ana", "Ben")
	require.NoError(t, err)
	_, err = svc.GetOrCreateDirectChat(context.Background(), "33", "34", "Cleo", "Dan")
	require.NoError(t, err)

	chats, err := svc.ListForUser(context.Background(), "31")
	require.NoError(t, err)

	ids := make([]string, 0, len(chats))
	for _, chat := range chats {
		ids = append(ids, chat.ID)
	}
	require.Contains(t, ids, models.GroupChatID)
	require.Contains(t, ids, models.DirectChatID("31", "32"))
	require.NotContains(t, ids, models.DirectChatID("33", "34"))
}

func TestDirectoryServiceSubscribePushesFilteredLists(t *testing.T) {
	svc, _ := setupDirectoryService(t)

	_, err := svc.EnsureGroupChat(context.Background())
	require.NoError(t, err)

	staffList, staffCleanup := svc.Subscribe("41", false)
	defer staffCleanup()
	adminList, adminCleanup := svc.Subscribe("900", true)
	defer adminCleanup()

	chat, err := svc.GetOrCreateDirectChat(context.Background(), "42", "43", "Ben", "Cleo")
	require.NoError(t, err)

	expectList := func(ch <-chan []dto.ChatResponse) []dto.ChatResponse {
		select {
		case list := <-ch:
			return list
		case <-time.After(time.Second):
			t.Fatal("expected a directory push")
			return nil
		}
	}

	// The staff subscriber is not a participant of the new direct chat.
	staff := expectList(staffList)
	for _, entry := range staff {
		require.NotEqual(t, chat.ID, entry.ID)
	}

	admin := expectList(adminList)
	ids := make([]string, 0, len(admin))
	for _, entry := range admin {
		ids = append(ids, entry.ID)
	}
	require.Contains(t, ids, chat.ID)
}

func TestDirectoryServiceSlowSubscriberStillSeesFinalState(t *testing.T) {
	svc, _ := setupDirectoryService(t)

	_, err := svc.EnsureGroupChat(context.Background())
	require.NoError(t, err)

	stream, cleanup := svc.Subscribe("900", true)
	defer cleanup()

	// Overflow the subscriber buffer without draining; the last queued list
	// must still reflect the final chat set.
	total := directoryBufferSize + 4
	var lastChat dto.ChatResponse
	for i := 0; i < total; i++ {
		lastChat, err = svc.GetOrCreateDirectChat(context.Background(),
			userIDString(uint(9100+2*i)), userIDString(uint(9101+2*i)), "Ana", "Ben")
		require.NoError(t, err)
	}

	var final []dto.ChatResponse
drain:
	for {
		select {
		case list := <-stream:
			final = list
		default:
			break drain
		}
	}

	require.NotEmpty(t, final)
	ids := make([]string, 0, len(final))
	for _, entry := range final {
		ids = append(ids, entry.ID)
	}
	require.Contains(t, ids, lastChat.ID)
}
