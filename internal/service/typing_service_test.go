package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setupTypingService(t *testing.T, stale time.Duration) (TypingService, *redis.Client) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewTypingService(client, "test", stale, zerolog.Nop()), client
}

func TestTypingServiceSetAndSnapshot(t *testing.T) {
	svc, _ := setupTypingService(t, 5*time.Second)

	require.NoError(t, svc.Set(context.Background(), "general", "11", "Ana", true))

	events, err := svc.Snapshot(context.Background(), "general", "99")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "11", events[0].UserID)
	require.Equal(t, "Ana", events[0].UserName)
	require.True(t, events[0].Typing)

	// The viewer never sees their own flag.
	own, err := svc.Snapshot(context.Background(), "general", "11")
	require.NoError(t, err)
	require.Empty(t, own)
}

func TestTypingServiceClearRemovesRecord(t *testing.T) {
	svc, _ := setupTypingService(t, 5*time.Second)

	require.NoError(t, svc.Set(context.Background(), "general", "21", "Ben", true))
	require.NoError(t, svc.Set(context.Background(), "general", "21", "Ben", false))

	events, err := svc.Snapshot(context.Background(), "general", "")
	require.NoError(t, err)
	require.Empty(t, events)

	// Clearing an absent flag is a no-op, not an error.
	require.NoError(t, svc.Set(context.Background(), "general", "21", "Ben", false))
}

func TestTypingServiceSnapshotSkipsStaleRecords(t *testing.T) {
	svc, client := setupTypingService(t, 5*time.Second)

	// A flag whose clear never arrived, written past the staleness window.
	record, err := json.Marshal(typingRecord{UserName: "Ghost", At: time.Now().UTC().Add(-time.Minute)})
	require.NoError(t, err)
	require.NoError(t, client.HSet(context.Background(), "test:typing:general", "31", record).Err())

	require.NoError(t, svc.Set(context.Background(), "general", "32", "Live", true))

	events, err := svc.Snapshot(context.Background(), "general", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "32", events[0].UserID)
}

func TestTypingServiceSubscribeExcludesOwnEvents(t *testing.T) {
	svc, _ := setupTypingService(t, 5*time.Second)

	events, cleanup := svc.Subscribe("general", "41")
	defer cleanup()

	require.NoError(t, svc.Set(context.Background(), "general", "41", "Self", true))
	require.NoError(t, svc.Set(context.Background(), "general", "42", "Peer", true))

	select {
	case event := <-events:
		require.Equal(t, "42", event.UserID)
		require.True(t, event.Typing)
	case <-time.After(time.Second):
		t.Fatal("expected a typing event")
	}

	select {
	case event := <-events:
		t.Fatalf("unexpected extra event for user %s", event.UserID)
	default:
	}
}
