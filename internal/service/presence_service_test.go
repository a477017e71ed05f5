package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brightdesk/brightdesk-api/internal/dto"
)

func setupPresenceService(t *testing.T, staleAfter time.Duration) (PresenceService, *redis.Client) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewPresenceService(client, "test", staleAfter, zerolog.Nop()), client
}

func TestPresenceServiceReadAfterWrite(t *testing.T) {
	svc, _ := setupPresenceService(t, time.Minute)

	updated, err := svc.Update(context.Background(), "11", dto.PresenceOnline)
	require.NoError(t, err)
	require.True(t, updated.Online)

	presence, err := svc.Get(context.Background(), "11")
	require.NoError(t, err)
	require.Equal(t, dto.PresenceOnline, presence.Status)
	require.True(t, presence.Online)
	require.False(t, presence.LastSeen.IsZero())
}

func TestPresenceServiceExplicitOfflineWins(t *testing.T) {
	svc, _ := setupPresenceService(t, time.Minute)

	_, err := svc.Update(context.Background(), "21", dto.PresenceOnline)
	require.NoError(t, err)
	_, err = svc.Update(context.Background(), "21", dto.PresenceOffline)
	require.NoError(t, err)

	presence, err := svc.Get(context.Background(), "21")
	require.NoError(t, err)
	require.Equal(t, dto.PresenceOffline, presence.Status)
	require.False(t, presence.Online)
}

func TestPresenceServiceUnknownUserReadsOffline(t *testing.T) {
	svc, _ := setupPresenceService(t, time.Minute)

	presence, err := svc.Get(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, dto.PresenceOffline, presence.Status)
	require.False(t, presence.Online)
}

func TestPresenceServiceStaleOnlineReadsOffline(t *testing.T) {
	svc, client := setupPresenceService(t, time.Minute)

	// A crashed client's last heartbeat, older than the cutoff.
	stale := time.Now().UTC().Add(-5 * time.Minute).UnixMilli()
	require.NoError(t, client.HSet(context.Background(), "test:presence:31", map[string]interface{}{
		"status":    dto.PresenceOnline,
		"last_seen": stale,
	}).Err())

	presence, err := svc.Get(context.Background(), "31")
	require.NoError(t, err)
	require.Equal(t, dto.PresenceOffline, presence.Status)
	require.Equal(t, stale, presence.LastSeenMs)
}

func TestPresenceServiceZeroCutoffTrustsLastWrite(t *testing.T) {
	svc, client := setupPresenceService(t, 0)

	stale := time.Now().UTC().Add(-time.Hour).UnixMilli()
	require.NoError(t, client.HSet(context.Background(), "test:presence:41", map[string]interface{}{
		"status":    dto.PresenceOnline,
		"last_seen": stale,
	}).Err())

	presence, err := svc.Get(context.Background(), "41")
	require.NoError(t, err)
	require.True(t, presence.Online)
}

func TestPresenceServiceRejectsUnknownStatus(t *testing.T) {
	svc, _ := setupPresenceService(t, time.Minute)

	_, err := svc.Update(context.Background(), "51", "away")
	require.ErrorIs(t, err, ErrInvalidPresenceStatus)
}

func TestPresenceServiceSubscribeDeliversUpdates(t *testing.T) {
	svc, _ := setupPresenceService(t, time.Minute)

	updates, cleanup := svc.Subscribe("61")
	defer cleanup()

	_, err := svc.Update(context.Background(), "61", dto.PresenceOnline)
	require.NoError(t, err)

	select {
	case presence := <-updates:
		require.Equal(t, "61", presence.UserID)
		require.True(t, presence.Online)
	case <-time.After(time.Second):
		t.Fatal("expected a presence update")
	}
}
