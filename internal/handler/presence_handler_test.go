package handler_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brightdesk/brightdesk-api/internal/dto"
	"github.com/brightdesk/brightdesk-api/internal/handler"
	"github.com/brightdesk/brightdesk-api/internal/models"
	"github.com/brightdesk/brightdesk-api/internal/service"
)

func setupPresenceApp(t *testing.T, userID uint) *fiber.App {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	logger := zerolog.New(io.Discard)
	presence := service.NewPresenceService(redisClient, "handlertest", time.Minute, logger)

	app := fiber.New()
	group := app.Group("/presence", stubAuth(userID, "Ana", models.RoleStaff))
	handler.NewPresenceHandler(presence, validator.New(validator.WithRequiredStructEnabled()), logger, time.Second).Register(group)
	return app
}

func TestPresenceHandlerHeartbeatDefaultsToOnline(t *testing.T) {
	app := setupPresenceApp(t, 2011)

	req := httptest.NewRequest(http.MethodPost, "/presence/heartbeat", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                 `json:"success"`
		Data    dto.PresenceResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)
	require.Equal(t, "2011", body.Data.UserID)
	require.True(t, body.Data.Online)
}

func TestPresenceHandlerHeartbeatAcceptsOffline(t *testing.T) {
	app := setupPresenceApp(t, 2021)

	req := httptest.NewRequest(http.MethodPost, "/presence/heartbeat", strings.NewReader(`{"status":"offline"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	get := httptest.NewRequest(http.MethodGet, "/presence/2021", nil)
	resp, err = app.Test(get)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data dto.PresenceResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.False(t, body.Data.Online)
	require.Equal(t, dto.PresenceOffline, body.Data.Status)
}

func TestPresenceHandlerRejectsUnknownStatus(t *testing.T) {
	app := setupPresenceApp(t, 2031)

	req := httptest.NewRequest(http.MethodPost, "/presence/heartbeat", strings.NewReader(`{"status":"busy"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestPresenceHandlerGetUnknownUserIsOffline(t *testing.T) {
	app := setupPresenceApp(t, 2041)

	req := httptest.NewRequest(http.MethodGet, "/presence/9999", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data dto.PresenceResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.False(t, body.Data.Online)
}
