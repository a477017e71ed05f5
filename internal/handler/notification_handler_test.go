package handler_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brightdesk/brightdesk-api/internal/dto"
	"github.com/brightdesk/brightdesk-api/internal/handler"
	"github.com/brightdesk/brightdesk-api/internal/models"
	"github.com/brightdesk/brightdesk-api/internal/repository"
	"github.com/brightdesk/brightdesk-api/internal/service"
)

func setupNotificationApp(t *testing.T, userID uint) (*fiber.App, service.NotificationService) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Notification{}, &models.NotificationPreference{}))

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())
	svc := service.NewNotificationService(repository.NewNotificationRepository(db), nil, "", nil, validate, logger)

	app := fiber.New()
	group := app.Group("/notifications", stubAuth(userID, "Ana", models.RoleStaff))
	handler.NewNotificationHandler(svc, validate, logger, time.Second).Register(group)
	return app, svc
}

func dispatchTestAlert(t *testing.T, svc service.NotificationService, recipient string) dto.NotificationResponse {
	t.Helper()

	_, err := svc.SetPreference(context.Background(), recipient, dto.PreferenceUpdateRequest{
		Permission: models.PermissionGranted,
	})
	require.NoError(t, err)

	require.NoError(t, svc.DispatchMessage(context.Background(), dto.MessageAlert{
		RecipientID: recipient,
		SenderID:    "900",
		SenderName:  "Ben",
		Body:        "hello there",
		ChatID:      "dm:" + recipient + "-900",
	}))

	inbox, err := svc.List(context.Background(), recipient, 10, 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	return inbox[0]
}

func TestNotificationHandlerListReturnsInbox(t *testing.T) {
	app, svc := setupNotificationApp(t, 4011)
	dispatchTestAlert(t, svc, "4011")

	req := httptest.NewRequest(http.MethodGet, "/notifications/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data []dto.NotificationResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.Len(t, body.Data, 1)
	require.Equal(t, "New message from Ben", body.Data[0].Title)
}

func TestNotificationHandlerMarkRead(t *testing.T) {
	app, svc := setupNotificationApp(t, 4021)
	alert := dispatchTestAlert(t, svc, "4021")

	req := httptest.NewRequest(http.MethodPatch, fmt.Sprintf("/notifications/%d/read", alert.ID), nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data dto.NotificationResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.Data.Read)
}

func TestNotificationHandlerMarkReadRejectsBadID(t *testing.T) {
	app, _ := setupNotificationApp(t, 4031)

	req := httptest.NewRequest(http.MethodPatch, "/notifications/oops/read", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestNotificationHandlerPreferenceRoundTrip(t *testing.T) {
	app, _ := setupNotificationApp(t, 4041)

	put := httptest.NewRequest(http.MethodPut, "/notifications/preferences", strings.NewReader(`{"muted":true,"permission":"granted"}`))
	put.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(put)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	get := httptest.NewRequest(http.MethodGet, "/notifications/preferences", nil)
	resp, err = app.Test(get)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data dto.PreferenceResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.Data.Muted)
	require.Equal(t, models.PermissionGranted, body.Data.Permission)
	require.False(t, body.Data.Enabled)
}
