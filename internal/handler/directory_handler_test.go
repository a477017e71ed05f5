package handler_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
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

func setupDirectoryApp(t *testing.T, userID uint, name string) (*fiber.App, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Chat{}))

	logger := zerolog.New(io.Discard)
	validate := validator.New(validator.WithRequiredStructEnabled())

	directory := service.NewDirectoryService(repository.NewChatRepository(db), nil, "handlertest", "Team", logger)
	users := service.NewUserService(repository.NewUserRepository(db), logger)

	app := fiber.New()
	group := app.Group("/chats", stubAuth(userID, name, models.RoleStaff))
	handler.NewDirectoryHandler(directory, users, validate, logger, time.Second).Register(group)
	return app, db
}

func TestDirectoryHandlerListIncludesGroupChat(t *testing.T) {
	app, _ := setupDirectoryApp(t, 3011, "Ana")

	req := httptest.NewRequest(http.MethodGet, "/chats/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Data []dto.ChatResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)

	ids := make([]string, 0, len(body.Data))
	for _, chat := range body.Data {
		ids = append(ids, chat.ID)
	}
	require.Contains(t, ids, models.GroupChatID)
}

func TestDirectoryHandlerCreateDirectChat(t *testing.T) {
	app, db := setupDirectoryApp(t, 3021, "Ana")

	peer := models.User{Name: "Ben", Email: "ben-3022@brightdesk.test", Role: models.RoleStaff}
	require.NoError(t, db.Create(&peer).Error)

	req := httptest.NewRequest(http.MethodPost, "/chats/direct", strings.NewReader(`{"peer_id":"`+userIDParam(peer.ID)+`"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var body struct {
		Data dto.ChatResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.Equal(t, "direct", body.Data.Type)
	// The creator sees the peer's name as the chat label.
	require.Equal(t, "Ben", body.Data.Name)
}

func TestDirectoryHandlerCreateDirectChatUnknownPeer(t *testing.T) {
	app, _ := setupDirectoryApp(t, 3031, "Ana")

	req := httptest.NewRequest(http.MethodPost, "/chats/direct", strings.NewReader(`{"peer_id":"424242"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDirectoryHandlerCreateDirectChatWithSelf(t *testing.T) {
	app, db := setupDirectoryApp(t, 3041, "Ana")

	self := models.User{Name: "Ana", Email: "ana-3041@brightdesk.test", Role: models.RoleStaff}
	self.ID = 3041
	require.NoError(t, db.Create(&self).Error)

	req := httptest.NewRequest(http.MethodPost, "/chats/direct", strings.NewReader(`{"peer_id":"3041"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func userIDParam(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
