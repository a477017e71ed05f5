package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	gorillaws "github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
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

// stubAuth stands in for the JWT middleware and injects the claims the
// handlers read from locals.
func stubAuth(userID uint, name, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("user_id", userID)
		c.Locals("user_name", name)
		c.Locals("user_role", role)
		return c.Next()
	}
}

type chatTestEnv struct {
	app     *fiber.App
	chats   repository.ChatRepository
	service service.ChatService
	typing  service.TypingService
}

func setupChatEnv(t *testing.T, userID uint, name, role string) chatTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Chat{}, &models.ChatMessage{}))

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	messageRepo := repository.NewMessageRepository(db)
	chatRepo := repository.NewChatRepository(db)
	userRepo := repository.NewUserRepository(db)
	validate := validator.New(validator.WithRequiredStructEnabled())
	logger := zerolog.New(io.Discard)

	typing := service.NewTypingService(redisClient, "handlertest", 5*time.Second, logger)
	directory := service.NewDirectoryService(chatRepo, nil, "handlertest", "Team", logger)
	chatService := service.NewChatService(service.ChatServiceDeps{
		Messages:  messageRepo,
		Chats:     chatRepo,
		Users:     userRepo,
		Typing:    typing,
		Directory: directory,
		Validate:  validate,
		Logger:    logger,
	}, "", 50)

	app := fiber.New()
	group := app.Group("/chat", stubAuth(userID, name, role))
	handler.NewChatHandler(chatService, typing, validate, logger).Register(group)

	return chatTestEnv{app: app, chats: chatRepo, service: chatService, typing: typing}
}

func TestChatHandlerHistoryRequiresParticipation(t *testing.T) {
	env := setupChatEnv(t, 99, "Eve", models.RoleStaff)

	chat, err := env.chats.EnsureDirect(context.Background(), "1011", "1012", "Ana", "Ben")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/chat/history?chat_id="+chat.ID, nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestChatHandlerHistoryReturnsMessages(t *testing.T) {
	env := setupChatEnv(t, 1021, "Ana", models.RoleStaff)

	chat, err := env.chats.EnsureDirect(context.Background(), "1021", "1022", "Ana", "Ben")
	require.NoError(t, err)

	_, err = env.service.Send(context.Background(), dto.SendMessageInput{
		ChatID:     chat.ID,
		SenderID:   "1021",
		SenderName: "Ana",
		Body:       "hello",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/chat/history?chat_id="+chat.ID, nil)
	resp, err := env.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                      `json:"success"`
		Data    []dto.ChatMessageResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.Success)
	require.Len(t, body.Data, 1)
	require.Equal(t, "hello", body.Data[0].Body)
}

func TestChatHandlerWebsocketSendAndReceive(t *testing.T) {
	env := setupChatEnv(t, 1031, "Ana", models.RoleStaff)

	chat, err := env.chats.EnsureDirect(context.Background(), "1031", "1032", "Ana", "Ben")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = env.app.Listener(ln) }()
	t.Cleanup(func() { _ = env.app.Shutdown() })

	url := fmt.Sprintf("ws://%s/chat/ws?chat_id=%s", ln.Addr().String(), chat.ID)

	var conn *gorillaws.Conn
	require.Eventually(t, func() bool {
		dialed, _, dialErr := gorillaws.DefaultDialer.Dial(url, nil)
		if dialErr != nil {
			return false
		}
		conn = dialed
		return true
	}, 2*time.Second, 50*time.Millisecond)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(dto.ChatClientFrame{Action: dto.ChatActionSend, Body: "ship it"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame dto.ChatServerFrame
	for {
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Event == dto.ChatEventMessage {
			break
		}
	}
	require.NotNil(t, frame.Message)
	require.Equal(t, "ship it", frame.Message.Body)
	require.Equal(t, "1031", frame.Message.SenderID)
}

func TestChatHandlerWebsocketRejectsOutsiders(t *testing.T) {
	env := setupChatEnv(t, 99, "Eve", models.RoleStaff)

	chat, err := env.chats.EnsureDirect(context.Background(), "1041", "1042", "Ana", "Ben")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = env.app.Listener(ln) }()
	t.Cleanup(func() { _ = env.app.Shutdown() })

	url := fmt.Sprintf("ws://%s/chat/ws?chat_id=%s", ln.Addr().String(), chat.ID)

	var conn *gorillaws.Conn
	require.Eventually(t, func() bool {
		dialed, _, dialErr := gorillaws.DefaultDialer.Dial(url, nil)
		if dialErr != nil {
			return false
		}
		conn = dialed
		return true
	}, 2*time.Second, 50*time.Millisecond)
	defer conn.Close()

	// The server closes the connection without admitting it to the room.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, readErr := conn.ReadMessage()
	require.Error(t, readErr)
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, json.Unmarshal(body, target))
}
