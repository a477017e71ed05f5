package handler

import (
	"bufio"
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/brightdesk/brightdesk-api/internal/dto"
	"github.com/brightdesk/brightdesk-api/internal/service"
	"github.com/brightdesk/brightdesk-api/internal/utils"
)

// AdminMonitorHandler exposes the read-only conversation monitor. Routes
// are mounted behind the admin role guard; the handler itself only decides
// what to show, not who may see it.
type AdminMonitorHandler struct {
	directory service.DirectoryService
	chats     service.ChatService
	validator *validator.Validate
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewAdminMonitorHandler constructs the monitor handler.
func NewAdminMonitorHandler(directory service.DirectoryService, chats service.ChatService, validator *validator.Validate, logger zerolog.Logger, keepAlive time.Duration) *AdminMonitorHandler {
	return &AdminMonitorHandler{
		directory: directory,
		chats:     chats,
		validator: validator,
		logger:    logger.With().Str("component", "admin_monitor_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register binds the monitor routes.
func (h *AdminMonitorHandler) Register(router fiber.Router) {
	router.Get("/chats", h.listChats)
	router.Get("/chats/stream", h.streamChats)
	router.Get("/chats/:chatID/history", h.chatHistory)
	router.Get("/chats/:chatID/stream", h.streamChatMessages)
}

// listChats returns every conversation in the workspace, direct chats
// included, without the participant filter.
func (h *AdminMonitorHandler) listChats(c *fiber.Ctx) error {
	chats, err := h.directory.ListAll(requestContext(c))
	if err != nil {
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccess(c, "all chats", chats)
}

func (h *AdminMonitorHandler) streamChats(c *fiber.Ctx) error {
	setSSEHeaders(c)

	ctx, cancel := context.WithCancel(requestContext(c))

	initial, err := h.directory.ListAll(ctx)
	if err != nil {
		cancel()
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	stream, cleanup := h.directory.Subscribe(userIDStringFromContext(c), true)

	keepAlive := h.keepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	logger := requestLogger(h.logger, c)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		if err := writeSSEEvent(w, "chats", initial); err != nil {
			logger.Debug().Err(err).Msg("failed to write initial monitor list")
			return
		}

		ticker := time.NewTicker(keepAlive / 2)
		defer ticker.Stop()

		for {
			select {
			case chats, ok := <-stream:
				if !ok {
					return
				}
				if err := writeSSEEvent(w, "chats", chats); err != nil {
					logger.Debug().Err(err).Msg("failed to write monitor list event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					logger.Debug().Err(err).Msg("failed to write monitor keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

// streamChatMessages tails one conversation over SSE. The watcher is
// passive: it never registers as a chat member and has no send path, so
// monitored users still receive notifications as usual.
func (h *AdminMonitorHandler) streamChatMessages(c *fiber.Ctx) error {
	chatID := c.Params("chatID")

	ctx, cancel := context.WithCancel(requestContext(c))

	if _, err := h.chats.Authorize(ctx, chatID, userIDStringFromContext(c), userRoleFromContext(c)); err != nil {
		cancel()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "chat not found")
		}
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	initial, err := h.chats.History(ctx, dto.ChatHistoryQuery{ChatID: chatID}, userIDStringFromContext(c), userRoleFromContext(c))
	if err != nil {
		cancel()
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	setSSEHeaders(c)
	stream, cleanup := h.chats.Watch(chatID)

	keepAlive := h.keepAlive
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	logger := requestLogger(h.logger, c).With().Str("chat_id", chatID).Logger()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cleanup()
			cancel()
		}()

		if err := writeSSEEvent(w, "history", initial); err != nil {
			logger.Debug().Err(err).Msg("failed to write monitor history event")
			return
		}

		ticker := time.NewTicker(keepAlive / 2)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-stream:
				if !ok {
					return
				}
				if err := writeSSEEvent(w, "message", message); err != nil {
					logger.Debug().Err(err).Msg("failed to write monitor message event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					logger.Debug().Err(err).Msg("failed to write monitor keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *AdminMonitorHandler) chatHistory(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	query := dto.ChatHistoryQuery{
		ChatID: c.Params("chatID"),
		Limit:  limit,
	}

	messages, err := h.chats.History(requestContext(c), query, userIDStringFromContext(c), userRoleFromContext(c))
	if err != nil {
		switch {
		case isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, gorm.ErrRecordNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "chat not found")
		default:
			return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
		}
	}

	return utils.SendSuccess(c, "chat history", messages)
}
