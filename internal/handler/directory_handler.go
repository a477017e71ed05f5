package handler

import (
	"bufio"
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/brightdesk/brightdesk-api/internal/dto"
	"github.com/brightdesk/brightdesk-api/internal/service"
	"github.com/brightdesk/brightdesk-api/internal/utils"
)

// DirectoryHandler serves the chat directory list, its SSE stream and the
// direct-chat creation endpoint.
type DirectoryHandler struct {
	service   service.DirectoryService
	users     service.UserService
	validator *validator.Validate
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewDirectoryHandler constructs a directory handler instance.
func NewDirectoryHandler(directory service.DirectoryService, users service.UserService, validator *validator.Validate, logger zerolog.Logger, keepAlive time.Duration) *DirectoryHandler {
	return &DirectoryHandler{
		service:   directory,
		users:     users,
		validator: validator,
		logger:    logger.With().Str("component", "directory_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register binds the chat directory routes.
func (h *DirectoryHandler) Register(router fiber.Router) {
	router.Get("/", h.list)
	router.Get("/stream", h.stream)
	router.Post("/direct", h.createDirect)
}

func (h *DirectoryHandler) list(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	chats, err := h.service.ListForUser(requestContext(c), userID)
	if err != nil {
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccess(c, "chats", chats)
}

func (h *DirectoryHandler) stream(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	setSSEHeaders(c)

	ctx, cancel := context.WithCancel(requestContext(c))

	// The initial list is delivered as the first event so the client does
	// not need a separate GET before subscribing.
	initial, err := h.service.ListForUser(ctx, userID)
	if err != nil {
		cancel()
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	stream, cleanup := h.service.Subscribe(userID, false)

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
			logger.Debug().Err(err).Msg("failed to write initial chat list")
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
					logger.Debug().Err(err).Msg("failed to write chat list event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					logger.Debug().Err(err).Msg("failed to write directory keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}

func (h *DirectoryHandler) createDirect(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	var request dto.DirectChatRequest
	if err := c.BodyParser(&request); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(request); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := requestContext(c)

	peer, err := h.users.GetByID(ctx, request.PeerID)
	if err != nil {
		return utils.SendError(c, fiber.StatusNotFound, "peer not found")
	}

	chat, err := h.service.GetOrCreateDirectChat(ctx, userID, request.PeerID, userNameFromContext(c), peer.Name)
	if err != nil {
		if errors.Is(err, service.ErrSelfChat) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "direct chat ready", chat)
}
