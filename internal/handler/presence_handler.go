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

// PresenceHandler serves the heartbeat write path and presence reads.
type PresenceHandler struct {
	service   service.PresenceService
	validator *validator.Validate
	logger    zerolog.Logger
	keepAlive time.Duration
}

// NewPresenceHandler constructs a presence handler instance.
func NewPresenceHandler(presence service.PresenceService, validator *validator.Validate, logger zerolog.Logger, keepAlive time.Duration) *PresenceHandler {
	return &PresenceHandler{
		service:   presence,
		validator: validator,
		logger:    logger.With().Str("component", "presence_handler").Logger(),
		keepAlive: keepAlive,
	}
}

// Register binds the presence routes.
func (h *PresenceHandler) Register(router fiber.Router) {
	router.Post("/heartbeat", h.heartbeat)
	router.Get("/:userID", h.get)
	router.Get("/:userID/stream", h.stream)
}

// heartbeat records the caller's own presence. A client cannot write
// another user's state.
func (h *PresenceHandler) heartbeat(c *fiber.Ctx) error {
	userID := userIDStringFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	request := dto.PresenceUpdateRequest{Status: dto.PresenceOnline}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&request); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}
	if err := h.validator.Struct(request); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	presence, err := h.service.Update(requestContext(c), userID, request.Status)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPresenceStatus) {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccess(c, "presence recorded", presence)
}

func (h *PresenceHandler) get(c *fiber.Ctx) error {
	if userIDStringFromContext(c) == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	target := c.Params("userID")
	presence, err := h.service.Get(requestContext(c), target)
	if err != nil {
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccess(c, "presence", presence)
}

func (h *PresenceHandler) stream(c *fiber.Ctx) error {
	if userIDStringFromContext(c) == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user not authenticated")
	}

	target := c.Params("userID")

	setSSEHeaders(c)

	ctx, cancel := context.WithCancel(requestContext(c))

	initial, err := h.service.Get(ctx, target)
	if err != nil {
		cancel()
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	stream, cleanup := h.service.Subscribe(target)

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

		if err := writeSSEEvent(w, "presence", initial); err != nil {
			logger.Debug().Err(err).Msg("failed to write initial presence")
			return
		}

		ticker := time.NewTicker(keepAlive / 2)
		defer ticker.Stop()

		for {
			select {
			case presence, ok := <-stream:
				if !ok {
					return
				}
				if err := writeSSEEvent(w, "presence", presence); err != nil {
					logger.Debug().Err(err).Msg("failed to write presence event")
					return
				}
			case <-ticker.C:
				if err := writeKeepAlive(w); err != nil {
					logger.Debug().Err(err).Msg("failed to write presence keepalive")
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})

	return nil
}
