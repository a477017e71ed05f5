package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/brightdesk/brightdesk-api/internal/dto"
	"github.com/brightdesk/brightdesk-api/internal/observability"
)

const presenceBufferSize = 8

// ErrInvalidPresenceStatus rejects statuses other than online/offline.
var ErrInvalidPresenceStatus = errors.New("invalid presence status")

// PresenceService records each user's last-known online/offline state.
// Writes are unconditional overwrites: presence is advisory, latest-state
// only, with no cross-user ordering guarantee.
type PresenceService interface {
	Update(ctx context.Context, userID, status string) (dto.PresenceResponse, error)
	Get(ctx context.Context, userID string) (dto.PresenceResponse, error)
	Subscribe(userID string) (<-chan dto.PresenceResponse, func())
	Start(ctx context.Context)
}

type presenceEventEnvelope struct {
	Source   string               `json:"source"`
	Presence dto.PresenceResponse `json:"presence"`
}

type presenceService struct {
	redis      *redis.Client
	keyPrefix  string
	channel    string
	staleAfter time.Duration
	logger     zerolog.Logger
	nodeID     string

	mu          sync.RWMutex
	subscribers map[string]map[chan dto.PresenceResponse]struct{}
}

// NewPresenceService constructs the presence tracker on top of Redis.
// staleAfter enables the read-side cutoff: an online claim older than the
// window reads as offline. Zero disables the cutoff and trusts the last
// written status unconditionally.
func NewPresenceService(redisClient *redis.Client, channelBase string, staleAfter time.Duration, logger zerolog.Logger) PresenceService {
	return &presenceService{
		redis:       redisClient,
		keyPrefix:   channelBase + ":presence:",
		channel:     channelBase + ":presence",
		staleAfter:  staleAfter,
		logger:      logger.With().Str("component", "presence_service").Logger(),
		nodeID:      uuid.NewString(),
		subscribers: make(map[string]map[chan dto.PresenceResponse]struct{}),
	}
}

func (s *presenceService) Start(ctx context.Context) {
	if s.redis != nil {
		go s.consumeRedis(ctx)
	}
}

func (s *presenceService) key(userID string) string {
	return s.keyPrefix + userID
}

func (s *presenceService) Update(ctx context.Context, userID, status string) (dto.PresenceResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return dto.PresenceResponse{}, errors.New("user id is required")
	}
	if status != dto.PresenceOnline && status != dto.PresenceOffline {
		return dto.PresenceResponse{}, ErrInvalidPresenceStatus
	}

	now := time.Now().UTC()
	response := dto.PresenceResponse{
		UserID:     userID,
		Status:     status,
		Online:     status == dto.PresenceOnline,
		LastSeen:   now,
		LastSeenMs: now.UnixMilli(),
	}

	if s.redis != nil {
		err := s.redis.HSet(ctx, s.key(userID), map[string]interface{}{
			"status":    status,
			"last_seen": now.UnixMilli(),
		}).Err()
		if err != nil {
			return dto.PresenceResponse{}, err
		}
	}

	observability.PresenceUpdates().WithLabelValues(status).Inc()

	s.broadcast(response)
	s.publish(ctx, response)
	return response, nil
}

func (s *presenceService) Get(ctx context.Context, userID string) (dto.PresenceResponse, error) {
	response := dto.PresenceResponse{
		UserID: userID,
		Status: dto.PresenceOffline,
	}

	if s.redis == nil {
		return response, nil
	}

	fields, err := s.redis.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return dto.PresenceResponse{}, err
	}
	if len(fields) == 0 {
		return response, nil
	}

	response.Status = fields["status"]
	if raw, ok := fields["last_seen"]; ok {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			response.LastSeen = time.UnixMilli(millis).UTC()
			response.LastSeenMs = millis
		}
	}

	// A crashed client never writes its offline record. When the cutoff is
	// configured, an online claim past it reads as offline.
	if response.Status == dto.PresenceOnline && s.staleAfter > 0 {
		if time.Since(response.LastSeen) > s.staleAfter {
			response.Status = dto.PresenceOffline
		}
	}
	response.Online = response.Status == dto.PresenceOnline

	return response, nil
}

func (s *presenceService) Subscribe(userID string) (<-chan dto.PresenceResponse, func()) {
	channel := make(chan dto.PresenceResponse, presenceBufferSize)

	s.mu.Lock()
	if _, exists := s.subscribers[userID]; !exists {
		s.subscribers[userID] = make(map[chan dto.PresenceResponse]struct{})
	}
	s.subscribers[userID][channel] = struct{}{}
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subscribers[userID]; ok {
			if _, present := subs[channel]; present {
				delete(subs, channel)
				close(channel)
				if len(subs) == 0 {
					delete(s.subscribers, userID)
				}
			}
		}
	}

	return channel, cleanup
}

func (s *presenceService) broadcast(presence dto.PresenceResponse) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for channel := range s.subscribers[presence.UserID] {
		select {
		case channel <- presence:
		default:
		}
	}
}

func (s *presenceService) publish(ctx context.Context, presence dto.PresenceResponse) {
	if s.redis == nil {
		return
	}

	payload, err := json.Marshal(presenceEventEnvelope{Source: s.nodeID, Presence: presence})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal presence event")
		return
	}

	if err := s.redis.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Debug().Err(err).Msg("failed to publish presence event")
	}
}

func (s *presenceService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.channel)
	defer func() {
		_ = pubsub.Close()
	}()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("presence redis subscription closed")
			return
		}

		var envelope presenceEventEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			s.logger.Warn().Err(err).Msg("invalid presence event payload")
			continue
		}
		if envelope.Source == s.nodeID {
			continue
		}
		s.broadcast(envelope.Presence)
	}
}
