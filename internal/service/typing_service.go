package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/brightdesk/brightdesk-api/internal/dto"
	"github.com/brightdesk/brightdesk-api/internal/observability"
)

const typingBufferSize = 8

// TypingService tracks short-lived per-chat typing flags. Absence of a
// record is the canonical "not typing" state: clearing deletes the record
// rather than flipping a flag. The client-side contract is debounced (mark
// true on first keystroke, reset a 3s idle timer on each one, clear on
// timer fire or send), which bounds the write rate per typing burst.
type TypingService interface {
	Set(ctx context.Context, chatID, userID, userName string, typing bool) error
	// Snapshot returns who is typing in the chat right now, excluding the
	// viewer and any record older than the staleness window.
	Snapshot(ctx context.Context, chatID, excludeUserID string) ([]dto.TypingEvent, error)
	// Subscribe delivers live typing transitions for the chat, excluding
	// the viewer's own. The returned func detaches the subscription.
	Subscribe(chatID, excludeUserID string) (<-chan dto.TypingEvent, func())
	Start(ctx context.Context)
}

type typingRecord struct {
	UserName string    `json:"user_name"`
	At       time.Time `json:"at"`
}

type typingEventEnvelope struct {
	Source string          `json:"source"`
	Event  dto.TypingEvent `json:"event"`
}

type typingSubscriber struct {
	ch      chan dto.TypingEvent
	exclude string
}

type typingService struct {
	redis     *redis.Client
	keyPrefix string
	channel   string
	stale     time.Duration
	logger    zerolog.Logger
	nodeID    string

	mu          sync.RWMutex
	subscribers map[string]map[*typingSubscriber]struct{}
}

// NewTypingService constructs the typing tracker on top of Redis.
func NewTypingService(redisClient *redis.Client, channelBase string, stale time.Duration, logger zerolog.Logger) TypingService {
	if stale <= 0 {
		stale = 5 * time.Second
	}

	return &typingService{
		redis:       redisClient,
		keyPrefix:   channelBase + ":typing:",
		channel:     channelBase + ":typing",
		stale:       stale,
		logger:      logger.With().Str("component", "typing_service").Logger(),
		nodeID:      uuid.NewString(),
		subscribers: make(map[string]map[*typingSubscriber]struct{}),
	}
}

func (s *typingService) Start(ctx context.Context) {
	if s.redis != nil {
		go s.consumeRedis(ctx)
	}
}

func (s *typingService) key(chatID string) string {
	return s.keyPrefix + chatID
}

func (s *typingService) Set(ctx context.Context, chatID, userID, userName string, typing bool) error {
	chatID = strings.TrimSpace(chatID)
	userID = strings.TrimSpace(userID)
	if chatID == "" || userID == "" {
		return errors.New("chat id and user id are required")
	}

	event := dto.TypingEvent{
		ChatID:   chatID,
		UserID:   userID,
		UserName: userName,
		Typing:   typing,
		At:       time.Now().UTC(),
	}

	if s.redis != nil {
		if typing {
			record, err := json.Marshal(typingRecord{UserName: userName, At: event.At})
			if err != nil {
				return err
			}
			if err := s.redis.HSet(ctx, s.key(chatID), userID, record).Err(); err != nil {
				return err
			}
			// Keep the hash from outliving abandoned chats.
			if err := s.redis.Expire(ctx, s.key(chatID), s.stale*4).Err(); err != nil {
				s.logger.Debug().Err(err).Msg("failed to refresh typing hash ttl")
			}
		} else {
			if err := s.redis.HDel(ctx, s.key(chatID), userID).Err(); err != nil {
				return err
			}
		}
	}

	state := "stopped"
	if typing {
		state = "typing"
	}
	observability.TypingEvents().WithLabelValues(state).Inc()

	s.broadcast(event)
	s.publish(ctx, event)
	return nil
}

func (s *typingService) Snapshot(ctx context.Context, chatID, excludeUserID string) ([]dto.TypingEvent, error) {
	if s.redis == nil {
		return nil, nil
	}

	entries, err := s.redis.HGetAll(ctx, s.key(chatID)).Result()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-s.stale)
	events := make([]dto.TypingEvent, 0, len(entries))
	for userID, raw := range entries {
		if userID == excludeUserID {
			continue
		}
		var record typingRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			s.logger.Warn().Err(err).Str("chat_id", chatID).Msg("invalid typing record")
			continue
		}
		// A record past the staleness window reads as not-typing even if
		// the explicit clear never arrived.
		if record.At.Before(cutoff) {
			continue
		}
		events = append(events, dto.TypingEvent{
			ChatID:   chatID,
			UserID:   userID,
			UserName: record.UserName,
			Typing:   true,
			At:       record.At,
		})
	}

	return events, nil
}

func (s *typingService) Subscribe(chatID, excludeUserID string) (<-chan dto.TypingEvent, func()) {
	subscriber := &typingSubscriber{
		ch:      make(chan dto.TypingEvent, typingBufferSize),
		exclude: excludeUserID,
	}

	s.mu.Lock()
	if _, exists := s.subscribers[chatID]; !exists {
		s.subscribers[chatID] = make(map[*typingSubscriber]struct{})
	}
	s.subscribers[chatID][subscriber] = struct{}{}
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subscribers[chatID]; ok {
			if _, present := subs[subscriber]; present {
				delete(subs, subscriber)
				close(subscriber.ch)
				if len(subs) == 0 {
					delete(s.subscribers, chatID)
				}
			}
		}
	}

	return subscriber.ch, cleanup
}

func (s *typingService) broadcast(event dto.TypingEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for subscriber := range s.subscribers[event.ChatID] {
		if subscriber.exclude == event.UserID {
			continue
		}
		select {
		case subscriber.ch <- event:
		default:
		}
	}
}

func (s *typingService) publish(ctx context.Context, event dto.TypingEvent) {
	if s.redis == nil {
		return
	}

	payload, err := json.Marshal(typingEventEnvelope{Source: s.nodeID, Event: event})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal typing event")
		return
	}

	if err := s.redis.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Debug().Err(err).Msg("failed to publish typing event")
	}
}

func (s *typingService) consumeRedis(ctx context.Context) {
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
			s.logger.Error().Err(err).Msg("typing redis subscription closed")
			return
		}

		var envelope typingEventEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			s.logger.Warn().Err(err).Msg("invalid typing event payload")
			continue
		}
		if envelope.Source == s.nodeID {
			continue
		}
		s.broadcast(envelope.Event)
	}
}
