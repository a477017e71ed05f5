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
	"github.com/brightdesk/brightdesk-api/internal/models"
	"github.com/brightdesk/brightdesk-api/internal/repository"
)

const directoryBufferSize = 8

// ErrSelfChat rejects a direct chat between a user and themselves.
var ErrSelfChat = errors.New("cannot open a direct chat with yourself")

// DirectoryService exposes the set of chats as a live, sorted list. The
// group chat always exists and includes everyone; direct chats are
// singletons per unordered participant pair.
type DirectoryService interface {
	EnsureGroupChat(ctx context.Context) (dto.ChatResponse, error)
	GetOrCreateDirectChat(ctx context.Context, userA, userB, nameA, nameB string) (dto.ChatResponse, error)
	ListForUser(ctx context.Context, userID string) ([]dto.ChatResponse, error)
	// ListAll skips the participant filter. Admin monitor only; RBAC is
	// enforced at the route.
	ListAll(ctx context.Context) ([]dto.ChatResponse, error)
	// Subscribe delivers the viewer's full sorted chat list on every
	// underlying change. admin=true removes the participant filter.
	Subscribe(viewerID string, admin bool) (<-chan []dto.ChatResponse, func())
	// Touch recomputes and pushes subscriber lists after a chat changed.
	Touch(ctx context.Context, chatID string)
	Start(ctx context.Context)
}

type directoryEventEnvelope struct {
	Source string    `json:"source"`
	ChatID string    `json:"chat_id"`
	At     time.Time `json:"at"`
}

type directorySubscriber struct {
	ch       chan []dto.ChatResponse
	viewerID string
	admin    bool
}

type directoryService struct {
	chats   repository.ChatRepository
	redis   *redis.Client
	channel string
	group   string
	logger  zerolog.Logger
	nodeID  string

	mu          sync.RWMutex
	subscribers map[*directorySubscriber]struct{}
}

// NewDirectoryService constructs the chat directory service.
func NewDirectoryService(chats repository.ChatRepository, redisClient *redis.Client, channelBase, groupName string, logger zerolog.Logger) DirectoryService {
	if groupName == "" {
		groupName = "Team"
	}

	return &directoryService{
		chats:       chats,
		redis:       redisClient,
		channel:     channelBase + ":chats",
		group:       groupName,
		logger:      logger.With().Str("component", "directory_service").Logger(),
		nodeID:      uuid.NewString(),
		subscribers: make(map[*directorySubscriber]struct{}),
	}
}

func (s *directoryService) Start(ctx context.Context) {
	if s.redis != nil {
		go s.consumeRedis(ctx)
	}
}

func (s *directoryService) EnsureGroupChat(ctx context.Context) (dto.ChatResponse, error) {
	chat, err := s.chats.EnsureGroup(ctx, s.group)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	return dto.NewChatResponse(chat, ""), nil
}

func (s *directoryService) GetOrCreateDirectChat(ctx context.Context, userA, userB, nameA, nameB string) (dto.ChatResponse, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return dto.ChatResponse{}, errors.New("both participant ids are required")
	}
	if userA == userB {
		return dto.ChatResponse{}, ErrSelfChat
	}

	chat, err := s.chats.EnsureDirect(ctx, userA, userB, nameA, nameB)
	if err != nil {
		return dto.ChatResponse{}, err
	}

	s.Touch(ctx, chat.ID)
	return dto.NewChatResponse(chat, userA), nil
}

func (s *directoryService) ListForUser(ctx context.Context, userID string) ([]dto.ChatResponse, error) {
	// The group chat is created lazily on first access.
	if _, err := s.chats.EnsureGroup(ctx, s.group); err != nil {
		return nil, err
	}

	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return dto.NewChatResponseSlice(chats, userID), nil
}

func (s *directoryService) ListAll(ctx context.Context) ([]dto.ChatResponse, error) {
	if _, err := s.chats.EnsureGroup(ctx, s.group); err != nil {
		return nil, err
	}

	chats, err := s.chats.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return dto.NewChatResponseSlice(chats, ""), nil
}

func (s *directoryService) Subscribe(viewerID string, admin bool) (<-chan []dto.ChatResponse, func()) {
	subscriber := &directorySubscriber{
		ch:       make(chan []dto.ChatResponse, directoryBufferSize),
		viewerID: viewerID,
		admin:    admin,
	}

	s.mu.Lock()
	s.subscribers[subscriber] = struct{}{}
	s.mu.Unlock()

	cleanup := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, present := s.subscribers[subscriber]; present {
			delete(s.subscribers, subscriber)
			close(subscriber.ch)
		}
	}

	return subscriber.ch, cleanup
}

func (s *directoryService) Touch(ctx context.Context, chatID string) {
	s.push(ctx)
	s.publish(ctx, chatID)
}

// push recomputes each subscriber's sorted list from the repository and
// delivers it. Slow subscribers miss intermediate states, never the final
// one, because every change triggers a fresh push.
func (s *directoryService) push(ctx context.Context) {
	s.mu.RLock()
	subscribers := make([]*directorySubscriber, 0, len(s.subscribers))
	for subscriber := range s.subscribers {
		subscribers = append(subscribers, subscriber)
	}
	s.mu.RUnlock()

	if len(subscribers) == 0 {
		return
	}

	chats, err := s.chats.ListAll(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to reload chat directory")
		return
	}

	// Delivery happens under the read lock so a concurrent cleanup cannot
	// close a channel mid-send.
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, subscriber := range subscribers {
		if _, present := s.subscribers[subscriber]; !present {
			continue
		}

		var list []dto.ChatResponse
		if subscriber.admin {
			list = dto.NewChatResponseSlice(chats, "")
		} else {
			visible := make([]models.Chat, 0, len(chats))
			for _, chat := range chats {
				if chat.HasParticipant(subscriber.viewerID) {
					visible = append(visible, chat)
				}
			}
			list = dto.NewChatResponseSlice(visible, subscriber.viewerID)
		}

		select {
		case subscriber.ch <- list:
		default:
			// Full buffer: evict the oldest queued list so the newest state
			// is always the last thing the subscriber reads.
			select {
			case <-subscriber.ch:
			default:
			}
			select {
			case subscriber.ch <- list:
			default:
			}
		}
	}
}

func (s *directoryService) publish(ctx context.Context, chatID string) {
	if s.redis == nil {
		return
	}

	payload, err := json.Marshal(directoryEventEnvelope{
		Source: s.nodeID,
		ChatID: chatID,
		At:     time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to marshal directory event")
		return
	}

	if err := s.redis.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Debug().Err(err).Msg("failed to publish directory event")
	}
}

func (s *directoryService) consumeRedis(ctx context.Context) {
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
			s.logger.Error().Err(err).Msg("directory redis subscription closed")
			return
		}

		var envelope directoryEventEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
			s.logger.Warn().Err(err).Msg("invalid directory event payload")
			continue
		}
		if envelope.Source == s.nodeID {
			continue
		}
		s.push(ctx)
	}
}
