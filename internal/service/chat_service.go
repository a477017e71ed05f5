package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightdesk/brightdesk-api/internal/dto"
	"github.com/brightdesk/brightdesk-api/internal/middleware"
	"github.com/brightdesk/brightdesk-api/internal/models"
	"github.com/brightdesk/brightdesk-api/internal/observability"
	"github.com/brightdesk/brightdesk-api/internal/repository"
)

const (
	chatSendBufferSize = 32
	chatKeepAlive      = 30 * time.Second
)

// ErrEmptyMessage indicates the message body was empty or whitespace-only
// after sanitization. Nothing is written in that case.
var ErrEmptyMessage = errors.New("message body is empty")

// ErrNotParticipant indicates the user attempted to read or write a direct
// chat they do not take part in.
var ErrNotParticipant = errors.New("not a participant of this chat")

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	UserID        string
	UserName      string
	Role          string
	ChatID        string
	CorrelationID string
	Context       context.Context
}

// ChatService owns the per-chat message log and its live fan-out. Sends are
// at-most-once: a failed write surfaces the error and is never retried by
// the store.
type ChatService interface {
	ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions)
	Send(ctx context.Context, input dto.SendMessageInput) (dto.ChatMessageResponse, error)
	History(ctx context.Context, query dto.ChatHistoryQuery, viewerID, viewerRole string) ([]dto.ChatMessageResponse, error)
	MarkRead(ctx context.Context, chatID, userID string) (int, error)
	// Authorize loads the chat and checks the viewer may access it. Admins
	// bypass the participant restriction.
	Authorize(ctx context.Context, chatID, viewerID, viewerRole string) (models.Chat, error)
	// Watch observes a chat's message stream without joining it. The
	// watcher never counts as viewing and cannot send.
	Watch(chatID string) (<-chan dto.ChatMessageResponse, func())
	Start(ctx context.Context)
}

type chatService struct {
	messages    repository.MessageRepository
	chats       repository.ChatRepository
	users       repository.UserRepository
	typing      TypingService
	directory   DirectoryService
	notifier    NotificationService
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	replayLimit int
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	hub         *chatHub
	nodeID      string
}

type chatClient struct {
	conn    *websocket.Conn
	send    chan dto.ChatServerFrame
	opts    ChatConnectionOptions
	service *chatService
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context
}

type chatEvent struct {
	Source  string                  `json:"source"`
	Message dto.ChatMessageResponse `json:"message"`
	SentAt  time.Time               `json:"sent_at"`
}

// ChatServiceDeps groups the collaborators of the chat service.
type ChatServiceDeps struct {
	Messages  repository.MessageRepository
	Chats     repository.ChatRepository
	Users     repository.UserRepository
	Typing    TypingService
	Directory DirectoryService
	Notifier  NotificationService
	Redis     *redis.Client
	NATS      *nats.Conn
	Validate  *validator.Validate
	Logger    zerolog.Logger
}

// NewChatService creates the websocket chat service instance.
func NewChatService(deps ChatServiceDeps, channelBase string, replayLimit int) ChatService {
	sanitizer := bluemonday.StrictPolicy()

	if replayLimit <= 0 || replayLimit > 100 {
		replayLimit = 100
	}

	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":chat"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".chat"
	}

	return &chatService{
		messages:    deps.Messages,
		chats:       deps.Chats,
		users:       deps.Users,
		typing:      deps.Typing,
		directory:   deps.Directory,
		notifier:    deps.Notifier,
		redis:       deps.Redis,
		redisStream: stream,
		nats:        deps.NATS,
		natsSubject: subject,
		replayLimit: replayLimit,
		validator:   deps.Validate,
		logger:      deps.Logger.With().Str("component", "chat_service").Logger(),
		tracer:      otel.Tracer("github.com/brightdesk/brightdesk-api/internal/service/chat"),
		sanitizer:   sanitizer,
		hub:         newChatHub(deps.Logger),
		nodeID:      uuid.NewString(),
	}
}

func (s *chatService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *chatService) Authorize(ctx context.Context, chatID, viewerID, viewerRole string) (models.Chat, error) {
	chat, err := s.chats.FindByID(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}

	if strings.EqualFold(viewerRole, models.RoleAdmin) {
		return chat, nil
	}
	if !chat.HasParticipant(viewerID) {
		return models.Chat{}, ErrNotParticipant
	}
	return chat, nil
}

func (s *chatService) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &chatClient{
		conn:    conn,
		send:    make(chan dto.ChatServerFrame, chatSendBufferSize),
		opts:    opts,
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	s.hub.register(client)
	observability.ChatConnectionsActive().Inc()

	// The writer drains client.send before history is pushed, so the replay
	// window is never capped by the channel buffer.
	go client.writer()

	// Resubscribing replays the current window before live delivery, so a
	// reconnecting client never sees a gap.
	s.replay(baseCtx, client)

	client.reader()
}

func (s *chatService) replay(ctx context.Context, client *chatClient) {
	messages, err := s.messages.Recent(ctx, client.opts.ChatID, s.replayLimit)
	if err != nil {
		s.logger.Warn().Err(err).Str("chat_id", client.opts.ChatID).Msg("failed to replay chat history")
		return
	}

	for _, message := range messages {
		response := dto.NewChatMessageResponse(message)
		select {
		case client.send <- dto.ChatServerFrame{Event: dto.ChatEventMessage, Message: &response}:
		case <-client.closed:
			return
		}
	}
}

func (s *chatService) Send(ctx context.Context, input dto.SendMessageInput) (dto.ChatMessageResponse, error) {
	input.Body = strings.TrimSpace(s.sanitizer.Sanitize(input.Body))
	if input.Body == "" {
		return dto.ChatMessageResponse{}, ErrEmptyMessage
	}

	if err := s.validator.Struct(input); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	chat, err := s.Authorize(ctx, input.ChatID, input.SenderID, input.SenderRole)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	attrs := []attribute.KeyValue{
		attribute.String("chat.id", input.ChatID),
		attribute.String("chat.sender_id", input.SenderID),
		attribute.String("chat.type", chat.Type),
	}
	if correlation := middleware.CorrelationIDFromContext(ctx); correlation != "" {
		attrs = append(attrs, attribute.String("correlation_id", correlation))
	}

	spanCtx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(attrs...))
	defer span.End()

	model := models.ChatMessage{
		ChatID:     input.ChatID,
		SenderID:   input.SenderID,
		SenderName: input.SenderName,
		SenderRole: input.SenderRole,
		Body:       input.Body,
	}

	if err := s.messages.Append(spanCtx, &model); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, err
	}

	// The preview cache is refreshed synchronously with the append so the
	// directory can resort without reading the log. Last write wins.
	if err := s.chats.UpdateLastMessage(spanCtx, chat.ID, model.Body, model.SenderName, model.CreatedAt); err != nil {
		s.logger.Warn().Err(err).Str("chat_id", chat.ID).Msg("failed to update last-message summary")
	}

	response := dto.NewChatMessageResponse(model)
	s.hub.broadcast(chat.ID, dto.ChatServerFrame{Event: dto.ChatEventMessage, Message: &response})

	// Sending implies the author stopped typing.
	if s.typing != nil {
		if err := s.typing.Set(spanCtx, chat.ID, input.SenderID, input.SenderName, false); err != nil {
			s.logger.Debug().Err(err).Msg("failed to clear typing flag on send")
		}
	}

	if s.directory != nil {
		s.directory.Touch(spanCtx, chat.ID)
	}

	if err := s.publish(spanCtx, response); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish chat event")
	}

	s.dispatchAlerts(spanCtx, chat, response)

	observability.ChatMessagesSent().WithLabelValues(chat.Type).Inc()

	return response, nil
}

func (s *chatService) History(ctx context.Context, query dto.ChatHistoryQuery, viewerID, viewerRole string) ([]dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	if _, err := s.Authorize(ctx, query.ChatID, viewerID, viewerRole); err != nil {
		return nil, err
	}

	limit := query.Limit
	if limit <= 0 {
		limit = s.replayLimit
	}

	messages, err := s.messages.Recent(ctx, query.ChatID, limit)
	if err != nil {
		return nil, err
	}

	return dto.NewChatMessageResponseSlice(messages), nil
}

func (s *chatService) Watch(chatID string) (<-chan dto.ChatMessageResponse, func()) {
	return s.hub.watch(chatID)
}

func (s *chatService) MarkRead(ctx context.Context, chatID, userID string) (int, error) {
	spanCtx, span := s.tracer.Start(ctx, "chat.mark_read", trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("chat.user_id", userID),
	))
	defer span.End()

	updated, err := s.messages.MarkRead(spanCtx, chatID, userID, time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	return updated, nil
}

// dispatchAlerts hands the message to the notification dispatcher for every
// recipient who is not actively viewing the chat. The dispatcher applies
// the mute/permission policy itself.
func (s *chatService) dispatchAlerts(ctx context.Context, chat models.Chat, message dto.ChatMessageResponse) {
	if s.notifier == nil {
		return
	}

	var recipients []string
	switch chat.Type {
	case models.ChatTypeDirect:
		for _, id := range chat.Participants() {
			if id != message.SenderID {
				recipients = append(recipients, id)
			}
		}
	case models.ChatTypeGroup:
		users, err := s.users.List(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to resolve group chat recipients")
			return
		}
		for _, user := range users {
			id := strconv.FormatUint(uint64(user.ID), 10)
			if id != message.SenderID {
				recipients = append(recipients, id)
			}
		}
	}

	priority := models.NotificationPriorityNormal
	if chat.Type == models.ChatTypeDirect {
		priority = models.NotificationPriorityHigh
	}

	for _, recipient := range recipients {
		if s.hub.viewing(chat.ID, recipient) {
			continue
		}
		alert := dto.MessageAlert{
			RecipientID: recipient,
			SenderID:    message.SenderID,
			SenderName:  message.SenderName,
			Body:        message.Body,
			ChatID:      chat.ID,
			GroupChat:   chat.Type == models.ChatTypeGroup,
			Priority:    priority,
		}
		if err := s.notifier.DispatchMessage(ctx, alert); err != nil {
			s.logger.Debug().Err(err).Str("recipient_id", recipient).Msg("failed to dispatch message alert")
		}
	}
}

func (s *chatService) publish(ctx context.Context, message dto.ChatMessageResponse) error {
	event := chatEvent{
		Source:  s.nodeID,
		Message: message,
		SentAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *chatService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *chatService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "brightdesk-chat", func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

func (s *chatService) handleEvent(data []byte) {
	var event chatEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid chat event")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	message := event.Message
	s.hub.broadcast(message.ChatID, dto.ChatServerFrame{Event: dto.ChatEventMessage, Message: &message})
}

func (c *chatClient) reader() {
	defer c.close()

	connCtx := c.baseCtx
	correlation := c.opts.CorrelationID
	if correlation != "" {
		connCtx = middleware.ContextWithCorrelation(connCtx, correlation)
	}

	for {
		var frame dto.ChatClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.service.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		switch frame.Action {
		case dto.ChatActionSend:
			input := dto.SendMessageInput{
				ChatID:     c.opts.ChatID,
				SenderID:   c.opts.UserID,
				SenderName: c.opts.UserName,
				SenderRole: c.opts.Role,
				Body:       frame.Body,
			}
			if _, err := c.service.Send(connCtx, input); err != nil {
				c.service.logger.Warn().Err(err).Msg("failed to process chat message")
				c.deliver(dto.ChatServerFrame{Event: dto.ChatEventError, Error: err.Error()})
			}
		case dto.ChatActionTyping:
			if c.service.typing == nil {
				continue
			}
			if err := c.service.typing.Set(connCtx, c.opts.ChatID, c.opts.UserID, c.opts.UserName, frame.Typing); err != nil {
				c.service.logger.Debug().Err(err).Msg("failed to update typing flag")
			}
		case dto.ChatActionRead:
			if _, err := c.service.MarkRead(connCtx, c.opts.ChatID, c.opts.UserID); err != nil {
				c.service.logger.Debug().Err(err).Msg("failed to mark chat read")
			}
		default:
			c.deliver(dto.ChatServerFrame{Event: dto.ChatEventError, Error: "unknown action"})
		}
	}
}

func (c *chatClient) deliver(frame dto.ChatServerFrame) {
	select {
	case <-c.closed:
	case c.send <- frame:
	default:
		c.service.logger.Warn().Msg("sender queue full, dropping frame")
	}
}

func (c *chatClient) writer() {
	defer c.close()

	var typingEvents <-chan dto.TypingEvent
	typingCleanup := func() {}
	if c.service.typing != nil {
		typingEvents, typingCleanup = c.service.typing.Subscribe(c.opts.ChatID, c.opts.UserID)
	}
	defer typingCleanup()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case event, ok := <-typingEvents:
			if !ok {
				return
			}
			frame := dto.ChatServerFrame{Event: dto.ChatEventTyping, Typing: &event}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-time.After(chatKeepAlive):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *chatClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.unregister(c)
		observability.ChatConnectionsActive().Dec()

		// Best-effort cleanup so a torn-down view does not leave a
		// dangling typing flag.
		if c.service.typing != nil {
			_ = c.service.typing.Set(context.Background(), c.opts.ChatID, c.opts.UserID, c.opts.UserName, false)
		}
		_ = c.conn.Close()
	})
}
