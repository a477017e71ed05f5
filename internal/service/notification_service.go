package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brightdesk/brightdesk-api/internal/dto"
	"github.com/brightdesk/brightdesk-api/internal/models"
	"github.com/brightdesk/brightdesk-api/internal/observability"
	"github.com/brightdesk/brightdesk-api/internal/repository"
)

const (
	notificationBufferSize = 16
	notificationBodyLimit  = 100
)

// NotificationService decides when an incoming message becomes a visible
// alert, honoring the recipient's mute switch and permission state, and
// streams dispatched alerts to their devices.
type NotificationService interface {
	DispatchMessage(ctx context.Context, alert dto.MessageAlert) error
	List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error)
	MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error)
	GetPreference(ctx context.Context, userID, deviceID string) (dto.PreferenceResponse, error)
	SetPreference(ctx context.Context, userID string, update dto.PreferenceUpdateRequest) (dto.PreferenceResponse, error)
	Subscribe(userID string) (<-chan dto.NotificationResponse, func())
	Start(ctx context.Context)
}

type notificationService struct {
	repo        repository.NotificationRepository
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	broker      *notificationBroker
	nodeID      string
}

type notificationEvent struct {
	Source       string                   `json:"source"`
	Notification dto.NotificationResponse `json:"notification"`
	SentAt       time.Time                `json:"sent_at"`
}

type notificationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.NotificationResponse]struct{}
}

// NewNotificationService constructs the notification dispatcher.
func NewNotificationService(repo repository.NotificationRepository, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	stream := ""
	subject := ""
	if channelBase != "" {
		stream = channelBase + ":notifications"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".notifications"
	}

	return &notificationService{
		repo:        repo,
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		validator:   validate,
		logger:      logger.With().Str("component", "notification_service").Logger(),
		tracer:      otel.Tracer("github.com/brightdesk/brightdesk-api/internal/service/notification"),
		sanitizer:   bluemonday.StrictPolicy(),
		broker: &notificationBroker{
			subscribers: make(map[string]map[chan dto.NotificationResponse]struct{}),
		},
		nodeID: uuid.NewString(),
	}
}

func (s *notificationService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *notificationService) DispatchMessage(ctx context.Context, alert dto.MessageAlert) error {
	if err := s.validator.Struct(alert); err != nil {
		return err
	}

	// The mute switch is per device; the alert goes out if any of the
	// recipient's devices is granted and not muted. A user with no stored
	// preference has never granted permission.
	preferences, err := s.repo.ListPreferences(ctx, alert.RecipientID)
	if err != nil {
		return err
	}
	enabled := false
	granted := false
	for _, preference := range preferences {
		if preference.Permission == models.PermissionGranted {
			granted = true
		}
		if preference.Enabled() {
			enabled = true
			break
		}
	}
	if !enabled {
		reason := "no_permission"
		if granted {
			reason = "muted"
		}
		observability.NotificationsSuppressed().WithLabelValues(reason).Inc()
		s.logger.Debug().
			Str("recipient_id", alert.RecipientID).
			Str("reason", reason).
			Msg("alert suppressed")
		return nil
	}

	priority := alert.Priority
	if priority == "" {
		priority = models.NotificationPriorityNormal
	}

	attrs := []attribute.KeyValue{
		attribute.String("notification.recipient_id", alert.RecipientID),
		attribute.String("notification.chat_id", alert.ChatID),
		attribute.String("notification.priority", priority),
	}
	spanCtx, span := s.tracer.Start(ctx, "notifications.dispatch", trace.WithAttributes(attrs...))
	defer span.End()

	title, body := buildAlertContent(alert, s.sanitizer)

	model := models.Notification{
		UserID:             alert.RecipientID,
		Title:              title,
		Body:               body,
		Tag:                alert.ChatID,
		Priority:           priority,
		RequireInteraction: priority == models.NotificationPriorityHigh,
		Sound:              priority == models.NotificationPriorityHigh,
	}

	if err := s.repo.Save(spanCtx, &model); err != nil {
		span.RecordError(err)
		return err
	}

	response := dto.NewNotificationResponse(model)
	s.broker.broadcast(response.UserID, response)
	if err := s.publish(spanCtx, response); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish notification event")
	}

	observability.NotificationsDispatched().WithLabelValues(priority).Inc()

	return nil
}

// buildAlertContent derives the alert title and truncated body. Group chat
// alerts carry the sender name in the body prefix; direct chat alerts name
// the sender in the title.
func buildAlertContent(alert dto.MessageAlert, sanitizer *bluemonday.Policy) (string, string) {
	text := strings.TrimSpace(sanitizer.Sanitize(alert.Body))

	var title string
	if alert.GroupChat {
		title = "New group message"
		text = alert.SenderName + ": " + text
	} else {
		title = "New message from " + alert.SenderName
	}

	runes := []rune(text)
	if len(runes) > notificationBodyLimit {
		text = string(runes[:notificationBodyLimit-1]) + "…"
	}

	return title, text
}

func (s *notificationService) List(ctx context.Context, userID string, limit, offset int) ([]dto.NotificationResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	notifications, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}

	return dto.NewNotificationResponseSlice(notifications), nil
}

func (s *notificationService) MarkRead(ctx context.Context, id uint, userID string) (dto.NotificationResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID)
	if err != nil {
		span.RecordError(err)
		return dto.NotificationResponse{}, err
	}

	return dto.NewNotificationResponse(notification), nil
}

func (s *notificationService) GetPreference(ctx context.Context, userID, deviceID string) (dto.PreferenceResponse, error) {
	preference, err := s.repo.GetPreference(ctx, userID, deviceID)
	if err != nil {
		return dto.PreferenceResponse{}, err
	}
	return dto.NewPreferenceResponse(preference), nil
}

func (s *notificationService) SetPreference(ctx context.Context, userID string, update dto.PreferenceUpdateRequest) (dto.PreferenceResponse, error) {
	if err := s.validator.Struct(update); err != nil {
		return dto.PreferenceResponse{}, err
	}

	preference, err := s.repo.GetPreference(ctx, userID, update.DeviceID)
	if err != nil {
		return dto.PreferenceResponse{}, err
	}

	if update.Muted != nil {
		preference.Muted = *update.Muted
	}
	// Permission transitions come from the browser; the mute toggle never
	// touches them.
	if update.Permission != "" {
		preference.Permission = update.Permission
	}

	if err := s.repo.SavePreference(ctx, &preference); err != nil {
		return dto.PreferenceResponse{}, err
	}

	return dto.NewPreferenceResponse(preference), nil
}

func (s *notificationService) Subscribe(userID string) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.broker.subscribe(userID, channel)
	observability.SSEClientsActive().Inc()

	cleanup := func() {
		s.broker.unsubscribe(userID, channel)
		observability.SSEClientsActive().Dec()
	}

	return channel, cleanup
}

func (s *notificationService) publish(ctx context.Context, notification dto.NotificationResponse) error {
	event := notificationEvent{
		Source:       s.nodeID,
		Notification: notification,
		SentAt:       time.Now().UTC(),
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

func (s *notificationService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("notification redis subscription closed")
			return
		}
		s.handleEvent([]byte(msg.Payload))
	}
}

func (s *notificationService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "brightdesk-notifications", func(msg *nats.Msg) {
		s.handleEvent(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats notifications subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain notification nats subscription")
		}
	}()
}

func (s *notificationService) handleEvent(payload []byte) {
	var event notificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid notification event payload")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	s.broker.broadcast(event.Notification.UserID, event.Notification)
}

func (b *notificationBroker) subscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[userID]; !exists {
		b.subscribers[userID] = make(map[chan dto.NotificationResponse]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *notificationBroker) unsubscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		if _, present := subscribers[ch]; present {
			delete(subscribers, ch)
			close(ch)
			if len(subscribers) == 0 {
				delete(b.subscribers, userID)
			}
		}
	}
}

func (b *notificationBroker) broadcast(userID string, notification dto.NotificationResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := b.subscribers[userID]
	for ch := range subscribers {
		select {
		case ch <- notification:
		default:
		}
	}
}
