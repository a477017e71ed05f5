package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/brightdesk/brightdesk-api/internal/models"
)

// NotificationRepository persists alerts and per-device preferences.
type NotificationRepository interface {
	// Save stores the alert. An unread alert with the same user and tag is
	// replaced in place so conversations do not stack duplicate entries.
	Save(ctx context.Context, notification *models.Notification) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error)
	GetPreference(ctx context.Context, userID, deviceID string) (models.NotificationPreference, error)
	// ListPreferences returns every stored device preference for the user.
	ListPreferences(ctx context.Context, userID string) ([]models.NotificationPreference, error)
	SavePreference(ctx context.Context, preference *models.NotificationPreference) error
}

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository constructs a repository backed by GORM.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Save(ctx context.Context, notification *models.Notification) error {
	if notification.Tag != "" {
		var existing models.Notification
		err := r.db.WithContext(ctx).
			Where("user_id = ? AND tag = ? AND read = ?", notification.UserID, notification.Tag, false).
			First(&existing).Error
		if err == nil {
			notification.ID = existing.ID
			notification.CreatedAt = existing.CreatedAt
			return r.db.WithContext(ctx).Save(notification).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}

	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *notificationRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var notifications []models.Notification
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&notifications).Error; err != nil {
		return nil, err
	}

	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id uint, userID string) (models.Notification, error) {
	var notification models.Notification
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	if notification.Read {
		return notification, nil
	}

	notification.Read = true
	if err := r.db.WithContext(ctx).Save(&notification).Error; err != nil {
		return models.Notification{}, err
	}

	return notification, nil
}

func (r *notificationRepository) GetPreference(ctx context.Context, userID, deviceID string) (models.NotificationPreference, error) {
	var preference models.NotificationPreference
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		First(&preference).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NotificationPreference{
			UserID:     userID,
			DeviceID:   deviceID,
			Permission: models.PermissionDefault,
		}, nil
	}
	if err != nil {
		return models.NotificationPreference{}, err
	}
	return preference, nil
}

func (r *notificationRepository) ListPreferences(ctx context.Context, userID string) ([]models.NotificationPreference, error) {
	var preferences []models.NotificationPreference
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("device_id ASC").
		Find(&preferences).Error; err != nil {
		return nil, err
	}
	return preferences, nil
}

func (r *notificationRepository) SavePreference(ctx context.Context, preference *models.NotificationPreference) error {
	var existing models.NotificationPreference
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", preference.UserID, preference.DeviceID).
		First(&existing).Error
	if err == nil {
		preference.ID = existing.ID
		preference.CreatedAt = existing.CreatedAt
		return r.db.WithContext(ctx).Save(preference).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return r.db.WithContext(ctx).Create(preference).Error
}
