package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNotificationTTL covers Apple's retry schedule (up to five retries
// over three days) and Pub/Sub's redelivery window.
const DefaultNotificationTTL = 72 * time.Hour

var ErrEmptyNotificationID = errors.New("notification id is required")

// NotificationRepository remembers which vendor notifications have already
// been handed to the application, so webhook redeliveries can be skipped.
type NotificationRepository struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewNotificationRepository(rdb *redis.Client, ttl time.Duration) *NotificationRepository {
	if ttl <= 0 {
		ttl = DefaultNotificationTTL
	}
	return &NotificationRepository{RDB: rdb, TTL: ttl}
}

func notificationKey(store, notificationID string) string {
	return fmt.Sprintf("iap:notification:%s:%s", strings.ToLower(store), notificationID)
}

// Claim marks the notification as seen. It returns false when it was
// already claimed within the TTL.
func (r *NotificationRepository) Claim(ctx context.Context, store, notificationID string) (bool, error) {
	if strings.TrimSpace(notificationID) == "" {
		return false, ErrEmptyNotificationID
	}
	ok, err := r.RDB.SetNX(ctx, notificationKey(store, notificationID), time.Now().UTC().Format(time.RFC3339), r.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return ok, nil
}

// Release forgets a claim so the next redelivery is processed again.
func (r *NotificationRepository) Release(ctx context.Context, store, notificationID string) error {
	if err := r.RDB.Del(ctx, notificationKey(store, notificationID)).Err(); err != nil {
		return fmt.Errorf("release notification: %w", err)
	}
	return nil
}
