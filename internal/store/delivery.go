package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/integrations/internal/model"
)

const deliveryKeyPrefix = "integrations:delivery"

type redisDeliveryStore struct {
	client redis.Cmdable
}

// NewRedisDeliveryStore records delivery ids with SET NX so the first writer wins.
func NewRedisDeliveryStore(client redis.Cmdable) DeliveryStore {
	return &redisDeliveryStore{client: client}
}

func (s *redisDeliveryStore) MarkSeen(ctx context.Context, provider model.ProviderKind, deliveryID string, ttl time.Duration) (bool, error) {
	first, err := s.client.SetNX(ctx, DeliveryKey(provider, deliveryID), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("marking delivery %s: %w", deliveryID, err)
	}
	return first, nil
}

func DeliveryKey(provider model.ProviderKind, deliveryID string) string {
	return fmt.Sprintf("%s:%s:%s", deliveryKeyPrefix, provider, deliveryID)
}
