package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-checkin/internal/model"
)

// RedisKeyPrefix namespaces redemption keys.
const RedisKeyPrefix = "redemption:"

// RedisBackend stores redemptions as JSON values under
// "redemption:<bookingId>".  SETNX provides the conditional write;
// keys carry no TTL because redemptions are permanent.
type RedisBackend struct {
	rdb redis.Cmdable
}

// NewRedisBackend returns a Backend on rdb.
func NewRedisBackend(rdb redis.Cmdable) *RedisBackend {
	if rdb == nil {
		panic("nil redis client passed to NewRedisBackend")
	}
	return &RedisBackend{rdb: rdb}
}

func redisKey(bookingID string) string { return RedisKeyPrefix + bookingID }

func (b *RedisBackend) InsertIfAbsent(ctx context.Context, r model.Redemption) (*model.Redemption, bool, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, false, fmt.Errorf("encode redemption: %w", err)
	}
	ok, err := b.rdb.SetNX(ctx, redisKey(r.BookingID), string(raw), 0).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, true, nil
	}
	prior, err := b.Get(ctx, r.BookingID)
	if err != nil {
		return nil, false, fmt.Errorf("load prior redemption: %w", err)
	}
	return prior, false, nil
}

func (b *RedisBackend) Get(ctx context.Context, bookingID string) (*model.Redemption, error) {
	raw, err := b.rdb.Get(ctx, redisKey(bookingID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r model.Redemption
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("decode redemption %s: %w", bookingID, err)
	}
	return &r, nil
}
