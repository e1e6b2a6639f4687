package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"examroom-service/internal/domain"
)

// RoomLoader fetches room definitions from a backing store (e.g., Postgres).
type RoomLoader interface {
	LoadRoom(ctx context.Context, code string) (domain.Room, error)
}

// RoomRepository caches room definitions in Redis as JSON documents and falls
// back to a loader on cache miss. Documents are stored as:
// SET room:{code}:doc {json} EX ttl
// Room definitions are immutable for the session lifetime, so the cached
// document never needs invalidation beyond the TTL.
type RoomRepository struct {
	client *redis.Client
	loader RoomLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewRoomRepository(client *redis.Client, loader RoomLoader, ttl time.Duration) *RoomRepository {
	return &RoomRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *RoomRepository) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	key := r.docKey(code)

	if raw, err := r.client.Get(ctx, key).Result(); err == nil {
		var room domain.Room
		if err := json.Unmarshal([]byte(raw), &room); err == nil {
			return room, nil
		}
		// Corrupt cache entry: fall through and reload.
	}

	result, err, _ := r.sf.Do(code, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Result(); err == nil {
			var room domain.Room
			if err := json.Unmarshal([]byte(raw), &room); err == nil {
				return room, nil
			}
		}

		room, err := r.loader.LoadRoom(ctx, code)
		if err != nil {
			return domain.Room{}, err
		}

		data, err := json.Marshal(room)
		if err != nil {
			return domain.Room{}, fmt.Errorf("marshal room: %w", err)
		}
		_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		return room, nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return result.(domain.Room), nil
}

func (r *RoomRepository) docKey(code string) string {
	return "room:" + code + ":doc"
}

func (r *RoomRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
