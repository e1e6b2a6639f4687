package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LivenessMarker records which rooms have a live session on this instance.
// Keys are best-effort: a crashed instance's markers simply expire. Could be
// extended to route cross-instance events for a distributed deployment.
type LivenessMarker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewLivenessMarker(client *redis.Client, ttl time.Duration) *LivenessMarker {
	return &LivenessMarker{client: client, ttl: ttl}
}

func (m *LivenessMarker) MarkLive(ctx context.Context, roomCode string) {
	_ = m.client.Set(ctx, m.key(roomCode), "1", m.ttl).Err()
}

func (m *LivenessMarker) ClearLive(ctx context.Context, roomCode string) {
	_ = m.client.Del(ctx, m.key(roomCode)).Err()
}

func (m *LivenessMarker) key(roomCode string) string {
	return "room:live:" + roomCode
}
