package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"examroom-service/internal/domain"
	"examroom-service/internal/infra/memory"
)

func TestRoomRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)

	loader := &countingLoader{
		RoomLoader: memory.NewStaticRoomLoader(map[string]domain.Room{
			"ROOM1": sampleRoom(),
		}),
	}
	repo := NewRoomRepository(client, loader, time.Minute)

	room, err := repo.GetRoom(context.Background(), "ROOM1")
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if room.HostID != "host" || len(room.Questions) != 1 {
		t.Fatalf("unexpected room %+v", room)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if !mr.Exists("room:ROOM1:doc") {
		t.Fatalf("expected cached document in redis")
	}

	// Second call should be served from cache; the definition round-trips intact.
	room, err = repo.GetRoom(context.Background(), "ROOM1")
	if err != nil {
		t.Fatalf("get room cached: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if room.Questions[0].Answer != "4" {
		t.Fatalf("cached room lost data: %+v", room.Questions)
	}
}

type countingLoader struct {
	memory.RoomLoader
	calls int
}

func (l *countingLoader) LoadRoom(ctx context.Context, code string) (domain.Room, error) {
	l.calls++
	return l.RoomLoader.LoadRoom(ctx, code)
}

func sampleRoom() domain.Room {
	return domain.Room{
		ID:       1,
		Code:     "ROOM1",
		Mode:     domain.ModeExam,
		Capacity: 4,
		HostID:   "host",
		Questions: []domain.Question{
			{Ref: "q1", Prompt: "What is 2 + 2?", Choices: []string{"3", "4"}, Answer: "4", Points: 1},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
