package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"examroom-service/internal/app"
	"examroom-service/internal/domain"
)

type stubRoomRepo struct {
	rooms map[string]domain.Room
}

func (r *stubRoomRepo) GetRoom(_ context.Context, code string) (domain.Room, error) {
	if room, ok := r.rooms[code]; ok {
		return room, nil
	}
	return domain.Room{}, domain.ErrRoomNotFound
}

type recordingSink struct {
	mu    sync.Mutex
	saved map[string][]domain.RankingEntry
}

func (s *recordingSink) SaveResults(_ context.Context, roomCode string, ranking []domain.RankingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string][]domain.RankingEntry)
	}
	s.saved[roomCode] = ranking
	return nil
}

func (s *recordingSink) get(roomCode string) []domain.RankingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[roomCode]
}

func newTestManager(grace time.Duration, sink app.ResultSink) *app.RoomSessionManager {
	repo := &stubRoomRepo{rooms: map[string]domain.Room{
		"TUTOR1": tutorRoom(4),
		"EXAM1":  examRoom(4),
	}}
	return app.NewRoomSessionManager(repo, sink, nil, grace, zerolog.Nop())
}

func TestManagerSingleSessionPerRoom(t *testing.T) {
	manager := newTestManager(time.Minute, nil)
	defer manager.Shutdown()
	ctx := context.Background()

	const callers = 16
	sessions := make([]*app.RoomSession, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := manager.GetOrCreate(ctx, "EXAM1")
			if err != nil {
				t.Errorf("getOrCreate: %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()
	for i := 1; i < callers; i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("expected a single session instance per room code")
		}
	}
}

func TestManagerUnknownRoom(t *testing.T) {
	manager := newTestManager(time.Minute, nil)
	defer manager.Shutdown()

	if _, err := manager.GetOrCreate(context.Background(), "NOPE"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room not found, got %v", err)
	}
}

func TestManagerEvictRejectsLaterEvents(t *testing.T) {
	manager := newTestManager(time.Minute, nil)
	defer manager.Shutdown()
	ctx := context.Background()

	session, err := manager.GetOrCreate(ctx, "EXAM1")
	if err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	if _, err := session.Join("u1", "Alice", &fakeSender{}); err != nil {
		t.Fatalf("join: %v", err)
	}

	manager.Evict("EXAM1")
	if _, ok := manager.Get("EXAM1"); ok {
		t.Fatalf("evicted session still registered")
	}
	if _, err := session.Join("u1", "Alice", &fakeSender{}); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("events for an evicted room must fail with not-found, got %v", err)
	}

	// A later lookup builds a fresh session from the room definition.
	fresh, err := manager.GetOrCreate(ctx, "EXAM1")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if fresh == session {
		t.Fatalf("expected a new session instance after eviction")
	}
}

func TestManagerSweepsFinishedIdleRooms(t *testing.T) {
	manager := newTestManager(0, nil)
	defer manager.Shutdown()
	ctx := context.Background()

	session, err := manager.GetOrCreate(ctx, "TUTOR1")
	if err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	sender := &fakeSender{}
	if _, err := session.Join("host", "Teacher", sender); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := session.Start("host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.CloseRoom("host"); err != nil {
		t.Fatalf("close: %v", err)
	}
	session.Detach("host", sender)

	manager.Sweep(time.Now())
	if _, ok := manager.Get("TUTOR1"); ok {
		t.Fatalf("finished idle room should be evicted after the grace window")
	}
}

func TestManagerSweepsAbandonedPlayingRooms(t *testing.T) {
	manager := newTestManager(0, nil)
	defer manager.Shutdown()
	ctx := context.Background()

	session, err := manager.GetOrCreate(ctx, "EXAM1")
	if err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	sender := &fakeSender{}
	if _, err := session.Join("u1", "Alice", sender); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := session.Start("host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	// The sole participant walks away mid-game; the room has no time limit,
	// so only the sweep can reclaim it.
	if err := session.Leave("u1", sender); err != nil {
		t.Fatalf("leave: %v", err)
	}

	manager.Sweep(time.Now().Add(24 * time.Hour))
	if _, ok := manager.Get("EXAM1"); ok {
		t.Fatalf("playing room abandoned by its whole roster must be evicted")
	}
}

func TestManagerSweepKeepsConnectedRooms(t *testing.T) {
	manager := newTestManager(0, nil)
	defer manager.Shutdown()
	ctx := context.Background()

	session, err := manager.GetOrCreate(ctx, "EXAM1")
	if err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	if _, err := session.Join("u1", "Alice", &fakeSender{}); err != nil {
		t.Fatalf("join: %v", err)
	}

	manager.Sweep(time.Now())
	if _, ok := manager.Get("EXAM1"); !ok {
		t.Fatalf("room with attached members must survive the sweep")
	}
}

func TestFinalizedRankingIsPersisted(t *testing.T) {
	sink := &recordingSink{}
	manager := newTestManager(time.Minute, sink)
	defer manager.Shutdown()
	ctx := context.Background()

	session, err := manager.GetOrCreate(ctx, "EXAM1")
	if err != nil {
		t.Fatalf("getOrCreate: %v", err)
	}
	if _, err := session.Join("u1", "Alice", &fakeSender{}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := session.Start("host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	mustSubmit(t, session, "u1", "q1", "A", 1)
	mustFinish(t, session, "u1", 1234)

	// Persistence is fire-and-forget, so poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if ranking := sink.get("EXAM1"); ranking != nil {
			if len(ranking) != 1 || ranking[0].UserID != "u1" || ranking[0].Score != 1 {
				t.Fatalf("unexpected persisted ranking %+v", ranking)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("ranking never reached the result sink")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
