package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"examroom-service/internal/domain"
)

// RoomRepository loads room definitions (from cache/backing store). Room
// creation itself happens upstream; by the time the manager sees a code, the
// definition already exists.
type RoomRepository interface {
	GetRoom(ctx context.Context, code string) (domain.Room, error)
}

// ResultSink receives a finalized room's ranking for historical storage.
// Calls are best-effort and must never stall a room.
type ResultSink interface {
	SaveResults(ctx context.Context, roomCode string, ranking []domain.RankingEntry) error
}

// Liveness marks which rooms have a live session (Redis-backed in production,
// no-op otherwise).
type Liveness interface {
	MarkLive(ctx context.Context, roomCode string)
	ClearLive(ctx context.Context, roomCode string)
}

// NopLiveness is the default Liveness when no Redis is configured.
type NopLiveness struct{}

func (NopLiveness) MarkLive(context.Context, string)  {}
func (NopLiveness) ClearLive(context.Context, string) {}

// RoomSessionManager maps room codes to live sessions. Exactly one session
// exists per live code at any time; that single-writer invariant is what
// keeps the per-room components race-free without distributed locking.
type RoomSessionManager struct {
	rooms    RoomRepository
	results  ResultSink
	liveness Liveness
	grace    time.Duration
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*RoomSession
}

func NewRoomSessionManager(rooms RoomRepository, results ResultSink, liveness Liveness, grace time.Duration, logger zerolog.Logger) *RoomSessionManager {
	if liveness == nil {
		liveness = NopLiveness{}
	}
	return &RoomSessionManager{
		rooms:    rooms,
		results:  results,
		liveness: liveness,
		grace:    grace,
		log:      logger,
		sessions: make(map[string]*RoomSession),
	}
}

// GetOrCreate returns the live session for a room code, starting one from the
// room definition on first use.
func (m *RoomSessionManager) GetOrCreate(ctx context.Context, code string) (*RoomSession, error) {
	m.mu.RLock()
	session, ok := m.sessions[code]
	m.mu.RUnlock()
	if ok {
		return session, nil
	}

	room, err := m.rooms.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[code]; ok {
		// Another connection created it while we loaded the definition.
		return session, nil
	}
	session = NewRoomSession(room, m.results, m.log)
	m.sessions[code] = session
	go session.Run()
	m.liveness.MarkLive(ctx, code)
	m.log.Info().Str("room", code).Msg("room session created")
	return session, nil
}

// Get returns the live session without creating one.
func (m *RoomSessionManager) Get(code string) (*RoomSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[code]
	return session, ok
}

// Evict stops a session and removes it from the map. Events arriving for the
// code afterwards are rejected with a room-not-found condition.
func (m *RoomSessionManager) Evict(code string) {
	m.mu.Lock()
	session, ok := m.sessions[code]
	if ok {
		delete(m.sessions, code)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	session.stop()
	m.liveness.ClearLive(context.Background(), code)
	m.log.Info().Str("room", code).Msg("room session evicted")
}

// Sweep evicts sessions that are finished and idle past the grace window,
// whose roster emptied out in the lobby, or that were abandoned mid-game by
// every member.
func (m *RoomSessionManager) Sweep(now time.Time) {
	m.mu.RLock()
	candidates := make(map[string]*RoomSession, len(m.sessions))
	for code, session := range m.sessions {
		candidates[code] = session
	}
	m.mu.RUnlock()

	for code, session := range candidates {
		st, ok := session.state()
		if !ok {
			m.Evict(code)
			continue
		}
		switch {
		case st.status == domain.StatusFinished && st.connected == 0 && now.Sub(st.finishedAt) >= m.grace:
			m.Evict(code)
		case st.status == domain.StatusWaiting && st.active == 0 && st.connected == 0 && now.Sub(st.createdAt) >= m.grace:
			m.Evict(code)
		case st.status == domain.StatusPlaying && st.active == 0 && st.connected == 0 && now.Sub(st.startedAt) >= m.grace:
			// Everyone left mid-game and nobody is attached: without a time
			// limit this room would otherwise run forever.
			m.Evict(code)
		}
	}
}

// RunJanitor sweeps periodically until the context is canceled.
func (m *RoomSessionManager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Shutdown stops every live session.
func (m *RoomSessionManager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*RoomSession)
	m.mu.Unlock()
	for code, session := range sessions {
		session.stop()
		m.liveness.ClearLive(context.Background(), code)
	}
}
