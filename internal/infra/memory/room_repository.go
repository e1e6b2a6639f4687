package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"examroom-service/internal/domain"
)

// RoomLoader fetches room definitions from a backing store (e.g., the
// room-creation service's database).
type RoomLoader interface {
	LoadRoom(ctx context.Context, code string) (domain.Room, error)
}

// RoomRepository caches room definitions in process memory. Definitions are
// immutable for a room's lifetime, so entries only ever age out: an expired
// entry is dropped lazily on the next lookup and refetched through
// singleflight so concurrent misses produce one load.
type RoomRepository struct {
	loader    RoomLoader
	ttl       time.Duration
	jitterMax int64
	clock     func() time.Time
	sf        singleflight.Group
	rnd       *rand.Rand

	mu    sync.Mutex
	cache map[string]cachedRoom
}

type cachedRoom struct {
	room      domain.Room
	expiresAt time.Time
}

func NewRoomRepository(loader RoomLoader, ttl time.Duration) *RoomRepository {
	return &RoomRepository{
		loader: loader,
		ttl:    ttl,
		// up to 10% jitter to spread expirations
		jitterMax: int64(ttl) / 10,
		clock:     time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:     make(map[string]cachedRoom),
	}
}

func (r *RoomRepository) GetRoom(ctx context.Context, code string) (domain.Room, error) {
	if room, ok := r.lookup(code); ok {
		return room, nil
	}

	result, err, _ := r.sf.Do(code, func() (interface{}, error) {
		if room, ok := r.lookup(code); ok {
			return room, nil
		}
		room, err := r.loader.LoadRoom(ctx, code)
		if err != nil {
			return domain.Room{}, err
		}
		r.store(code, room)
		return room, nil
	})
	if err != nil {
		return domain.Room{}, err
	}
	return result.(domain.Room), nil
}

// lookup returns a live cache entry, deleting it if its TTL has lapsed.
func (r *RoomRepository) lookup(code string) (domain.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[code]
	if !ok {
		return domain.Room{}, false
	}
	if !entry.expiresAt.After(r.clock()) {
		delete(r.cache, code)
		return domain.Room{}, false
	}
	return entry.room, true
}

func (r *RoomRepository) store(code string, room domain.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ttl := r.ttl
	if r.jitterMax > 0 {
		ttl += time.Duration(r.rnd.Int63n(r.jitterMax + 1))
	}
	r.cache[code] = cachedRoom{room: room, expiresAt: r.clock().Add(ttl)}
}

// StaticRoomLoader serves rooms from an in-memory map (tests/demos).
type StaticRoomLoader struct {
	rooms map[string]domain.Room
}

func NewStaticRoomLoader(rooms map[string]domain.Room) *StaticRoomLoader {
	return &StaticRoomLoader{rooms: rooms}
}

func (l *StaticRoomLoader) LoadRoom(_ context.Context, code string) (domain.Room, error) {
	if room, ok := l.rooms[code]; ok {
		return room, nil
	}
	return domain.Room{}, domain.ErrRoomNotFound
}
