package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/event"
	"github.com/victornm/codeduel/internal/telemetry"
)

const defaultTTL = 2 * time.Hour

type RegistryConfig struct {
	// TTL is how long a room without members is kept after its last activity.
	TTL      time.Duration
	EventBus *event.Bus
	Now      func() time.Time
}

// Registry maps room keys to rooms.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	ttl time.Duration
	eb  *event.Bus
	now func() time.Time
}

func NewRegistry(c RegistryConfig) *Registry {
	r := &Registry{
		rooms: make(map[string]*Room),
		ttl:   c.TTL,
		eb:    c.EventBus,
		now:   c.Now,
	}

	if r.ttl <= 0 {
		r.ttl = defaultTTL
	}
	if r.now == nil {
		r.now = time.Now
	}

	return r
}

// NewKey returns a fresh, collision-resistant room key.
func NewKey() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate room key: %w", err)
	}
	return id.String(), nil
}

// GetOrCreate returns the room for key, creating an empty one on first access.
// Concurrent callers with the same key get the same room.
func (r *Registry) GetOrCreate(key string) *Room {
	r.mu.RLock()
	rm, ok := r.rooms[key]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[key]; ok {
		return rm
	}

	rm = newRoom(key, r.now())
	r.rooms[key] = rm
	telemetry.RoomsActive.Inc()

	return rm
}

func (r *Registry) Get(key string) (*Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[key]
	return rm, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

// Reap removes rooms that have no members and were idle for longer than the TTL.
// It returns the removed keys.
func (r *Registry) Reap(ctx context.Context) []string {
	now := r.now()

	r.mu.Lock()
	var reaped []string
	for key, rm := range r.rooms {
		rm.mu.Lock()
		if len(rm.members) == 0 && now.Sub(rm.touchTime) > r.ttl {
			rm.evicted = true
			delete(r.rooms, key)
			reaped = append(reaped, key)
		}
		rm.mu.Unlock()
	}
	r.mu.Unlock()

	telemetry.RoomsActive.Sub(float64(len(reaped)))

	for _, key := range reaped {
		slog.InfoContext(ctx, "room: evicted idle room", "room", key)
		if r.eb != nil {
			r.eb.Publish(ctx, domain.EventRoomEvicted{RoomKey: key})
		}
	}

	return reaped
}

// Run reaps idle rooms every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Reap(ctx)
		}
	}
}
