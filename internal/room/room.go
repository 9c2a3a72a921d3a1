package room

import (
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/protocol"
)

// Member is a session endpoint bound to a room's broadcast group.
type Member interface {
	ID() string
	// Send enqueues a message without blocking. It reports false when the message was dropped.
	Send(msg protocol.Message) bool
}

type Phase int

const (
	PhaseEmpty Phase = iota
	PhaseFilling
	PhaseReady
	PhaseArmed
	PhaseInProgress
	PhaseResolved
)

func (p Phase) String() string {
	switch p {
	case PhaseFilling:
		return "filling"
	case PhaseReady:
		return "ready"
	case PhaseArmed:
		return "armed"
	case PhaseInProgress:
		return "in_progress"
	case PhaseResolved:
		return "resolved"
	default:
		return "empty"
	}
}

// Room is the authoritative state of one battle. All fields are guarded by mu; every
// mutation and its broadcasts happen under the same critical section, so members observe
// broadcasts in mutation order.
type Room struct {
	key string

	mu        sync.Mutex
	players   map[domain.Slot]*domain.Player
	challenge *domain.Challenge
	startTime time.Time
	result    *domain.BattleResult
	members   map[string]Member
	evicted   bool

	createTime time.Time
	touchTime  time.Time
}

func newRoom(key string, now time.Time) *Room {
	return &Room{
		key:        key,
		players:    make(map[domain.Slot]*domain.Player),
		members:    make(map[string]Member),
		createTime: now,
		touchTime:  now,
	}
}

func (r *Room) Key() string {
	return r.key
}

// Snapshot is a copy of a room's state.
type Snapshot struct {
	Key        string
	Phase      Phase
	Players    map[domain.Slot]domain.Player
	Challenge  *domain.Challenge
	StartTime  time.Time
	Result     *domain.BattleResult
	Members    int
	CreateTime time.Time
	TouchTime  time.Time
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Key:        r.key,
		Phase:      r.phase(),
		Players:    r.playersCopy(),
		StartTime:  r.startTime,
		Members:    len(r.members),
		CreateTime: r.createTime,
		TouchTime:  r.touchTime,
	}

	if r.challenge != nil {
		c := *r.challenge
		s.Challenge = &c
	}

	if r.result != nil {
		res := *r.result
		s.Result = &res
	}

	return s
}

func (r *Room) phase() Phase {
	switch {
	case r.result != nil:
		return PhaseResolved
	case !r.startTime.IsZero():
		return PhaseInProgress
	case len(r.players) == 0:
		return PhaseEmpty
	case len(r.players) == 1:
		return PhaseFilling
	case r.players[domain.SlotOne].Ready && r.players[domain.SlotTwo].Ready:
		return PhaseArmed
	default:
		return PhaseReady
	}
}

func (r *Room) playersCopy() map[domain.Slot]domain.Player {
	m := make(map[domain.Slot]domain.Player, len(r.players))
	for s, p := range r.players {
		cp := *p
		if p.Submission != nil {
			sub := *p.Submission
			cp.Submission = &sub
		}
		m[s] = cp
	}
	return m
}

// slotOf returns the slot owned by the session.
func (r *Room) slotOf(sessionID string) (*domain.Player, bool) {
	for _, p := range r.players {
		if p.SessionID == sessionID {
			return p, true
		}
	}
	return nil, false
}

// owned returns the player of slot s if the session owns it.
func (r *Room) owned(s domain.Slot, sessionID string) (*domain.Player, error) {
	p, ok := r.players[s]
	if !ok {
		return nil, ErrUnknownSlot
	}

	if p.SessionID != sessionID {
		return nil, ErrNotSlotOwner
	}

	return p, nil
}

func (r *Room) submission(s domain.Slot) *domain.Submission {
	if p, ok := r.players[s]; ok {
		return p.Submission
	}
	return nil
}

func (r *Room) paid() map[domain.Slot]bool {
	m := make(map[domain.Slot]bool, len(r.players))
	for s, p := range r.players {
		m[s] = p.HasPaid
	}
	return m
}

func (r *Room) broadcast(msg protocol.Message) {
	for id, m := range r.members {
		if !m.Send(msg) {
			slog.Warn("room: dropped message for slow member",
				"room", r.key,
				"member", id,
				"event", msg.Event,
			)
		}
	}
}
