package room

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/errors"
	"github.com/victornm/codeduel/internal/event"
	"github.com/victornm/codeduel/internal/outcome"
	"github.com/victornm/codeduel/internal/protocol"
	"github.com/victornm/codeduel/internal/telemetry"
)

// startDelay is how far ahead a server-chosen start time is scheduled.
const startDelay = 5 * time.Second

type ChallengeProvider interface {
	For(roomKey string) domain.Challenge
}

type Settler interface {
	Settle(o domain.Outcome, paid map[domain.Slot]bool) domain.Payout
}

type Config struct {
	Registry *Registry
	EventBus *event.Bus
	// Challenges, when set, assigns the room's challenge on the first join.
	Challenges   ChallengeProvider
	Settler      Settler
	Resubmission ResubmitPolicy
	Start        StartPolicy
	Now          func() time.Time
}

// Coordinator applies client commands to rooms and broadcasts the resulting state.
type Coordinator struct {
	rooms      *Registry
	eb         *event.Bus
	challenges ChallengeProvider
	settler    Settler
	resubmit   ResubmitPolicy
	start      StartPolicy
	now        func() time.Time
}

func NewCoordinator(c Config) *Coordinator {
	co := &Coordinator{
		rooms:      c.Registry,
		eb:         c.EventBus,
		challenges: c.Challenges,
		settler:    c.Settler,
		resubmit:   c.Resubmission,
		start:      c.Start,
		now:        c.Now,
	}

	if co.resubmit == "" {
		co.resubmit = ResubmitOverwrite
	}
	if co.start == "" {
		co.start = StartWhenArmed
	}
	if co.now == nil {
		co.now = time.Now
	}

	return co
}

// Handle applies a decoded client command on behalf of member m, bound to room key.
func (c *Coordinator) Handle(ctx context.Context, key string, m Member, cmd protocol.Command) (err error) {
	defer func() {
		result := "ok"
		if err != nil {
			result = errors.Convert(err).Message
		}
		telemetry.RoomCommands.WithLabelValues(cmd.Event(), result).Inc()
	}()

	if rs, ok := cmd.(protocol.RoomScoped); ok && rs.TargetRoom() != "" && rs.TargetRoom() != key {
		return ErrUnknownRoom
	}

	switch cmd := cmd.(type) {
	case protocol.PlayerJoin:
		return c.Join(ctx, key, m, cmd.Slot, cmd.Name)
	case protocol.SetChallenge:
		return c.SetChallenge(ctx, key, cmd.Challenge())
	case protocol.PlayerReady:
		return c.Ready(ctx, key, m, cmd.Slot)
	case protocol.GameStart:
		var at time.Time
		if cmd.StartTime > 0 {
			at = time.UnixMilli(cmd.StartTime)
		}
		return c.StartGame(ctx, key, m, at)
	case protocol.SubmitSolution:
		return c.Submit(ctx, key, m, cmd.Slot, domain.Submission{
			Code:        cmd.Code,
			Language:    cmd.Language,
			TimeElapsed: cmd.TimeElapsed,
			IsCorrect:   cmd.IsCorrect,
		})
	case protocol.BattleComplete:
		return c.CompleteBattle(ctx, key)
	case protocol.PaymentComplete:
		return c.PaymentComplete(ctx, key, m, cmd.Slot)
	default:
		return protocol.ErrUnknownEvent
	}
}

// Connect binds m to the room's broadcast group, creating the room if needed, and sends m
// the room's current state.
func (c *Coordinator) Connect(ctx context.Context, key string, m Member) (*Room, error) {
	if key == "" {
		return nil, ErrMissingRoomKey
	}

	for {
		r := c.rooms.GetOrCreate(key)

		r.mu.Lock()
		if r.evicted {
			// Lost a race with the reaper; the next GetOrCreate makes a fresh room.
			r.mu.Unlock()
			continue
		}

		r.members[m.ID()] = m
		r.touchTime = c.now()
		c.sendState(r, m)
		r.mu.Unlock()

		slog.DebugContext(ctx, "room: member connected", "room", key, "member", m.ID())
		return r, nil
	}
}

func (c *Coordinator) sendState(r *Room, m Member) {
	if len(r.players) > 0 {
		m.Send(protocol.PlayersUpdate(r.playersCopy()))
	}
	if r.challenge != nil {
		m.Send(protocol.Challenge(*r.challenge))
	}
	if !r.startTime.IsZero() {
		m.Send(protocol.GameStarted(r.startTime))
	}
	if r.result != nil {
		m.Send(protocol.BattleCompleted(*r.result))
	}
}

// Disconnect unbinds m from the room and marks the slot it owns, if any, as disconnected.
// The slot's data is kept so that a later join of the same slot resumes it.
func (c *Coordinator) Disconnect(ctx context.Context, key string, m Member) {
	r, ok := c.rooms.Get(key)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, m.ID())
	r.touchTime = c.now()

	p, ok := r.slotOf(m.ID())
	if !ok {
		return
	}

	p.Connected = false
	r.broadcast(protocol.PlayersUpdate(r.playersCopy()))

	slog.InfoContext(ctx, "room: player disconnected", "room", key, "slot", p.Slot, "name", p.Name)
}

// Join upserts slot s for member m. Joining an existing slot takes it over and keeps its
// readiness, payment and submission.
func (c *Coordinator) Join(ctx context.Context, key string, m Member, s domain.Slot, name string) error {
	if !s.Valid() {
		return ErrUnknownSlot
	}

	return c.withRoom(key, func(r *Room) error {
		if prev, ok := r.slotOf(m.ID()); ok && prev.Slot != s {
			prev.Connected = false
			prev.SessionID = ""
		}

		p, ok := r.players[s]
		if !ok {
			p = &domain.Player{Slot: s, JoinTime: c.now()}
			r.players[s] = p
		}

		p.Name = name
		p.Connected = true
		p.SessionID = m.ID()

		if r.challenge == nil && c.challenges != nil {
			ch := c.challenges.For(key)
			r.challenge = &ch
		}

		slog.InfoContext(ctx, "room: player joined", "room", key, "slot", s, "name", name)

		r.broadcast(protocol.PlayersUpdate(r.playersCopy()))
		if r.challenge != nil {
			m.Send(protocol.Challenge(*r.challenge))
		}

		if len(r.players) == len(domain.Slots) {
			var ch *domain.Challenge
			if r.challenge != nil {
				cp := *r.challenge
				ch = &cp
			}
			r.broadcast(protocol.StartGame(ch))
		}

		return nil
	})
}

// SetChallenge stores the room's challenge once. Later calls leave it unchanged; either way
// the stored challenge is broadcast.
func (c *Coordinator) SetChallenge(ctx context.Context, key string, ch domain.Challenge) error {
	return c.withRoom(key, func(r *Room) error {
		if r.challenge == nil {
			r.challenge = &ch
		} else if r.challenge.Title != ch.Title {
			slog.DebugContext(ctx, "room: challenge already set, ignoring",
				"room", key,
				"stored", r.challenge.Title,
				"received", ch.Title,
			)
		}

		r.broadcast(protocol.Challenge(*r.challenge))
		return nil
	})
}

func (c *Coordinator) Ready(ctx context.Context, key string, m Member, s domain.Slot) error {
	return c.withRoom(key, func(r *Room) error {
		p, err := r.owned(s, m.ID())
		if err != nil {
			return err
		}

		p.Ready = true
		r.broadcast(protocol.PlayersUpdate(r.playersCopy()))
		return nil
	})
}

// StartGame broadcasts the synchronized start time. A zero or past time is replaced by one
// startDelay ahead, rounded up to the second. Once started, the stored time is rebroadcast.
func (c *Coordinator) StartGame(ctx context.Context, key string, m Member, at time.Time) error {
	return c.withRoom(key, func(r *Room) error {
		if r.result != nil {
			return ErrBattleResolved
		}

		if _, ok := r.slotOf(m.ID()); !ok {
			return ErrNotSlotOwner
		}

		if !r.startTime.IsZero() {
			r.broadcast(protocol.GameStarted(r.startTime))
			return nil
		}

		if c.start == StartWhenArmed && r.phase() != PhaseArmed {
			return ErrNotArmed
		}

		now := c.now()
		if !at.After(now) {
			ms := now.Add(startDelay).UnixMilli()
			at = time.UnixMilli((ms + 999) / 1000 * 1000)
		}

		r.startTime = at
		r.broadcast(protocol.GameStarted(at))

		slog.InfoContext(ctx, "room: game starting", "room", key, "start_time", at)
		return nil
	})
}

// Submit stores slot s's solution and, once both slots have submitted, resolves the battle.
func (c *Coordinator) Submit(ctx context.Context, key string, m Member, s domain.Slot, sub domain.Submission) error {
	var resolved *domain.BattleResult
	defer func() { c.publishResolved(ctx, resolved) }()

	return c.withRoom(key, func(r *Room) error {
		if r.result != nil {
			return ErrBattleResolved
		}

		p, err := r.owned(s, m.ID())
		if err != nil {
			return err
		}

		if p.Submission != nil && c.resubmit == ResubmitReject {
			return ErrAlreadySubmitted
		}

		sub.SubmitTime = c.now()
		p.Submission = &sub
		r.broadcast(protocol.OpponentSolution(*p))

		slog.InfoContext(ctx, "room: solution submitted",
			"room", key,
			"slot", s,
			"time_elapsed", sub.TimeElapsed,
			"is_correct", sub.IsCorrect,
		)

		resolved = c.resolve(ctx, r)
		return nil
	})
}

func (c *Coordinator) PaymentComplete(ctx context.Context, key string, m Member, s domain.Slot) error {
	return c.withRoom(key, func(r *Room) error {
		p, err := r.owned(s, m.ID())
		if err != nil {
			return err
		}

		p.HasPaid = true
		r.broadcast(protocol.PaymentCompleted(s))
		return nil
	})
}

// CompleteBattle resolves the battle from the stored submissions. A resolved room
// rebroadcasts its stored result unchanged.
func (c *Coordinator) CompleteBattle(ctx context.Context, key string) error {
	var resolved *domain.BattleResult
	defer func() { c.publishResolved(ctx, resolved) }()

	return c.withRoom(key, func(r *Room) error {
		if r.result != nil {
			r.broadcast(protocol.BattleCompleted(*r.result))
			return nil
		}

		if resolved = c.resolve(ctx, r); resolved == nil {
			return ErrPending
		}
		return nil
	})
}

// CreateRoom registers an empty room under a fresh key.
func (c *Coordinator) CreateRoom(ctx context.Context) (string, error) {
	key, err := NewKey()
	if err != nil {
		return "", errors.Internal(err)
	}

	c.rooms.GetOrCreate(key)
	slog.InfoContext(ctx, "room: created", "room", key)

	return key, nil
}

func (c *Coordinator) Snapshot(key string) (Snapshot, error) {
	r, ok := c.rooms.Get(key)
	if !ok {
		return Snapshot{}, ErrUnknownRoom
	}
	return r.Snapshot(), nil
}

// Challenge returns the room's challenge, or nil when it is not set yet.
func (c *Coordinator) Challenge(key string) (*domain.Challenge, error) {
	r, ok := c.rooms.Get(key)
	if !ok {
		return nil, ErrUnknownRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.challenge == nil {
		return nil, nil
	}
	ch := *r.challenge
	return &ch, nil
}

// resolve stores the battle result once both submissions are present. It must be called
// with r.mu held and returns the result only when this call produced it.
func (c *Coordinator) resolve(ctx context.Context, r *Room) *domain.BattleResult {
	if r.result != nil {
		return nil
	}

	o := outcome.Resolve(r.submission(domain.SlotOne), r.submission(domain.SlotTwo))
	if !o.Decided() {
		return nil
	}

	res := domain.BattleResult{
		RoomKey:    r.key,
		Outcome:    o,
		Players:    make(map[domain.Slot]domain.Player, len(r.players)),
		Solutions:  make(map[domain.Slot]domain.Submission, len(r.players)),
		Prize:      domain.Payout{Pot: decimal.Zero},
		ResolvedAt: c.now(),
	}

	for s, p := range r.playersCopy() {
		res.Solutions[s] = *p.Submission
		p.Submission = nil
		res.Players[s] = p
	}

	if c.settler != nil {
		res.Prize = c.settler.Settle(o, r.paid())
	}

	r.result = &res
	r.broadcast(protocol.BattleCompleted(res))

	telemetry.BattlesResolved.WithLabelValues(o.Verdict.String()).Inc()
	slog.InfoContext(ctx, "room: battle resolved",
		"room", r.key,
		"verdict", o.Verdict,
		"winner", res.WinnerName(),
	)

	return &res
}

// publishResolved announces a new result on the bus. It runs after the room lock is released,
// as Publish waits while a subscriber's pool is full.
func (c *Coordinator) publishResolved(ctx context.Context, res *domain.BattleResult) {
	if res == nil || c.eb == nil {
		return
	}

	c.eb.Publish(ctx, domain.EventBattleResolved{Result: *res})
}

func (c *Coordinator) withRoom(key string, fn func(r *Room) error) error {
	r, ok := c.rooms.Get(key)
	if !ok {
		return ErrUnknownRoom
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.evicted {
		return ErrUnknownRoom
	}

	r.touchTime = c.now()
	return fn(r)
}
