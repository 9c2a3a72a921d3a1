// Package archive keeps resolved battles in Postgres after their room is gone.
package archive

import (
	"context"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/errors"
	"github.com/victornm/codeduel/internal/event"
	"github.com/victornm/codeduel/internal/protocol"
)

const defaultLimit = 20

//go:embed schema.sql
var schema string

var ErrNotFound = errors.New(errors.CodeNotFound, errors.WithMessage("battle not archived"))

// DB is the subset of *pgxpool.Pool used by the archive.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Config struct {
	EventBus *event.Bus
	DB       DB
}

type Service struct {
	db DB
}

func NewService(c Config) *Service {
	s := &Service{db: c.DB}

	c.EventBus.Subscribe(domain.EventNameBattleResolved, func(ctx context.Context, e event.Event) error {
		return s.SaveBattle(ctx, e.(domain.EventBattleResolved).Result)
	})

	return s
}

// Migrate creates the archive tables when missing.
func (s *Service) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// SaveBattle stores a resolved battle and its players. A battle is stored at most once;
// saving the same room again is a no-op.
func (s *Service) SaveBattle(ctx context.Context, res domain.BattleResult) (err error) {
	view, err := json.Marshal(protocol.NewBattleCompleteView(res))
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insBattleStmt = `
INSERT INTO battles (room_key, verdict, winner_slot, winning_time, pot, result, resolve_time)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (room_key) DO NOTHING;`

		insPlayerStmt = `
INSERT INTO battle_players (room_key, slot, name, time_elapsed, is_correct, has_paid, transfer)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
	)

	var winner *int
	if res.Outcome.Verdict == domain.VerdictWinner {
		w := int(res.Outcome.Winner)
		winner = &w
	}

	tag, err := tx.Exec(ctx, insBattleStmt,
		res.RoomKey,
		res.Outcome.Verdict.String(),
		winner,
		res.Outcome.WinningTime,
		res.Prize.Pot,
		view,
		res.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert battle: %w", err)
	}

	if tag.RowsAffected() == 0 {
		slog.DebugContext(ctx, "archive: battle already archived", "room", res.RoomKey)
		return tx.Rollback(ctx)
	}

	for _, slot := range domain.Slots {
		p, ok := res.Players[slot]
		if !ok {
			continue
		}

		sub := res.Solutions[slot]
		transfer, ok := res.Prize.Transfers[slot]
		if !ok {
			transfer = decimal.Zero
		}

		_, err = tx.Exec(ctx, insPlayerStmt, res.RoomKey, int(slot), p.Name, sub.TimeElapsed, sub.IsCorrect, p.HasPaid, transfer)
		if err != nil {
			return fmt.Errorf("insert player: slot=%d: %w", slot, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	slog.InfoContext(ctx, "archive: battle archived", "room", res.RoomKey, "verdict", res.Outcome.Verdict)
	return nil
}

// GetBattle returns the archived result of a room as it was broadcast.
func (s *Service) GetBattle(ctx context.Context, roomKey string) (*protocol.BattleCompleteView, error) {
	const stmt = `SELECT result FROM battles WHERE room_key = $1;`

	var raw []byte
	err := s.db.QueryRow(ctx, stmt, roomKey).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(ErrNotFound, fmt.Errorf("room=%s", roomKey))
	}
	if err != nil {
		return nil, fmt.Errorf("get battle: %w", err)
	}

	var v protocol.BattleCompleteView
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode battle: room=%s: %w", roomKey, err)
	}

	return &v, nil
}

// PlayerBattle is one archived battle from a player's point of view.
type PlayerBattle struct {
	RoomKey     string
	Slot        domain.Slot
	Verdict     string
	Won         bool
	TimeElapsed float64
	IsCorrect   bool
	Transfer    decimal.Decimal
	ResolveTime time.Time
}

type ListPlayerBattlesRequest struct {
	Name  string
	Limit int
}

// ListPlayerBattles returns the most recent battles played under a name.
func (s *Service) ListPlayerBattles(ctx context.Context, req ListPlayerBattlesRequest) ([]PlayerBattle, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	const stmt = `
SELECT b.room_key, p.slot, b.verdict, COALESCE(b.winner_slot = p.slot, false), p.time_elapsed, p.is_correct, p.transfer, b.resolve_time
FROM battle_players p
JOIN battles b ON b.room_key = p.room_key
WHERE p.name = $1
ORDER BY b.resolve_time DESC
LIMIT $2;`

	rows, err := s.db.Query(ctx, stmt, req.Name, limit)
	if err != nil {
		return nil, fmt.Errorf("list player battles: %w", err)
	}

	battles, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (PlayerBattle, error) {
		var b PlayerBattle
		var slot int
		if err := r.Scan(&b.RoomKey, &slot, &b.Verdict, &b.Won, &b.TimeElapsed, &b.IsCorrect, &b.Transfer, &b.ResolveTime); err != nil {
			return PlayerBattle{}, err
		}
		b.Slot = domain.Slot(slot)
		return b, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect player battles: %w", err)
	}

	return battles, nil
}

var _ DB = (*pgxpool.Pool)(nil)
