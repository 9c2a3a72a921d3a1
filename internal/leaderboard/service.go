package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	defaultLimit    = 10
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameBattleResolved, func(ctx context.Context, e event.Event) error {
		return s.RecordBattle(ctx, e.(domain.EventBattleResolved))
	})

	return s
}

type GetLeaderboardRequest struct {
	// Limit is the number of top entries to return. Zero means the default of 10.
	Limit int
}

// GetLeaderboard returns the players with the most won battles.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		entries = append(entries, domain.LeaderboardEntry{
			Name: z.Member.(string),
			Wins: z.Score,
		})
	}

	return &domain.Leaderboard{Entries: entries}, nil
}

// RecordBattle credits the winner of a resolved battle. Battles without a winner are ignored.
func (s *Service) RecordBattle(ctx context.Context, e domain.EventBattleResolved) error {
	name := e.Result.WinnerName()
	if name == "" {
		return nil
	}

	if err := s.redis.ZIncrBy(ctx, s.leaderboardKey(), 1, name).Err(); err != nil {
		return fmt.Errorf("update leaderboard: room=%s: %w", e.Result.RoomKey, err)
	}

	return s.schedulePublishLeaderboard(ctx, e.Result.ResolvedAt)
}

// schedulePublishLeaderboard publishes at most one leaderboard.updated per interval, across
// all instances sharing the same redis.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, at time.Time) error {
	ok, err := s.redis.SetNX(ctx, s.leaderboardTimeKey(), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx)
}

func (s *Service) publishLeaderboard(ctx context.Context) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{})
	if err != nil {
		return fmt.Errorf("publish leaderboard: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) leaderboardKey() string {
	return fmt.Sprintf("%s:leaderboard", s.prefix)
}

func (s *Service) leaderboardTimeKey() string {
	return fmt.Sprintf("%s:leaderboard:time", s.prefix)
}
