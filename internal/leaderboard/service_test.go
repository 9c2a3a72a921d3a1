package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/event"
	"github.com/victornm/codeduel/internal/leaderboard"
)

func TestService_RecordBattle(t *testing.T) {
	s := makeService(t)
	ctx := context.Background()

	for _, e := range []domain.EventBattleResolved{
		battleWonBy("r1", "alice"),
		battleWonBy("r2", "bob"),
		battleWonBy("r3", "alice"),
		noWinner("r4"),
		battleWonBy("r5", "carol"),
	} {
		require.NoError(t, s.RecordBattle(ctx, e))
	}

	resp, err := s.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{Limit: 2})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		Entries: []domain.LeaderboardEntry{
			{Name: "alice", Wins: 2},
			{Name: "carol", Wins: 1},
		},
	}
	require.Equal(t, want, resp)
}

func TestService_GetLeaderboardEmpty(t *testing.T) {
	s := makeService(t)

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.NoError(t, err)
	require.Empty(t, resp.Entries)
}

func TestService_SubscribesToBattleResolved(t *testing.T) {
	eb := event.NewBus()
	s := makeService(t, withEventBus(eb))

	eb.Publish(context.Background(), battleWonBy("r1", "alice"))
	eb.Stop()

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{})
	require.NoError(t, err)
	require.Equal(t, []domain.LeaderboardEntry{{Name: "alice", Wins: 1}}, resp.Entries)
}

func TestServer_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventBattleResolved
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish correct event leaderboard.updated after receiving battle.resolved": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventBattleResolved{
						battleWonBy("r1", "alice"),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					Entries: []domain.LeaderboardEntry{
						{Name: "alice", Wins: 1},
					},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 1 event leaderboard.updated after receiving many battle.resolved within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventBattleResolved{
						battleWonBy("r1", "alice"),
						battleWonBy("r2", "bob"),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},

		"should not publish leaderboard.updated for a battle without winner": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventBattleResolved{
						noWinner("r1"),
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Empty(t, out.publishedEvents)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s := makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.receivedEvents {
				err := s.RecordBattle(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func battleWonBy(room, name string) domain.EventBattleResolved {
	return domain.EventBattleResolved{
		Result: domain.BattleResult{
			RoomKey: room,
			Outcome: domain.Outcome{
				Verdict: domain.VerdictWinner,
				Winner:  domain.SlotOne,
				Loser:   domain.SlotTwo,
			},
			Players: map[domain.Slot]domain.Player{
				domain.SlotOne: {Slot: domain.SlotOne, Name: name},
				domain.SlotTwo: {Slot: domain.SlotTwo, Name: "opponent-" + name},
			},
			ResolvedAt: time.Now(),
		},
	}
}

func noWinner(room string) domain.EventBattleResolved {
	return domain.EventBattleResolved{
		Result: domain.BattleResult{
			RoomKey:    room,
			Outcome:    domain.Outcome{Verdict: domain.VerdictNoWinner},
			ResolvedAt: time.Now(),
		},
	}
}

func makeService(t *testing.T, opts ...options) *leaderboard.Service {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c)
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
