package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/protocol"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		Name string `json:"name"`
		Wins string `json:"wins"`
	}

	RoomEvicted struct {
		RoomID string `json:"roomId"`
	}
)

func newLeaderboard(l domain.Leaderboard) Leaderboard {
	data := Leaderboard{
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntry{
			Name: entry.Name,
			Wins: strconv.FormatFloat(entry.Wins, 'f', -1, 64),
		})
	}

	return data
}

func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.publishNotification(ctx, a.leaderboardChannel(), e.Name(), newLeaderboard(e.Leaderboard))
}

// PublishBattleResolved notifies the room channel and the channel of every player in the battle.
func (a *API) PublishBattleResolved(ctx context.Context, e domain.EventBattleResolved) error {
	res := e.Result
	data := protocol.NewBattleCompleteView(res)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	eg.Go(func() error {
		return a.publishNotification(ctx, a.roomChannel(res.RoomKey), e.Name(), data)
	})

	for _, p := range res.Players {
		if p.Name == "" {
			continue
		}
		eg.Go(func() error {
			return a.publishNotification(ctx, a.playerChannel(p.Name), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) PublishRoomEvicted(ctx context.Context, e domain.EventRoomEvicted) error {
	return a.publishNotification(ctx, a.roomChannel(e.RoomKey), e.Name(), RoomEvicted{RoomID: e.RoomKey})
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) roomChannel(key string) string {
	return fmt.Sprintf("%s:room:%s", a.prefix, key)
}

func (a *API) playerChannel(name string) string {
	return fmt.Sprintf("%s:player:%s", a.prefix, name)
}

func (a *API) leaderboardChannel() string {
	return fmt.Sprintf("%s:leaderboard", a.prefix)
}
