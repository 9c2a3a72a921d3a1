//go:build integration_test

package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/codeduel/internal/api"
	"github.com/victornm/codeduel/internal/domain"
)

const (
	httpAddr = "localhost:8080"
	grpcAddr = "localhost:9090"
	prefix   = "codeduel"
)

func TestBattle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checkHealth(ctx, t)

	key := createRoom(t)
	t.Logf("Created room %q", key)

	notifications := subscribeRedis(t, makeRedis(t), fmt.Sprintf("%s:room:%s", prefix, key))

	alice := dial(t, key)
	bob := dial(t, key)

	alice.send(t, "playerJoin", map[string]any{"playerNumber": 1, "playerName": "Alice"})
	alice.expect(t, "playersUpdate")
	bob.send(t, "playerJoin", map[string]any{"playerNumber": 2, "playerName": "Bob"})
	alice.expect(t, "startGame")
	bob.expect(t, "startGame")

	alice.send(t, "playerReady", map[string]any{"playerNumber": 1})
	bob.send(t, "playerReady", map[string]any{"playerNumber": 2})
	require.Eventually(t, func() bool {
		return roomPhase(t, key) == "armed"
	}, 5*time.Second, 50*time.Millisecond)

	alice.send(t, "gameStart", map[string]any{})
	start := bob.expect(t, "gameStart")
	t.Logf("Game starts at %v", time.UnixMilli(int64(start["startTime"].(float64))))

	// Both players submit concurrently
	var eg errgroup.Group
	eg.Go(func() error {
		return alice.conn.WriteJSON(frame("submitSolution", map[string]any{
			"playerNumber": 1, "code": "def solve(n):\n    if n: return n", "timeElapsed": 40, "isCorrect": true,
		}))
	})
	eg.Go(func() error {
		return bob.conn.WriteJSON(frame("submitSolution", map[string]any{
			"playerNumber": 2, "code": "def solve(n):\n    for i in n: return i", "timeElapsed": 55, "isCorrect": true,
		}))
	})
	require.NoError(t, eg.Wait())

	for _, c := range []*client{alice, bob} {
		res := c.expect(t, "battleComplete")
		require.Equal(t, "Alice", res["winner"].(map[string]any)["name"])
	}

	select {
	case msg := <-notifications:
		var n api.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		require.Equal(t, domain.EventNameBattleResolved, n.Event)
	case <-ctx.Done():
		t.Fatal("timeout waiting for battle.resolved notification")
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/api/rooms/%s/result", httpAddr, key))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 100*time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/leaderboard", httpAddr))
	require.NoError(t, err)
	defer resp.Body.Close()

	var l api.Leaderboard
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&l))
	t.Logf("Leaderboard:\n%s", formatLeaderboard(l))
}

func checkHealth(ctx context.Context, t *testing.T) {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func createRoom(t *testing.T) string {
	resp, err := http.Post(fmt.Sprintf("http://%s/api/rooms", httpAddr), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var r api.CreateRoomResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	return r.RoomID
}

func roomPhase(t *testing.T, key string) string {
	resp, err := http.Get(fmt.Sprintf("http://%s/api/rooms/%s", httpAddr, key))
	require.NoError(t, err)
	defer resp.Body.Close()

	var r api.Room
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	return r.Phase
}

type client struct {
	conn *websocket.Conn
}

func dial(t *testing.T, key string) *client {
	conn, resp, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/ws?roomId=%s", httpAddr, key), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	return &client{conn: conn}
}

func frame(event string, data any) map[string]any {
	return map[string]any{"event": event, "data": data}
}

func (c *client) send(t *testing.T, event string, data any) {
	require.NoError(t, c.conn.WriteJSON(frame(event, data)))
}

func (c *client) expect(t *testing.T, event string) map[string]any {
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		require.NoError(t, c.conn.ReadJSON(&msg), "waiting for %s", event)

		if msg.Event != event {
			continue
		}

		var data map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		return data
	}
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, channel string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	sub := rc.Subscribe(ctx, channel)
	t.Cleanup(func() { sub.Close() })

	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	return sub.Channel()
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func formatLeaderboard(l api.Leaderboard) string {
	var s string
	for _, e := range l.Entries {
		s += fmt.Sprintf("%s: %s\n", e.Name, e.Wins)
	}
	return s
}
