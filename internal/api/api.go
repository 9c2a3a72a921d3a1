package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/codeduel/internal/archive"
	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/errors"
	"github.com/victornm/codeduel/internal/event"
	"github.com/victornm/codeduel/internal/leaderboard"
	"github.com/victornm/codeduel/internal/protocol"
	"github.com/victornm/codeduel/internal/realtime"
	"github.com/victornm/codeduel/internal/room"
)

type Config struct {
	GRPC         *grpc.Server
	HTTP         gin.IRouter
	EventBus     *event.Bus
	Rooms        *room.Coordinator
	Realtime     *realtime.Handler
	Leaderboard  *leaderboard.Service
	Archive      Archive
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Archive interface {
	GetBattle(ctx context.Context, roomKey string) (*protocol.BattleCompleteView, error)
	ListPlayerBattles(ctx context.Context, req archive.ListPlayerBattlesRequest) ([]archive.PlayerBattle, error)
}

type API struct {
	rooms   *room.Coordinator
	ls      *leaderboard.Service
	archive Archive
	health  *health.Server

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		rooms:   c.Rooms,
		ls:      c.Leaderboard,
		archive: c.Archive,
		health:  health.NewServer(),
		redis:   c.Redis,
		prefix:  c.PubsubPrefix,
	}

	// gRPC APIs
	healthpb.RegisterHealthServer(c.GRPC, a.health)

	// HTTP APIs
	c.HTTP.GET("/ws", c.Realtime.ServeWS)

	g := c.HTTP.Group("/api")
	g.POST("/rooms", a.CreateRoom)
	g.GET("/rooms/:key", a.GetRoom)
	g.GET("/rooms/:key/result", a.GetResult)
	g.GET("/leaderboard", a.GetLeaderboard)
	g.GET("/players/:name/battles", a.ListPlayerBattles)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameBattleResolved, func(ctx context.Context, e event.Event) error {
		return a.PublishBattleResolved(ctx, e.(domain.EventBattleResolved))
	})
	c.EventBus.Subscribe(domain.EventNameRoomEvicted, func(ctx context.Context, e event.Event) error {
		return a.PublishRoomEvicted(ctx, e.(domain.EventRoomEvicted))
	})
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

// Shutdown reports the service as not serving to health checks.
func (a *API) Shutdown() {
	a.health.Shutdown()
}

type (
	CreateRoomResponse struct {
		RoomID string `json:"roomId"`
	}

	Room struct {
		RoomID     string                         `json:"roomId"`
		Phase      string                         `json:"phase"`
		Players    map[string]protocol.PlayerView `json:"players"`
		Challenge  *domain.Challenge              `json:"challenge"`
		StartTime  int64                          `json:"startTime,omitempty"`
		Result     *protocol.BattleCompleteView   `json:"result,omitempty"`
		Members    int                            `json:"members"`
		CreateTime int64                          `json:"createTime"`
	}

	PlayerBattle struct {
		RoomID      string  `json:"roomId"`
		Slot        int     `json:"playerNumber"`
		Verdict     string  `json:"verdict"`
		Won         bool    `json:"won"`
		TimeElapsed float64 `json:"timeElapsed"`
		IsCorrect   bool    `json:"isCorrect"`
		Transfer    string  `json:"transfer"`
		Timestamp   int64   `json:"timestamp"`
	}

	limitQuery struct {
		Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
	}
)

func (a *API) CreateRoom(c *gin.Context) {
	key, err := a.rooms.CreateRoom(c)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateRoomResponse{RoomID: key})
}

func (a *API) GetRoom(c *gin.Context) {
	s, err := a.rooms.Snapshot(c.Param("key"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := Room{
		RoomID:     s.Key,
		Phase:      s.Phase.String(),
		Players:    protocol.NewPlayerViews(s.Players),
		Challenge:  s.Challenge,
		Members:    s.Members,
		CreateTime: s.CreateTime.UnixMilli(),
	}

	if !s.StartTime.IsZero() {
		resp.StartTime = s.StartTime.UnixMilli()
	}

	if s.Result != nil {
		v := protocol.NewBattleCompleteView(*s.Result)
		resp.Result = &v
	}

	c.JSON(http.StatusOK, resp)
}

// GetResult returns the result of a live room, falling back to the archive once the room is gone.
func (a *API) GetResult(c *gin.Context) {
	key := c.Param("key")

	s, err := a.rooms.Snapshot(key)
	if err == nil && s.Result != nil {
		c.JSON(http.StatusOK, protocol.NewBattleCompleteView(*s.Result))
		return
	}

	if err == nil {
		writeError(c, room.ErrPending)
		return
	}

	v, err := a.archive.GetBattle(c, key)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, v)
}

func (a *API) GetLeaderboard(c *gin.Context) {
	var q limitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid query: %v", err)))
		return
	}

	l, err := a.ls.GetLeaderboard(c, leaderboard.GetLeaderboardRequest{Limit: q.Limit})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newLeaderboard(*l))
}

func (a *API) ListPlayerBattles(c *gin.Context) {
	var q limitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid query: %v", err)))
		return
	}

	battles, err := a.archive.ListPlayerBattles(c, archive.ListPlayerBattlesRequest{
		Name:  c.Param("name"),
		Limit: q.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]PlayerBattle, 0, len(battles))
	for _, b := range battles {
		resp = append(resp, PlayerBattle{
			RoomID:      b.RoomKey,
			Slot:        int(b.Slot),
			Verdict:     b.Verdict,
			Won:         b.Won,
			TimeElapsed: b.TimeElapsed,
			IsCorrect:   b.IsCorrect,
			Transfer:    b.Transfer.String(),
			Timestamp:   b.ResolveTime.UnixMilli(),
		})
	}

	c.JSON(http.StatusOK, resp)
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c, "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.JSON(e.HTTPStatusCode(), e)
}
