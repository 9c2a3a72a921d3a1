package domain

const (
	EventNameBattleResolved     = "battle.resolved"
	EventNameRoomEvicted        = "room.evicted"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventBattleResolved struct {
	Result BattleResult
}

func (EventBattleResolved) Name() string { return EventNameBattleResolved }

type EventRoomEvicted struct {
	RoomKey string
}

func (EventRoomEvicted) Name() string { return EventNameRoomEvicted }

// Leaderboard lists players by number of won battles, descending.
type Leaderboard struct {
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	Name string
	Wins float64
}

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
