package protocol

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/victornm/codeduel/internal/domain"
)

// Server to client events. EventChallenge, EventGameStart, EventBattleComplete and
// EventPaymentComplete are shared with the client side.
const (
	EventPlayersUpdate    = "playersUpdate"
	EventStartGame        = "startGame"
	EventOpponentSolution = "opponentSolution"
)

// Message is an outbound frame.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type (
	PlayerView struct {
		Name      string `json:"name"`
		Connected bool   `json:"connected"`
		Ready     bool   `json:"ready"`
		HasPaid   bool   `json:"hasPaid"`
		Submitted bool   `json:"submitted"`
	}

	GameStartView struct {
		StartTime int64 `json:"startTime"`
	}

	SolutionView struct {
		Slot        domain.Slot `json:"playerNumber"`
		Name        string      `json:"playerName"`
		Code        string      `json:"code"`
		TimeElapsed float64     `json:"timeElapsed"`
		IsCorrect   bool        `json:"isCorrect"`
	}

	ResultPlayerView struct {
		Slot        domain.Slot       `json:"playerNumber"`
		Name        string            `json:"name"`
		TimeElapsed float64           `json:"timeElapsed"`
		Code        string            `json:"code"`
		Loser       *ResultPlayerView `json:"loser,omitempty"`
	}

	PrizeView struct {
		Pot       string            `json:"pot"`
		Transfers map[string]string `json:"transfers"`
	}

	BattleCompleteView struct {
		Verdict   string                  `json:"verdict"`
		Winner    *ResultPlayerView       `json:"winner"`
		Solutions map[string]SolutionView `json:"solutions"`
		Prize     PrizeView               `json:"prize"`
		Timestamp int64                   `json:"timestamp"`
	}

	PaymentView struct {
		Slot domain.Slot `json:"playerNumber"`
	}
)

// PlayersUpdate carries the full slot mapping keyed by slot number.
func PlayersUpdate(players map[domain.Slot]domain.Player) Message {
	return Message{Event: EventPlayersUpdate, Data: NewPlayerViews(players)}
}

func NewPlayerViews(players map[domain.Slot]domain.Player) map[string]PlayerView {
	return lo.MapEntries(players, func(s domain.Slot, p domain.Player) (string, PlayerView) {
		return s.String(), PlayerView{
			Name:      p.Name,
			Connected: p.Connected,
			Ready:     p.Ready,
			HasPaid:   p.HasPaid,
			Submitted: p.Submission != nil,
		}
	})
}

func Challenge(c domain.Challenge) Message {
	return Message{Event: EventChallenge, Data: c}
}

// StartGame signals that both slots are present. The challenge is nil when not yet set.
func StartGame(c *domain.Challenge) Message {
	return Message{Event: EventStartGame, Data: c}
}

func GameStarted(at time.Time) Message {
	return Message{Event: EventGameStart, Data: GameStartView{StartTime: at.UnixMilli()}}
}

func OpponentSolution(p domain.Player) Message {
	return Message{Event: EventOpponentSolution, Data: solutionView(p.Slot, p.Name, *p.Submission)}
}

func PaymentCompleted(s domain.Slot) Message {
	return Message{Event: EventPaymentComplete, Data: PaymentView{Slot: s}}
}

func BattleCompleted(r domain.BattleResult) Message {
	return Message{Event: EventBattleComplete, Data: NewBattleCompleteView(r)}
}

func NewBattleCompleteView(r domain.BattleResult) BattleCompleteView {
	v := BattleCompleteView{
		Verdict:   r.Outcome.Verdict.String(),
		Solutions: make(map[string]SolutionView, len(r.Solutions)),
		Prize: PrizeView{
			Pot: r.Prize.Pot.String(),
			Transfers: lo.MapEntries(r.Prize.Transfers, func(s domain.Slot, amount decimal.Decimal) (string, string) {
				return s.String(), amount.String()
			}),
		},
		Timestamp: r.ResolvedAt.UnixMilli(),
	}

	for s, sub := range r.Solutions {
		v.Solutions[s.String()] = solutionView(s, r.Players[s].Name, sub)
	}

	if r.Outcome.Verdict == domain.VerdictWinner {
		v.Winner = resultPlayerView(r, r.Outcome.Winner)
		v.Winner.Loser = resultPlayerView(r, r.Outcome.Loser)
	}

	return v
}

func resultPlayerView(r domain.BattleResult, s domain.Slot) *ResultPlayerView {
	sub := r.Solutions[s]
	return &ResultPlayerView{
		Slot:        s,
		Name:        r.Players[s].Name,
		TimeElapsed: sub.TimeElapsed,
		Code:        sub.Code,
	}
}

func solutionView(s domain.Slot, name string, sub domain.Submission) SolutionView {
	return SolutionView{
		Slot:        s,
		Name:        name,
		Code:        sub.Code,
		TimeElapsed: sub.TimeElapsed,
		IsCorrect:   sub.IsCorrect,
	}
}
