package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Slot is one of the two player positions in a room.
type Slot int

const (
	SlotOne Slot = 1
	SlotTwo Slot = 2
)

// Slots lists the valid slots in order.
var Slots = [...]Slot{SlotOne, SlotTwo}

func (s Slot) Valid() bool {
	return s == SlotOne || s == SlotTwo
}

// Opponent returns the other slot.
func (s Slot) Opponent() Slot {
	if s == SlotOne {
		return SlotTwo
	}
	return SlotOne
}

func (s Slot) String() string {
	return strconv.Itoa(int(s))
}

// Player is the state of one occupied slot.
type Player struct {
	Slot      Slot
	Name      string
	Connected bool
	Ready     bool
	HasPaid   bool
	// SessionID identifies the endpoint currently owning the slot.
	SessionID  string
	Submission *Submission
	JoinTime   time.Time
}

// Submission is a player's solution and its verdict. All fields are set together.
type Submission struct {
	Code     string
	Language string
	// TimeElapsed is measured in seconds by the submitting client.
	TimeElapsed float64
	IsCorrect   bool
	SubmitTime  time.Time
}

// Challenge is the coding problem shared by both slots of a room.
type Challenge struct {
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Difficulty  string            `json:"difficulty,omitempty"`
	Examples    []Example         `json:"examples,omitempty"`
	StarterCode map[string]string `json:"starterCode,omitempty"`
	TestCases   []TestCase        `json:"testCases,omitempty"`
}

type Example struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}

type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type Verdict int

const (
	// VerdictPending means at least one submission is missing.
	VerdictPending Verdict = iota
	// VerdictWinner means one slot won.
	VerdictWinner
	// VerdictNoWinner means both submissions are incorrect. It is terminal.
	VerdictNoWinner
)

func (v Verdict) String() string {
	switch v {
	case VerdictWinner:
		return "winner"
	case VerdictNoWinner:
		return "no_winner"
	default:
		return "pending"
	}
}

// Outcome is the decision over two submissions. Winner and Loser are only set for VerdictWinner.
type Outcome struct {
	Verdict     Verdict
	Winner      Slot
	Loser       Slot
	WinningTime float64
}

func (o Outcome) Decided() bool {
	return o.Verdict != VerdictPending
}

// BattleResult is stored once per room when the battle is resolved.
type BattleResult struct {
	RoomKey    string
	Outcome    Outcome
	Players    map[Slot]Player
	Solutions  map[Slot]Submission
	Prize      Payout
	ResolvedAt time.Time
}

// WinnerName returns the winner's display name, or "" when there is no winner.
func (r BattleResult) WinnerName() string {
	if r.Outcome.Verdict != VerdictWinner {
		return ""
	}
	return r.Players[r.Outcome.Winner].Name
}

// Payout is the simulated prize transfer of a resolved battle.
type Payout struct {
	Pot       decimal.Decimal
	Transfers map[Slot]decimal.Decimal
}
