// Package protocol defines the realtime wire protocol between battle clients and the server.
//
// Every frame is an envelope {"event": name, "data": payload}. Client frames are decoded into
// one of a closed set of commands and validated before they reach a room.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/errors"
)

// Client to server events.
const (
	EventPlayerJoin      = "playerJoin"
	EventChallenge       = "challenge"
	EventPlayerReady     = "playerReady"
	EventGameStart       = "gameStart"
	EventSubmitSolution  = "submitSolution"
	EventBattleComplete  = "battleComplete"
	EventPaymentComplete = "paymentComplete"
)

var (
	ErrMalformed    = errors.New(errors.CodeInvalidArgument, errors.WithMessage("malformed frame"))
	ErrUnknownEvent = errors.New(errors.CodeInvalidArgument, errors.WithMessage("unknown event"))
	ErrInvalid      = errors.New(errors.CodeInvalidArgument, errors.WithMessage("invalid payload"))
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Command is a decoded, validated client frame.
type Command interface {
	Event() string
}

// RoomScoped is implemented by commands that may name the room they target.
type RoomScoped interface {
	TargetRoom() string
}

type PlayerJoin struct {
	RoomID string      `json:"roomId" validate:"max=128"`
	Slot   domain.Slot `json:"playerNumber" validate:"oneof=1 2"`
	Name   string      `json:"playerName" validate:"required,max=64"`
}

func (PlayerJoin) Event() string        { return EventPlayerJoin }
func (c PlayerJoin) TargetRoom() string { return c.RoomID }

type SetChallenge struct {
	Title       string            `json:"title" validate:"required,max=200"`
	Description string            `json:"description" validate:"max=10000"`
	Difficulty  string            `json:"difficulty,omitempty" validate:"omitempty,oneof=easy intermediate hard"`
	Examples    []domain.Example  `json:"examples,omitempty" validate:"max=20"`
	StarterCode map[string]string `json:"starterCode,omitempty" validate:"max=20"`
	TestCases   []domain.TestCase `json:"testCases,omitempty" validate:"max=100"`
}

func (SetChallenge) Event() string { return EventChallenge }

func (c SetChallenge) Challenge() domain.Challenge {
	return domain.Challenge{
		Title:       c.Title,
		Description: c.Description,
		Difficulty:  c.Difficulty,
		Examples:    c.Examples,
		StarterCode: c.StarterCode,
		TestCases:   c.TestCases,
	}
}

type PlayerReady struct {
	RoomID string      `json:"roomId" validate:"max=128"`
	Slot   domain.Slot `json:"playerNumber" validate:"oneof=1 2"`
}

func (PlayerReady) Event() string        { return EventPlayerReady }
func (c PlayerReady) TargetRoom() string { return c.RoomID }

type GameStart struct {
	RoomID string `json:"roomId" validate:"max=128"`
	// StartTime is a Unix timestamp in milliseconds. Zero lets the server choose.
	StartTime int64 `json:"startTime" validate:"gte=0"`
}

func (GameStart) Event() string        { return EventGameStart }
func (c GameStart) TargetRoom() string { return c.RoomID }

type SubmitSolution struct {
	Slot        domain.Slot `json:"playerNumber" validate:"oneof=1 2"`
	Code        string      `json:"code" validate:"max=65536"`
	Language    string      `json:"language,omitempty" validate:"max=32"`
	TimeElapsed float64     `json:"timeElapsed" validate:"gte=0"`
	IsCorrect   bool        `json:"isCorrect"`
}

func (SubmitSolution) Event() string { return EventSubmitSolution }

// BattleComplete asks the server to resolve the battle. The claimed winner is informational.
type BattleComplete struct {
	RoomID    string          `json:"roomId" validate:"max=128"`
	Winner    json.RawMessage `json:"winner,omitempty"`
	Solutions json.RawMessage `json:"solutions,omitempty"`
}

func (BattleComplete) Event() string        { return EventBattleComplete }
func (c BattleComplete) TargetRoom() string { return c.RoomID }

type PaymentComplete struct {
	RoomID string      `json:"roomId" validate:"max=128"`
	Slot   domain.Slot `json:"playerNumber" validate:"oneof=1 2"`
}

func (PaymentComplete) Event() string        { return EventPaymentComplete }
func (c PaymentComplete) TargetRoom() string { return c.RoomID }

// Decode parses and validates one client frame.
func Decode(frame []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errors.Wrap(ErrMalformed, err)
	}

	switch env.Event {
	case EventPlayerJoin:
		return decode[PlayerJoin](env.Data)
	case EventChallenge:
		return decode[SetChallenge](env.Data)
	case EventPlayerReady:
		return decode[PlayerReady](env.Data)
	case EventGameStart:
		return decode[GameStart](env.Data)
	case EventSubmitSolution:
		return decode[SubmitSolution](env.Data)
	case EventBattleComplete:
		return decode[BattleComplete](env.Data)
	case EventPaymentComplete:
		return decode[PaymentComplete](env.Data)
	default:
		return nil, errors.Wrap(ErrUnknownEvent, fmt.Errorf("event %q", env.Event))
	}
}

func decode[T Command](data json.RawMessage) (Command, error) {
	var c T

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}

	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(ErrMalformed, err)
	}

	if err := validate.Struct(c); err != nil {
		return nil, errors.Wrap(ErrInvalid, err)
	}

	return c, nil
}
