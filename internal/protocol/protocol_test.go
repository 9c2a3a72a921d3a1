package protocol_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/protocol"
)

func TestDecode(t *testing.T) {
	tests := map[string]struct {
		frame   string
		want    protocol.Command
		wantErr error
	}{
		"player join": {
			frame: `{"event":"playerJoin","data":{"roomId":"xyz","playerNumber":1,"playerName":"Alice"}}`,
			want:  protocol.PlayerJoin{RoomID: "xyz", Slot: domain.SlotOne, Name: "Alice"},
		},
		"player join with slot 3": {
			frame:   `{"event":"playerJoin","data":{"playerNumber":3,"playerName":"Alice"}}`,
			wantErr: protocol.ErrInvalid,
		},
		"player join without name": {
			frame:   `{"event":"playerJoin","data":{"playerNumber":2}}`,
			wantErr: protocol.ErrInvalid,
		},
		"challenge": {
			frame: `{"event":"challenge","data":{"title":"Two Sum","description":"d","testCases":[{"input":"1","output":"2"}]}}`,
			want: protocol.SetChallenge{
				Title:       "Two Sum",
				Description: "d",
				TestCases:   []domain.TestCase{{Input: "1", Output: "2"}},
			},
		},
		"challenge without title": {
			frame:   `{"event":"challenge","data":{"description":"d"}}`,
			wantErr: protocol.ErrInvalid,
		},
		"player ready": {
			frame: `{"event":"playerReady","data":{"roomId":"xyz","playerNumber":2}}`,
			want:  protocol.PlayerReady{RoomID: "xyz", Slot: domain.SlotTwo},
		},
		"game start": {
			frame: `{"event":"gameStart","data":{"roomId":"xyz","startTime":1700000005000}}`,
			want:  protocol.GameStart{RoomID: "xyz", StartTime: 1700000005000},
		},
		"game start with negative time": {
			frame:   `{"event":"gameStart","data":{"startTime":-1}}`,
			wantErr: protocol.ErrInvalid,
		},
		"submit solution": {
			frame: `{"event":"submitSolution","data":{"playerNumber":1,"code":"x","timeElapsed":40,"isCorrect":true}}`,
			want:  protocol.SubmitSolution{Slot: domain.SlotOne, Code: "x", TimeElapsed: 40, IsCorrect: true},
		},
		"submit solution with negative time": {
			frame:   `{"event":"submitSolution","data":{"playerNumber":1,"code":"x","timeElapsed":-4}}`,
			wantErr: protocol.ErrInvalid,
		},
		"battle complete without data": {
			frame: `{"event":"battleComplete"}`,
			want:  protocol.BattleComplete{},
		},
		"payment complete": {
			frame: `{"event":"paymentComplete","data":{"roomId":"xyz","playerNumber":2}}`,
			want:  protocol.PaymentComplete{RoomID: "xyz", Slot: domain.SlotTwo},
		},
		"unknown event": {
			frame:   `{"event":"dropTables","data":{}}`,
			wantErr: protocol.ErrUnknownEvent,
		},
		"not json": {
			frame:   `hello`,
			wantErr: protocol.ErrMalformed,
		},
		"wrong payload type": {
			frame:   `{"event":"playerJoin","data":{"playerNumber":"one","playerName":"Alice"}}`,
			wantErr: protocol.ErrMalformed,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := protocol.Decode([]byte(tt.frame))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlayersUpdate(t *testing.T) {
	msg := protocol.PlayersUpdate(map[domain.Slot]domain.Player{
		domain.SlotOne: {Slot: domain.SlotOne, Name: "Alice", Connected: true, Ready: true},
		domain.SlotTwo: {Slot: domain.SlotTwo, Name: "Bob", Submission: &domain.Submission{}},
	})

	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "playersUpdate",
		"data": {
			"1": {"name": "Alice", "connected": true, "ready": true, "hasPaid": false, "submitted": false},
			"2": {"name": "Bob", "connected": false, "ready": false, "hasPaid": false, "submitted": true}
		}
	}`, string(b))
}

func TestBattleCompleted(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	r := domain.BattleResult{
		RoomKey: "xyz",
		Outcome: domain.Outcome{Verdict: domain.VerdictWinner, Winner: domain.SlotTwo, Loser: domain.SlotOne, WinningTime: 30},
		Players: map[domain.Slot]domain.Player{
			domain.SlotOne: {Name: "Alice"},
			domain.SlotTwo: {Name: "Bob"},
		},
		Solutions: map[domain.Slot]domain.Submission{
			domain.SlotOne: {Code: "a", TimeElapsed: 20, IsCorrect: false},
			domain.SlotTwo: {Code: "b", TimeElapsed: 30, IsCorrect: true},
		},
		Prize: domain.Payout{
			Pot:       decimal.RequireFromString("0.02"),
			Transfers: map[domain.Slot]decimal.Decimal{domain.SlotTwo: decimal.RequireFromString("0.02")},
		},
		ResolvedAt: at,
	}

	b, err := json.Marshal(protocol.BattleCompleted(r))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"event": "battleComplete",
		"data": {
			"verdict": "winner",
			"winner": {
				"playerNumber": 2, "name": "Bob", "timeElapsed": 30, "code": "b",
				"loser": {"playerNumber": 1, "name": "Alice", "timeElapsed": 20, "code": "a"}
			},
			"solutions": {
				"1": {"playerNumber": 1, "playerName": "Alice", "code": "a", "timeElapsed": 20, "isCorrect": false},
				"2": {"playerNumber": 2, "playerName": "Bob", "code": "b", "timeElapsed": 30, "isCorrect": true}
			},
			"prize": {"pot": "0.02", "transfers": {"2": "0.02"}},
			"timestamp": 1700000000000
		}
	}`, string(b))
}

func TestBattleCompleted_NoWinner(t *testing.T) {
	r := domain.BattleResult{
		Outcome:   domain.Outcome{Verdict: domain.VerdictNoWinner},
		Solutions: map[domain.Slot]domain.Submission{},
		Prize:     domain.Payout{Pot: decimal.Zero},
	}

	v := protocol.NewBattleCompleteView(r)
	assert.Equal(t, "no_winner", v.Verdict)
	assert.Nil(t, v.Winner)
}
