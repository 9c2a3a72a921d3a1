package prize_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/victornm/codeduel/internal/domain"
	"github.com/victornm/codeduel/internal/prize"
)

func TestSettler_Settle(t *testing.T) {
	fee := decimal.RequireFromString("0.01")
	s := prize.NewSettler(prize.Config{EntryFee: fee})

	winnerOne := domain.Outcome{Verdict: domain.VerdictWinner, Winner: domain.SlotOne, Loser: domain.SlotTwo}
	noWinner := domain.Outcome{Verdict: domain.VerdictNoWinner}

	tests := map[string]struct {
		outcome  domain.Outcome
		paid     map[domain.Slot]bool
		pot      string
		transfer map[domain.Slot]string
	}{
		"winner takes the pot of both fees": {
			outcome:  winnerOne,
			paid:     map[domain.Slot]bool{domain.SlotOne: true, domain.SlotTwo: true},
			pot:      "0.02",
			transfer: map[domain.Slot]string{domain.SlotOne: "0.02"},
		},
		"winner takes only what was paid": {
			outcome:  winnerOne,
			paid:     map[domain.Slot]bool{domain.SlotTwo: true},
			pot:      "0.01",
			transfer: map[domain.Slot]string{domain.SlotOne: "0.01"},
		},
		"no winner refunds each paid slot": {
			outcome:  noWinner,
			paid:     map[domain.Slot]bool{domain.SlotOne: true, domain.SlotTwo: true},
			pot:      "0.02",
			transfer: map[domain.Slot]string{domain.SlotOne: "0.01", domain.SlotTwo: "0.01"},
		},
		"nobody paid": {
			outcome:  winnerOne,
			pot:      "0",
			transfer: map[domain.Slot]string{},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			p := s.Settle(tt.outcome, tt.paid)
			assert.True(t, decimal.RequireFromString(tt.pot).Equal(p.Pot), "pot: got %s", p.Pot)
			assert.Len(t, p.Transfers, len(tt.transfer))
			for slot, want := range tt.transfer {
				assert.True(t, decimal.RequireFromString(want).Equal(p.Transfers[slot]), "slot %d: got %s", slot, p.Transfers[slot])
			}
		})
	}
}
