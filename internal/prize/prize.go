// Package prize computes the simulated prize transfer of a battle.
package prize

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/codeduel/internal/domain"
)

type Config struct {
	EntryFee decimal.Decimal
}

type Settler struct {
	fee decimal.Decimal
}

func NewSettler(c Config) *Settler {
	return &Settler{fee: c.EntryFee}
}

// Settle splits the pot of paid entry fees. A winner takes the whole pot; without a winner
// every paid slot is refunded its fee.
func (s *Settler) Settle(o domain.Outcome, paid map[domain.Slot]bool) domain.Payout {
	p := domain.Payout{
		Pot:       decimal.Zero,
		Transfers: make(map[domain.Slot]decimal.Decimal),
	}

	for _, slot := range domain.Slots {
		if paid[slot] {
			p.Pot = p.Pot.Add(s.fee)
		}
	}

	if p.Pot.IsZero() {
		return p
	}

	switch o.Verdict {
	case domain.VerdictWinner:
		p.Transfers[o.Winner] = p.Pot
	case domain.VerdictNoWinner:
		for _, slot := range domain.Slots {
			if paid[slot] {
				p.Transfers[slot] = s.fee
			}
		}
	}

	return p
}
