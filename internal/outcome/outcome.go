// Package outcome decides a battle from the two slots' submissions.
package outcome

import "github.com/victornm/codeduel/internal/domain"

// Resolve returns the outcome of a battle. It is pending when either submission is nil.
//
// A correct submission beats an incorrect one. When both are correct the lower elapsed
// time wins and slot 1 wins a tie. When neither is correct there is no winner.
func Resolve(one, two *domain.Submission) domain.Outcome {
	if one == nil || two == nil {
		return domain.Outcome{Verdict: domain.VerdictPending}
	}

	switch {
	case one.IsCorrect && !two.IsCorrect:
		return win(domain.SlotOne, one)
	case two.IsCorrect && !one.IsCorrect:
		return win(domain.SlotTwo, two)
	case one.IsCorrect && two.IsCorrect:
		if one.TimeElapsed <= two.TimeElapsed {
			return win(domain.SlotOne, one)
		}
		return win(domain.SlotTwo, two)
	default:
		return domain.Outcome{Verdict: domain.VerdictNoWinner}
	}
}

// ResolveSlots resolves from a slot-keyed submission set.
func ResolveSlots(subs map[domain.Slot]*domain.Submission) domain.Outcome {
	return Resolve(subs[domain.SlotOne], subs[domain.SlotTwo])
}

func win(s domain.Slot, sub *domain.Submission) domain.Outcome {
	return domain.Outcome{
		Verdict:     domain.VerdictWinner,
		Winner:      s,
		Loser:       s.Opponent(),
		WinningTime: sub.TimeElapsed,
	}
}
