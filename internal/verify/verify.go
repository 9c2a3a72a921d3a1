// Package verify decides whether a submitted solution passes a challenge's test cases.
package verify

import (
	"context"
	"strings"

	"github.com/victornm/codeduel/internal/domain"
)

const (
	ModeClient    = "client"
	ModeHeuristic = "heuristic"
	ModeExecutor  = "executor"
)

// Verifier checks code against test cases. It may be remote, slow and fallible.
type Verifier interface {
	Verify(ctx context.Context, code, language string, tests []domain.TestCase) (bool, error)
}

type Func func(ctx context.Context, code, language string, tests []domain.TestCase) (bool, error)

func (f Func) Verify(ctx context.Context, code, language string, tests []domain.TestCase) (bool, error) {
	return f(ctx, code, language, tests)
}

// Heuristic accepts code that has some control flow and returns a value. It never runs the
// code and is meant for offline play only.
type Heuristic struct{}

func (Heuristic) Verify(_ context.Context, code, _ string, _ []domain.TestCase) (bool, error) {
	hasLogic := strings.Contains(code, "for") || strings.Contains(code, "if")
	return hasLogic && strings.Contains(code, "return"), nil
}
