// Package challenge maps a room key to one of a fixed set of coding challenges.
package challenge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"unicode/utf16"

	"github.com/victornm/codeduel/internal/domain"
)

//go:embed challenges.json
var builtin []byte

type Provider struct {
	set []domain.Challenge
}

// NewProvider returns a provider over the built-in challenge set.
func NewProvider() (*Provider, error) {
	var set []domain.Challenge
	if err := json.Unmarshal(builtin, &set); err != nil {
		return nil, fmt.Errorf("challenge: decode built-in set: %w", err)
	}

	return NewProviderWith(set)
}

// NewProviderWith returns a provider over the given set, which must not be empty.
func NewProviderWith(set []domain.Challenge) (*Provider, error) {
	if len(set) == 0 {
		return nil, fmt.Errorf("challenge: empty set")
	}

	return &Provider{set: set}, nil
}

// For returns the challenge for a room key. The same key always maps to the same challenge,
// so both clients of a room agree even when each picks it locally. The key is summed as
// UTF-16 code units, matching what browser clients compute.
func (p *Provider) For(roomKey string) domain.Challenge {
	var sum int
	for _, u := range utf16.Encode([]rune(roomKey)) {
		sum += int(u)
	}

	return p.set[sum%len(p.set)]
}

func (p *Provider) Len() int {
	return len(p.set)
}
