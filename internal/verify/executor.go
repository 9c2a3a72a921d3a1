package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/victornm/codeduel/internal/domain"
)

type ExecutorConfig struct {
	URL    string
	Client *http.Client
}

// Executor sends solutions to a remote code executor.
type Executor struct {
	url    string
	client *http.Client
}

func NewExecutor(c ExecutorConfig) *Executor {
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Executor{
		url:    c.URL,
		client: client,
	}
}

type (
	executorRequest struct {
		Language  string             `json:"language_slug"`
		Code      string             `json:"code"`
		TestCases []executorTestCase `json:"test_cases"`
	}

	executorTestCase struct {
		Input          string `json:"input"`
		ExpectedOutput string `json:"expected_output"`
	}

	executorResponse struct {
		Passed bool `json:"passed"`
	}
)

// Verify posts the solution and returns the executor's verdict. Client errors (4xx) are
// permanent; everything else may be retried.
func (e *Executor) Verify(ctx context.Context, code, language string, tests []domain.TestCase) (bool, error) {
	req := executorRequest{
		Language:  language,
		Code:      code,
		TestCases: make([]executorTestCase, 0, len(tests)),
	}
	for _, tc := range tests {
		req.TestCases = append(req.TestCases, executorTestCase{Input: tc.Input, ExpectedOutput: tc.Output})
	}

	b, err := json.Marshal(req)
	if err != nil {
		return false, backoff.Permanent(fmt.Errorf("executor: marshal request: %w", err))
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(b))
	if err != nil {
		return false, backoff.Permanent(fmt.Errorf("executor: new request: %w", err))
	}
	hr.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(hr)
	if err != nil {
		return false, fmt.Errorf("executor: post: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("executor: read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return false, fmt.Errorf("executor: status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return false, backoff.Permanent(fmt.Errorf("executor: status %d: %s", resp.StatusCode, body))
	}

	var out executorResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, backoff.Permanent(fmt.Errorf("executor: decode response: %w", err))
	}

	return out.Passed, nil
}
