// Package oracle provides the HTTP client for the oracle-consensus network
// that attests market outcomes.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/boxmeout/marketcore/internal/domain"
)

// ClientConfig holds the oracle network endpoint parameters.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Client queries the oracle-consensus service. It sits on the best-effort
// side of the resolution boundary: calls carry explicit timeouts and bounded
// retries and never hold internal locks across sleeps longer than the
// configured backoff.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client
}

// NewClient creates an oracle client from cfg.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		maxRetries: retries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// consensusResponse is the oracle service's wire format for a consensus
// query.
type consensusResponse struct {
	Reached      bool   `json:"reached"`
	Outcome      *int   `json:"outcome"`
	Source       string `json:"source"`
	Attestations int    `json:"attestations"`
}

// CheckConsensus asks the oracle network whether it has agreed on the
// market's outcome. A pending consensus is not an error: the result comes
// back with Reached=false.
func (c *Client) CheckConsensus(ctx context.Context, marketID string) (domain.ConsensusResult, error) {
	url := fmt.Sprintf("%s/v1/markets/%s/consensus", c.baseURL, marketID)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.ConsensusResult{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		resp, err := c.get(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		return resp, nil
	}
	return domain.ConsensusResult{}, fmt.Errorf("oracle: check consensus for %s: %w", marketID, lastErr)
}

func (c *Client) get(ctx context.Context, url string) (domain.ConsensusResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.ConsensusResult{}, fmt.Errorf("oracle: build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ConsensusResult{}, fmt.Errorf("oracle: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ConsensusResult{}, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.ConsensusResult{}, fmt.Errorf("oracle: unexpected status %d: %s", resp.StatusCode, body)
	}

	var parsed consensusResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.ConsensusResult{}, fmt.Errorf("oracle: decode response: %w", err)
	}

	result := domain.ConsensusResult{
		Reached:      parsed.Reached,
		Source:       parsed.Source,
		Attestations: parsed.Attestations,
	}
	if parsed.Reached {
		if parsed.Outcome == nil {
			return domain.ConsensusResult{}, fmt.Errorf("oracle: consensus reached without outcome")
		}
		result.Outcome = domain.Outcome(*parsed.Outcome)
		if !result.Outcome.Valid() {
			return domain.ConsensusResult{}, fmt.Errorf("oracle: non-binary outcome %d: %w", *parsed.Outcome, domain.ErrInvalidOutcome)
		}
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.OracleConsensus = (*Client)(nil)
