// Package mirror provides the HTTP client for the external ledger network
// that mirrors economic events. Every call is best-effort: it runs after the
// internal transaction has committed and a failure is logged, never rolled
// back into internal state.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/boxmeout/marketcore/internal/domain"
)

// ClientConfig holds the ledger mirror endpoint parameters.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Client posts commitment, reveal, and resolution records to the ledger
// network and returns its opaque reference id.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client
}

// NewClient creates a mirror client from cfg.
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

// recordResponse is the mirror's wire format for an accepted record.
type recordResponse struct {
	Ref string `json:"ref"`
}

// RecordCommitment mirrors a new commitment. Only the public half of the
// prediction travels: the commitment hash, never the salt or the outcome.
func (c *Client) RecordCommitment(ctx context.Context, p domain.Prediction) (string, error) {
	return c.post(ctx, "/v1/commitments", map[string]any{
		"prediction_id":   p.ID,
		"user_id":         p.UserID,
		"market_id":       p.MarketID,
		"commitment_hash": p.CommitmentHash,
		"amount":          p.Amount.String(),
		"committed_at":    p.CommittedAt,
	})
}

// RecordReveal mirrors a successful reveal.
func (c *Client) RecordReveal(ctx context.Context, p domain.Prediction) (string, error) {
	var outcome *int
	if p.Outcome != nil {
		v := int(*p.Outcome)
		outcome = &v
	}
	return c.post(ctx, "/v1/reveals", map[string]any{
		"prediction_id":   p.ID,
		"market_id":       p.MarketID,
		"commitment_hash": p.CommitmentHash,
		"outcome":         outcome,
		"revealed_at":     p.RevealedAt,
	})
}

// RecordResolution mirrors a market resolution.
func (c *Client) RecordResolution(ctx context.Context, m domain.Market) (string, error) {
	var outcome *int
	if m.WinningOutcome != nil {
		v := int(*m.WinningOutcome)
		outcome = &v
	}
	return c.post(ctx, "/v1/resolutions", map[string]any{
		"market_id":       m.ID,
		"winning_outcome": outcome,
		"source":          m.ResolutionSource,
		"resolved_at":     m.ResolvedAt,
	})
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("mirror: marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		ref, err := c.postOnce(ctx, path, body)
		if err != nil {
			lastErr = err
			continue
		}
		return ref, nil
	}
	return "", fmt.Errorf("%w: %s: %v", domain.ErrMirrorUnavailable, path, lastErr)
}

func (c *Client) postOnce(ctx context.Context, path string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("mirror: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("mirror: request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("mirror: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("mirror: unexpected status %d: %s", resp.StatusCode, respBody)
	}

	var parsed recordResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("mirror: decode response: %w", err)
	}
	return parsed.Ref, nil
}

// Compile-time interface check.
var _ domain.LedgerMirror = (*Client)(nil)
