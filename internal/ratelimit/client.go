package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tcerrors "github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// Client speaks the coordinator's rate-limit RPC surface. Check-and-record
// is atomic on the coordinator side, so many processes can share one limit.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientConfig configures the rate-limit client
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StatsResult is the coordinator's rate-limit stats response
type StatsResult struct {
	Entries    int      `json:"entries"`
	SampleKeys []string `json:"sampleKeys"`
}

type checkPayload struct {
	Identifier  string `json:"identifier"`
	MaxRequests int    `json:"maxRequests"`
	WindowMs    int64  `json:"windowMs"`
}

type resetPayload struct {
	Identifier string `json:"identifier"`
}

type resetResult struct {
	Success bool `json:"success"`
}

// NewClient creates a rate-limit client against the coordinator base URL
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Check performs an atomic check-and-record for the identifier
func (c *Client) Check(ctx context.Context, identifier string, maxRequests int, window time.Duration) (types.RateLimitDecision, error) {
	var decision types.RateLimitDecision
	err := c.post(ctx, "/v1/ratelimit/check", checkPayload{
		Identifier:  identifier,
		MaxRequests: maxRequests,
		WindowMs:    window.Milliseconds(),
	}, &decision)
	return decision, err
}

// Reset clears the identifier's window
func (c *Client) Reset(ctx context.Context, identifier string) error {
	var result resetResult
	if err := c.post(ctx, "/v1/ratelimit/reset", resetPayload{Identifier: identifier}, &result); err != nil {
		return err
	}
	if !result.Success {
		return tcerrors.NewError(tcerrors.ErrCodeInternalError, "rate limit reset rejected").
			WithComponent("ratelimit")
	}
	return nil
}

// Stats returns the coordinator's window count and sampled identifiers
func (c *Client) Stats(ctx context.Context) (StatsResult, error) {
	var result StatsResult

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ratelimit/stats", nil)
	if err != nil {
		return result, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result, tcerrors.NewBackendUnavailable("coordinator", err).
			WithOperation("ratelimit.stats")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, c.statusError(resp, "ratelimit.stats")
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("failed to decode stats response: %w", err)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tcerrors.NewBackendUnavailable("coordinator", err).WithOperation(path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) statusError(resp *http.Response, operation string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return tcerrors.NewError(tcerrors.ErrCodeBackendUnavailable,
		fmt.Sprintf("coordinator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))).
		WithComponent("ratelimit").
		WithOperation(operation)
}
