package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// CoordinatorConfig holds settings for the coordinator client (L0)
type CoordinatorConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultCoordinatorConfig returns default coordinator client settings
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		BaseURL:        "http://localhost:9190",
		RequestTimeout: 5 * time.Second,
	}
}

// CoordinatorStore implements the Backend contract against the coordinator's
// HTTP surface. The coordinator serializes all mutations, so this backend is
// the canonical, strongly consistent tier. It does not support List.
type CoordinatorStore struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewCoordinatorStore creates an L0 backend speaking to the coordinator server
func NewCoordinatorStore(config *CoordinatorConfig, logger *zap.Logger) *CoordinatorStore {
	if config == nil {
		config = DefaultCoordinatorConfig()
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CoordinatorStore{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.RequestTimeout},
		logger:  logger,
	}
}

// Name identifies the backend in logs and errors
func (s *CoordinatorStore) Name() string {
	return "coordinator"
}

// Capabilities reports Clear support but no List; the router falls back to
// L2 for listing.
func (s *CoordinatorStore) Capabilities() types.Capabilities {
	return types.Capabilities{List: false, Clear: true}
}

// Get returns the value for key, or (nil, nil) on a miss
func (s *CoordinatorStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.do(ctx, http.MethodGet, s.kvURL(key), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, s.statusError("get", resp)
	}
}

// Put stores a value with a TTL
func (s *CoordinatorStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	target := fmt.Sprintf("%s?ttl=%d", s.kvURL(key), int64(ttl/time.Second))

	resp, err := s.do(ctx, http.MethodPut, target, bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return s.statusError("put", resp)
	}
	return nil
}

// Delete removes a key
func (s *CoordinatorStore) Delete(ctx context.Context, key string) error {
	resp, err := s.do(ctx, http.MethodDelete, s.kvURL(key), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return s.statusError("delete", resp)
	}
	return nil
}

// List is not supported by the coordinator; callers get a capability error
// rather than a silent empty page.
func (s *CoordinatorStore) List(ctx context.Context, prefix, cursor string) (types.ListResult, error) {
	return types.ListResult{}, errors.NewCapabilityGap(s.Name(), "list")
}

// Clear removes every coordinator entry
func (s *CoordinatorStore) Clear(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodPost, s.baseURL+"/v1/kv/clear", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return s.statusError("clear", resp)
	}
	return nil
}

// Health queries the coordinator health endpoint
func (s *CoordinatorStore) Health(ctx context.Context) (types.HealthStatus, error) {
	start := time.Now()
	resp, err := s.do(ctx, http.MethodGet, s.baseURL+"/healthz", nil)
	if err != nil {
		return types.HealthStatus{
			Healthy:   false,
			Latency:   time.Since(start),
			Message:   err.Error(),
			CheckedAt: time.Now(),
		}, err
	}
	defer resp.Body.Close()

	status := types.HealthStatus{
		Healthy:   resp.StatusCode == http.StatusOK,
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
	}
	if !status.Healthy {
		status.Message = fmt.Sprintf("coordinator returned %d", resp.StatusCode)
		return status, errors.NewBackendUnavailable(s.Name(), fmt.Errorf("%s", status.Message)).
			WithOperation("health")
	}
	return status, nil
}

func (s *CoordinatorStore) kvURL(key string) string {
	return s.baseURL + "/v1/kv/" + url.PathEscape(key)
}

func (s *CoordinatorStore) do(ctx context.Context, method, target string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, errors.WrapError(errors.ErrCodeInternalError, "failed to build coordinator request", err).
			WithComponent("store")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.NewBackendUnavailable(s.Name(), err)
	}
	return resp, nil
}

func (s *CoordinatorStore) statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return errors.NewBackendUnavailable(s.Name(),
		fmt.Errorf("coordinator %s returned %d: %s", operation, resp.StatusCode, string(body))).
		WithOperation(operation)
}
