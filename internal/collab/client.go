package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fernworks/mendd/internal/task"
)

// Config points at the collaborator services.
type Config struct {
	GeneratorURL string
	ExecutorURL  string
	ValidatorURL string
	GateURL      string
	SuiteURL     string

	// Timeout bounds each request (default: 60s).
	Timeout time.Duration

	// APIKey, when set, is sent as a bearer token.
	APIKey string
}

// Clients bundles one client per collaborator role.
type Clients struct {
	Generator task.Generator
	Executor  task.Executor
	Validator task.Validator
	Gate      task.Gate
	Suite     task.RegressionSuite
}

// New builds the collaborator clients over a shared HTTP transport.
func New(cfg *Config, logger *zap.Logger) (*Clients, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.GeneratorURL == "" {
		return nil, errors.New("generator URL is required")
	}
	if cfg.ExecutorURL == "" {
		return nil, errors.New("executor URL is required")
	}
	if cfg.ValidatorURL == "" {
		return nil, errors.New("validator URL is required")
	}
	if cfg.GateURL == "" {
		return nil, errors.New("gate URL is required")
	}
	if cfg.SuiteURL == "" {
		return nil, errors.New("suite URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &client{
		http:   &http.Client{Timeout: cfg.Timeout},
		apiKey: cfg.APIKey,
		logger: logger,
	}

	return &Clients{
		Generator: &generatorClient{client: c, baseURL: cfg.GeneratorURL},
		Executor:  &executorClient{client: c, baseURL: cfg.ExecutorURL},
		Validator: &validatorClient{client: c, baseURL: cfg.ValidatorURL},
		Gate:      &gateClient{client: c, baseURL: cfg.GateURL},
		Suite:     &suiteClient{client: c, baseURL: cfg.SuiteURL},
	}, nil
}

// client is the shared request plumbing.
type client struct {
	http   *http.Client
	apiKey string
	logger *zap.Logger
}

// post sends a JSON request and decodes the JSON response, classifying
// failures for the retry layer.
func (c *client) post(ctx context.Context, op, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return task.Structural(op, fmt.Sprintf("encoding request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return task.Structural(op, fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failures and timeouts are retryable, except when the
		// caller's context is already done.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return task.Transient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return task.Transient(op, fmt.Errorf("reading response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return task.Transient(op, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data)))
	default:
		return task.Structural(op, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return task.Structural(op, fmt.Sprintf("decoding response: %v", err))
	}
	return nil
}

func truncate(data []byte) string {
	const max = 512
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
