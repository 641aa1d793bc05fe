package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type HTTPConfig struct {
	Endpoint          string
	APIKey            string
	Model             string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// HTTPOracle posts {model, system, prompt} to an endpoint that answers
// with {text}. Calls are throttled and bounded by Timeout.
type HTTPOracle struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPOracle(cfg HTTPConfig, client *http.Client) (*HTTPOracle, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("narrative endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &HTTPOracle{cfg: cfg, client: client, limiter: rate.NewLimiter(limit, 1)}, nil
}

type oracleRequest struct {
	Model  string `json:"model,omitempty"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

type oracleResponse struct {
	Text string `json:"text"`
}

func (o *HTTPOracle) Narrate(ctx context.Context, p Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("narrative rate limit: %w", err)
	}

	body, err := json.Marshal(oracleRequest{Model: o.cfg.Model, System: p.System, Prompt: p.Text})
	if err != nil {
		return "", fmt.Errorf("marshal narrative request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create narrative request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("narrative request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read narrative response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("narrative oracle error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out oracleResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("parse narrative response: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}
