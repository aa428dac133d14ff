package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the fieldmemo HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

type templateEnvelope struct {
	Issuer  string          `json:"issuer"`
	Regions []LearnedRegion `json:"regions"`
}

// LearnedRegion is a template field as returned by GET /templates/{issuer}.
type LearnedRegion struct {
	Field       string  `json:"field"`
	Left        float64 `json:"left"`
	Top         float64 `json:"top"`
	Right       float64 `json:"right"`
	Bottom      float64 `json:"bottom"`
	Confidence  float64 `json:"confidence"`
	SampleCount int     `json:"sample_count"`
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// Health checks that /healthz answers 200.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %d", resp.StatusCode)
	}
	return nil
}

// Merge posts the regions of one invoice to /templates/{issuer}/merge.
func (c *Client) Merge(ctx context.Context, issuer string, body any) error {
	resp, err := c.do(ctx, http.MethodPost, "/templates/"+url.PathEscape(issuer)+"/merge", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("merge %s: status %d", issuer, resp.StatusCode)
	}
	return nil
}

// Submit posts an observation to /observations and reports whether it was a duplicate.
func (c *Client) Submit(ctx context.Context, body any) (bool, error) {
	resp, err := c.do(ctx, http.MethodPost, "/observations", body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusAccepted:
		return false, nil
	case http.StatusOK:
		var ack ackResponse
		if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
			return false, fmt.Errorf("decode ack: %w", err)
		}
		return ack.Duplicate, nil
	default:
		return false, fmt.Errorf("submit: status %d", resp.StatusCode)
	}
}

// Template fetches the learned template of issuer.
func (c *Client) Template(ctx context.Context, issuer string) ([]LearnedRegion, error) {
	resp, err := c.do(ctx, http.MethodGet, "/templates/"+url.PathEscape(issuer), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get template %s: status %d", issuer, resp.StatusCode)
	}
	var env templateEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode template %s: %w", issuer, err)
	}
	return env.Regions, nil
}

// QueueLength reads queueLength from /stats.
func (c *Client) QueueLength(ctx context.Context) (int, error) {
	resp, err := c.do(ctx, http.MethodGet, "/stats", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var stats struct {
		QueueLength int `json:"queueLength"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return 0, fmt.Errorf("decode stats: %w", err)
	}
	return stats.QueueLength, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}
