// Package vectorstore talks to the Qdrant REST API. Calls are bounded by
// a fixed timeout; the service stays usable without a reachable Qdrant as
// long as no vector operations are requested.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CallTimeout bounds every request to the vector index.
const CallTimeout = 5 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
	dimension  int
}

func NewClient(baseURL string, dimension int) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: CallTimeout,
		},
		dimension: dimension,
	}
}

// Point is a vector with its mirrored record payload.
type Point struct {
	ID      int64          `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ScoredPoint is a single search hit.
type ScoredPoint struct {
	ID      int64          `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EnsureCollection creates the collection when it does not exist yet.
// The existence check and the create are separate requests; a concurrent
// caller can race between them, in which case the create of the loser
// fails against an already-present collection and is reported as-is.
func (c *Client) EnsureCollection(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/collections/"+name, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.dimension,
			"distance": "Cosine",
		},
	}
	return c.put(ctx, "/collections/"+name, body)
}

func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	body := map[string]any{
		"points": points,
	}
	return c.put(ctx, "/collections/"+collection+"/points", body)
}

func (c *Client) Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	respBody, err := c.post(ctx, "/collections/"+collection+"/points/search", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result []ScoredPoint `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return resp.Result, nil
}

func (c *Client) DeletePoints(ctx context.Context, collection string, ids []int64) error {
	body := map[string]any{
		"points": ids,
	}
	_, err := c.post(ctx, "/collections/"+collection+"/points/delete", body)
	return err
}

func (c *Client) put(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vector index PUT %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vector index PUT %s: status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vector index POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("vector index POST %s: status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
