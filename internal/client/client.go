// Package client is a small HTTP client for the todoq API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"todoq/internal/api"
	"todoq/internal/producer"
	"todoq/internal/state"
	"todoq/internal/store"
)

var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response carrying the API's error code.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Code)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Create(ctx context.Context, title string) (producer.Accepted, error) {
	var out producer.Accepted
	err := c.do(ctx, http.MethodPost, "/items", api.CreateItemRequest{Title: title}, http.StatusAccepted, &out)
	return out, err
}

func (c *Client) Toggle(ctx context.Context, id uuid.UUID) (producer.Accepted, error) {
	var out producer.Accepted
	err := c.do(ctx, http.MethodPost, "/items/"+id.String()+"/toggle", nil, http.StatusAccepted, &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, id uuid.UUID) (producer.Accepted, error) {
	var out producer.Accepted
	err := c.do(ctx, http.MethodDelete, "/items/"+id.String(), nil, http.StatusAccepted, &out)
	return out, err
}

func (c *Client) GetItem(ctx context.Context, id uuid.UUID) (store.Item, error) {
	var out store.Item
	err := c.do(ctx, http.MethodGet, "/items/"+id.String(), nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) ListItems(ctx context.Context, page, limit int) ([]store.Item, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	var out []store.Item
	err := c.do(ctx, http.MethodGet, "/items?"+q.Encode(), nil, http.StatusOK, &out)
	return out, err
}

func (c *Client) GetJob(ctx context.Context, id uuid.UUID) (api.JobResponse, error) {
	var out api.JobResponse
	err := c.do(ctx, http.MethodGet, "/jobs/"+id.String(), nil, http.StatusOK, &out)
	return out, err
}

// WaitJob polls the job until it is terminal or ctx is done.
func (c *Client) WaitJob(ctx context.Context, id uuid.UUID, interval time.Duration) (api.JobResponse, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return api.JobResponse{}, err
		}
		if state.IsTerminal(job.Status) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("job %s still %s: %w", id, job.Status, ctx.Err())
		case <-time.After(interval):
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		var errBody api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil {
			apiErr.Code = errBody.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
