package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 3 * time.Second

// HTTPStore talks to an lsmkv server over its HTTP API.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

type ValueResponse struct {
	Value string `json:"value"`
	Error string `json:"error"`
}

type StatsResponse struct {
	MemtableEntries int      `json:"memtable_entries"`
	Flushing        bool     `json:"flushing"`
	Segments        []string `json:"segments"`
	Broken          string   `json:"broken"`
}

// StatusError is returned for any non-2xx answer other than a 404 on Get.
type StatusError struct {
	Op     string
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s status=%d: %s", e.Op, e.Code, e.Reason)
}

func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

// WithClient swaps the underlying HTTP client.
func (s *HTTPStore) WithClient(c *http.Client) *HTTPStore {
	s.client = c
	return s
}

func (s *HTTPStore) Set(ctx context.Context, key, value string) error {
	form := url.Values{}
	form.Set("key", key)
	form.Set("value", value)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.baseURL+"/api/string", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return fmt.Errorf("create PUT request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("PUT failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("PUT", resp)
	}
	return nil
}

// Get returns found=false when the server answers 404.
func (s *HTTPStore) Get(ctx context.Context, key string) (string, bool, error) {
	u := s.baseURL + "/api/string?key=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, fmt.Errorf("create GET request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("GET failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, statusError("GET", resp)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("read GET body: %w", err)
	}

	var vr ValueResponse
	if err := json.Unmarshal(b, &vr); err != nil {
		return "", false, fmt.Errorf("decode: %w body=%s", err, string(b))
	}
	return vr.Value, true, nil
}

func (s *HTTPStore) Rm(ctx context.Context, key string) error {
	u := s.baseURL + "/api?key=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("create DELETE request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("DELETE", resp)
	}
	return nil
}

func (s *HTTPStore) Stats(ctx context.Context) (StatsResponse, error) {
	var sr StatsResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/stats", nil)
	if err != nil {
		return sr, fmt.Errorf("create stats request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return sr, fmt.Errorf("stats failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sr, statusError("STATS", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return sr, fmt.Errorf("decode stats: %w", err)
	}
	return sr, nil
}

// Health returns nil when the server reports itself healthy.
func (s *HTTPStore) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("health failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("HEALTH", resp)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)

	reason := strings.TrimSpace(string(b))
	var vr ValueResponse
	if json.Unmarshal(b, &vr) == nil && vr.Error != "" {
		reason = vr.Error
	}
	return &StatusError{Op: op, Code: resp.StatusCode, Reason: reason}
}
