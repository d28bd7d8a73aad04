package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"nexus/internal/api"
	"nexus/internal/status"
)

// apiClient is a thin HTTP client for the daemon API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Error string `json:"error"`
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon at %s: %w (is nexusd running?)", c.base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s (HTTP %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon returned HTTP %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data), "application/json", out)
}

func (c *apiClient) submitURL(ctx context.Context, req api.SubmitURLRequest) (api.SubmitResponse, error) {
	var resp api.SubmitResponse
	err := c.postJSON(ctx, "/api/media/url", req, &resp)
	return resp, err
}

func (c *apiClient) upload(ctx context.Context, path, title, kind string) (api.SubmitResponse, error) {
	var resp api.SubmitResponse

	file, err := os.Open(path)
	if err != nil {
		return resp, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return resp, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return resp, fmt.Errorf("read %s: %w", path, err)
	}
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			return resp, err
		}
	}
	if kind != "" {
		if err := mw.WriteField("kind", kind); err != nil {
			return resp, err
		}
	}
	if err := mw.Close(); err != nil {
		return resp, err
	}

	err = c.do(ctx, http.MethodPost, "/api/media/upload", &buf, mw.FormDataContentType(), &resp)
	return resp, err
}

func (c *apiClient) listMedia(ctx context.Context, statusFilter string, limit int) (api.MediaListResponse, error) {
	var resp api.MediaListResponse
	query := url.Values{}
	if statusFilter != "" {
		query.Set("status", statusFilter)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/media"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	err := c.do(ctx, http.MethodGet, path, nil, "", &resp)
	return resp, err
}

func (c *apiClient) media(ctx context.Context, id string) (api.MediaView, error) {
	var resp api.MediaView
	err := c.do(ctx, http.MethodGet, "/api/media/"+url.PathEscape(id), nil, "", &resp)
	return resp, err
}

func (c *apiClient) deleteMedia(ctx context.Context, id string) (api.DeleteResponse, error) {
	var resp api.DeleteResponse
	err := c.do(ctx, http.MethodDelete, "/api/media/"+url.PathEscape(id), nil, "", &resp)
	return resp, err
}

func (c *apiClient) retryMedia(ctx context.Context, id string) (api.SubmitResponse, error) {
	var resp api.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/api/media/"+url.PathEscape(id)+"/retry", nil, "", &resp)
	return resp, err
}

func (c *apiClient) job(ctx context.Context, id string) (api.JobView, error) {
	var resp api.JobView
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, "", &resp)
	return resp, err
}

func (c *apiClient) cancel(ctx context.Context, id string) (api.CancelResponse, error) {
	var resp api.CancelResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, "", &resp)
	return resp, err
}

func (c *apiClient) stats(ctx context.Context) (api.StatsResponse, error) {
	var resp api.StatsResponse
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, "", &resp)
	return resp, err
}

func (c *apiClient) health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.do(ctx, http.MethodGet, "/api/health", nil, "", &resp)
	return resp, err
}

// watch subscribes to a job's event stream and invokes fn for each event
// until the stream closes, fn returns false, or the context is cancelled.
func (c *apiClient) watch(ctx context.Context, jobID string, fn func(status.Event) bool) error {
	wsURL, err := websocketURL(c.base)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to daemon at %s: %w (is nexusd running?)", wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "job_id": jobID}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		var frame struct {
			status.Event
			Error string `json:"error"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}
		if frame.Error != "" {
			return fmt.Errorf("%s", frame.Error)
		}
		if !fn(frame.Event) {
			return nil
		}
	}
}

func websocketURL(base string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse API base %q: %w", base, err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported API scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	return parsed.String(), nil
}
