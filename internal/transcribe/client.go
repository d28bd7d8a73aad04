// Package transcribe turns stored audio into text by calling a
// Whisper-compatible transcription server.
package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nexus/internal/catalog"
	"nexus/internal/services"
)

const defaultHTTPTimeout = 30 * time.Minute

// Result is a completed transcription.
type Result struct {
	Text     string
	Language string
	Segments []catalog.Segment
}

// Client produces transcripts from local audio files.
type Client interface {
	Transcribe(ctx context.Context, audioPath string) (Result, error)
}

// HTTPClient talks to a Whisper-compatible HTTP transcription service.
type HTTPClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewHTTPClient constructs a transcription client for the given server.
func NewHTTPClient(baseURL, model string, timeoutSeconds int, opts ...Option) *HTTPClient {
	timeout := defaultHTTPTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	client := &HTTPClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:      strings.TrimSpace(model),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and returns the transcript. HTTP status
// codes are mapped onto the shared error taxonomy: 408/429 and server errors
// are transient, the remaining client errors are permanent.
func (c *HTTPClient) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPermanent, "transcribe", "open audio",
			"audio payload is unreadable", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		part, err := writer.CreateFormFile("audio_file", filepath.Base(audioPath))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if c.model != "" {
			if err := writer.WriteField("model", c.model); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}
		_ = pw.CloseWithError(writer.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", pr)
	if err != nil {
		return Result{}, services.Wrap(services.ErrPermanent, "transcribe", "build request", "", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, services.Wrap(services.ErrTimeout, "transcribe", "request",
				"transcription call aborted", err)
		}
		return Result{}, services.Wrap(services.ErrTransient, "transcribe", "request",
			"transcription server unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, classifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "transcribe", "decode response",
			"malformed transcription payload", err)
	}

	result := Result{
		Text:     strings.TrimSpace(parsed.Text),
		Language: parsed.Language,
	}
	for _, seg := range parsed.Segments {
		result.Segments = append(result.Segments, catalog.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}
	return result, nil
}

// Ping verifies the transcription server answers at all.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("transcription server unhealthy: http %d", resp.StatusCode)
	}
	return nil
}

func classifyStatus(code int, body string) error {
	message := fmt.Sprintf("transcription server returned http %d", code)
	detail := fmt.Errorf("http %d: %s", code, body)
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return services.Wrap(services.ErrTransient, "transcribe", "request", message, detail)
	case code >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "transcribe", "request", message, detail)
	default:
		return services.Wrap(services.ErrPermanent, "transcribe", "request", message, detail)
	}
}
