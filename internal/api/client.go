// Package api is the HTTP client for the exam server interface: autosave,
// submission, proctoring chunk upload and proctoring telemetry events.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/voxiscribe/examclient/internal/config"
)

// ErrSubmitRejected indicates the server refused the submission with an
// application-level message (as opposed to a transport failure). Both are
// retryable from the caller's perspective.
var ErrSubmitRejected = errors.New("submission rejected")

// Client talks to the exam server. All methods honor the passed context
// and the configured per-request timeout.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a Client from configuration.
func NewClient(cfg *config.Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.ServerURL,
		token:   cfg.ExamToken,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

// AnswerRecord is one entry of the flat autosave answer list.
type AnswerRecord struct {
	QuestionID     string `json:"question_id"`
	AnswerText     string `json:"answer_text"`
	SelectedOption string `json:"selected_option"`
}

// AutosaveRequest is the POST /autosave payload.
type AutosaveRequest struct {
	ExamID  string         `json:"exam_id"`
	Answers []AnswerRecord `json:"answers"`
}

// envelope is the common success/message response shape.
type envelope struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Redirect string `json:"redirect"`
}

// Autosave persists the current answers. Best effort: the caller is
// expected to log failures and move on, never to retry in a loop.
func (c *Client) Autosave(ctx context.Context, req AutosaveRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("autosave: %w", err)
	}

	resp, err := c.postJSON(ctx, "/autosave", body)
	if err != nil {
		return fmt.Errorf("autosave: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("autosave: server rejected: %s", resp.Message)
	}
	return nil
}

// Submit finalizes the exam attempt and returns the redirect target on
// success. A server rejection wraps ErrSubmitRejected; transport errors
// are returned as-is wrapped.
func (c *Client) Submit(ctx context.Context, examID string) (string, error) {
	resp, err := c.postJSON(ctx, "/submit_exam/"+examID, nil)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if !resp.Success {
		return "", fmt.Errorf("%w: %s", ErrSubmitRejected, resp.Message)
	}
	return resp.Redirect, nil
}

// Chunk is a single proctoring media segment upload.
type Chunk struct {
	ExamID   string
	Sequence int
	First    bool
	Payload  []byte
}

// UploadChunk posts one media chunk as multipart form data. The first
// chunk of a session carries the is_first marker so the server can
// initialize its capture record.
func (c *Client) UploadChunk(ctx context.Context, chunk Chunk) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("exam_id", chunk.ExamID); err != nil {
		return fmt.Errorf("upload chunk: %w", err)
	}
	if err := mw.WriteField("chunk_order", strconv.Itoa(chunk.Sequence)); err != nil {
		return fmt.Errorf("upload chunk: %w", err)
	}
	if chunk.First {
		if err := mw.WriteField("is_first", "true"); err != nil {
			return fmt.Errorf("upload chunk: %w", err)
		}
	}
	part, err := mw.CreateFormFile("video_chunk", fmt.Sprintf("chunk_%d.webm", chunk.Sequence))
	if err != nil {
		return fmt.Errorf("upload chunk: %w", err)
	}
	if _, err := part.Write(chunk.Payload); err != nil {
		return fmt.Errorf("upload chunk: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("upload chunk: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/proctoring/chunk", &buf)
	if err != nil {
		return fmt.Errorf("upload chunk: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload chunk: %w", err)
	}
	defer drain(res.Body)

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("upload chunk: unexpected status %d", res.StatusCode)
	}
	return nil
}

// Event reports a proctoring telemetry event (voice command executed,
// upload failure, student left frame, ...). Fire-and-forget: errors are
// logged here and not propagated, since telemetry must never disturb the
// session flow.
func (c *Client) Event(ctx context.Context, eventType string, detail any) {
	body, err := json.Marshal(map[string]any{
		"event_type": eventType,
		"detail":     detail,
		"event_ts":   time.Now().UnixMilli(),
	})
	if err != nil {
		c.log.Error().Err(err).Str("event_type", eventType).Msg("Event marshal failed")
		return
	}

	if _, err := c.postJSON(ctx, "/api/proctoring/event", body); err != nil {
		c.log.Warn().Err(err).Str("event_type", eventType).Msg("Event delivery failed")
	}
}

// postJSON posts a JSON body (nil for empty) and decodes the envelope.
func (c *Client) postJSON(ctx context.Context, path string, body []byte) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer drain(res.Body)

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		if res.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", res.StatusCode)
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &env, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// drain discards and closes a response body so the transport can reuse
// the connection.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
