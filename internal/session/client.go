package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// API is the upload-session capability shared by both agent personalities.
// Implementations own the current session identifier; the uploader never
// inspects mode.
type API interface {
	// StartSession opens a recording session on the collector. A failure is
	// non-fatal: the caller proceeds without a session id and the id may be
	// adopted later from an upload response.
	StartSession(ctx context.Context) (string, error)

	// UploadClip transfers one clip with its metadata. Any failure is
	// retryable from the caller's point of view.
	UploadClip(ctx context.Context, req UploadRequest) error

	// EndSession closes the active session, if any. Idempotent.
	EndSession(ctx context.Context) bool

	// SessionID returns the currently active session id, or "".
	SessionID() string
}

// Config contains collector client configuration
type Config struct {
	BaseURL  string
	DeviceID string
	Timeout  time.Duration
}

// UploadRequest carries one clip and its metadata to the collector
type UploadRequest struct {
	Filename  string
	Data      []byte
	Timestamp time.Time
	Level     float64
}

// uploadResponse is the collector's reply to a clip upload. The session id
// is optional; when present and no session is active, the client adopts it.
type uploadResponse struct {
	SessionID string `json:"sessionId"`
}

// Client is the session-tracking collector client used in sleep mode. It
// wraps the collector's session lifecycle (start/end/score) and the per-clip
// upload endpoint, retaining no local state besides the session id.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	sessionID string
	mu        sync.RWMutex
}

// NewClient creates a collector session client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	if config.DeviceID == "" {
		return nil, fmt.Errorf("device ID cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SessionID returns the currently active session id, or ""
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) setSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// StartSession opens a new recording session on the collector
func (c *Client) StartSession(ctx context.Context) (string, error) {
	url := c.config.BaseURL + "/api/sessions/start"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create session start request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("session start request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read session start response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse session start response: %w", err)
	}

	c.setSessionID(result.ID)

	c.logger.Info("Session started", slog.String("session_id", result.ID))

	return result.ID, nil
}

// UploadClip sends one clip to the collector as a multipart POST. On
// success, a session id present in the response is adopted if no session is
// currently active.
func (c *Client) UploadClip(ctx context.Context, upload UploadRequest) error {
	body, contentType, err := c.createMultipartRequest(upload)
	if err != nil {
		return fmt.Errorf("failed to create multipart request: %w", err)
	}

	url := c.config.BaseURL + "/api/audio/upload"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var result uploadResponse
	if err := json.Unmarshal(respBody, &result); err == nil && result.SessionID != "" {
		c.mu.Lock()
		if c.sessionID == "" {
			c.sessionID = result.SessionID
			c.logger.Info("Adopted session from upload response",
				slog.String("session_id", result.SessionID),
			)
		}
		c.mu.Unlock()
	}

	return nil
}

// createMultipartRequest builds the multipart/form-data body for an upload
func (c *Client) createMultipartRequest(upload UploadRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("audio", upload.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(upload.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"piId":       c.config.DeviceID,
		"sessionId":  c.SessionID(),
		"timestamp":  upload.Timestamp.Format(time.RFC3339),
		"audioLevel": strconv.FormatFloat(upload.Level, 'f', -1, 64),
	}

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// EndSession closes the active session and requests server-side score
// computation. The score request is fire-and-forget: its failure is logged
// only. Returns true when the session was closed; a no-op when no session
// is active.
func (c *Client) EndSession(ctx context.Context) bool {
	id := c.SessionID()
	if id == "" {
		return false
	}

	url := fmt.Sprintf("%s/api/sessions/%s/end", c.config.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		c.logger.Error("Failed to create session end request", slog.String("error", err.Error()))
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Session end request failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Session end rejected",
			slog.String("session_id", id),
			slog.Int("status", resp.StatusCode),
		)
		return false
	}

	c.requestScore(ctx, id)
	c.setSessionID("")

	c.logger.Info("Session ended", slog.String("session_id", id))

	return true
}

// requestScore asks the collector to compute the session's quality score
func (c *Client) requestScore(ctx context.Context, id string) {
	url := fmt.Sprintf("%s/api/sessions/%s/calculate-score", c.config.BaseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		c.logger.Warn("Failed to create score request", slog.String("error", err.Error()))
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Score request failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
