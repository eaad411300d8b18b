// Package transcribe posts encoded audio segments to a Whisper-style
// batch endpoint. The service is unreliable by contract: callers treat
// a failed request as a segment with no text, never as a crash.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured reports that no endpoint URL is set. The other
// channel then runs capture-only.
var ErrNotConfigured = errors.New("transcription endpoint not configured")

const DefaultTimeout = 30 * time.Second

type Config struct {
	Logger *slog.Logger

	// URL is the multipart transcription endpoint. Empty disables the
	// client.
	URL string

	// Token, when set, is sent as a bearer Authorization header.
	Token string

	// Model and Language are forwarded as form fields. Language is a
	// hint; the service may ignore it.
	Model    string
	Language string

	// Timeout bounds one request end to end.
	Timeout time.Duration

	HTTPClient *http.Client
}

type Client struct {
	logger   *slog.Logger
	url      string
	token    string
	model    string
	language string
	timeout  time.Duration
	http     *http.Client
}

func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{
		logger:   cfg.Logger,
		url:      cfg.URL,
		token:    cfg.Token,
		model:    cfg.Model,
		language: cfg.Language,
		timeout:  cfg.Timeout,
		http:     cfg.HTTPClient,
	}
}

// Configured reports whether an endpoint URL is set.
func (c *Client) Configured() bool {
	return c.url != ""
}

// Transcribe posts one encoded segment and returns the recognized
// text. Empty text with a nil error means the service heard nothing.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if c.url == "" {
		return "", ErrNotConfigured
	}

	body, contentType, err := c.encodeForm(filename, audio)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post segment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("transcription status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return strings.TrimSpace(payload.Text), nil
}

func (c *Client) encodeForm(filename string, audio []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"model":           c.model,
		"language":        c.language,
		"response_format": "json",
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write form field %s: %w", name, err)
		}
	}

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write segment payload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("finish multipart form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
