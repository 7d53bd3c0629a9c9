package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"colorcodely-go/internal/logger"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Transcriber turns raw audio into plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Config for the whisper-compatible transcription endpoint.
type Config struct {
	BaseURL string // TRANSCRIBE_URL, defaults to the OpenAI API
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client posts audio to an OpenAI-compatible /audio/transcriptions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *logger.Logger
}

func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("transcription api key not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Component("transcription"),
	}, nil
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if len(audio) == 0 {
		return "", errors.New("empty audio")
	}
	if filename == "" {
		filename = "audio.wav"
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	_ = w.WriteField("model", c.cfg.Model)
	_ = w.WriteField("response_format", "text")
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &b)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcribe failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	text := strings.TrimSpace(string(body))
	c.log.WithField("audio_bytes", len(audio)).
		WithField("chars", len(text)).
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("transcription completed")
	return text, nil
}

// Mock returns a fixed transcript. Enabled with USE_MOCK_TRANSCRIBE=true.
type Mock struct {
	Text string
}

func (m Mock) Transcribe(_ context.Context, _ []byte, _ string) (string, error) {
	if m.Text == "" {
		return "MOCK TRANSCRIPT: Today's colors are amber and teal. You must report to drug screen.", nil
	}
	return m.Text, nil
}
