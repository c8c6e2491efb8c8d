// Package transcribe is the client for an OpenAI-compatible speech-to-text
// service. Sessions are client-side handles: the REST API is stateless, so a
// handle carries the per-session configuration and keeps one session's stop
// from disturbing another's in-flight request.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/voicewire/voicewire/internal/errors"
	"github.com/voicewire/voicewire/internal/resilience"
	"github.com/voicewire/voicewire/internal/trace"
)

// Handle identifies one transcription sub-session.
type Handle string

// SessionConfig holds per-session request parameters.
type SessionConfig struct {
	SampleRate int
	Language   string // empty = auto-detect
	Model      string
}

// WordTiming is a word-level timestamp pair, in seconds from segment start.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is one transcription response.
type Result struct {
	Text       string
	Confidence float64
	IsFinal    bool
	Duration   float64 // seconds of audio transcribed
	Language   string
	Words      []WordTiming
}

// verbose_json response shape. Confidence is a non-standard extension some
// services report; absent means zero and is mapped to DefaultConfidence.
type transcriptionResponse struct {
	Text       string       `json:"text"`
	Language   string       `json:"language"`
	Duration   float64      `json:"duration"`
	Confidence float64      `json:"confidence"`
	Words      []WordTiming `json:"words"`
}

// Client talks to the speech-to-text service with retry and circuit breaker
// protection. Safe for concurrent use by multiple sessions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      resilience.RetryConfig
	breaker    *resilience.Breaker

	mu       sync.Mutex
	sessions map[Handle]SessionConfig
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the retry policy for transcription requests. The default
// policy performs no retries.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithBreaker protects transcription requests with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client and verifies the service is reachable.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		retry:      resilience.RetryConfig{MaxRetries: 1, IsRetryable: func(error) bool { return false }},
		sessions:   make(map[Handle]SessionConfig),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.healthCheck(); err != nil {
		return nil, err
	}

	slog.Info("connected to transcription service", "base_url", baseURL)
	return c, nil
}

func (c *Client) healthCheck() error {
	resp, err := c.httpClient.Get(c.baseURL + healthPath)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.Transcription, "transcription service unreachable at %s", c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.Newf(apperrors.Transcription, "transcription service health check returned %d", resp.StatusCode)
	}
	return nil
}

// StartSession registers a sub-session and returns its handle.
func (c *Client) StartSession(cfg SessionConfig) (Handle, error) {
	if cfg.SampleRate <= 0 {
		return "", apperrors.Newf(apperrors.Configuration, "invalid sample rate: %d", cfg.SampleRate)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	h := Handle(uuid.NewString())
	c.mu.Lock()
	c.sessions[h] = cfg
	c.mu.Unlock()

	slog.Debug("transcription session started", "handle", h, "sample_rate", cfg.SampleRate, "model", cfg.Model)
	return h, nil
}

// StopSession releases a sub-session. Stopping an unknown handle is an error;
// stopping never affects other handles.
func (c *Client) StopSession(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sessions[h]; !ok {
		return apperrors.Newf(apperrors.NotFound, "unknown transcription session: %s", h)
	}
	delete(c.sessions, h)
	return nil
}

// Transcribe sends audio samples for the given sub-session and returns the
// recognized text. Retries per the configured policy; failures carry the
// Transcription code unless the request itself was malformed.
func (c *Client) Transcribe(ctx context.Context, h Handle, samples []float32) (*Result, error) {
	c.mu.Lock()
	cfg, ok := c.sessions[h]
	c.mu.Unlock()
	if !ok {
		return nil, apperrors.Newf(apperrors.NotFound, "unknown transcription session: %s", h)
	}
	if len(samples) == 0 {
		return nil, apperrors.New(apperrors.Configuration, "empty audio buffer")
	}

	wavData := EncodeWAV(samples, cfg.SampleRate)

	var result *Result
	err := resilience.Retry(ctx, c.retry, func() error {
		call := func() error {
			r, err := c.doRequest(ctx, cfg, wavData)
			if err != nil {
				return err
			}
			result = r
			return nil
		}
		if c.breaker != nil {
			return c.breaker.Execute(call)
		}
		return call()
	})
	if err != nil {
		return nil, err
	}

	slog.Debug("transcription completed",
		"handle", h,
		"samples", len(samples),
		"text_length", len(result.Text),
		"confidence", result.Confidence,
	)
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, cfg SessionConfig, wavData []byte) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fileWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Transcription, "failed to build multipart form")
	}
	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Transcription, "failed to write audio data")
	}

	_ = writer.WriteField("model", cfg.Model)
	_ = writer.WriteField("language", cfg.Language)
	_ = writer.WriteField("temperature", "0.0")
	_ = writer.WriteField("response_format", "verbose_json")

	contentType := writer.FormDataContentType()
	if err := writer.Close(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Transcription, "failed to finalize multipart form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transcriptionsPath, &body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Transcription, "failed to create request")
	}
	req.Header.Set("Content-Type", contentType)
	if tc, ok := trace.FromContext(ctx); ok {
		for k, v := range tc.ToMap() {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.Transcription, "transcription request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("transcription returned status %d: %s", resp.StatusCode, respBody)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client errors will not improve on retry.
			return nil, apperrors.New(apperrors.Configuration, msg)
		}
		return nil, apperrors.New(apperrors.Transcription, msg)
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, apperrors.Wrap(err, apperrors.Transcription, "failed to parse transcription response")
	}

	confidence := tr.Confidence
	if confidence == 0 {
		confidence = DefaultConfidence
	}

	return &Result{
		Text:       tr.Text,
		Confidence: confidence,
		IsFinal:    true,
		Duration:   tr.Duration,
		Language:   tr.Language,
		Words:      tr.Words,
	}, nil
}

// Close releases all sub-sessions.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[Handle]SessionConfig)
	return nil
}
