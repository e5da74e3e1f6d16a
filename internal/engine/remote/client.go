// Package remote provides an engine backed by a hosted text-to-speech HTTP
// service.
//
// The service exposes three endpoints: POST /v1/generate/speech returns WAV
// audio, GET /v1/voices returns the voice catalog, and GET /health reports
// readiness. Every request carries the access token as a bearer credential.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/speech-mcp/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiVoices         = "/v1/voices"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType   = "Content-Type"
	headerAccept        = "Accept"
	headerAuthorization = "Authorization"
	contentTypeJSON     = "application/json"
	contentTypeWAV      = "audio/wav"
	bearerPrefix        = "Bearer "
)

// DefaultTimeout applies to every request when none is configured.
const DefaultTimeout = 120 * time.Second

// Error messages.
const (
	errUnexpectedContentType   = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "TTS service returned non-OK status: %s, body: %s"
)

var (
	// ErrMissingToken is returned when the client is built without a credential.
	ErrMissingToken = errors.New("remote engine requires an access token")
	// ErrMissingBaseURL is returned when the client is built without a service URL.
	ErrMissingBaseURL = errors.New("remote engine requires a service url")
	// ErrEmptyText is returned for synthesis requests without text.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrEmptyAudio is returned when the service answers with an empty body.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// Client talks to the hosted service. It implements core.Engine.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// SpeechRequest is the JSON payload of a generation request.
type SpeechRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// ErrorResponse is the structured error body returned by the service.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

type voicesResponse struct {
	Voices []core.Voice `json:"voices"`
}

// NewClient creates a client for the service at baseURL. Both baseURL and token
// are required.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrMissingBaseURL
	}

	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Synthesize sends a generation request and returns the WAV audio.
func (c *Client) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	requestBody, err := json.Marshal(SpeechRequest{Text: req.Text, Voice: req.Voice, Speed: req.Speed})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, apiGenerateSpeech, bytes.NewReader(requestBody))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(errUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// Voices fetches the service's voice catalog.
func (c *Client) Voices(ctx context.Context) ([]core.Voice, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, apiVoices, http.NoBody)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to list voices at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var body voicesResponse

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode voices: %w", err)
	}

	return body.Voices, nil
}

// HealthCheck verifies that the service is running and accepts the credential.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, apiHealth, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(headerAuthorization, bearerPrefix+c.token)

	return req, nil
}

// parseErrorResponse decodes a structured JSON error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}

// Loader builds a Client and checks the service health. It implements
// core.EngineLoader.
type Loader struct {
	baseURL string
	token   string
	timeout time.Duration
}

// NewLoader validates the connection settings without contacting the service.
func NewLoader(baseURL, token string, timeout time.Duration) (*Loader, error) {
	_, err := NewClient(baseURL, token, timeout)
	if err != nil {
		return nil, err
	}

	return &Loader{baseURL: baseURL, token: token, timeout: timeout}, nil
}

// Load returns a client once the service reports healthy.
func (l *Loader) Load(ctx context.Context) (core.Engine, error) {
	client, err := NewClient(l.baseURL, l.token, l.timeout)
	if err != nil {
		return nil, err
	}

	err = client.HealthCheck(ctx)
	if err != nil {
		return nil, err
	}

	return client, nil
}

// CachePaths is empty: a hosted engine keeps no local artifacts.
func (l *Loader) CachePaths() []string {
	return nil
}
