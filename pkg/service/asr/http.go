package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/soramame-games/stationtalk/pkg/audio"
	"github.com/soramame-games/stationtalk/pkg/service"
)

// Compile-time assertion that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

const defaultTimeout = 15 * time.Second

// Option is a functional option for configuring an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client. Useful for tests and
// for callers that need custom transport settings.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.hc = hc
	}
}

// WithLanguage sets the BCP-47 language hint forwarded with every request
// (e.g. "en", "ja"). Empty means let the service decide.
func WithLanguage(lang string) Option {
	return func(c *HTTPClient) {
		c.language = lang
	}
}

// HTTPClient talks to a recognition server exposing POST {base}/transcribe
// accepting multipart/form-data with an "audio" file field and answering
// JSON {"text": ..., "confidence": ...}.
type HTTPClient struct {
	baseURL  string
	language string
	hc       *http.Client
}

// New creates an HTTPClient for the recognition server at baseURL
// (e.g. "http://localhost:8000"). baseURL must be non-empty.
func New(baseURL string, opts ...Option) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("asr: baseURL must not be empty")
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Transcribe uploads the clip as multipart form data and decodes the
// transcript. A transport failure or non-200 status maps to
// service.ErrUnreachable; an undecodable body maps to
// service.ErrMalformedResponse.
func (c *HTTPClient) Transcribe(ctx context.Context, clip audio.Clip) (Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return Transcript{}, fmt.Errorf("asr: create form file: %w", err)
	}
	if _, err := fw.Write(clip.Data); err != nil {
		return Transcript{}, fmt.Errorf("asr: write audio data: %w", err)
	}
	if c.language != "" {
		if err := mw.WriteField("language", c.language); err != nil {
			return Transcript{}, fmt.Errorf("asr: write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, fmt.Errorf("asr: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return Transcript{}, fmt.Errorf("asr: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Transcript{}, ctx.Err()
		}
		return Transcript{}, fmt.Errorf("%w: asr: %v", service.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Transcript{}, fmt.Errorf("%w: asr: HTTP %d", service.ErrUnreachable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, fmt.Errorf("%w: asr: read body: %v", service.ErrUnreachable, err)
	}

	var result struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return Transcript{}, fmt.Errorf("%w: asr: %v", service.ErrMalformedResponse, err)
	}
	return Transcript{Text: strings.TrimSpace(result.Text), Confidence: result.Confidence}, nil
}

// Healthy probes GET {base}/health.
func (c *HTTPClient) Healthy(ctx context.Context) error {
	return service.Probe(ctx, c.hc, c.baseURL+"/health")
}
