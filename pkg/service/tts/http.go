package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/soramame-games/stationtalk/pkg/audio"
	"github.com/soramame-games/stationtalk/pkg/service"
)

// Compile-time assertion that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// Longer than the other services: synthesis time grows with text length.
const defaultTimeout = 30 * time.Second

// Option is a functional option for configuring an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.hc = hc
	}
}

// HTTPClient talks to a synthesis server exposing POST {base}/synthesize
// with JSON {text, voice, language}. The response carries the audio either
// inline as base64 ("audio_content") or by reference ("audio_url"); relative
// references are resolved against the configured base address.
type HTTPClient struct {
	base *url.URL
	hc   *http.Client
}

// New creates an HTTPClient for the synthesis server at baseURL.
func New(baseURL string, opts ...Option) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("tts: baseURL must not be empty")
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("tts: parse baseURL: %w", err)
	}
	c := &HTTPClient{
		base: base,
		hc:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Synthesize renders one text segment. A transport failure or non-200
// status maps to service.ErrUnreachable; a response with neither audio
// field, undecodable base64, or a bad URL maps to
// service.ErrMalformedResponse.
func (c *HTTPClient) Synthesize(ctx context.Context, req Request) (audio.Clip, error) {
	payload := struct {
		Text     string `json:"text"`
		Voice    string `json:"voice"`
		Language string `json:"language"`
	}{Text: req.Text, Voice: req.Voice, Language: req.Language}

	body, err := json.Marshal(payload)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("tts: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base.String()+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("tts: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return audio.Clip{}, ctx.Err()
		}
		return audio.Clip{}, fmt.Errorf("%w: tts: %v", service.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return audio.Clip{}, fmt.Errorf("%w: tts: HTTP %d", service.ErrUnreachable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%w: tts: read body: %v", service.ErrUnreachable, err)
	}

	var result struct {
		AudioContent string `json:"audio_content"`
		AudioURL     string `json:"audio_url"`
		Format       string `json:"format"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return audio.Clip{}, fmt.Errorf("%w: tts: %v", service.ErrMalformedResponse, err)
	}

	format := result.Format
	if format == "" {
		format = "wav"
	}

	switch {
	case result.AudioContent != "":
		raw, err := base64.StdEncoding.DecodeString(result.AudioContent)
		if err != nil {
			return audio.Clip{}, fmt.Errorf("%w: tts: decode audio_content: %v", service.ErrMalformedResponse, err)
		}
		return audio.Clip{Data: raw, Format: format}, nil

	case result.AudioURL != "":
		return c.fetchClip(ctx, result.AudioURL, format)

	default:
		return audio.Clip{}, fmt.Errorf("%w: tts: response has neither audio_content nor audio_url", service.ErrMalformedResponse)
	}
}

// fetchClip downloads the clip a synthesis response pointed at, resolving
// relative references against the service base address.
func (c *HTTPClient) fetchClip(ctx context.Context, ref, format string) (audio.Clip, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%w: tts: parse audio_url: %v", service.ErrMalformedResponse, err)
	}
	u = c.base.ResolveReference(u)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("tts: create fetch request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return audio.Clip{}, ctx.Err()
		}
		return audio.Clip{}, fmt.Errorf("%w: tts: fetch audio: %v", service.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return audio.Clip{}, fmt.Errorf("%w: tts: fetch audio: HTTP %d", service.ErrUnreachable, resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("%w: tts: read audio: %v", service.ErrUnreachable, err)
	}
	return audio.Clip{Data: raw, Format: format}, nil
}

// Healthy probes GET {base}/health.
func (c *HTTPClient) Healthy(ctx context.Context) error {
	return service.Probe(ctx, c.hc, c.base.String()+"/health")
}
