package npc

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

	"github.com/soramame-games/stationtalk/pkg/service"
)

// Compile-time assertion that StationClient implements Client.
var _ Client = (*StationClient)(nil)

const stationTimeout = 20 * time.Second

// replyFields are the response keys accepted for the reply text, in
// precedence order. Dialogue service versions have disagreed on the name,
// so the client reads whichever is present.
var replyFields = []string{"response_text", "response", "message", "reply", "text"}

// StationOption is a functional option for configuring a StationClient.
type StationOption func(*StationClient)

// WithStationHTTPClient replaces the underlying *http.Client.
func WithStationHTTPClient(hc *http.Client) StationOption {
	return func(c *StationClient) {
		c.hc = hc
	}
}

// StationClient talks to the station dialogue service:
// POST {base}/api/v1/chat with JSON {npc_id, player_id, message, session_id,
// history}, answering JSON whose reply text sits under one of several
// historical field names.
type StationClient struct {
	baseURL string
	hc      *http.Client
}

// NewStation creates a StationClient for the dialogue service at baseURL.
func NewStation(baseURL string, opts ...StationOption) (*StationClient, error) {
	if baseURL == "" {
		return nil, errors.New("npc: baseURL must not be empty")
	}
	c := &StationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: stationTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Chat submits the player's message. A transport failure or non-200 status
// maps to service.ErrUnreachable; a body with none of the known reply fields
// maps to service.ErrMalformedResponse so the caller can substitute the
// NPC's configured fallback line.
func (c *StationClient) Chat(ctx context.Context, req Request) (Reply, error) {
	payload := struct {
		NPCID     string        `json:"npc_id"`
		PlayerID  string        `json:"player_id"`
		Message   string        `json:"message"`
		SessionID string        `json:"session_id"`
		History   []HistoryTurn `json:"history,omitempty"`
	}{
		NPCID:     req.NPCID,
		PlayerID:  req.PlayerID,
		Message:   req.Message,
		SessionID: req.SessionID,
		History:   req.History,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("npc: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat", bytes.NewReader(body))
	if err != nil {
		return Reply{}, fmt.Errorf("npc: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, fmt.Errorf("%w: npc: %v", service.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Reply{}, fmt.Errorf("%w: npc: HTTP %d", service.ErrUnreachable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: npc: read body: %v", service.ErrUnreachable, err)
	}
	text, err := extractReply(data)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: text}, nil
}

// Healthy probes GET {base}/api/v1/health.
func (c *StationClient) Healthy(ctx context.Context) error {
	return service.Probe(ctx, c.hc, c.baseURL+"/api/v1/health")
}

// extractReply pulls the reply text out of a dialogue service response,
// accepting any of the field names past service versions have used.
func extractReply(data []byte) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("%w: npc: %v", service.ErrMalformedResponse, err)
	}
	for _, key := range replyFields {
		if v, ok := fields[key]; ok {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if s = strings.TrimSpace(s); s != "" {
				return s, nil
			}
		}
	}
	return "", fmt.Errorf("%w: npc: no reply field in response", service.ErrMalformedResponse)
}
