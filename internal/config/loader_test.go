package config_test

import (
	"strings"
	"testing"

	"github.com/soramame-games/stationtalk/internal/config"
)

const validYAML = `
logging:
  level: info
player:
  id: traveller
audio:
  sample_rate: 16000
  trailing_silence_ms: 900
ui:
  width_px: 640
  rows: 6
  line_height_px: 18
services:
  asr:
    base_url: http://localhost:5001
    language: en
  npc:
    base_url: http://localhost:5002
    openai:
      api_key: sk-test
      model: gpt-4o-mini
  tts:
    base_url: http://localhost:5003
    japanese_voice: japanese1
npcs:
  - id: guard
    name: Station Guard
    voice: female1
    greeting: "Welcome to the station!"
    fallback_reply: "Say that again?"
  - id: vendor
    name: Kiosk Vendor
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Player.ID != "traveller" {
		t.Errorf("player.id = %q", cfg.Player.ID)
	}
	if cfg.Services.ASR.BaseURL != "http://localhost:5001" {
		t.Errorf("asr.base_url = %q", cfg.Services.ASR.BaseURL)
	}
	if len(cfg.NPCs) != 2 || cfg.NPCs[0].ID != "guard" || cfg.NPCs[1].Name != "Kiosk Vendor" {
		t.Errorf("npcs = %+v", cfg.NPCs)
	}
	if cfg.Audio.TrailingSilenceMs != 900 {
		t.Errorf("audio.trailing_silence_ms = %d", cfg.Audio.TrailingSilenceMs)
	}
	if cfg.UI.WidthPx != 640 || cfg.UI.Rows != 6 || cfg.UI.LineHeightPx != 18 {
		t.Errorf("ui = %+v", cfg.UI)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	const yml = `
services:
  npc:
    base_url: http://localhost:5002
bogus_key: true
`
	if _, err := config.LoadFromReader(strings.NewReader(yml)); err == nil {
		t.Fatal("unknown top-level key was accepted")
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantSub string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Logging.Level = "bananas" },
			wantSub: "logging.level",
		},
		{
			name:    "bad asr url",
			mutate:  func(c *config.Config) { c.Services.ASR.BaseURL = "ftp://example.com" },
			wantSub: "http or https",
		},
		{
			name: "no reply backend",
			mutate: func(c *config.Config) {
				c.Services.NPC.BaseURL = ""
				c.Services.NPC.OpenAI.APIKey = ""
			},
			wantSub: "services.npc",
		},
		{
			name: "openai key without model",
			mutate: func(c *config.Config) {
				c.Services.NPC.OpenAI.APIKey = "sk-x"
				c.Services.NPC.OpenAI.Model = ""
			},
			wantSub: "openai.model",
		},
		{
			name:    "negative sample rate",
			mutate:  func(c *config.Config) { c.Audio.SampleRate = -1 },
			wantSub: "audio.sample_rate",
		},
		{
			name:    "npc without id",
			mutate:  func(c *config.Config) { c.NPCs = append(c.NPCs, config.NPCConfig{Name: "Nameless"}) },
			wantSub: "id is required",
		},
		{
			name:    "duplicate npc id",
			mutate:  func(c *config.Config) { c.NPCs = append(c.NPCs, config.NPCConfig{ID: "guard"}) },
			wantSub: "duplicate id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
			if err != nil {
				t.Fatalf("baseline config invalid: %v", err)
			}
			tt.mutate(cfg)
			err = config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateCollectsAllFailures(t *testing.T) {
	cfg := &config.Config{
		Logging:  config.LoggingConfig{Level: "loud"},
		Services: config.ServicesConfig{},
		Audio:    config.AudioConfig{SampleRate: -8000},
	}
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, sub := range []string{"logging.level", "services.npc", "audio.sample_rate"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("joined error %q is missing %q", err, sub)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/stationtalk.yaml"); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}
