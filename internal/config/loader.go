package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Logging.Level != "" && !cfg.Logging.Level.IsValid() {
		errs = append(errs, fmt.Errorf("logging.level %q is invalid; valid values: debug, info, warn, error", cfg.Logging.Level))
	}

	if err := validateBaseURL("services.asr.base_url", cfg.Services.ASR.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateBaseURL("services.npc.base_url", cfg.Services.NPC.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateBaseURL("services.npc.openai.base_url", cfg.Services.NPC.OpenAI.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateBaseURL("services.tts.base_url", cfg.Services.TTS.BaseURL); err != nil {
		errs = append(errs, err)
	}

	if cfg.Services.NPC.BaseURL == "" && cfg.Services.NPC.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("services.npc: neither base_url nor openai.api_key is set; NPCs cannot reply"))
	}
	if cfg.Services.NPC.OpenAI.APIKey != "" && cfg.Services.NPC.OpenAI.Model == "" {
		errs = append(errs, errors.New("services.npc.openai.model is required when api_key is set"))
	}

	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must not be negative", cfg.Audio.SampleRate))
	}
	if cfg.Audio.SpeechThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.speech_threshold %g must not be negative", cfg.Audio.SpeechThreshold))
	}
	if cfg.Audio.TrailingSilenceMs < 0 {
		errs = append(errs, fmt.Errorf("audio.trailing_silence_ms %d must not be negative", cfg.Audio.TrailingSilenceMs))
	}
	if cfg.Audio.MaxCaptureMs < 0 {
		errs = append(errs, fmt.Errorf("audio.max_capture_ms %d must not be negative", cfg.Audio.MaxCaptureMs))
	}
	if cfg.UI.WidthPx < 0 || cfg.UI.Rows < 0 || cfg.UI.LineHeightPx < 0 {
		errs = append(errs, errors.New("ui dimensions must not be negative"))
	}

	seen := make(map[string]bool, len(cfg.NPCs))
	for i, npc := range cfg.NPCs {
		if npc.ID == "" {
			errs = append(errs, fmt.Errorf("npcs[%d]: id is required", i))
			continue
		}
		if seen[npc.ID] {
			errs = append(errs, fmt.Errorf("npcs[%d]: duplicate id %q", i, npc.ID))
		}
		seen[npc.ID] = true
	}

	// Missing optional services degrade features rather than fail startup.
	if cfg.Services.ASR.BaseURL == "" {
		slog.Warn("no speech-recognition service configured; voice input is disabled")
	}
	if cfg.Services.TTS.BaseURL == "" {
		slog.Warn("no speech-synthesis service configured; replies will be text only")
	}

	return errors.Join(errs...)
}

func validateBaseURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid URL: %w", field, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s %q must use http or https", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s %q has no host", field, raw)
	}
	return nil
}
