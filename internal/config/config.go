// Package config provides the configuration schema, loader, and file watcher
// for the stationtalk client.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Debug    DebugConfig    `yaml:"debug"`
	Player   PlayerConfig   `yaml:"player"`
	Audio    AudioConfig    `yaml:"audio"`
	UI       UIConfig       `yaml:"ui"`
	Services ServicesConfig `yaml:"services"`
	NPCs     []NPCConfig    `yaml:"npcs"`
}

// DebugConfig controls the optional debug HTTP server.
type DebugConfig struct {
	// Addr is the listen address for /healthz, /readyz and /metrics
	// (e.g. "127.0.0.1:6060"). Empty disables the server.
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level controls verbosity. Empty means info.
	Level LogLevel `yaml:"level"`
}

// PlayerConfig identifies the player to the dialogue service.
type PlayerConfig struct {
	// ID passed as player_id on every dialogue request. Empty means "player1".
	ID string `yaml:"id"`
}

// AudioConfig tunes microphone capture and utterance segmentation.
type AudioConfig struct {
	// SampleRate of the capture stream in Hz. Zero means 16000.
	SampleRate int `yaml:"sample_rate"`

	// SpeechThreshold is the RMS amplitude above which a frame counts as
	// speech. Zero means the built-in default.
	SpeechThreshold float64 `yaml:"speech_threshold"`

	// TrailingSilenceMs ends the utterance after this much silence follows
	// speech. Zero means the built-in default.
	TrailingSilenceMs int `yaml:"trailing_silence_ms"`

	// MaxCaptureMs bounds one capture regardless of silence detection.
	// Zero means the built-in default.
	MaxCaptureMs int `yaml:"max_capture_ms"`
}

// UIConfig sizes the dialogue text view.
type UIConfig struct {
	// WidthPx is the wrapping width of the text view in pixels.
	WidthPx int `yaml:"width_px"`

	// Rows is the number of visible text lines.
	Rows int `yaml:"rows"`

	// LineHeightPx is the height of one text line in pixels.
	LineHeightPx int `yaml:"line_height_px"`
}

// ServicesConfig holds the endpoints of the three collaborating services.
type ServicesConfig struct {
	ASR ASRConfig        `yaml:"asr"`
	NPC NPCServiceConfig `yaml:"npc"`
	TTS TTSConfig        `yaml:"tts"`
}

// ASRConfig configures the speech-recognition service.
type ASRConfig struct {
	// BaseURL of the recognition service. Empty disables voice input.
	BaseURL string `yaml:"base_url"`

	// Language hint sent with each request (e.g. "en").
	Language string `yaml:"language"`

	// Vocabulary lists station terms (place names, routes) that recognized
	// text is corrected against. NPC names are always included.
	Vocabulary []string `yaml:"vocabulary"`
}

// NPCServiceConfig configures reply generation. When BaseURL is set the
// station dialogue service is the primary backend; when OpenAI is also
// configured it serves as fallback. With only OpenAI configured it is the
// primary.
type NPCServiceConfig struct {
	// BaseURL of the station dialogue service.
	BaseURL string `yaml:"base_url"`

	// OpenAI configures the chat-completion backend.
	OpenAI OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig configures an OpenAI-compatible chat completion endpoint.
type OpenAIConfig struct {
	// APIKey authenticates requests. Empty disables this backend.
	APIKey string `yaml:"api_key"`

	// Model selects the chat model (e.g. "gpt-4o-mini").
	Model string `yaml:"model"`

	// BaseURL overrides the default API endpoint. Leave empty for the
	// provider's default.
	BaseURL string `yaml:"base_url"`
}

// TTSConfig configures the speech-synthesis service.
type TTSConfig struct {
	// BaseURL of the synthesis service. Empty disables reply audio.
	BaseURL string `yaml:"base_url"`

	// DefaultVoice for NPCs that declare none. Empty means "female1".
	DefaultVoice string `yaml:"default_voice"`

	// JapaneseVoice used for Japanese text spans. Empty means "japanese1".
	JapaneseVoice string `yaml:"japanese_voice"`
}

// NPCConfig declares one interactable character.
type NPCConfig struct {
	// ID is the service-side character identifier. Required and unique.
	ID string `yaml:"id"`

	// Name shown in the dialogue view.
	Name string `yaml:"name"`

	// Voice for this NPC's unmarked reply text.
	Voice string `yaml:"voice"`

	// Persona is the system prompt used by the chat-completion backend.
	Persona string `yaml:"persona"`

	// Greeting shown when the player first engages the NPC.
	Greeting string `yaml:"greeting"`

	// FallbackReply is shown when reply generation fails.
	FallbackReply string `yaml:"fallback_reply"`
}
