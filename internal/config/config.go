// Package config provides the configuration structure for speech-mcp.
//
// Values come from the defaults, then an optional TOML file, then the
// environment. Any problem is a startup error.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/speech-mcp/internal/notify"
	"github.com/book-expert/speech-mcp/internal/tools"
	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
)

// Transports.
const (
	TransportMCP   = "mcp"
	TransportJSONL = "jsonl"
)

// Engine backends.
const (
	BackendKokoro = "kokoro"
	BackendRemote = "remote"
)

// Playback modes.
const (
	PlaybackSpeaker = "speaker"
	PlaybackCommand = "command"
)

// ErrStartupConfig marks every configuration problem. It is the only error that
// stops the process.
var ErrStartupConfig = errors.New("invalid startup configuration")

// ServerConfig holds the protocol server settings.
type ServerConfig struct {
	Name      string `toml:"name"`
	Version   string `toml:"version"`
	Transport string `toml:"transport" env:"SPEECH_MCP_TRANSPORT"`
}

// EngineConfig selects and configures the synthesis engine.
type EngineConfig struct {
	Backend        string   `toml:"backend"         env:"TTS_ENGINE_BACKEND"`
	ModelID        string   `toml:"model_id"        env:"TTS_MODEL_ID"`
	Dtype          string   `toml:"dtype"`
	Command        []string `toml:"command"`
	ServiceURL     string   `toml:"service_url"     env:"TTS_SERVICE_URL"`
	APIToken       string   `toml:"api_token"       env:"HF_TOKEN"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	CacheDir       string   `toml:"cache_dir"       env:"SPEECH_MCP_CACHE_DIR"`
}

// SpeechConfig holds the synthesis defaults.
type SpeechConfig struct {
	DefaultVoice     string  `toml:"default_voice"      env:"TTS_DEFAULT_VOICE"`
	DefaultSpeed     float64 `toml:"default_speed"      env:"TTS_DEFAULT_SPEED"`
	NormalizeText    bool    `toml:"normalize_text"`
	ValidateVoices   bool    `toml:"validate_voices"`
	ScratchDir       string  `toml:"scratch_dir"`
	KeepScratchFiles bool    `toml:"keep_scratch_files"`
}

// PlaybackConfig selects how audio reaches the speakers.
type PlaybackConfig struct {
	Mode    string   `toml:"mode"    env:"TTS_PLAYBACK_MODE"`
	Command []string `toml:"command"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables
// notifications.
type NATSConfig struct {
	URL                string `toml:"url"                  env:"NATS_URL"`
	AudioPlayedSubject string `toml:"audio_played_subject"`
}

// MetricsConfig enables the Prometheus exporter when Addr is set.
type MetricsConfig struct {
	Addr string `toml:"addr" env:"SPEECH_MCP_METRICS_ADDR"`
}

// LoggingConfig holds the log level.
type LoggingConfig struct {
	Level string `toml:"level" env:"SPEECH_MCP_LOG_LEVEL"`
}

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Engine   EngineConfig   `toml:"engine"`
	Speech   SpeechConfig   `toml:"speech"`
	Playback PlaybackConfig `toml:"playback"`
	NATS     NATSConfig     `toml:"nats"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Logging  LoggingConfig  `toml:"logging"`
}

// Default returns the built-in configuration. It does not validate: the kokoro
// backend still needs a worker command.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:      "speech-mcp",
			Version:   "1.0.0",
			Transport: TransportMCP,
		},
		Engine: EngineConfig{
			Backend:        BackendKokoro,
			ModelID:        "onnx-community/Kokoro-82M-ONNX",
			Dtype:          "q8",
			TimeoutSeconds: 120,
		},
		Speech: SpeechConfig{
			DefaultVoice:   "af_bella",
			DefaultSpeed:   1.0,
			ValidateVoices: true,
		},
		Playback: PlaybackConfig{Mode: PlaybackCommand},
		NATS:     NATSConfig{AudioPlayedSubject: notify.DefaultSubject},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load builds the configuration from the defaults, the TOML file at path (if
// path is not empty) and environment, then validates it. A nil environment
// means the process environment.
func Load(path string, environment map[string]string) (*Config, error) {
	cfg := Default()

	if path != "" {
		err := decodeFile(path, &cfg)
		if err != nil {
			return nil, err
		}
	}

	err := env.ParseWithOptions(&cfg, env.Options{Environment: environment})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read environment: %w", ErrStartupConfig, err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: failed to read config file: %w", ErrStartupConfig, err)
	}

	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()

	err = decoder.Decode(cfg)
	if err != nil {
		return fmt.Errorf("%w: failed to parse %s: %w", ErrStartupConfig, path, err)
	}

	return nil
}

// Validate reports the first configuration problem.
func (c *Config) Validate() error {
	switch {
	case c.Speech.DefaultSpeed < tools.MinSpeed || c.Speech.DefaultSpeed > tools.MaxSpeed:
		return invalid("default speed %g must be between %g and %g",
			c.Speech.DefaultSpeed, tools.MinSpeed, tools.MaxSpeed)
	case c.Speech.DefaultVoice == "":
		return invalid("default voice cannot be empty")
	case c.Server.Transport != TransportMCP && c.Server.Transport != TransportJSONL:
		return invalid("unknown transport %q", c.Server.Transport)
	case c.Playback.Mode != PlaybackSpeaker && c.Playback.Mode != PlaybackCommand:
		return invalid("unknown playback mode %q", c.Playback.Mode)
	case c.Engine.TimeoutSeconds < 0:
		return invalid("engine timeout cannot be negative")
	}

	switch c.Engine.Backend {
	case BackendKokoro:
		if len(c.Engine.Command) == 0 {
			return invalid("the kokoro backend needs a worker command")
		}
	case BackendRemote:
		if c.Engine.ServiceURL == "" {
			return invalid("the remote backend needs a service URL")
		}

		if c.Engine.APIToken == "" {
			return invalid("the remote backend needs an access token (HF_TOKEN)")
		}
	default:
		return invalid("unknown engine backend %q", c.Engine.Backend)
	}

	_, err := c.LogLevel()
	if err != nil {
		return err
	}

	return nil
}

// LogLevel parses the configured level.
func (c *Config) LogLevel() (log.Level, error) {
	level, err := log.ParseLevel(c.Logging.Level)
	if err != nil {
		return log.InfoLevel, fmt.Errorf("%w: %w", ErrStartupConfig, err)
	}

	return level, nil
}

// EngineTimeout is the remote engine request timeout.
func (c *Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStartupConfig, fmt.Sprintf(format, args...))
}
