// Package config_test tests the configuration loading for speech-mcp.
package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/book-expert/speech-mcp/internal/config"
	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
[server]
name = "speech-mcp"
version = "2.0.0"
transport = "jsonl"

[engine]
backend = "kokoro"
model_id = "onnx-community/Kokoro-82M-ONNX"
dtype = "fp32"
command = ["python3", "kokoro_worker.py"]
timeout_seconds = 30
cache_dir = "/var/cache/speech"

[speech]
default_voice = "af_heart"
default_speed = 1.25
normalize_text = true
validate_voices = false
scratch_dir = "/tmp/speech"
keep_scratch_files = true

[playback]
mode = "command"
command = ["aplay", "-q"]

[nats]
url = "nats://127.0.0.1:4222"
audio_played_subject = "audio.played"

[metrics]
addr = ":9464"

[logging]
level = "debug"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "speech-mcp.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	return path
}

func TestUnmarshalConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(fullConfig), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "2.0.0", cfg.Server.Version)
	assert.Equal(t, config.TransportJSONL, cfg.Server.Transport)
	assert.Equal(t, "fp32", cfg.Engine.Dtype)
	assert.Equal(t, []string{"python3", "kokoro_worker.py"}, cfg.Engine.Command)
	assert.Equal(t, "/var/cache/speech", cfg.Engine.CacheDir)
	assert.Equal(t, "af_heart", cfg.Speech.DefaultVoice)
	assert.InEpsilon(t, 1.25, cfg.Speech.DefaultSpeed, 0.001)
	assert.True(t, cfg.Speech.NormalizeText)
	assert.False(t, cfg.Speech.ValidateVoices)
	assert.True(t, cfg.Speech.KeepScratchFiles)
	assert.Equal(t, []string{"aplay", "-q"}, cfg.Playback.Command)
	assert.Equal(t, "audio.played", cfg.NATS.AudioPlayedSubject)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, fullConfig), map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, config.TransportJSONL, cfg.Server.Transport)
	assert.Equal(t, 30*time.Second, cfg.EngineTimeout())

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, level)
}

func TestLoad_DefaultsFillMissingKeys(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, `
[engine]
command = ["kokoro-worker"]
`), map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "af_bella", cfg.Speech.DefaultVoice)
	assert.InDelta(t, 1.0, cfg.Speech.DefaultSpeed, 0)
	assert.True(t, cfg.Speech.ValidateVoices)
	assert.Equal(t, config.TransportMCP, cfg.Server.Transport)
	assert.Equal(t, config.BackendKokoro, cfg.Engine.Backend)
	assert.Equal(t, "q8", cfg.Engine.Dtype)
	assert.Equal(t, config.PlaybackCommand, cfg.Playback.Mode)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, fullConfig), map[string]string{
		"TTS_DEFAULT_VOICE":       "bm_george",
		"TTS_DEFAULT_SPEED":       "0.75",
		"TTS_ENGINE_BACKEND":      "remote",
		"TTS_SERVICE_URL":         "http://tts.internal:8000",
		"HF_TOKEN":                "hf_secret",
		"NATS_URL":                "nats://nats:4222",
		"SPEECH_MCP_TRANSPORT":    "mcp",
		"SPEECH_MCP_LOG_LEVEL":    "warn",
		"SPEECH_MCP_METRICS_ADDR": "127.0.0.1:9000",
	})
	require.NoError(t, err)

	assert.Equal(t, "bm_george", cfg.Speech.DefaultVoice)
	assert.InEpsilon(t, 0.75, cfg.Speech.DefaultSpeed, 0.001)
	assert.Equal(t, config.BackendRemote, cfg.Engine.Backend)
	assert.Equal(t, "http://tts.internal:8000", cfg.Engine.ServiceURL)
	assert.Equal(t, "hf_secret", cfg.Engine.APIToken)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, config.TransportMCP, cfg.Server.Transport)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9000", cfg.Metrics.Addr)
}

func TestLoad_StartupErrors(t *testing.T) {
	t.Parallel()

	withCommand := `
[engine]
command = ["kokoro-worker"]
`

	tests := []struct {
		name    string
		file    string
		env     map[string]string
		wantErr string
	}{
		{name: "speed too low", file: withCommand, env: map[string]string{"TTS_DEFAULT_SPEED": "0.4"}, wantErr: "default speed"},
		{name: "speed too high", file: withCommand, env: map[string]string{"TTS_DEFAULT_SPEED": "2.5"}, wantErr: "default speed"},
		{name: "speed not a number", file: withCommand, env: map[string]string{"TTS_DEFAULT_SPEED": "fast"}, wantErr: "environment"},
		{name: "empty voice", file: withCommand + "[speech]\ndefault_voice = \"\"\n", wantErr: "default voice"},
		{name: "no worker command", file: "", wantErr: "worker command"},
		{name: "remote without token", file: "", env: map[string]string{
			"TTS_ENGINE_BACKEND": "remote", "TTS_SERVICE_URL": "http://localhost:8000",
		}, wantErr: "HF_TOKEN"},
		{name: "remote without url", file: "", env: map[string]string{
			"TTS_ENGINE_BACKEND": "remote", "HF_TOKEN": "t",
		}, wantErr: "service URL"},
		{name: "unknown backend", file: withCommand, env: map[string]string{"TTS_ENGINE_BACKEND": "espeak"}, wantErr: "backend"},
		{name: "unknown transport", file: withCommand, env: map[string]string{"SPEECH_MCP_TRANSPORT": "http"}, wantErr: "transport"},
		{name: "unknown playback", file: withCommand, env: map[string]string{"TTS_PLAYBACK_MODE": "bluetooth"}, wantErr: "playback"},
		{name: "bad log level", file: withCommand, env: map[string]string{"SPEECH_MCP_LOG_LEVEL": "loud"}, wantErr: ""},
		{name: "unknown key", file: withCommand + "[speech]\nloudness = 3\n", wantErr: "parse"},
		{name: "malformed toml", file: "[engine\n", wantErr: "parse"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			environment := testCase.env
			if environment == nil {
				environment = map[string]string{}
			}

			_, err := config.Load(writeConfig(t, testCase.file), environment)
			require.ErrorIs(t, err, config.ErrStartupConfig)
			assert.Contains(t, err.Error(), testCase.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"), map[string]string{})
	require.ErrorIs(t, err, config.ErrStartupConfig)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("", map[string]string{
		"TTS_ENGINE_BACKEND": "remote",
		"TTS_SERVICE_URL":    "http://localhost:8000",
		"HF_TOKEN":           "hf_token",
	})
	require.NoError(t, err)

	assert.Equal(t, config.Default().Speech, cfg.Speech)
}
