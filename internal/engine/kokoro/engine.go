// Package kokoro runs the local Kokoro speech model in a long-lived worker process.
//
// The worker reads one JSON object per line on stdin and answers with one JSON
// object per line on stdout. Every request carries an "id" that the response
// echoes, and an "op":
//
//	load        {"model_id": "...", "dtype": "q8"}   → {"ok": true}
//	voices      {}                                   → {"ok": true, "voices": [{"id","name","language","gender","grade","traits"}]}
//	synthesize  {"text","voice","speed"}             → {"ok": true, "audio_base64": "...", "format": "wav", "sample_rate": 24000}
//
// Failures are reported as {"ok": false, "error": "..."}. Anything the worker
// writes to stderr is forwarded to the debug log.
package kokoro

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/book-expert/speech-mcp/internal/core"
	"github.com/book-expert/speech-mcp/internal/modelcache"
	"github.com/charmbracelet/log"
)

// Model defaults.
const (
	DefaultModelID = "onnx-community/Kokoro-82M-ONNX"
	DefaultDtype   = "q8"
)

var (
	// ErrNoCommand is returned when no worker command is configured.
	ErrNoCommand = errors.New("kokoro worker command cannot be empty")
	// ErrEmptyAudio is returned when the worker answers a synthesis with no audio.
	ErrEmptyAudio = errors.New("kokoro worker returned empty audio")
)

// Config describes how to launch the worker and which model it loads.
type Config struct {
	// Command is the worker argv, e.g. ["python3", "-u", "kokoro_worker.py"].
	Command []string
	// Env is appended to the current environment for the worker.
	Env     []string
	ModelID string
	Dtype   string
	// Locator resolves the cache directories purged before a retried load.
	Locator modelcache.Locator
}

// Loader starts workers. It implements core.EngineLoader.
type Loader struct {
	cfg Config
	log *log.Logger
}

// NewLoader validates cfg and fills in model defaults.
func NewLoader(cfg Config, logger *log.Logger) (*Loader, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, ErrNoCommand
	}

	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}

	if cfg.Dtype == "" {
		cfg.Dtype = DefaultDtype
	}

	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Loader{cfg: cfg, log: logger}, nil
}

// Load starts a worker and asks it to load the model. The worker is stopped if
// the load fails.
func (l *Loader) Load(ctx context.Context) (core.Engine, error) {
	w, err := startWorker(l.cfg.Command, l.cfg.Env, l.log)
	if err != nil {
		return nil, err
	}

	l.log.Infof("Loading model %s (dtype %s)", l.cfg.ModelID, l.cfg.Dtype)

	_, err = w.call(ctx, request{Op: opLoad, ModelID: l.cfg.ModelID, Dtype: l.cfg.Dtype})
	if err != nil {
		_ = w.Close()

		return nil, fmt.Errorf("failed to load model %s: %w", l.cfg.ModelID, err)
	}

	return &Engine{worker: w}, nil
}

// CachePaths returns the candidate cache locations of the configured model.
func (l *Loader) CachePaths() []string {
	paths, err := l.cfg.Locator.CandidatePaths(l.cfg.ModelID)
	if err != nil {
		return nil
	}

	return paths
}

// Engine is a loaded worker. It implements core.Engine.
type Engine struct {
	worker *worker
}

// Voices lists the voices the loaded model ships with, in the worker's order.
func (e *Engine) Voices(ctx context.Context) ([]core.Voice, error) {
	resp, err := e.worker.call(ctx, request{Op: opVoices})
	if err != nil {
		return nil, err
	}

	voices := make([]core.Voice, 0, len(resp.Voices))
	for _, entry := range resp.Voices {
		voices = append(voices, core.Voice(entry))
	}

	return voices, nil
}

// Synthesize renders req to WAV audio.
func (e *Engine) Synthesize(ctx context.Context, req core.SpeechRequest) ([]byte, error) {
	resp, err := e.worker.call(ctx, request{
		Op:    opSynthesize,
		Text:  req.Text,
		Voice: req.Voice,
		Speed: req.Speed,
	})
	if err != nil {
		return nil, err
	}

	if resp.AudioBase64 == "" {
		return nil, ErrEmptyAudio
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode worker audio: %w", err)
	}

	return audio, nil
}

// Close stops the worker process.
func (e *Engine) Close() error {
	return e.worker.Close()
}
