// Package synth turns validated text into audible speech: it asks the engine for
// audio, writes it to a scratch file and plays that file to completion.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/speech-mcp/internal/audio"
	"github.com/book-expert/speech-mcp/internal/core"
	"github.com/book-expert/speech-mcp/internal/metrics"
	"github.com/book-expert/speech-mcp/internal/text"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

const (
	scratchPrefix    = "speech-"
	scratchExtension = ".wav"
	scratchDirPerm   = 0o750
	scratchFilePerm  = 0o600
	shortIDLength    = 8
)

var (
	// ErrSynthesis wraps any engine, file or playback failure.
	ErrSynthesis = errors.New("synthesis failed")
	// ErrEmptyText is returned when the text is blank.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrUnknownVoice is returned for a voice outside the catalog.
	ErrUnknownVoice = errors.New("unknown voice")
	// ErrNilDependency is returned when New is missing a collaborator.
	ErrNilDependency = errors.New("invoker dependency cannot be nil")
)

// EngineSource yields the ready engine, blocking until it is available.
type EngineSource interface {
	WaitForReady(ctx context.Context) (core.Engine, error)
}

// VoiceChecker reports whether a voice id is in the catalog.
type VoiceChecker interface {
	Contains(ctx context.Context, id string) (bool, error)
}

// Config holds the process-wide synthesis defaults.
type Config struct {
	DefaultVoice string
	DefaultSpeed float64
	// ScratchDir is where audio files are written; empty means the OS temp dir.
	ScratchDir       string
	KeepScratchFiles bool
	NormalizeText    bool
	ValidateVoices   bool
}

// Request is one utterance. Nil pointers and an empty voice fall back to the
// configured defaults.
type Request struct {
	Text  string
	Voice string
	Speed *float64
	Pitch *float64
}

// Result describes a finished utterance.
type Result struct {
	ID string
	// Voice is the effective voice; VoiceRequested is set when the caller chose it.
	Voice          string
	VoiceRequested bool
	Speed          float64
	Pitch          float64
	// PitchIgnored is set when a non-zero pitch was requested. Engines are never
	// asked to shift pitch.
	PitchIgnored bool
	Path         string
	Kept         bool
	Bytes        int
	// AudioDuration is read from the WAV header; zero when the header is unreadable.
	AudioDuration time.Duration
	Duration      time.Duration
}

// Option customizes an Invoker.
type Option func(*Invoker)

// WithVoices enables voice validation against checker when Config.ValidateVoices is set.
func WithVoices(checker VoiceChecker) Option {
	return func(i *Invoker) {
		i.voices = checker
	}
}

// WithNotifier announces every played utterance.
func WithNotifier(notifier core.Notifier) Option {
	return func(i *Invoker) {
		i.notifier = notifier
	}
}

// WithMetrics records synthesis durations.
func WithMetrics(recorder *metrics.Metrics) Option {
	return func(i *Invoker) {
		i.metrics = recorder
	}
}

// Invoker runs one synthesize-and-play sequence at a time.
type Invoker struct {
	source     EngineSource
	player     core.Player
	cfg        Config
	log        *log.Logger
	normalizer *text.Normalizer
	voices     VoiceChecker
	notifier   core.Notifier
	metrics    *metrics.Metrics

	// mu serializes engine use and audio output.
	mu sync.Mutex
}

// New creates an Invoker.
func New(source EngineSource, player core.Player, cfg Config, logger *log.Logger, opts ...Option) (*Invoker, error) {
	if source == nil || player == nil {
		return nil, ErrNilDependency
	}

	if logger == nil {
		logger = log.New(io.Discard)
	}

	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}

	invoker := &Invoker{
		source: source,
		player: player,
		cfg:    cfg,
		log:    logger,
	}

	if cfg.NormalizeText {
		invoker.normalizer = text.NewNormalizer()
	}

	for _, opt := range opts {
		opt(invoker)
	}

	return invoker, nil
}

// SynthesizeAndPlay waits for the engine, renders req and plays it. It returns
// only after playback has finished. Once synthesis starts, cancelling ctx no
// longer interrupts it.
func (i *Invoker) SynthesizeAndPlay(ctx context.Context, req Request) (*Result, error) {
	engine, err := i.source.WaitForReady(ctx)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	result := i.resolve(req)

	if result.VoiceRequested {
		err = i.checkVoice(ctx, result.Voice)
		if err != nil {
			return nil, err
		}
	}

	utterance := req.Text
	if i.normalizer != nil {
		utterance = i.normalizer.Normalize(utterance)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	started := time.Now()

	err = i.render(context.WithoutCancel(ctx), engine, utterance, result)

	result.Duration = time.Since(started)

	if err != nil {
		i.metrics.Synthesis(result.Duration, metrics.OutcomeError)
		i.log.Errorf("Synthesis %s failed: %v", result.ID, err)

		return nil, err
	}

	i.metrics.Synthesis(result.Duration, metrics.OutcomeSuccess)
	i.log.Infof(
		"Played %d bytes (%s of audio) with voice %s at speed %g in %s",
		result.Bytes, result.AudioDuration.Round(time.Millisecond), result.Voice, result.Speed,
		result.Duration.Round(time.Millisecond),
	)

	i.announce(ctx, result)

	return result, nil
}

func (i *Invoker) resolve(req Request) *Result {
	result := &Result{
		ID:    uuid.NewString(),
		Voice: i.cfg.DefaultVoice,
		Speed: i.cfg.DefaultSpeed,
	}

	if req.Voice != "" {
		result.Voice = req.Voice
		result.VoiceRequested = true
	}

	if req.Speed != nil {
		result.Speed = *req.Speed
	}

	if req.Pitch != nil {
		result.Pitch = *req.Pitch
		result.PitchIgnored = *req.Pitch != 0
	}

	return result
}

func (i *Invoker) checkVoice(ctx context.Context, voice string) error {
	if !i.cfg.ValidateVoices || i.voices == nil {
		return nil
	}

	known, err := i.voices.Contains(ctx, voice)
	if err != nil {
		return err
	}

	if !known {
		return fmt.Errorf("%w: %q (see list_voices)", ErrUnknownVoice, voice)
	}

	return nil
}

// render synthesizes, writes the scratch file and plays it, filling in result.
func (i *Invoker) render(ctx context.Context, engine core.Engine, utterance string, result *Result) error {
	wave, err := engine.Synthesize(ctx, core.SpeechRequest{
		Text:  utterance,
		Voice: result.Voice,
		Speed: result.Speed,
	})
	if err != nil {
		return fmt.Errorf("%w: engine: %w", ErrSynthesis, err)
	}

	info, err := audio.Inspect(wave)
	if err != nil {
		i.log.Debugf("Cannot read WAV header of %s: %v", result.ID, err)
	} else {
		result.AudioDuration = info.Duration
	}

	path, err := i.writeScratch(wave)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	result.Path = path
	result.Bytes = len(wave)
	result.Kept = i.cfg.KeepScratchFiles

	if !result.Kept {
		defer i.removeScratch(path)
	}

	err = i.player.Play(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: playback: %w", ErrSynthesis, err)
	}

	return nil
}

func (i *Invoker) writeScratch(wave []byte) (string, error) {
	err := os.MkdirAll(i.cfg.ScratchDir, scratchDirPerm)
	if err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	name := fmt.Sprintf("%s%d-%s%s",
		scratchPrefix, time.Now().UnixNano(), uuid.NewString()[:shortIDLength], scratchExtension)
	path := filepath.Join(i.cfg.ScratchDir, name)

	err = os.WriteFile(path, wave, scratchFilePerm)
	if err != nil {
		return "", fmt.Errorf("failed to write scratch file: %w", err)
	}

	return path, nil
}

func (i *Invoker) removeScratch(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		i.log.Warnf("Failed to remove scratch file %s: %v", path, err)
	}
}

func (i *Invoker) announce(ctx context.Context, result *Result) {
	if i.notifier == nil {
		return
	}

	event := core.AudioPlayed{
		RequestID: result.ID,
		Voice:     result.Voice,
		Speed:     result.Speed,
		Bytes:     result.Bytes,
	}
	if result.Kept {
		event.Path = result.Path
	}

	err := i.notifier.AudioPlayed(context.WithoutCancel(ctx), event)
	if err != nil {
		i.log.Warnf("Failed to announce utterance %s: %v", result.ID, err)
	}
}
