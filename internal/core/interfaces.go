// Package core defines the contracts shared by the speech tool server components.
package core

import "context"

// Voice describes a single voice as reported by a synthesis engine.
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Language string `json:"language,omitempty"`
	Gender   string `json:"gender,omitempty"`
	// Grade is the engine's overall quality grade for the voice (e.g. "A", "B-").
	Grade  string `json:"grade,omitempty"`
	Traits string `json:"traits,omitempty"`
}

// SpeechRequest carries the fully resolved parameters of one synthesis call.
type SpeechRequest struct {
	Text  string
	Voice string
	Speed float64
}

// Engine is a loaded speech-synthesis model.
type Engine interface {
	Voices(ctx context.Context) ([]Voice, error)
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
	Close() error
}

// EngineLoader constructs an Engine. Load may be slow and is retried by the caller.
type EngineLoader interface {
	Load(ctx context.Context) (Engine, error)
	// CachePaths lists on-disk model artifacts that may be purged before a retry.
	CachePaths() []string
}

// Player plays an audio file and returns only once playback has finished.
type Player interface {
	Play(ctx context.Context, path string) error
}

// AudioPlayed describes an utterance that has finished playing.
type AudioPlayed struct {
	RequestID string
	Voice     string
	Speed     float64
	// Path is empty unless the scratch file was kept.
	Path  string
	Bytes int
}

// Notifier announces finished utterances to interested parties.
type Notifier interface {
	AudioPlayed(ctx context.Context, event AudioPlayed) error
}
