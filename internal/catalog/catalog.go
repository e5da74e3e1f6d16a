// Package catalog derives the usable voices from engine metadata.
package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/book-expert/speech-mcp/internal/core"
	"golang.org/x/sync/singleflight"
)

const listKey = "voices"

// AllowedGrades are the accepted voice quality grades, best first.
var AllowedGrades = []string{"A", "A-", "B+", "B", "B-", "C+", "C"}

// EngineSource yields the ready engine, blocking until it is available.
type EngineSource interface {
	WaitForReady(ctx context.Context) (core.Engine, error)
}

// Catalog lists the voices whose grade is in AllowedGrades.
type Catalog struct {
	source EngineSource
	group  singleflight.Group
}

// New creates a Catalog reading from source.
func New(source EngineSource) *Catalog {
	return &Catalog{source: source}
}

// IsAllowedGrade reports whether grade is an accepted quality grade.
func IsAllowedGrade(grade string) bool {
	return slices.Contains(AllowedGrades, strings.TrimSpace(grade))
}

// ListVoices waits for the engine and returns the ids of the allowed voices in
// the engine's own order. Concurrent callers share one engine query, which is
// not cancelled when one of them gives up.
func (c *Catalog) ListVoices(ctx context.Context) ([]string, error) {
	shared := context.WithoutCancel(ctx)

	flight := c.group.DoChan(listKey, func() (any, error) {
		return c.load(shared)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("voice listing abandoned: %w", ctx.Err())
	case result := <-flight:
		if result.Err != nil {
			return nil, result.Err
		}

		ids, _ := result.Val.([]string)

		return slices.Clone(ids), nil
	}
}

// Contains reports whether id is one of the allowed voices.
func (c *Catalog) Contains(ctx context.Context, id string) (bool, error) {
	ids, err := c.ListVoices(ctx)
	if err != nil {
		return false, err
	}

	return slices.Contains(ids, id), nil
}

func (c *Catalog) load(ctx context.Context) ([]string, error) {
	engine, err := c.source.WaitForReady(ctx)
	if err != nil {
		return nil, err
	}

	voices, err := engine.Voices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice metadata: %w", err)
	}

	ids := make([]string, 0, len(voices))
	for _, voice := range voices {
		if IsAllowedGrade(voice.Grade) {
			ids = append(ids, voice.ID)
		}
	}

	return ids, nil
}
