// Package lifecycle owns the single synthesis engine of the process.
//
// The engine is loaded lazily in the background. Loading is single-flight: every
// caller of WaitForReady shares one in-progress initialization, which is retried a
// bounded number of times with a cache purge and a fixed backoff between attempts.
// Once all attempts are exhausted the failure is terminal until the process restarts.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/book-expert/speech-mcp/internal/core"
	"github.com/book-expert/speech-mcp/internal/metrics"
	"github.com/book-expert/speech-mcp/internal/modelcache"
	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
)

// Retry policy defaults.
const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 1000 * time.Millisecond
)

var (
	// ErrEngineInit marks the terminal failure after every load attempt failed.
	ErrEngineInit = errors.New("engine initialization failed")
	// ErrEngineUnavailable is returned to callers that need an engine that cannot be provided.
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrNilLoader indicates that a Manager was constructed without a loader.
	ErrNilLoader = errors.New("engine loader cannot be nil")
)

// Status is the externally visible lifecycle phase.
type Status string

// Lifecycle phases.
const (
	StatusUninitialized Status = "Uninitialized"
	StatusInitializing  Status = "Initializing"
	StatusReady         Status = "Ready"
	StatusError         Status = "Error"
)

// Snapshot is a point-in-time projection of the engine state.
type Snapshot struct {
	Status     Status `json:"status"`
	ElapsedMs  *int64 `json:"elapsedMs,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount *int   `json:"retryCount,omitempty"`
}

// Option customizes a Manager.
type Option func(*Manager)

// WithMaxAttempts overrides the number of load attempts.
func WithMaxAttempts(attempts uint) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.maxAttempts = attempts
		}
	}
}

// WithBackoff overrides the fixed wait between attempts.
func WithBackoff(wait time.Duration) Option {
	return func(m *Manager) {
		m.backoff = wait
	}
}

// WithPurge replaces the cache purge performed before each retry.
func WithPurge(purge func(paths []string) ([]string, []error)) Option {
	return func(m *Manager) {
		m.purge = purge
	}
}

// WithMetrics records every load attempt.
func WithMetrics(recorder *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = recorder
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager holds the one engine instance and its state.
type Manager struct {
	loader      core.EngineLoader
	log         *log.Logger
	metrics     *metrics.Metrics
	maxAttempts uint
	backoff     time.Duration
	purge       func(paths []string) ([]string, []error)
	now         func() time.Time

	mu         sync.Mutex
	status     Status
	startedAt  time.Time
	finishedAt time.Time
	attempt    int
	failures   int
	engine     core.Engine
	err        error
	done       chan struct{}
}

// New creates a Manager in the Uninitialized state. Nothing is loaded until Start
// or WaitForReady is called.
func New(loader core.EngineLoader, logger *log.Logger, opts ...Option) (*Manager, error) {
	if loader == nil {
		return nil, ErrNilLoader
	}

	manager := &Manager{
		loader:      loader,
		log:         logger,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		purge:       modelcache.Purge,
		now:         time.Now,
		status:      StatusUninitialized,
		done:        make(chan struct{}),
	}

	if manager.log == nil {
		manager.log = log.New(io.Discard)
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager, nil
}

// Start begins initialization in the background and returns immediately. Calls
// after the first one are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusUninitialized {
		return
	}

	m.status = StatusInitializing
	m.startedAt = m.now()

	m.log.Infof("Starting engine initialization (max attempts: %d)", m.maxAttempts)

	go m.run()
}

// WaitForReady blocks until the engine is ready or has failed terminally, starting
// initialization if needed. Cancelling ctx only stops this caller from waiting.
func (m *Manager) WaitForReady(ctx context.Context) (core.Engine, error) {
	m.Start()

	select {
	case <-m.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, ctx.Err())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineUnavailable, m.err)
	}

	return m.engine, nil
}

// Status returns a snapshot of the current state without side effects.
func (m *Manager) Status() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := Snapshot{Status: m.status}

	switch m.status {
	case StatusUninitialized:
	case StatusInitializing:
		elapsed := m.now().Sub(m.startedAt).Milliseconds()
		retries := m.failures
		snapshot.ElapsedMs = &elapsed
		snapshot.RetryCount = &retries
	case StatusReady:
		elapsed := m.finishedAt.Sub(m.startedAt).Milliseconds()
		retries := m.failures
		snapshot.ElapsedMs = &elapsed
		snapshot.RetryCount = &retries
	case StatusError:
		retries := m.failures
		snapshot.Error = m.err.Error()
		snapshot.RetryCount = &retries
	}

	return snapshot
}

// Close releases the engine if it was loaded.
func (m *Manager) Close() error {
	m.mu.Lock()
	engine := m.engine
	m.engine = nil
	m.mu.Unlock()

	if engine == nil {
		return nil
	}

	err := engine.Close()
	if err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}

	return nil
}

func (m *Manager) run() {
	engine, err := backoff.Retry(
		context.Background(),
		m.attemptLoad,
		backoff.WithBackOff(backoff.NewConstantBackOff(m.backoff)),
		backoff.WithMaxTries(m.maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, wait time.Duration) {
			m.purgeCache()
			m.log.Infof("Retrying engine initialization in %s", wait)
		}),
	)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(m.done)

	m.finishedAt = m.now()

	if err != nil {
		m.status = StatusError
		m.err = fmt.Errorf("%w: failed after %d attempts: %w", ErrEngineInit, m.attempt, err)
		m.log.Errorf("Engine initialization failed permanently: %v", m.err)

		return
	}

	m.status = StatusReady
	m.engine = engine
	m.log.Infof(
		"Engine ready after %d attempt(s) in %s",
		m.attempt,
		m.finishedAt.Sub(m.startedAt).Round(time.Millisecond),
	)
}

// attemptLoad performs one load attempt and records its outcome.
func (m *Manager) attemptLoad() (core.Engine, error) {
	m.mu.Lock()
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()

	m.log.Infof("Engine initialization attempt %d/%d", attempt, m.maxAttempts)

	engine, err := m.loader.Load(context.Background())
	if err != nil {
		m.mu.Lock()
		m.failures++
		m.mu.Unlock()

		m.metrics.EngineInitAttempt(metrics.OutcomeError)
		m.log.Warnf("Engine initialization attempt %d failed: %v", attempt, err)

		return nil, err
	}

	m.metrics.EngineInitAttempt(metrics.OutcomeSuccess)

	return engine, nil
}

func (m *Manager) purgeCache() {
	paths := m.loader.CachePaths()
	if len(paths) == 0 || m.purge == nil {
		return
	}

	removed, errs := m.purge(paths)
	for _, path := range removed {
		m.log.Infof("Removed cached model artifacts at %s", path)
	}

	for _, purgeErr := range errs {
		m.log.Debugf("Ignoring cache cleanup failure: %v", purgeErr)
	}
}
