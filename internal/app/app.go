// Package app wires the speech tool server together from a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/speech-mcp/internal/catalog"
	"github.com/book-expert/speech-mcp/internal/config"
	"github.com/book-expert/speech-mcp/internal/core"
	"github.com/book-expert/speech-mcp/internal/dispatch"
	"github.com/book-expert/speech-mcp/internal/engine/kokoro"
	"github.com/book-expert/speech-mcp/internal/engine/remote"
	"github.com/book-expert/speech-mcp/internal/lifecycle"
	"github.com/book-expert/speech-mcp/internal/metrics"
	"github.com/book-expert/speech-mcp/internal/modelcache"
	"github.com/book-expert/speech-mcp/internal/notify"
	"github.com/book-expert/speech-mcp/internal/playback"
	"github.com/book-expert/speech-mcp/internal/synth"
	"github.com/book-expert/speech-mcp/internal/tools"
	"github.com/book-expert/speech-mcp/internal/transport/jsonl"
	"github.com/book-expert/speech-mcp/internal/transport/mcpserver"
	"github.com/charmbracelet/log"
)

const exporterShutdownTimeout = 5 * time.Second

// Option overrides a component, mostly for tests.
type Option func(*overrides)

type overrides struct {
	loader core.EngineLoader
	player core.Player
}

// WithLoader replaces the engine loader chosen by the config.
func WithLoader(loader core.EngineLoader) Option {
	return func(o *overrides) {
		o.loader = loader
	}
}

// WithPlayer replaces the audio player chosen by the config.
func WithPlayer(player core.Player) Option {
	return func(o *overrides) {
		o.player = player
	}
}

// App holds every long-lived component.
type App struct {
	Config     *config.Config
	Log        *log.Logger
	Metrics    *metrics.Metrics
	Manager    *lifecycle.Manager
	Catalog    *catalog.Catalog
	Invoker    *synth.Invoker
	Notifier   core.Notifier
	Dispatcher *dispatch.Dispatcher

	closers []io.Closer
}

// New builds the components. Nothing is loaded until the engine is first
// needed or Serve starts it.
func New(cfg *config.Config, logger *log.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	var chosen overrides
	for _, opt := range opts {
		opt(&chosen)
	}

	app := &App{Config: cfg, Log: logger, Metrics: metrics.New()}

	loader := chosen.loader
	if loader == nil {
		built, err := newLoader(cfg, logger)
		if err != nil {
			return nil, err
		}

		loader = built
	}

	manager, err := lifecycle.New(loader, logger.WithPrefix("engine"), lifecycle.WithMetrics(app.Metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine manager: %w", err)
	}

	app.Manager = manager
	app.closers = append(app.closers, manager)
	app.Catalog = catalog.New(manager)

	player := chosen.player
	if player == nil {
		player, err = newPlayer(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	invokerOpts := []synth.Option{synth.WithVoices(app.Catalog), synth.WithMetrics(app.Metrics)}

	app.Notifier = notify.Noop{}

	if cfg.NATS.URL != "" {
		publisher, connectErr := notify.Connect(cfg.NATS.URL, cfg.NATS.AudioPlayedSubject, logger)
		if connectErr != nil {
			return nil, connectErr
		}

		app.closers = append(app.closers, publisher)
		app.Notifier = publisher
	}

	invokerOpts = append(invokerOpts, synth.WithNotifier(app.Notifier))

	app.Invoker, err = synth.New(manager, player, synth.Config{
		DefaultVoice:     cfg.Speech.DefaultVoice,
		DefaultSpeed:     cfg.Speech.DefaultSpeed,
		ScratchDir:       cfg.Speech.ScratchDir,
		KeepScratchFiles: cfg.Speech.KeepScratchFiles,
		NormalizeText:    cfg.Speech.NormalizeText,
		ValidateVoices:   cfg.Speech.ValidateVoices,
	}, logger, invokerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis invoker: %w", err)
	}

	registry, err := tools.NewRegistry()
	if err != nil {
		return nil, err
	}

	app.Dispatcher, err = dispatch.New(registry, app.Invoker, app.Catalog, manager, logger, app.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	return app, nil
}

func newLoader(cfg *config.Config, logger *log.Logger) (core.EngineLoader, error) {
	switch cfg.Engine.Backend {
	case config.BackendRemote:
		loader, err := remote.NewLoader(cfg.Engine.ServiceURL, cfg.Engine.APIToken, cfg.EngineTimeout())
		if err != nil {
			return nil, fmt.Errorf("failed to create remote engine: %w", err)
		}

		return loader, nil
	default:
		locator := modelcache.DefaultLocator()
		if cfg.Engine.CacheDir != "" {
			locator.CacheDir = cfg.Engine.CacheDir
		}

		loader, err := kokoro.NewLoader(kokoro.Config{
			Command: cfg.Engine.Command,
			ModelID: cfg.Engine.ModelID,
			Dtype:   cfg.Engine.Dtype,
			Locator: locator,
		}, logger.WithPrefix("kokoro"))
		if err != nil {
			return nil, fmt.Errorf("failed to create kokoro engine: %w", err)
		}

		return loader, nil
	}
}

func newPlayer(cfg *config.Config, logger *log.Logger) (core.Player, error) {
	if cfg.Playback.Mode == config.PlaybackSpeaker {
		return playback.NewSpeakerPlayer(logger), nil
	}

	player, err := playback.NewCommandPlayer(cfg.Playback.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio player: %w", err)
	}

	return player, nil
}

// Serve starts engine initialization, the metrics exporter if configured, and
// the configured transport. It returns when in is exhausted or ctx is done.
func (a *App) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	a.Manager.Start()

	if a.Config.Metrics.Addr != "" {
		exporter := metrics.NewExporter(a.Config.Metrics.Addr, a.Metrics)

		go func() {
			a.Log.Infof("Serving metrics on %s", a.Config.Metrics.Addr)

			err := exporter.Start()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Log.Errorf("Metrics exporter stopped: %v", err)
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exporterShutdownTimeout)
			defer cancel()

			err := exporter.Shutdown(shutdownCtx)
			if err != nil {
				a.Log.Warnf("Failed to stop metrics exporter: %v", err)
			}
		}()
	}

	switch a.Config.Server.Transport {
	case config.TransportJSONL:
		return jsonl.New(a.Dispatcher, a.Log).Serve(ctx, in, out)
	default:
		return mcpserver.New(a.Config.Server.Name, a.Config.Server.Version, a.Dispatcher, a.Log).Serve(ctx, in, out)
	}
}

// Close releases the engine and any notification connection.
func (a *App) Close() error {
	var errs []error

	for _, closer := range a.closers {
		err := closer.Close()
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
