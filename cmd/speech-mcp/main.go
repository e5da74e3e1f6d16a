// main package for speech-mcp, a text-to-speech tool server for MCP clients.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/book-expert/speech-mcp/internal/app"
	"github.com/book-expert/speech-mcp/internal/config"
	"github.com/book-expert/speech-mcp/internal/tools"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagVoice    = "voice"
	flagSpeed    = "speed"
	flagPitch    = "pitch"
)

const envConfigPath = "SPEECH_MCP_CONFIG"

type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func newRootCmd(std streams) *cobra.Command {
	root := &cobra.Command{
		Use:   "speech-mcp",
		Short: "Text-to-speech tools served over stdio",
		Long: `speech-mcp serves text_to_speech, text_to_speech_with_options, list_voices and
get_model_status to an MCP client on stdin/stdout. Synthesized audio is played
on this machine. Logs go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := setup(cmd, std)
			if err != nil {
				return err
			}

			defer closeApp(application)

			return application.Serve(cmd.Context(), std.in, std.out)
		},
	}

	root.PersistentFlags().String(flagConfig, os.Getenv(envConfigPath), "Path to a TOML config file")
	root.PersistentFlags().String(flagLogLevel, "", "Override the log level (debug, info, warn, error)")

	root.AddCommand(newSayCmd(std), newVoicesCmd(std))
	root.SetIn(std.in)
	root.SetOut(std.out)
	root.SetErr(std.err)

	return root
}

func newSayCmd(std streams) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Synthesize and play one utterance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := setup(cmd, std)
			if err != nil {
				return err
			}

			defer closeApp(application)

			arguments := map[string]any{"text": strings.Join(args, " ")}

			voice, _ := cmd.Flags().GetString(flagVoice)
			if voice != "" {
				arguments["voice"] = voice
			}

			if cmd.Flags().Changed(flagSpeed) {
				arguments["speed"], _ = cmd.Flags().GetFloat64(flagSpeed)
			}

			if cmd.Flags().Changed(flagPitch) {
				arguments["pitch"], _ = cmd.Flags().GetFloat64(flagPitch)
			}

			encoded, err := json.Marshal(arguments)
			if err != nil {
				return fmt.Errorf("failed to encode arguments: %w", err)
			}

			result := application.Dispatcher.CallTool(cmd.Context(), tools.TextToSpeechWithOptions, encoded)
			if result.IsError() {
				return fmt.Errorf("%s: %s", result.Kind(), result.Text())
			}

			fmt.Fprintln(std.out, result.Text())

			return nil
		},
	}

	cmd.Flags().String(flagVoice, "", "Voice id (see the voices command)")
	cmd.Flags().Float64(flagSpeed, 0, "Speech rate multiplier (0.5 to 2.0)")
	cmd.Flags().Float64(flagPitch, 0, "Pitch adjustment (-20 to 20); accepted but not applied")

	return cmd
}

func newVoicesCmd(std streams) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List the voices that pass the quality filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := setup(cmd, std)
			if err != nil {
				return err
			}

			defer closeApp(application)

			ids, err := application.Catalog.ListVoices(cmd.Context())
			if err != nil {
				return err
			}

			for _, id := range ids {
				fmt.Fprintln(std.out, id)
			}

			return nil
		},
	}
}

// setup loads the configuration, builds the stderr logger and wires the app.
func setup(cmd *cobra.Command, std streams) (*app.App, error) {
	path, _ := cmd.Flags().GetString(flagConfig)

	cfg, err := config.Load(path, nil)
	if err != nil {
		return nil, err
	}

	override, _ := cmd.Flags().GetString(flagLogLevel)
	if override != "" {
		cfg.Logging.Level = override
	}

	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	logger := log.NewWithOptions(std.err, log.Options{
		Level:           level,
		Prefix:          cfg.Server.Name,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})

	logger.Infof("Starting %s %s (engine: %s, transport: %s)",
		cfg.Server.Name, cfg.Server.Version, cfg.Engine.Backend, cfg.Server.Transport)

	application, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	return application, nil
}

func closeApp(application *app.App) {
	err := application.Close()
	if err != nil {
		application.Log.Warnf("Shutdown was not clean: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newRootCmd(streams{in: os.Stdin, out: os.Stdout, err: os.Stderr}).ExecuteContext(ctx)
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "speech-mcp exited with error: %v\n", err)
		os.Exit(1)
	}
}
