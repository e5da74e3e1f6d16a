// Package dispatch maps tool calls onto the synthesis components.
//
// Every call produces a Result; errors never escape to the transport. The
// dispatcher rejects unknown tools, missing arguments and schema violations
// before any engine work starts.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/book-expert/speech-mcp/internal/lifecycle"
	"github.com/book-expert/speech-mcp/internal/metrics"
	"github.com/book-expert/speech-mcp/internal/synth"
	"github.com/book-expert/speech-mcp/internal/tools"
	"github.com/charmbracelet/log"
)

const (
	successMessage   = "Successfully generated and played audio"
	voicesHeader     = "Available voices:\n"
	pitchIgnoredNote = ". Note: pitch adjustment is not supported by the engine and was ignored"
	unknownToolLabel = "unknown"
)

// ErrNilDependency is returned when New is missing a collaborator.
var ErrNilDependency = errors.New("dispatcher dependency cannot be nil")

// Speaker synthesizes and plays one utterance.
type Speaker interface {
	SynthesizeAndPlay(ctx context.Context, req synth.Request) (*synth.Result, error)
}

// VoiceLister lists the usable voice ids.
type VoiceLister interface {
	ListVoices(ctx context.Context) ([]string, error)
}

// StatusReporter reports the engine state without blocking.
type StatusReporter interface {
	Status() lifecycle.Snapshot
}

// Dispatcher routes tool calls.
type Dispatcher struct {
	registry *tools.Registry
	speaker  Speaker
	voices   VoiceLister
	status   StatusReporter
	log      *log.Logger
	metrics  *metrics.Metrics
}

// speechArgs are the decoded arguments of both speech tools.
type speechArgs struct {
	Text  string   `json:"text"`
	Voice string   `json:"voice"`
	Speed *float64 `json:"speed"`
	Pitch *float64 `json:"pitch"`
}

// New creates a Dispatcher. recorder may be nil.
func New(
	registry *tools.Registry,
	speaker Speaker,
	voices VoiceLister,
	status StatusReporter,
	logger *log.Logger,
	recorder *metrics.Metrics,
) (*Dispatcher, error) {
	if registry == nil || speaker == nil || voices == nil || status == nil {
		return nil, ErrNilDependency
	}

	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Dispatcher{
		registry: registry,
		speaker:  speaker,
		voices:   voices,
		status:   status,
		log:      logger,
		metrics:  recorder,
	}, nil
}

// ListTools returns the full registry.
func (d *Dispatcher) ListTools() []*tools.Descriptor {
	return d.registry.List()
}

// CallTool runs the named tool with the raw JSON arguments.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args json.RawMessage) (result Result) {
	descriptor, ok := d.registry.Lookup(name)
	if !ok {
		d.record(unknownToolLabel, name, Fail(KindUnknownTool, ""))

		return Fail(KindUnknownTool, fmt.Sprintf("Unknown tool: %s", name))
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			result = Fail(KindInternal, fmt.Sprintf("internal error: %v", recovered))
		}

		d.record(name, name, result)
	}()

	if isMissing(args) {
		return Fail(KindMissingArguments, "Missing arguments")
	}

	err := descriptor.Validate(args)
	if err != nil {
		return failure(err)
	}

	switch name {
	case tools.TextToSpeech:
		return d.speak(ctx, args, false)
	case tools.TextToSpeechWithOptions:
		return d.speak(ctx, args, true)
	case tools.ListVoices:
		return d.listVoices(ctx)
	case tools.GetModelStatus:
		return d.modelStatus()
	default:
		return Fail(KindUnknownTool, fmt.Sprintf("Unknown tool: %s", name))
	}
}

func (d *Dispatcher) speak(ctx context.Context, raw json.RawMessage, withOptions bool) Result {
	var args speechArgs

	err := json.Unmarshal(raw, &args)
	if err != nil {
		return Fail(KindInvalidArguments, fmt.Sprintf("invalid arguments: %v", err))
	}

	request := synth.Request{Text: args.Text, Voice: args.Voice}
	if withOptions {
		request.Speed = args.Speed
		request.Pitch = args.Pitch
	}

	spoken, err := d.speaker.SynthesizeAndPlay(ctx, request)
	if err != nil {
		return failure(err)
	}

	var message strings.Builder

	message.WriteString(successMessage)

	if spoken.VoiceRequested {
		message.WriteString(" using voice: ")
		message.WriteString(spoken.Voice)
	}

	if withOptions {
		fmt.Fprintf(&message, " (speed: %s, pitch: %s)", formatNumber(spoken.Speed), formatNumber(spoken.Pitch))

		if spoken.PitchIgnored {
			message.WriteString(pitchIgnoredNote)
		}
	}

	return Ok(message.String())
}

func (d *Dispatcher) listVoices(ctx context.Context) Result {
	ids, err := d.voices.ListVoices(ctx)
	if err != nil {
		return failure(err)
	}

	return Ok(voicesHeader + strings.Join(ids, "\n"))
}

func (d *Dispatcher) modelStatus() Result {
	payload, err := json.Marshal(d.status.Status())
	if err != nil {
		return Fail(KindInternal, fmt.Sprintf("failed to encode status: %v", err))
	}

	return Ok(string(payload))
}

func (d *Dispatcher) record(label, name string, result Result) {
	if result.IsError() {
		d.metrics.ToolCall(label, metrics.OutcomeError)
		d.log.Warnf("Tool %s failed (%s): %s", name, result.Kind(), result.Text())

		return
	}

	d.metrics.ToolCall(label, metrics.OutcomeSuccess)
	d.log.Infof("Tool %s completed", name)
}

// failure classifies err into a failed Result.
func failure(err error) Result {
	var validationErr *tools.ValidationError

	switch {
	case errors.As(err, &validationErr),
		errors.Is(err, synth.ErrEmptyText),
		errors.Is(err, synth.ErrUnknownVoice):
		return Fail(KindInvalidArguments, err.Error())
	case errors.Is(err, lifecycle.ErrEngineUnavailable):
		return Fail(KindEngineUnavailable, err.Error())
	case errors.Is(err, synth.ErrSynthesis):
		return Fail(KindSynthesis, err.Error())
	default:
		return Fail(KindInternal, err.Error())
	}
}

func isMissing(args json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(args))

	return trimmed == "" || trimmed == "null"
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
