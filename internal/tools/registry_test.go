package tools_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/book-expert/speech-mcp/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()

	registry, err := tools.NewRegistry()
	require.NoError(t, err)

	return registry
}

func lookup(t *testing.T, name string) *tools.Descriptor {
	t.Helper()

	descriptor, ok := newRegistry(t).Lookup(name)
	require.True(t, ok, "tool %s must be registered", name)

	return descriptor
}

func TestRegistry_List(t *testing.T) {
	t.Parallel()

	registry := newRegistry(t)

	names := make([]string, 0, 4)
	for _, descriptor := range registry.List() {
		names = append(names, descriptor.Name)

		assert.NotEmpty(t, descriptor.Description)
		assert.True(t, json.Valid(descriptor.InputSchema), "schema of %s must be valid JSON", descriptor.Name)
	}

	assert.Equal(t, []string{
		tools.TextToSpeech,
		tools.TextToSpeechWithOptions,
		tools.ListVoices,
		tools.GetModelStatus,
	}, names)

	_, ok := registry.Lookup("speak_loudly")
	assert.False(t, ok)
}

func TestRegistry_SchemaContract(t *testing.T) {
	t.Parallel()

	var schema struct {
		Type       string `json:"type"`
		Required   []string
		Properties map[string]struct {
			Type      string   `json:"type"`
			MinLength *int     `json:"minLength"`
			MaxLength *int     `json:"maxLength"`
			Minimum   *float64 `json:"minimum"`
			Maximum   *float64 `json:"maximum"`
		}
	}

	require.NoError(t, json.Unmarshal(lookup(t, tools.TextToSpeechWithOptions).InputSchema, &schema))

	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"text"}, schema.Required)

	text := schema.Properties["text"]
	assert.Equal(t, "string", text.Type)
	require.NotNil(t, text.MinLength)
	require.NotNil(t, text.MaxLength)
	assert.Equal(t, tools.MinTextLength, *text.MinLength)
	assert.Equal(t, tools.MaxTextLength, *text.MaxLength)

	assert.Equal(t, "string", schema.Properties["voice"].Type)

	speed := schema.Properties["speed"]
	assert.Equal(t, "number", speed.Type)
	assert.InDelta(t, tools.MinSpeed, *speed.Minimum, 0)
	assert.InDelta(t, tools.MaxSpeed, *speed.Maximum, 0)

	pitch := schema.Properties["pitch"]
	assert.Equal(t, "number", pitch.Type)
	assert.InDelta(t, tools.MinPitch, *pitch.Minimum, 0)
	assert.InDelta(t, tools.MaxPitch, *pitch.Maximum, 0)
}

func TestDescriptor_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr string
	}{
		{name: "minimal", tool: tools.TextToSpeech, args: `{"text":"Hello"}`},
		{name: "with voice", tool: tools.TextToSpeech, args: `{"text":"Hello","voice":"af_bella"}`},
		{name: "max length", tool: tools.TextToSpeech, args: `{"text":"` + strings.Repeat("a", 1000) + `"}`},
		{name: "multibyte max length", tool: tools.TextToSpeech, args: `{"text":"` + strings.Repeat("é", 1000) + `"}`},
		{name: "bounds", tool: tools.TextToSpeechWithOptions, args: `{"text":"Hi","speed":0.5,"pitch":-20}`},
		{name: "upper bounds", tool: tools.TextToSpeechWithOptions, args: `{"text":"Hi","speed":2,"pitch":20}`},
		{name: "no args tool", tool: tools.ListVoices, args: `{}`},
		{name: "missing text", tool: tools.TextToSpeech, args: `{}`, wantErr: "text is required"},
		{name: "empty text", tool: tools.TextToSpeech, args: `{"text":""}`, wantErr: "text"},
		{name: "too long", tool: tools.TextToSpeech, args: `{"text":"` + strings.Repeat("a", 1001) + `"}`, wantErr: "text"},
		{name: "text type", tool: tools.TextToSpeech, args: `{"text":42}`, wantErr: "text"},
		{name: "speed low", tool: tools.TextToSpeechWithOptions, args: `{"text":"Hi","speed":0.49}`, wantErr: "speed"},
		{name: "speed high", tool: tools.TextToSpeechWithOptions, args: `{"text":"Hi","speed":2.01}`, wantErr: "speed"},
		{name: "speed type", tool: tools.TextToSpeechWithOptions, args: `{"text":"Hi","speed":"fast"}`, wantErr: "speed"},
		{name: "pitch low", tool: tools.TextToSpeechWithOptions, args: `{"text":"Hi","pitch":-21}`, wantErr: "pitch"},
		{name: "pitch high", tool: tools.TextToSpeechWithOptions, args: `{"text":"Hi","pitch":20.5}`, wantErr: "pitch"},
		{name: "not an object", tool: tools.ListVoices, args: `[]`, wantErr: "object"},
	}

	registry := newRegistry(t)

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			descriptor, ok := registry.Lookup(testCase.tool)
			require.True(t, ok)

			err := descriptor.Validate(json.RawMessage(testCase.args))
			if testCase.wantErr == "" {
				require.NoError(t, err)

				return
			}

			var validationErr *tools.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, testCase.tool, validationErr.Tool)
			assert.Contains(t, err.Error(), testCase.wantErr)
		})
	}
}

func TestDescriptor_ValidateMalformedJSON(t *testing.T) {
	t.Parallel()

	err := lookup(t, tools.TextToSpeech).Validate(json.RawMessage(`{"text":`))

	var validationErr *tools.ValidationError
	require.ErrorAs(t, err, &validationErr)
}
