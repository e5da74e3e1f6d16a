// Package tools holds the static catalog of callable tools and validates call
// arguments against each tool's JSON schema.
package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Tool names.
const (
	TextToSpeech            = "text_to_speech"
	TextToSpeechWithOptions = "text_to_speech_with_options"
	ListVoices              = "list_voices"
	GetModelStatus          = "get_model_status"
)

// Argument bounds shared by the schemas and their callers.
const (
	MinTextLength = 1
	MaxTextLength = 1000
	MinSpeed      = 0.5
	MaxSpeed      = 2.0
	MinPitch      = -20.0
	MaxPitch      = 20.0
)

// ErrInvalidSchema is returned when a built-in schema fails to compile.
var ErrInvalidSchema = errors.New("invalid tool schema")

const textSchema = `{
	"type": "string",
	"description": "The text to convert to speech",
	"minLength": 1,
	"maxLength": 1000
}`

const voiceSchema = `{
	"type": "string",
	"description": "The voice to use for speech synthesis (e.g. 'af_bella'). Use list_voices to see available options."
}`

const emptySchema = `{"type": "object", "properties": {}, "required": []}`

var builtins = []struct {
	name        string
	description string
	schema      string
}{
	{
		name:        TextToSpeech,
		description: "Convert text to speech and play it through system audio",
		schema: `{
			"type": "object",
			"properties": {
				"text": ` + textSchema + `,
				"voice": ` + voiceSchema + `
			},
			"required": ["text"]
		}`,
	},
	{
		name:        TextToSpeechWithOptions,
		description: "Convert text to speech with customizable voice, speed and pitch. Pitch is accepted but not applied by the current engine.",
		schema: `{
			"type": "object",
			"properties": {
				"text": ` + textSchema + `,
				"voice": ` + voiceSchema + `,
				"speed": {
					"type": "number",
					"description": "Speech rate multiplier (0.5 to 2.0)",
					"minimum": 0.5,
					"maximum": 2.0
				},
				"pitch": {
					"type": "number",
					"description": "Voice pitch adjustment (-20 to +20)",
					"minimum": -20,
					"maximum": 20
				}
			},
			"required": ["text"]
		}`,
	},
	{
		name:        ListVoices,
		description: "List all available voices for text-to-speech",
		schema:      emptySchema,
	},
	{
		name:        GetModelStatus,
		description: "Report the initialization status of the speech model",
		schema:      emptySchema,
	},
}

// ValidationError lists every schema violation of one call.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// Descriptor is one immutable tool definition.
type Descriptor struct {
	Name        string
	Description string
	// InputSchema is the JSON schema published to clients.
	InputSchema json.RawMessage

	schema *gojsonschema.Schema
}

// Validate checks args against the input schema. Schema violations are
// reported as *ValidationError.
func (d *Descriptor) Validate(args json.RawMessage) error {
	result, err := d.schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return &ValidationError{Tool: d.Name, Problems: []string{err.Error()}}
	}

	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}

	return &ValidationError{Tool: d.Name, Problems: problems}
}

// Registry is the read-only set of descriptors.
type Registry struct {
	ordered []*Descriptor
	byName  map[string]*Descriptor
}

// NewRegistry compiles the built-in tools.
func NewRegistry() (*Registry, error) {
	registry := &Registry{byName: make(map[string]*Descriptor, len(builtins))}

	for _, builtin := range builtins {
		compacted, err := compact(builtin.schema)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSchema, builtin.name, err)
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(compacted))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSchema, builtin.name, err)
		}

		descriptor := &Descriptor{
			Name:        builtin.name,
			Description: builtin.description,
			InputSchema: compacted,
			schema:      schema,
		}

		registry.ordered = append(registry.ordered, descriptor)
		registry.byName[descriptor.Name] = descriptor
	}

	return registry, nil
}

// List returns every descriptor in registration order.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, len(r.ordered))
	copy(out, r.ordered)

	return out
}

// Lookup finds a descriptor by name.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	descriptor, ok := r.byName[name]

	return descriptor, ok
}

func compact(schema string) (json.RawMessage, error) {
	var buffer bytes.Buffer

	err := json.Compact(&buffer, []byte(schema))
	if err != nil {
		return nil, err
	}

	return json.RawMessage(buffer.Bytes()), nil
}
