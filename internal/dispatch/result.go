package dispatch

import (
	"encoding/json"
)

// Kind classifies a failed call.
type Kind string

// Failure kinds.
const (
	KindUnknownTool       Kind = "unknown_tool"
	KindMissingArguments  Kind = "missing_arguments"
	KindInvalidArguments  Kind = "invalid_arguments"
	KindEngineUnavailable Kind = "engine_unavailable"
	KindSynthesis         Kind = "synthesis_error"
	KindInternal          Kind = "internal_error"
)

const contentTypeText = "text"

// Result is the outcome of one tool call: either Ok with a text, or a failure
// with a Kind and a message.
type Result struct {
	text    string
	kind    Kind
	message string
}

// Ok is a successful result.
func Ok(text string) Result {
	return Result{text: text}
}

// Fail is a failed result.
func Fail(kind Kind, message string) Result {
	return Result{kind: kind, message: message}
}

// IsError reports whether the call failed.
func (r Result) IsError() bool {
	return r.kind != ""
}

// Kind is the failure kind, empty on success.
func (r Result) Kind() Kind {
	return r.kind
}

// Text is the success text, or the failure message.
func (r Result) Text() string {
	if r.IsError() {
		return r.message
	}

	return r.text
}

// ContentItem is one block of response content.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Content is the wire shape of every tool response, success or failure.
type Content struct {
	Content []ContentItem `json:"content"`
}

// Content renders the result. Failures become a text block holding the JSON
// object {"error": message}.
func (r Result) Content() Content {
	return Content{Content: []ContentItem{{Type: contentTypeText, Text: r.WireText()}}}
}

// WireText is the text carried in the response content.
func (r Result) WireText() string {
	if !r.IsError() {
		return r.text
	}

	payload, err := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: r.message})
	if err != nil {
		return `{"error":"internal error"}`
	}

	return string(payload)
}
