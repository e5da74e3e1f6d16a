// Package jsonl serves the tool protocol as newline-delimited JSON envelopes:
//
//	{"type":"request","id":1,"method":"call_tool","params":{"name":"...","arguments":{...}}}
//	{"type":"response","id":1,"result":{"content":[{"type":"text","text":"..."}]}}
//
// Requests are handled concurrently; each response is written as one line when
// its request finishes.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/book-expert/speech-mcp/internal/dispatch"
	"github.com/book-expert/speech-mcp/internal/tools"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Protocol methods and message types.
const (
	MethodListTools = "list_tools"
	MethodCallTool  = "call_tool"

	typeRequest  = "request"
	typeResponse = "response"

	maxLineBytes = 4 * 1024 * 1024
)

// ErrWrite is returned when a response cannot be written to the output stream.
var ErrWrite = errors.New("failed to write response")

// Dispatcher is the part of dispatch.Dispatcher the server needs.
type Dispatcher interface {
	ListTools() []*tools.Descriptor
	CallTool(ctx context.Context, name string, args json.RawMessage) dispatch.Result
}

// Request is one decoded input line.
type Request struct {
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// CallParams are the params of call_tool.
type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response is one output line.
type Response struct {
	Type   string          `json:"type"`
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody reports a protocol fault. Tool failures never use it.
type ErrorBody struct {
	Message string `json:"message"`
}

// ToolInfo is one entry of the list_tools result.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolList is the list_tools result.
type ToolList struct {
	Tools []ToolInfo `json:"tools"`
}

// Server reads requests and writes responses.
type Server struct {
	dispatcher Dispatcher
	log        *log.Logger

	writeMu sync.Mutex
}

// New creates a Server.
func New(dispatcher Dispatcher, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Server{dispatcher: dispatcher, log: logger}
}

// Serve handles every line of in until it is exhausted or ctx is done, then
// waits for the requests still in flight. A write failure stops the server.
// A blocked read of in is abandoned when ctx is done.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	group, groupCtx := errgroup.WithContext(ctx)

	s.log.Infof("Serving %d tools over JSON lines", len(s.dispatcher.ListTools()))

	lines := make(chan string)
	readErr := make(chan error, 1)

	go readLines(groupCtx, in, lines, readErr)

	var scanErr error

loop:
	for {
		select {
		case <-groupCtx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				scanErr = <-readErr

				break loop
			}

			group.Go(func() error {
				return s.write(out, s.handle(groupCtx, []byte(line)))
			})
		}
	}

	err := group.Wait()
	if err != nil {
		return err
	}

	if scanErr != nil {
		return fmt.Errorf("failed to read request stream: %w", scanErr)
	}

	if ctx.Err() != nil {
		s.log.Info("Stopped serving JSON lines")
	}

	return nil
}

// readLines sends every non-blank line of in to lines. When in is exhausted it
// reports the read error and closes lines; when ctx is done it just returns.
func readLines(ctx context.Context, in io.Reader, lines chan<- string, readErr chan<- error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		select {
		case lines <- line:
		case <-ctx.Done():
			return
		}
	}

	readErr <- scanner.Err()
	close(lines)
}

func (s *Server) handle(ctx context.Context, line []byte) Response {
	var request Request

	err := json.Unmarshal(line, &request)
	if err != nil {
		s.log.Warnf("Rejecting malformed request: %v", err)

		return failure(nil, fmt.Sprintf("invalid JSON: %v", err))
	}

	if request.Type != typeRequest {
		return failure(request.ID, fmt.Sprintf("unsupported message type: %q", request.Type))
	}

	switch request.Method {
	case MethodListTools:
		return Response{Type: typeResponse, ID: idOrNull(request.ID), Result: s.listTools()}
	case MethodCallTool:
		var params CallParams

		if len(request.Params) > 0 {
			err = json.Unmarshal(request.Params, &params)
			if err != nil {
				return failure(request.ID, fmt.Sprintf("invalid params: %v", err))
			}
		}

		result := s.dispatcher.CallTool(ctx, params.Name, params.Arguments)

		return Response{Type: typeResponse, ID: idOrNull(request.ID), Result: result.Content()}
	default:
		return failure(request.ID, fmt.Sprintf("Unknown method: %s", request.Method))
	}
}

func (s *Server) listTools() ToolList {
	descriptors := s.dispatcher.ListTools()

	list := ToolList{Tools: make([]ToolInfo, 0, len(descriptors))}
	for _, descriptor := range descriptors {
		list.Tools = append(list.Tools, ToolInfo{
			Name:        descriptor.Name,
			Description: descriptor.Description,
			InputSchema: descriptor.InputSchema,
		})
	}

	return list
}

func (s *Server) write(out io.Writer, response Response) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	payload = append(payload, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = out.Write(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	return nil
}

func failure(id json.RawMessage, message string) Response {
	return Response{Type: typeResponse, ID: idOrNull(id), Error: &ErrorBody{Message: message}}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}

	return id
}
