// Package mcpserver exposes the tool registry over the Model Context Protocol on
// stdio.
package mcpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/book-expert/speech-mcp/internal/dispatch"
	"github.com/book-expert/speech-mcp/internal/tools"
	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Dispatcher is the part of dispatch.Dispatcher the server needs.
type Dispatcher interface {
	ListTools() []*tools.Descriptor
	CallTool(ctx context.Context, name string, args json.RawMessage) dispatch.Result
}

const methodCallTool = "tools/call"

// Server is an MCP server backed by a Dispatcher.
type Server struct {
	mcp        *server.MCPServer
	dispatcher Dispatcher
	log        *log.Logger
	registered map[string]struct{}
}

// callEnvelope is the part of a tools/call request needed to route it.
type callEnvelope struct {
	ID     *mcp.RequestId `json:"id"`
	Method string         `json:"method"`
	Params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"params"`
}

// New registers every tool of the dispatcher on a fresh MCP server.
func New(name, version string, dispatcher Dispatcher, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	srv := &Server{
		mcp:        server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
		dispatcher: dispatcher,
		log:        logger,
		registered: make(map[string]struct{}),
	}

	for _, descriptor := range dispatcher.ListTools() {
		srv.mcp.AddTool(toMCPTool(descriptor), srv.handler(descriptor.Name))
		srv.registered[descriptor.Name] = struct{}{}
	}

	return srv
}

// HandleMessage answers one JSON-RPC message. Calls to unregistered tools go to
// the dispatcher like any other call, so they get a tool result rather than a
// protocol error.
func (s *Server) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	reply := s.unknownToolCall(ctx, message)
	if reply != nil {
		return reply
	}

	return s.mcp.HandleMessage(ctx, message)
}

// Serve reads requests from in and writes responses to out until ctx is done or
// in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	writer := &lockedWriter{w: out}

	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(s.log.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}))

	s.log.Infof("Serving %d tools over MCP stdio", len(s.dispatcher.ListTools()))

	forwarded, forward := io.Pipe()
	go s.route(ctx, in, forward, writer)

	err := stdio.Listen(ctx, forwarded, writer)
	_ = forwarded.Close()

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp stdio server stopped: %w", err)
	}

	return nil
}

// route copies in to forward line by line, answering calls to unregistered
// tools itself. It stops at the end of in or when forward is closed.
func (s *Server) route(ctx context.Context, in io.Reader, forward *io.PipeWriter, out io.Writer) {
	reader := bufio.NewReader(in)

	for {
		line, readErr := reader.ReadBytes('\n')

		if len(line) > 0 {
			err := s.routeLine(ctx, line, forward, out)
			if err != nil {
				s.log.Errorf("Stopped reading requests: %v", err)
				_ = forward.CloseWithError(err)

				return
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				readErr = nil
			}

			_ = forward.CloseWithError(readErr)

			return
		}
	}
}

func (s *Server) routeLine(ctx context.Context, line []byte, forward, out io.Writer) error {
	reply := s.unknownToolCall(ctx, line)
	if reply != nil {
		encoded, err := json.Marshal(reply)
		if err != nil {
			return fmt.Errorf("failed to encode reply: %w", err)
		}

		_, err = out.Write(append(encoded, '\n'))
		if err != nil {
			return fmt.Errorf("failed to write reply: %w", err)
		}

		return nil
	}

	if line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}

	_, err := forward.Write(line)
	if err != nil {
		return fmt.Errorf("failed to forward request: %w", err)
	}

	return nil
}

// unknownToolCall returns the reply for a tools/call naming a tool that is not
// registered, or nil for every other message.
func (s *Server) unknownToolCall(ctx context.Context, message []byte) mcp.JSONRPCMessage {
	var envelope callEnvelope

	err := json.Unmarshal(message, &envelope)
	if err != nil || envelope.Method != methodCallTool || envelope.ID == nil || envelope.ID.IsNil() {
		return nil
	}

	_, known := s.registered[envelope.Params.Name]
	if known {
		return nil
	}

	result := s.dispatcher.CallTool(ctx, envelope.Params.Name, envelope.Params.Arguments)

	return mcp.NewJSONRPCResultResponse(*envelope.ID, mcp.NewToolResultText(result.WireText()))
}

// lockedWriter serializes writes from the stdio server and the router.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.w.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}

	return n, nil
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := rawArguments(request)
		if err != nil {
			return mcp.NewToolResultText(
				dispatch.Fail(dispatch.KindInvalidArguments, err.Error()).WireText(),
			), nil
		}

		// Failures are success-shaped: the {"error": ...} payload is the content.
		result := s.dispatcher.CallTool(ctx, name, args)

		return mcp.NewToolResultText(result.WireText()), nil
	}
}

// rawArguments re-encodes the decoded arguments so the dispatcher validates the
// same JSON the client sent. Absent arguments stay nil.
func rawArguments(request mcp.CallToolRequest) (json.RawMessage, error) {
	args := request.GetRawArguments()
	if args == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}

	return encoded, nil
}

func toMCPTool(descriptor *tools.Descriptor) mcp.Tool {
	tool := mcp.NewToolWithRawSchema(descriptor.Name, descriptor.Description, descriptor.InputSchema)

	switch descriptor.Name {
	case tools.ListVoices, tools.GetModelStatus:
		tool.Annotations = mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(true),
			DestructiveHint: mcp.ToBoolPtr(false),
			OpenWorldHint:   mcp.ToBoolPtr(false),
		}
	default:
		tool.Annotations = mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(false),
			DestructiveHint: mcp.ToBoolPtr(false),
			OpenWorldHint:   mcp.ToBoolPtr(false),
		}
	}

	return tool
}
