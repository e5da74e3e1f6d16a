package kokoro

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Worker operations.
const (
	opLoad       = "load"
	opVoices     = "voices"
	opSynthesize = "synthesize"
)

const (
	closeGracePeriod = 1200 * time.Millisecond
	unknownError     = "unknown worker error"
)

var (
	// ErrWorkerClosed is returned for calls made after the worker has stopped.
	ErrWorkerClosed = errors.New("kokoro worker closed")
	// ErrOutOfSync indicates a response that does not answer the pending request.
	ErrOutOfSync = errors.New("kokoro worker out of sync")
	// ErrWorkerFailed wraps an error reported by the worker itself.
	ErrWorkerFailed = errors.New("kokoro worker error")
)

// request is one line sent to the worker.
type request struct {
	ID      string  `json:"id"`
	Op      string  `json:"op"`
	ModelID string  `json:"model_id,omitempty"`
	Dtype   string  `json:"dtype,omitempty"`
	Text    string  `json:"text,omitempty"`
	Voice   string  `json:"voice,omitempty"`
	Speed   float64 `json:"speed,omitempty"`
}

// response is one line read back from the worker.
type response struct {
	ID          string       `json:"id"`
	OK          bool         `json:"ok"`
	Error       string       `json:"error,omitempty"`
	AudioBase64 string       `json:"audio_base64,omitempty"`
	Format      string       `json:"format,omitempty"`
	SampleRate  int          `json:"sample_rate,omitempty"`
	Voices      []voiceEntry `json:"voices,omitempty"`
}

type voiceEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
	Grade    string `json:"grade"`
	Traits   string `json:"traits"`
}

// worker is a long-lived child process answering one JSON line per request line.
// Requests are serialized; the protocol has no multiplexing.
type worker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	dec    *json.Decoder
	closed bool
	waited chan error

	stderrMu sync.Mutex
	lastErr  string
}

func startWorker(argv, env []string, logger *log.Logger) (*worker, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stderr: %w", err)
	}

	err = cmd.Start()
	if err != nil {
		return nil, fmt.Errorf("failed to start worker %q: %w", argv[0], err)
	}

	w := &worker{
		cmd:    cmd,
		stdin:  stdin,
		dec:    json.NewDecoder(stdout),
		waited: make(chan error, 1),
	}

	go w.drainStderr(stderr, logger)

	return w, nil
}

// drainStderr forwards worker diagnostics to the log and remembers the last line.
func (w *worker) drainStderr(stderr io.Reader, logger *log.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		logger.Debugf("kokoro worker: %s", line)

		w.stderrMu.Lock()
		w.lastErr = line
		w.stderrMu.Unlock()
	}
}

func (w *worker) lastStderr() string {
	w.stderrMu.Lock()
	defer w.stderrMu.Unlock()

	return w.lastErr
}

// call sends req and waits for the matching response. A cancelled ctx kills the
// worker, since a half-read response cannot be resynchronised.
func (w *worker) call(ctx context.Context, req request) (response, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return response{}, ErrWorkerClosed
	}

	req.ID = uuid.NewString()

	line, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("failed to marshal %s request: %w", req.Op, err)
	}

	type outcome struct {
		resp response
		err  error
	}

	done := make(chan outcome, 1)

	go func() {
		_, writeErr := w.stdin.Write(append(line, '\n'))
		if writeErr != nil {
			done <- outcome{err: fmt.Errorf("failed to write %s request: %w", req.Op, writeErr)}

			return
		}

		var resp response

		decodeErr := w.dec.Decode(&resp)
		if decodeErr != nil {
			done <- outcome{err: fmt.Errorf("failed to read %s response: %w", req.Op, decodeErr)}

			return
		}

		done <- outcome{resp: resp}
	}()

	select {
	case <-ctx.Done():
		w.closed = true
		w.stop()

		return response{}, fmt.Errorf("%w: %w", ErrWorkerClosed, ctx.Err())
	case result := <-done:
		if result.err != nil {
			if detail := w.lastStderr(); detail != "" {
				return response{}, fmt.Errorf("%w (worker stderr: %s)", result.err, detail)
			}

			return response{}, result.err
		}

		return w.check(req, result.resp)
	}
}

func (w *worker) check(req request, resp response) (response, error) {
	if resp.ID != req.ID {
		return response{}, fmt.Errorf("%w: got %q, expected %q", ErrOutOfSync, resp.ID, req.ID)
	}

	if !resp.OK {
		msg := strings.TrimSpace(resp.Error)
		if msg == "" {
			msg = unknownError
		}

		return response{}, fmt.Errorf("%w: %s: %s", ErrWorkerFailed, req.Op, msg)
	}

	return resp, nil
}

// Close stops the worker, interrupting it first and killing it after a grace period.
func (w *worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.stop()

	return nil
}

func (w *worker) stop() {
	_ = w.stdin.Close()

	if w.cmd.Process == nil {
		return
	}

	_ = w.cmd.Process.Signal(os.Interrupt)

	go func() { w.waited <- w.cmd.Wait() }()

	select {
	case <-time.After(closeGracePeriod):
		_ = w.cmd.Process.Kill()
		<-w.waited
	case <-w.waited:
	}
}
