package kokoro_test

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/book-expert/speech-mcp/internal/core"
	"github.com/book-expert/speech-mcp/internal/engine/kokoro"
	"github.com/book-expert/speech-mcp/internal/modelcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	envHelper = "GO_WANT_HELPER_PROCESS"
	envMode   = "FAKE_WORKER_MODE"

	modeHealthy  = "healthy"
	modeFailLoad = "fail-load"
	modeHang     = "hang"
	modeWrongID  = "wrong-id"
)

// TestHelperProcess is not a real test. It stands in for the worker process when
// launched by the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(envHelper) != "1" {
		return
	}

	runFakeWorker(os.Getenv(envMode))
	os.Exit(0)
}

func runFakeWorker(mode string) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		var req map[string]any

		err := json.Unmarshal(scanner.Bytes(), &req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad request: %v\n", err)

			continue
		}

		id, _ := req["id"].(string)
		op, _ := req["op"].(string)

		resp := map[string]any{"id": id, "ok": true}

		switch {
		case mode == modeHang:
			time.Sleep(time.Hour)
		case mode == modeWrongID:
			resp["id"] = "not-" + id
		case op == "load" && mode == modeFailLoad:
			fmt.Fprintln(os.Stderr, "download interrupted")

			resp = map[string]any{"id": id, "ok": false, "error": "model file is corrupt"}
		case op == "load":
			if req["model_id"] != kokoro.DefaultModelID || req["dtype"] != kokoro.DefaultDtype {
				resp = map[string]any{"id": id, "ok": false, "error": "unexpected model options"}
			}
		case op == "voices":
			resp["voices"] = []map[string]string{
				{"id": "af_heart", "grade": "A", "language": "en-us", "gender": "Female"},
				{"id": "af_bella", "grade": "A-", "language": "en-us", "gender": "Female"},
				{"id": "am_santa", "grade": "D-", "language": "en-us", "gender": "Male"},
			}
		case op == "synthesize":
			payload := fmt.Sprintf("RIFF|%s|%s|%v", req["text"], req["voice"], req["speed"])
			resp["audio_base64"] = base64.StdEncoding.EncodeToString([]byte(payload))
			resp["format"] = "wav"
			resp["sample_rate"] = 24000
		default:
			resp = map[string]any{"id": id, "ok": false, "error": "unknown op"}
		}

		_ = encoder.Encode(resp)
	}
}

func newLoader(t *testing.T, mode string) *kokoro.Loader {
	t.Helper()

	loader, err := kokoro.NewLoader(kokoro.Config{
		Command: []string{os.Args[0], "-test.run=^TestHelperProcess$"},
		Env:     []string{envHelper + "=1", envMode + "=" + mode},
		Locator: modelcache.Locator{CacheDir: t.TempDir()},
	}, nil)
	require.NoError(t, err)

	return loader
}

func loadEngine(t *testing.T, mode string) core.Engine {
	t.Helper()

	engine, err := newLoader(t, mode).Load(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { _ = engine.Close() })

	return engine
}

func TestNewLoader_RequiresCommand(t *testing.T) {
	t.Parallel()

	_, err := kokoro.NewLoader(kokoro.Config{}, nil)
	require.ErrorIs(t, err, kokoro.ErrNoCommand)
}

func TestLoader_CachePaths(t *testing.T) {
	t.Parallel()

	cacheDir := t.TempDir()

	loader, err := kokoro.NewLoader(kokoro.Config{
		Command: []string{"worker"},
		Locator: modelcache.Locator{CacheDir: cacheDir},
	}, nil)
	require.NoError(t, err)

	paths := loader.CachePaths()
	require.NotEmpty(t, paths)
	assert.Contains(t, paths[0], "onnx-community_Kokoro-82M-ONNX")
}

func TestEngine_Voices(t *testing.T) {
	t.Parallel()

	engine := loadEngine(t, modeHealthy)

	voices, err := engine.Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 3)

	assert.Equal(t, "af_heart", voices[0].ID)
	assert.Equal(t, "A", voices[0].Grade)
	assert.Equal(t, "am_santa", voices[2].ID)
}

func TestEngine_Synthesize(t *testing.T) {
	t.Parallel()

	engine := loadEngine(t, modeHealthy)

	audio, err := engine.Synthesize(context.Background(), core.SpeechRequest{
		Text:  "Hello",
		Voice: "af_bella",
		Speed: 1.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "RIFF|Hello|af_bella|1.5", string(audio))
}

func TestLoader_LoadFailureIncludesWorkerError(t *testing.T) {
	t.Parallel()

	_, err := newLoader(t, modeFailLoad).Load(context.Background())
	require.ErrorIs(t, err, kokoro.ErrWorkerFailed)
	assert.Contains(t, err.Error(), "model file is corrupt")
}

func TestLoader_LoadOutOfSync(t *testing.T) {
	t.Parallel()

	_, err := newLoader(t, modeWrongID).Load(context.Background())
	require.ErrorIs(t, err, kokoro.ErrOutOfSync)
}

func TestLoader_LoadCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := newLoader(t, modeHang).Load(ctx)
	require.ErrorIs(t, err, kokoro.ErrWorkerClosed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoader_MissingBinary(t *testing.T) {
	t.Parallel()

	loader, err := kokoro.NewLoader(kokoro.Config{
		Command: []string{"/nonexistent/kokoro-worker"},
	}, nil)
	require.NoError(t, err)

	_, err = loader.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start worker")
}

func TestEngine_CallAfterClose(t *testing.T) {
	t.Parallel()

	engine := loadEngine(t, modeHealthy)
	require.NoError(t, engine.Close())

	_, err := engine.Voices(context.Background())
	require.ErrorIs(t, err, kokoro.ErrWorkerClosed)
}
