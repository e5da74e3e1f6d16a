package app_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/book-expert/speech-mcp/internal/app"
	"github.com/book-expert/speech-mcp/internal/config"
	"github.com/book-expert/speech-mcp/internal/core"
	"github.com/book-expert/speech-mcp/internal/engine/kokoro"
	"github.com/book-expert/speech-mcp/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	lastVoice atomic.Value
}

func (e *fakeEngine) Voices(_ context.Context) ([]core.Voice, error) {
	return []core.Voice{
		{ID: "af_heart", Grade: "A"},
		{ID: "af_bella", Grade: "A-"},
		{ID: "zz_quiet", Grade: "F"},
	}, nil
}

func (e *fakeEngine) Synthesize(_ context.Context, req core.SpeechRequest) ([]byte, error) {
	e.lastVoice.Store(req.Voice)

	return []byte("RIFF-fake"), nil
}

func (e *fakeEngine) Close() error { return nil }

type fakeLoader struct {
	engine *fakeEngine
}

func (l *fakeLoader) Load(_ context.Context) (core.Engine, error) { return l.engine, nil }

func (l *fakeLoader) CachePaths() []string { return nil }

type countingPlayer struct {
	plays atomic.Int32
}

func (p *countingPlayer) Play(_ context.Context, _ string) error {
	p.plays.Add(1)

	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Transport = config.TransportJSONL
	cfg.Speech.ScratchDir = t.TempDir()

	return &cfg
}

func TestApp_ServeJSONL(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	player := &countingPlayer{}

	application, err := app.New(testConfig(t), nil, app.WithLoader(&fakeLoader{engine: engine}), app.WithPlayer(player))
	require.NoError(t, err)

	defer func() { assert.NoError(t, application.Close()) }()

	input := strings.Join([]string{
		`{"type":"request","id":1,"method":"list_tools"}`,
		`{"type":"request","id":2,"method":"call_tool","params":{"name":"text_to_speech","arguments":{"text":"Hello"}}}`,
		`{"type":"request","id":3,"method":"call_tool","params":{"name":"list_voices","arguments":{}}}`,
		`{"type":"request","id":4,"method":"call_tool","params":{"name":"text_to_speech","arguments":{"text":"Hi","voice":"zz_quiet"}}}`,
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, application.Serve(t.Context(), strings.NewReader(input), &out))

	texts := make(map[int]string)
	toolCount := 0

	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var response struct {
			ID     int `json:"id"`
			Result struct {
				Tools   []json.RawMessage `json:"tools"`
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &response))

		if response.ID == 1 {
			toolCount = len(response.Result.Tools)

			continue
		}

		require.Len(t, response.Result.Content, 1)
		texts[response.ID] = response.Result.Content[0].Text
	}

	assert.Equal(t, 4, toolCount)
	assert.Equal(t, "Successfully generated and played audio", texts[2])
	assert.Equal(t, "Available voices:\naf_heart\naf_bella", texts[3])
	assert.Contains(t, texts[4], `"error"`)
	assert.Contains(t, texts[4], "zz_quiet")

	assert.Equal(t, int32(1), player.plays.Load())
	assert.Equal(t, "af_bella", engine.lastVoice.Load())
}

func TestApp_EngineStartsWithServe(t *testing.T) {
	t.Parallel()

	application, err := app.New(testConfig(t), nil,
		app.WithLoader(&fakeLoader{engine: &fakeEngine{}}), app.WithPlayer(&countingPlayer{}))
	require.NoError(t, err)

	assert.Equal(t, "Uninitialized", string(application.Manager.Status().Status))

	require.NoError(t, application.Serve(t.Context(), strings.NewReader(""), &bytes.Buffer{}))

	assert.NotEqual(t, "Uninitialized", string(application.Manager.Status().Status))
}

func TestApp_NotifierWithoutNATS(t *testing.T) {
	t.Parallel()

	application, err := app.New(testConfig(t), nil,
		app.WithLoader(&fakeLoader{engine: &fakeEngine{}}), app.WithPlayer(&countingPlayer{}))
	require.NoError(t, err)

	defer func() { assert.NoError(t, application.Close()) }()

	assert.IsType(t, notify.Noop{}, application.Notifier)
}

func TestApp_RemoteBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Engine.Backend = config.BackendRemote
	cfg.Engine.ServiceURL = "http://127.0.0.1:1"
	cfg.Engine.APIToken = "hf_token"

	application, err := app.New(cfg, nil, app.WithPlayer(&countingPlayer{}))
	require.NoError(t, err)
	assert.NoError(t, application.Close())
}

func TestApp_KokoroNeedsCommand(t *testing.T) {
	t.Parallel()

	_, err := app.New(testConfig(t), nil, app.WithPlayer(&countingPlayer{}))
	require.ErrorIs(t, err, kokoro.ErrNoCommand)
}
