package modelcache_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/speech-mcp/internal/modelcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModelID = "onnx-community/Kokoro-82M-ONNX"

func TestLocator_CandidatePaths(t *testing.T) {
	t.Parallel()

	locator := modelcache.Locator{
		CacheDir:        "/cache/speech-mcp",
		HuggingFaceHome: "/cache/huggingface",
		ExtraDirs:       []string{"", "/opt/models"},
	}

	paths, err := locator.CandidatePaths(testModelID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join("/cache/huggingface", "hub", "models--onnx-community--Kokoro-82M-ONNX"),
		filepath.Join("/cache/speech-mcp", "models", "onnx-community_Kokoro-82M-ONNX"),
		filepath.Join("/opt/models", "onnx-community", "Kokoro-82M-ONNX"),
	}, paths)

	again, err := locator.CandidatePaths(testModelID)
	require.NoError(t, err)
	assert.Equal(t, paths, again, "candidate paths must be deterministic")
}

func TestLocator_CandidatePaths_EmptyModelID(t *testing.T) {
	t.Parallel()

	_, err := modelcache.Locator{CacheDir: "/cache"}.CandidatePaths("  ")
	require.ErrorIs(t, err, modelcache.ErrEmptyModelID)
}

func TestPurge(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	existing := filepath.Join(root, "models", "kokoro")
	require.NoError(t, os.MkdirAll(existing, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "model.onnx"), []byte("partial"), 0o600))

	missing := filepath.Join(root, "does-not-exist")

	removed, errs := modelcache.Purge([]string{missing, existing})
	assert.Empty(t, errs)
	assert.Equal(t, []string{existing}, removed)

	_, statErr := os.Stat(existing)
	assert.True(t, os.IsNotExist(statErr), "purged directory should be gone")
}

func TestSafeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a_b_c_d", modelcache.SafeName("a/b:c*d"))
}
