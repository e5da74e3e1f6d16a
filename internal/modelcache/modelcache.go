// Package modelcache locates and purges on-disk model artifacts.
//
// Model downloads are occasionally left truncated or corrupted. Before an engine
// load is retried, the artifacts at a fixed set of candidate locations are removed
// so the next attempt starts from a clean download.
package modelcache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	envCacheDir     = "SPEECH_MCP_CACHE_DIR"
	envHFHome       = "HF_HOME"
	envXDGCacheHome = "XDG_CACHE_HOME"
)

// Cache layout.
const (
	appName            = "speech-mcp"
	modelsDirName      = "models"
	huggingFaceDirName = "huggingface"
	hubDirName         = "hub"
	hubModelPrefix     = "models--"
	hubSeparator       = "--"
)

// unsafeNameChars are replaced by '_' in on-disk model directory names.
const unsafeNameChars = `<>:"/\|?*`

// ErrEmptyModelID is returned when candidate paths are requested without a model id.
var ErrEmptyModelID = errors.New("model id cannot be empty")

// Locator resolves the directories that may hold cached model artifacts.
type Locator struct {
	// CacheDir is the application's own cache directory.
	CacheDir string
	// HuggingFaceHome is the root of the shared Hugging Face cache.
	HuggingFaceHome string
	// ExtraDirs are additional roots under which a model directory may live.
	ExtraDirs []string
}

// DefaultLocator builds a Locator from the environment and OS conventions.
func DefaultLocator(extraDirs ...string) Locator {
	return Locator{
		CacheDir:        appCacheDir(),
		HuggingFaceHome: huggingFaceHome(),
		ExtraDirs:       extraDirs,
	}
}

func appCacheDir() string {
	dir := os.Getenv(envCacheDir)
	if dir != "" {
		return dir
	}

	return filepath.Join(userCacheRoot(), appName)
}

func huggingFaceHome() string {
	dir := os.Getenv(envHFHome)
	if dir != "" {
		return dir
	}

	return filepath.Join(userCacheRoot(), huggingFaceDirName)
}

// userCacheRoot follows XDG_CACHE_HOME, then os.UserCacheDir, then the temp dir.
func userCacheRoot() string {
	dir := os.Getenv(envXDGCacheHome)
	if dir != "" {
		return dir
	}

	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), appName+"-cache")
	}

	return dir
}

// CandidatePaths returns, in a deterministic order, every location where artifacts
// for modelID may have been cached.
func (l Locator) CandidatePaths(modelID string) ([]string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, ErrEmptyModelID
	}

	var paths []string

	if l.HuggingFaceHome != "" {
		hubName := hubModelPrefix + strings.ReplaceAll(modelID, "/", hubSeparator)
		paths = append(paths, filepath.Join(l.HuggingFaceHome, hubDirName, hubName))
	}

	if l.CacheDir != "" {
		paths = append(paths, filepath.Join(l.CacheDir, modelsDirName, SafeName(modelID)))
	}

	for _, dir := range l.ExtraDirs {
		if dir == "" {
			continue
		}

		paths = append(paths, filepath.Join(dir, filepath.FromSlash(modelID)))
	}

	return paths, nil
}

// Purge removes every existing path. Missing paths are skipped silently; failures
// are collected and returned so the caller can log them without aborting.
func Purge(paths []string) (removed []string, errs []error) {
	for _, path := range paths {
		_, statErr := os.Stat(path)
		if os.IsNotExist(statErr) {
			continue
		}

		removeErr := os.RemoveAll(path)
		if removeErr != nil {
			errs = append(errs, fmt.Errorf("failed to remove cached model at %s: %w", path, removeErr))

			continue
		}

		removed = append(removed, path)
	}

	return removed, errs
}

// SafeName turns a model id into a single path element.
func SafeName(modelID string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeNameChars, r) {
			return '_'
		}

		return r
	}, modelID)
}
