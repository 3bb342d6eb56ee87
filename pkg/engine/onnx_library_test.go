package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestONNXLibrarySearchPath(t *testing.T) {
	linux := onnxLibrarySearchPath("linux", envMap(map[string]string{
		EnvONNXLibrary:    "/custom/libonnxruntime.so",
		"LD_LIBRARY_PATH": "/a" + string(os.PathListSeparator) + "/b",
	}))
	assert.Equal(t, []string{
		"/custom/libonnxruntime.so",
		"/a/libonnxruntime.so",
		"/b/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/opt/onnxruntime/lib/libonnxruntime.so",
	}, linux)

	darwin := onnxLibrarySearchPath("darwin", envMap(map[string]string{
		"DYLD_LIBRARY_PATH": "/dyld",
		"LD_LIBRARY_PATH":   "/ignored",
	}))
	assert.Equal(t, []string{
		"/dyld/libonnxruntime.dylib",
		"/opt/homebrew/lib/libonnxruntime.dylib",
		"/usr/local/lib/libonnxruntime.dylib",
	}, darwin)

	assert.Equal(t, "onnxruntime.dll", onnxLibraryName("windows"))
}

func TestResolveONNXLibrary(t *testing.T) {
	present := map[string]bool{"/usr/local/lib/libonnxruntime.so": true, "/opt/ort.so": true}
	exists := func(p string) bool { return present[p] }
	search := []string{"/usr/lib/libonnxruntime.so", "/usr/local/lib/libonnxruntime.so"}

	got, err := resolveONNXLibrary("", search, exists)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/lib/libonnxruntime.so", got)

	got, err = resolveONNXLibrary("/opt/ort.so", search, exists)
	require.NoError(t, err)
	assert.Equal(t, "/opt/ort.so", got)

	_, err = resolveONNXLibrary("/missing/ort.so", search, exists)
	assert.ErrorIs(t, err, ErrBackendUnavailable, "a configured path is not replaced by discovery")

	_, err = resolveONNXLibrary("", []string{"/nowhere.so"}, exists)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Contains(t, err.Error(), "/nowhere.so")
}

func TestFindONNXLibraryFromEnv(t *testing.T) {
	lib := filepath.Join(t.TempDir(), onnxLibraryName("linux"))
	require.NoError(t, os.WriteFile(lib, []byte{0}, 0o644))
	t.Setenv(EnvONNXLibrary, lib)

	got, err := FindONNXLibrary("")
	require.NoError(t, err)
	assert.Equal(t, lib, got)

	_, err = FindONNXLibrary(t.TempDir())
	assert.ErrorIs(t, err, ErrBackendUnavailable, "a directory is not a library")
}
