package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EnvONNXLibrary names the variable that points at the ONNX Runtime shared
// library when no path is configured.
const EnvONNXLibrary = "ONNXRUNTIME_LIB"

// onnxLibraryName returns the shared library file name for goos.
func onnxLibraryName(goos string) string {
	switch goos {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	}
	return "libonnxruntime.so"
}

// onnxLibrarySearchPath lists the places searched for the runtime, in order:
// $ONNXRUNTIME_LIB, then the dynamic loader path, then the usual install
// prefixes.
func onnxLibrarySearchPath(goos string, getenv func(string) string) []string {
	name := onnxLibraryName(goos)

	var paths []string
	if p := getenv(EnvONNXLibrary); p != "" {
		paths = append(paths, p)
	}

	loaderVar := "LD_LIBRARY_PATH"
	prefixes := []string{"/usr/lib", "/usr/local/lib", "/opt/onnxruntime/lib"}
	if goos == "darwin" {
		loaderVar = "DYLD_LIBRARY_PATH"
		prefixes = []string{"/opt/homebrew/lib", "/usr/local/lib"}
	}
	for _, dir := range filepath.SplitList(getenv(loaderVar)) {
		if dir != "" {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	for _, dir := range prefixes {
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths
}

// resolveONNXLibrary returns the shared library to load. A configured path
// must exist; it is never replaced by a discovered one.
func resolveONNXLibrary(configured string, search []string, exists func(string) bool) (string, error) {
	if configured != "" {
		if !exists(configured) {
			return "", fmt.Errorf("%w: onnx runtime library %s not found", ErrBackendUnavailable, configured)
		}
		return configured, nil
	}
	for _, p := range search {
		if exists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: onnx runtime library not found (searched %s); set engine.onnx_library or $%s",
		ErrBackendUnavailable, strings.Join(search, ", "), EnvONNXLibrary)
}

// FindONNXLibrary resolves the ONNX Runtime shared library for this host.
func FindONNXLibrary(configured string) (string, error) {
	return resolveONNXLibrary(configured, onnxLibrarySearchPath(runtime.GOOS, os.Getenv), fileExists)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
