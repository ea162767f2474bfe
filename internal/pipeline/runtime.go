package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// RuntimeOptions fixes the resources the inference engine may use.
type RuntimeOptions struct {
	SharedLibrary   string
	Workers         int
	IntraOpThreads  int
	InterOpThreads  int
	DisableMemArena bool
	MemoryLimitMB   int64
}

func (o *RuntimeOptions) normalize() {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.IntraOpThreads <= 0 {
		o.IntraOpThreads = 1
	}
	if o.InterOpThreads <= 0 {
		o.InterOpThreads = 1
	}
}

// Runtime owns the process-wide ONNX Runtime environment.
type Runtime struct {
	opts    RuntimeOptions
	libPath string

	mu     sync.Mutex
	closed bool
}

// NewRuntime locates the onnxruntime shared library, initializes the environment
// and applies the Go memory limit. searchDirs are searched before the system paths.
func NewRuntime(opts RuntimeOptions, searchDirs ...string) (*Runtime, error) {
	opts.normalize()

	libPath := resolveSharedLibraryPath(opts.SharedLibrary, searchDirs)
	if libPath == "" {
		return nil, errors.New("onnxruntime shared library not found; set runtime.shared_library or ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnxruntime: %w", err)
		}
	}

	if opts.MemoryLimitMB > 0 {
		debug.SetMemoryLimit(opts.MemoryLimitMB << 20)
	}

	return &Runtime{opts: opts, libPath: libPath}, nil
}

// LibraryPath returns the shared library the environment was initialized from.
func (r *Runtime) LibraryPath() string { return r.libPath }

// Workers returns the number of concurrent inference slots per model.
func (r *Runtime) Workers() int { return r.opts.Workers }

func (r *Runtime) sessionOptions() (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(r.opts.IntraOpThreads); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("set intra threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(r.opts.InterOpThreads); err != nil {
		opts.Destroy()
		return nil, fmt.Errorf("set inter threads: %w", err)
	}
	if r.opts.DisableMemArena {
		if err := opts.SetCpuMemArena(false); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("disable cpu mem arena: %w", err)
		}
		if err := opts.SetMemPattern(false); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("disable mem pattern: %w", err)
		}
	}
	return opts, nil
}

// Close tears down the environment. Models must be closed first.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

var sharedLibraryNames = []string{
	"libonnxruntime.so",
	"onnxruntime.so",
	"libonnxruntime.dylib",
	"onnxruntime.dylib",
	"onnxruntime.dll",
}

// resolveSharedLibraryPath returns explicit when set, otherwise the first
// known library name found under searchDirs or the usual system locations.
func resolveSharedLibraryPath(explicit string, searchDirs []string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}

	var dirs []string
	for _, d := range searchDirs {
		if strings.TrimSpace(d) == "" {
			continue
		}
		dirs = append(dirs, d, filepath.Join(d, "lib"))
	}
	dirs = append(dirs, ".", "/usr/local/lib", "/usr/lib", "/opt/homebrew/lib")

	for _, dir := range dirs {
		for _, name := range sharedLibraryNames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	return ""
}
