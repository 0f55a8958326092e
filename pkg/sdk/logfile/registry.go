package logfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Registry shares open log files between writers. Writers pointed at the
// same absolute path get the same Handle; the file is closed when the last
// of them releases it.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used when a Config does
// not name one.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Acquire returns the shared handle for path, opening the file for append
// if no writer holds it yet.
func (r *Registry) Acquire(path string) (*Handle, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[abs]; ok {
		h.refs++
		return h, nil
	}

	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lock, err := openLock(lockPath(abs))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open lock: %w", err)
	}

	h := &Handle{path: abs, file: f, lock: lock, refs: 1}
	r.handles[abs] = h
	return h, nil
}

// Release drops one reference to h and closes the file when none remain.
func (r *Registry) Release(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h.refs == 0 {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	delete(r.handles, h.path)

	h.mu.Lock()
	defer h.mu.Unlock()
	lerr := h.lock.close()
	if err := h.file.Close(); err != nil {
		return err
	}
	return lerr
}

// Len returns the number of open handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Handle is an append-only log file shared by every writer of its path.
type Handle struct {
	path string
	refs int // guarded by the owning Registry's mu

	mu   sync.Mutex
	file *os.File
	lock *fileLock
}

// Path returns the absolute file path.
func (h *Handle) Path() string {
	return h.path
}

// Write appends p in one piece. Writes are serialized between goroutines and
// between processes sharing the path.
func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.lock.lock(); err != nil {
		return 0, fmt.Errorf("failed to lock %s: %w", h.path, err)
	}
	defer h.lock.unlock()

	return h.file.Write(p)
}

// lockPath names the lock file of a log path. It sits beside the log so every
// process writing the path agrees on it. The log file itself stays free of
// locks so readers and shippers never contend with writers.
func lockPath(abs string) string {
	return filepath.Join(filepath.Dir(abs), fmt.Sprintf(".tinyevents-%016x.lock", xxhash.Sum64String(abs)))
}
