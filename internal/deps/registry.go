package deps

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Markdown converts Markdown source to HTML.
type Markdown interface {
	Convert(src string) (string, error)
}

// Sanitizer strips unsafe markup from an HTML fragment.
type Sanitizer interface {
	Sanitize(html string) string
}

// Capabilities is the set of optional rendering libraries available to the widget.
// A nil field means the capability is absent.
type Capabilities struct {
	Markdown  Markdown
	Sanitizer Sanitizer
}

func (c Capabilities) merge(other Capabilities) Capabilities {
	if c.Markdown == nil {
		c.Markdown = other.Markdown
	}
	if c.Sanitizer == nil {
		c.Sanitizer = other.Sanitizer
	}
	return c
}

// Library is an optional dependency that can be loaded on demand
type Library interface {
	// Name returns the library identifier
	Name() string

	// Present reports whether caps already provides this library
	Present(caps Capabilities) bool

	// Load fetches the library and returns the capabilities it contributes
	Load(ctx context.Context) (Capabilities, error)
}

// Status is the outcome of ensuring one library
type Status int

const (
	StatusPresent Status = iota // Supplied by the host, not loaded
	StatusLoaded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPresent:
		return "present"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result records what happened to one library during EnsureDependencies
type Result struct {
	Name   string
	Status Status
	Err    error
}

// Registry manages the optional libraries the widget knows how to load
type Registry struct {
	libs   []Library
	byName map[string]int
	logger *slog.Logger
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]int),
		logger: logger,
	}
}

// Register adds a library, replacing any library with the same name
func (r *Registry) Register(lib Library) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byName[lib.Name()]; ok {
		r.libs[i] = lib
		return
	}
	r.byName[lib.Name()] = len(r.libs)
	r.libs = append(r.libs, lib)
}

// Get retrieves a library by name
func (r *Registry) Get(name string) (Library, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return r.libs[i], true
}

// All returns the registered libraries in registration order
func (r *Registry) All() []Library {
	r.mu.RLock()
	defer r.mu.RUnlock()
	libs := make([]Library, len(r.libs))
	copy(libs, r.libs)
	return libs
}

// Count returns the number of registered libraries
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.libs)
}

// EnsureDependencies loads every registered library that present does not already
// provide. Loads run concurrently and all of them finish before it returns. A failed
// load is logged and the capability stays absent; it is never retried.
func (r *Registry) EnsureDependencies(ctx context.Context, present Capabilities) (Capabilities, []Result) {
	libs := r.All()
	results := make([]Result, len(libs))
	loaded := make([]Capabilities, len(libs))

	var g errgroup.Group
	for i, lib := range libs {
		results[i] = Result{Name: lib.Name(), Status: StatusPresent}
		if lib.Present(present) {
			continue
		}
		i, lib := i, lib
		g.Go(func() error {
			caps, err := lib.Load(ctx)
			if err != nil {
				r.logger.Warn("failed to load dependency, continuing without it",
					"library", lib.Name(), "error", err)
				results[i] = Result{Name: lib.Name(), Status: StatusFailed, Err: err}
				return nil
			}
			loaded[i] = caps
			results[i] = Result{Name: lib.Name(), Status: StatusLoaded}
			r.logger.Debug("dependency loaded", "library", lib.Name())
			return nil
		})
	}
	_ = g.Wait()

	caps := present
	for _, c := range loaded {
		caps = caps.merge(c)
	}
	return caps, results
}
