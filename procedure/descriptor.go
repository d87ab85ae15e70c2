package procedure

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MaxPathLength is the maximum allowed length for a procedure path.
const MaxPathLength = 256

// Ref identifies a procedure independent of its input and output types.
// Every Descriptor is a Ref.
type Ref interface {
	Path() string
}

// Descriptor names a remote procedure and binds its input and output types.
// The zero value is not usable; construct with NewDescriptor.
type Descriptor[In, Out any] struct {
	path string
}

// NewDescriptor creates a descriptor for the procedure at path.
// Paths are dot-separated segments, e.g. "post.byId".
func NewDescriptor[In, Out any](path string) (Descriptor[In, Out], error) {
	if err := ValidatePath(path); err != nil {
		return Descriptor[In, Out]{}, err
	}
	return Descriptor[In, Out]{path: path}, nil
}

// MustDescriptor is like NewDescriptor but panics on an invalid path.
// Intended for package-level variable declarations.
func MustDescriptor[In, Out any](path string) Descriptor[In, Out] {
	d, err := NewDescriptor[In, Out](path)
	if err != nil {
		panic(fmt.Sprintf("procedure: MustDescriptor(%q): %v", path, err))
	}
	return d
}

// Path returns the procedure path.
func (d Descriptor[In, Out]) Path() string { return d.path }

// ValidatePath checks whether a path can name a procedure.
func ValidatePath(path string) error {
	if path == "" || strings.TrimSpace(path) == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	if strings.ContainsAny(path, " \t\n\r:") {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return ErrInvalidPath
		}
	}
	return nil
}

// Registry holds the set of known procedures. The set is closed once
// construction completes, so lookups never see partial registrations.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: Register rejects invalid and duplicate paths.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]Ref
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]Ref)}
}

// Register adds a procedure to the registry.
func (r *Registry) Register(p Ref) error {
	if p == nil {
		return ErrInvalidPath
	}
	if err := ValidatePath(p.Path()); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.procs[p.Path()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, p.Path())
	}
	r.procs[p.Path()] = p
	return nil
}

// Lookup returns the procedure registered at path.
func (r *Registry) Lookup(path string) (Ref, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[path]
	return p, ok
}

// Paths returns all registered paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.procs))
	for p := range r.procs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
