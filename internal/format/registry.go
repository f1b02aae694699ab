package format

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/islishude/imgio/internal/request"
)

// Registry is an ordered set of formats. Registration order is search order.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	formats []Format
}

// NewRegistry registers formats in the given order.
func NewRegistry(formats ...Format) (*Registry, error) {
	r := &Registry{}
	for _, f := range formats {
		if err := r.Add(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) indexOf(name string) int {
	return slices.IndexFunc(r.formats, func(f Format) bool {
		return strings.EqualFold(f.Name(), name)
	})
}

// Add appends f. A format whose name is already registered is rejected;
// use Replace to swap it.
func (r *Registry) Add(f Format) error {
	if f == nil {
		return fmt.Errorf("add format: nil format")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.indexOf(f.Name()) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateFormat, f.Name())
	}
	r.formats = append(r.formats, f)
	return nil
}

// Replace swaps the format registered under f's name in place, or appends f
// when the name is new.
func (r *Registry) Replace(f Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOf(f.Name()); i >= 0 {
		r.formats[i] = f
		return
	}
	r.formats = append(r.formats, f)
}

// Formats returns the registered formats in order.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.formats)
}

// ByExtension returns every format listing ext, in registration order.
func (r *Registry) ByExtension(ext string) []Format {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	var out []Format
	for _, f := range r.Formats() {
		if slices.Contains(f.Extensions(), ext) {
			out = append(out, f)
		}
	}
	return out
}

// Lookup resolves a format name, an extension or a file path. An existing
// file is first matched by content. Only the last path element is matched
// after that: one with an extension is matched by it. Otherwise the name is compared with format names, then
// with format names cut at their last dash, and finally retried as an
// extension.
func (r *Registry) Lookup(name string) (Format, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrFormatNotFound)
	}
	if st, err := os.Stat(name); err == nil && st.Mode().IsRegular() {
		req, err := request.New(request.FromURI(name), request.Mode{Direction: request.Read, Expect: request.ExpectAny}, request.Config{})
		if err == nil {
			f := r.SearchRead(req)
			_ = req.Finish()
			if f != nil {
				return f, nil
			}
		}
	}

	formats := r.Formats()
	base := filepath.Base(name)
	if ext := filepath.Ext(base); ext != "" {
		if fs := r.ByExtension(ext); len(fs) > 0 {
			return fs[0], nil
		}
		return nil, fmt.Errorf("%w: no format known by name %s", ErrFormatNotFound, name)
	}

	upper := strings.ToUpper(base)
	for _, f := range formats {
		if f.Name() == upper {
			return f, nil
		}
	}
	for _, f := range formats {
		if i := strings.LastIndex(f.Name(), "-"); i > 0 && f.Name()[:i] == upper {
			return f, nil
		}
	}
	if fs := r.ByExtension(base); len(fs) > 0 {
		return fs[0], nil
	}
	return nil, fmt.Errorf("%w: no format known by name %s", ErrFormatNotFound, name)
}

// SearchRead returns the first format, in registration order, that answers
// Yes to CanRead and supports the request's mode. When none does, the oldest
// queued potential format of the request is returned. It returns nil when
// nothing is found.
func (r *Registry) SearchRead(req *request.Request) Format {
	return r.search(req, Format.CanRead)
}

// SearchSave is SearchRead for CanSave.
func (r *Registry) SearchSave(req *request.Request) Format {
	return r.search(req, Format.CanSave)
}

func (r *Registry) search(req *request.Request, can func(Format, *request.Request) Capability) Format {
	for _, f := range r.Formats() {
		if !supportsMode(f, req.Mode()) {
			continue
		}
		if can(f, req) == Yes {
			return f
		}
	}
	for c := req.PotentialFormat(); c != nil; c = req.PotentialFormat() {
		if f, ok := c.(Format); ok {
			return f
		}
	}
	return nil
}
