package format

import (
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/islishude/imgio/internal/array"
	"github.com/islishude/imgio/internal/request"
)

// Reader is an open format reader bound to one request. It is open from a
// successful Read until Close; every method except Close fails with
// ErrClosed afterwards.
type Reader struct {
	format   Format
	req      *request.Request
	h        ReadHandler
	closed   bool
	cursor   int
	iterated bool
}

// Read binds f to req and opens the format handler with the request
// options. When anything fails the request is finished before returning.
func Read(f Format, req *request.Request) (*Reader, error) {
	if !req.Mode().IsRead() {
		_ = req.Finish()
		return nil, fmt.Errorf("%s: request %s is not a read request", f.Name(), req.Filename())
	}
	h, err := open(f, req, f.Reader)
	if err != nil {
		return nil, err
	}
	return &Reader{format: f, req: req, h: h, cursor: -1}, nil
}

type opener interface {
	Open(opts map[string]any) error
}

func open[H opener](f Format, req *request.Request, build func(*request.Request) (H, error)) (H, error) {
	var zero H
	if !supportsMode(f, req.Mode()) {
		_ = req.Finish()
		return zero, fmt.Errorf("%w: %s cannot handle mode %s (supports %q)", ErrModeNotSupported, f.Name(), req.Mode(), f.Modes())
	}
	h, err := build(req)
	if err != nil {
		_ = req.Finish()
		return zero, fmt.Errorf("%s: %w", f.Name(), err)
	}
	if err := h.Open(req.Options()); err != nil {
		_ = req.Finish()
		return zero, fmt.Errorf("%s: open %s: %w", f.Name(), req.Filename(), err)
	}
	req.Logger().Debug("format handler opened", "format", f.Name(), "mode", req.Mode().String())
	return h, nil
}

func (r *Reader) Format() Format            { return r.format }
func (r *Reader) Request() *request.Request { return r.req }
func (r *Reader) Closed() bool              { return r.closed }

func (r *Reader) checkClosed() error {
	if r.closed {
		return fmt.Errorf("%w: %s reader for %s", ErrClosed, r.format.Name(), r.req.Filename())
	}
	return nil
}

// Length is the item count declared by the format, possibly Unbounded.
func (r *Reader) Length() (int, error) {
	if err := r.checkClosed(); err != nil {
		return 0, err
	}
	return r.h.Length(), nil
}

// GetData returns item index with its metadata attached and moves the cursor
// to index. A failed fetch leaves the cursor where it was.
func (r *Reader) GetData(index int) (*array.Array, error) {
	if err := r.checkClosed(); err != nil {
		return nil, err
	}
	if n := r.h.Length(); index < 0 || (n != Unbounded && index >= n) {
		return nil, fmt.Errorf("%w: %d (length %d)", ErrIndexOutOfRange, index, n)
	}
	a, meta, err := r.h.Data(index)
	if err != nil {
		return nil, err
	}
	r.cursor = index
	a.Meta = meta
	return a, nil
}

// GetNextData returns the item after the cursor.
func (r *Reader) GetNextData() (*array.Array, error) {
	return r.GetData(r.cursor + 1)
}

// SetIndex makes the next GetNextData return item index.
func (r *Reader) SetIndex(index int) error {
	if err := r.checkClosed(); err != nil {
		return err
	}
	if index < 0 {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	r.cursor = index - 1
	return nil
}

// GetMetaData returns metadata of item index, or of the whole resource for
// ResourceMeta.
func (r *Reader) GetMetaData(index int) (array.Metadata, error) {
	if err := r.checkClosed(); err != nil {
		return nil, err
	}
	return r.h.Meta(index)
}

// Iterate yields items once. Handlers implementing NextReader are streamed
// until io.EOF; otherwise, or when the first Next reports ErrNotImplemented,
// items 0 to Length()-1 are fetched by index. A second call yields
// ErrIterated.
func (r *Reader) Iterate() iter.Seq2[*array.Array, error] {
	return func(yield func(*array.Array, error) bool) {
		if err := r.checkClosed(); err != nil {
			yield(nil, err)
			return
		}
		if r.iterated {
			yield(nil, ErrIterated)
			return
		}
		r.iterated = true

		if nr, ok := r.h.(NextReader); ok {
			a, meta, err := nr.Next()
			if !errors.Is(err, ErrNotImplemented) {
				r.stream(nr, a, meta, err, yield)
				return
			}
		}

		n := r.h.Length()
		for i := 0; n == Unbounded || i < n; i++ {
			a, err := r.GetData(i)
			if n == Unbounded && errors.Is(err, ErrIndexOutOfRange) {
				return
			}
			if !yield(a, err) || err != nil {
				return
			}
		}
	}
}

func (r *Reader) stream(nr NextReader, a *array.Array, meta array.Metadata, err error, yield func(*array.Array, error) bool) {
	for {
		switch {
		case errors.Is(err, io.EOF):
			return
		case err != nil:
			yield(nil, err)
			return
		}
		r.cursor++
		a.Meta = meta
		if !yield(a, nil) {
			return
		}
		if err := r.checkClosed(); err != nil {
			yield(nil, err)
			return
		}
		a, meta, err = nr.Next()
	}
}

// Close closes the handler and finishes the request. Only the first call
// has an effect.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return errors.Join(r.h.Close(), r.req.Finish())
}
