package format

import (
	"errors"
	"fmt"
	"image"

	"github.com/islishude/imgio/internal/array"
	"github.com/islishude/imgio/internal/request"
)

// Writer is an open format writer bound to one request.
type Writer struct {
	format Format
	req    *request.Request
	h      WriteHandler
	closed bool
}

// Save binds f to req and opens the format handler with the request
// options. When anything fails the request is finished before returning.
func Save(f Format, req *request.Request) (*Writer, error) {
	if !req.Mode().IsWrite() {
		_ = req.Finish()
		return nil, fmt.Errorf("%s: request %s is not a write request", f.Name(), req.Filename())
	}
	h, err := open(f, req, f.Writer)
	if err != nil {
		return nil, err
	}
	return &Writer{format: f, req: req, h: h}, nil
}

func (w *Writer) Format() Format            { return w.format }
func (w *Writer) Request() *request.Request { return w.req }
func (w *Writer) Closed() bool              { return w.closed }

func (w *Writer) checkClosed() error {
	if w.closed {
		return fmt.Errorf("%w: %s writer for %s", ErrClosed, w.format.Name(), w.req.Filename())
	}
	return nil
}

// AppendData writes one item. item is an *array.Array or an image.Image.
// Metadata attached to the item is merged with meta; meta wins per field.
func (w *Writer) AppendData(item any, meta array.Metadata) error {
	if err := w.checkClosed(); err != nil {
		return err
	}
	var a *array.Array
	switch v := item.(type) {
	case *array.Array:
		a = v
	case image.Image:
		a = array.FromImage(v)
	}
	if a == nil {
		return fmt.Errorf("%w: got %T", ErrNotArray, item)
	}
	if err := a.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotArray, err)
	}
	return w.h.Append(a, array.Merge(a.Meta, meta))
}

// SetMetaData replaces the whole-resource metadata.
func (w *Writer) SetMetaData(meta array.Metadata) error {
	if err := w.checkClosed(); err != nil {
		return err
	}
	if meta == nil {
		meta = array.Metadata{}
	}
	return w.h.SetMeta(meta)
}

// Close flushes the handler and finishes the request, which delivers the
// output. Only the first call has an effect.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return errors.Join(w.h.Close(), w.req.Finish())
}
