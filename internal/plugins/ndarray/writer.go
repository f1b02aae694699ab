package ndarray

import (
	"github.com/islishude/imgio/internal/array"
	"github.com/islishude/imgio/internal/compress"
	"github.com/islishude/imgio/internal/format"
	"github.com/islishude/imgio/internal/request"
)

type writeOptions struct {
	Compression string `mapstructure:"compression" validate:"oneof=none gzip bzip2 xz zstd lz4"`
	Level       *int   `mapstructure:"level" validate:"omitempty,min=-2,max=22"`
}

type writer struct {
	req    *request.Request
	stream request.Stream
	opts   writeOptions
	meta   array.Metadata
	items  int
}

func (w *writer) Open(opts map[string]any) error {
	w.opts = writeOptions{Compression: string(compress.None)}
	if err := format.DecodeOptions(opts, &w.opts); err != nil {
		return err
	}
	s, err := w.req.GetFile()
	if err != nil {
		return err
	}
	w.stream = s
	_, err = s.Write(magic)
	return err
}

func (w *writer) Append(a *array.Array, meta array.Metadata) error {
	t := compress.Type(w.opts.Compression)
	payload, err := encodePayload(a.Data, t, w.opts.Level)
	if err != nil {
		return err
	}
	h := header{DType: a.DType, Shape: a.Shape, Compression: t, Meta: meta}
	if err := writeRecord(w.stream, recordItem, h, payload); err != nil {
		return err
	}
	w.items++
	return nil
}

func (w *writer) SetMeta(meta array.Metadata) error {
	w.meta = meta
	return nil
}

// Close writes the resource metadata record, if any, after the items.
func (w *writer) Close() error {
	w.req.Logger().Debug("ndarray written", "items", w.items, "compression", w.opts.Compression)
	if len(w.meta) == 0 {
		return nil
	}
	return writeRecord(w.stream, recordMeta, header{Meta: w.meta}, nil)
}
