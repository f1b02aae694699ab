package stdimage

import (
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"time"

	"github.com/islishude/imgio/internal/array"
	"github.com/islishude/imgio/internal/format"
	"github.com/islishude/imgio/internal/request"
)

var ErrSingleImage = errors.New("format holds a single image")

type writeOptions struct {
	Quality          int           `mapstructure:"quality" validate:"min=1,max=100"`
	CompressionLevel string        `mapstructure:"compression_level" validate:"omitempty,oneof=default none speed best"`
	Loop             int           `mapstructure:"loop" validate:"min=0"`
	Delay            time.Duration `mapstructure:"delay"`
}

func defaultWriteOptions() writeOptions {
	return writeOptions{Quality: 75, Delay: 100 * time.Millisecond}
}

type writer struct {
	f      *Format
	req    *request.Request
	opts   writeOptions
	images []image.Image
	meta   array.Metadata
}

func (w *writer) Open(opts map[string]any) error {
	w.opts = defaultWriteOptions()
	if err := format.DecodeOptions(opts, &w.opts); err != nil {
		return err
	}
	if !w.f.codec.multi && w.f.codec.encode == nil {
		return fmt.Errorf("%w: no encoder", format.ErrNotImplemented)
	}
	return nil
}

func (w *writer) Append(a *array.Array, _ array.Metadata) error {
	if !w.f.codec.multi && len(w.images) > 0 {
		return fmt.Errorf("%w: %s", ErrSingleImage, w.f.Name())
	}
	img, err := array.ToImage(a)
	if err != nil {
		return err
	}
	w.images = append(w.images, img)
	return nil
}

func (w *writer) SetMeta(meta array.Metadata) error {
	w.meta = meta
	return nil
}

// Close encodes the collected images. Nothing is written when no image was
// appended.
func (w *writer) Close() error {
	if len(w.images) == 0 {
		return nil
	}
	if w.f.codec.local {
		return w.encodeLocal()
	}
	s, err := w.req.GetFile()
	if err != nil {
		return err
	}
	return w.encode(s)
}

func (w *writer) encodeLocal() error {
	path, err := w.req.GetLocalFilename()
	if err != nil {
		return err
	}
	fd, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := w.encode(fd); err != nil {
		_ = fd.Close()
		return err
	}
	return fd.Close()
}

func (w *writer) encode(dst io.Writer) error {
	if !w.f.codec.multi {
		return w.f.codec.encode(dst, w.images[0], w.opts)
	}
	loop := w.opts.Loop
	if v, ok := w.meta.Get("gif", "loop"); ok {
		if n, ok := v.(int); ok {
			loop = n
		}
	}
	g := &gif.GIF{LoopCount: loop}
	delay := int(w.opts.Delay / (10 * time.Millisecond))
	for _, img := range w.images {
		g.Image = append(g.Image, paletted(img))
		g.Delay = append(g.Delay, delay)
	}
	w.req.Logger().Debug("encoding gif", "frames", len(g.Image), "loop", loop, "delay", w.opts.Delay)
	return gif.EncodeAll(dst, g)
}

func paletted(img image.Image) *image.Paletted {
	if p, ok := img.(*image.Paletted); ok {
		return p
	}
	b := img.Bounds()
	p := image.NewPaletted(b, palette.Plan9)
	draw.FloydSteinberg.Draw(p, b, img, b.Min)
	return p
}
