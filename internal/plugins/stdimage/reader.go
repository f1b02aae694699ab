package stdimage

import (
	"fmt"
	"image"
	"image/gif"
	"os"

	"github.com/islishude/imgio/internal/array"
	"github.com/islishude/imgio/internal/format"
	"github.com/islishude/imgio/internal/request"
)

type reader struct {
	f      *Format
	req    *request.Request
	frames []image.Image
	delays []int
	loop   int
}

func (r *reader) Open(map[string]any) error {
	if r.f.codec.local {
		return r.openLocal()
	}
	s, err := r.req.GetFile()
	if err != nil {
		return err
	}
	if r.f.codec.multi {
		g, err := gif.DecodeAll(s)
		if err != nil {
			return err
		}
		for _, p := range g.Image {
			r.frames = append(r.frames, p)
		}
		r.delays, r.loop = g.Delay, g.LoopCount
		return nil
	}
	img, err := r.f.codec.decode(s)
	if err != nil {
		return err
	}
	r.frames = []image.Image{img}
	return nil
}

func (r *reader) openLocal() error {
	path, err := r.req.GetLocalFilename()
	if err != nil {
		return err
	}
	fd, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fd.Close() //nolint:errcheck
	img, err := r.f.codec.decode(fd)
	if err != nil {
		return err
	}
	r.frames = []image.Image{img}
	return nil
}

func (r *reader) Close() error {
	r.frames = nil
	return nil
}

func (r *reader) Length() int { return len(r.frames) }

func (r *reader) Data(index int) (*array.Array, array.Metadata, error) {
	if index < 0 || index >= len(r.frames) {
		return nil, nil, fmt.Errorf("%w: %d", format.ErrIndexOutOfRange, index)
	}
	meta, err := r.Meta(index)
	if err != nil {
		return nil, nil, err
	}
	return array.FromImage(r.frames[index]), meta, nil
}

func (r *reader) Meta(index int) (array.Metadata, error) {
	meta := array.Metadata{}
	if index == format.ResourceMeta {
		meta.Set("image", "format", r.f.Name())
		meta.Set("image", "frames", len(r.frames))
		if r.f.codec.multi {
			meta.Set("gif", "loop", r.loop)
		}
		return meta, nil
	}
	if index < 0 || index >= len(r.frames) {
		return nil, fmt.Errorf("%w: %d", format.ErrIndexOutOfRange, index)
	}
	b := r.frames[index].Bounds()
	meta.Set("image", "width", b.Dx())
	meta.Set("image", "height", b.Dy())
	if index < len(r.delays) {
		// GIF delays are in hundredths of a second.
		meta.Set("gif", "delay_ms", r.delays[index]*10)
	}
	return meta, nil
}
