// Package stdimage exposes the common raster codecs as formats: PNG, JPEG,
// GIF, BMP and TIFF. Content is sniffed with filetype.
package stdimage

import (
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	filetype "gopkg.in/h2non/filetype.v1"
	"gopkg.in/h2non/filetype.v1/matchers"
	"gopkg.in/h2non/filetype.v1/types"

	"github.com/islishude/imgio/internal/format"
	"github.com/islishude/imgio/internal/request"
)

type codec struct {
	kind   types.Type
	decode func(io.Reader) (image.Image, error)
	encode func(io.Writer, image.Image, writeOptions) error
	// local codecs work on a path from GetLocalFilename instead of the stream.
	local bool
	multi bool
}

var codecs = map[string]codec{
	"PNG": {
		kind:   matchers.TypePng,
		decode: png.Decode,
		encode: func(w io.Writer, img image.Image, o writeOptions) error {
			enc := png.Encoder{CompressionLevel: pngLevels[o.CompressionLevel]}
			return enc.Encode(w, img)
		},
	},
	"JPEG": {
		kind:   matchers.TypeJpeg,
		decode: jpeg.Decode,
		encode: func(w io.Writer, img image.Image, o writeOptions) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: o.Quality})
		},
	},
	"GIF": {
		kind:   matchers.TypeGif,
		decode: gif.Decode,
		multi:  true,
	},
	"BMP": {
		kind:   matchers.TypeBmp,
		decode: bmp.Decode,
		encode: func(w io.Writer, img image.Image, _ writeOptions) error { return bmp.Encode(w, img) },
	},
	"TIFF": {
		kind:   matchers.TypeTiff,
		decode: tiff.Decode,
		encode: func(w io.Writer, img image.Image, o writeOptions) error {
			ct := tiff.Uncompressed
			if o.CompressionLevel != "" && o.CompressionLevel != "none" {
				ct = tiff.Deflate
			}
			return tiff.Encode(w, img, &tiff.Options{Compression: ct})
		},
		local: true,
	},
}

var pngLevels = map[string]png.CompressionLevel{
	"":        png.DefaultCompression,
	"default": png.DefaultCompression,
	"none":    png.NoCompression,
	"speed":   png.BestSpeed,
	"best":    png.BestCompression,
}

// Format is one raster codec.
type Format struct {
	format.Base
	codec codec
}

func newFormat(name, description, modes string, exts ...string) *Format {
	return &Format{Base: format.NewBase(name, description, modes, exts...), codec: codecs[name]}
}

func PNG() *Format  { return newFormat("PNG", "Portable Network Graphics", "i", "png") }
func JPEG() *Format { return newFormat("JPEG", "JPEG File Interchange Format", "i", "jpg", "jpeg", "jpe") }
func GIF() *Format  { return newFormat("GIF", "Graphics Interchange Format", "iI", "gif") }
func BMP() *Format  { return newFormat("BMP", "Windows bitmap", "i", "bmp") }
func TIFF() *Format { return newFormat("TIFF", "Tagged Image File Format", "i", "tif", "tiff") }

// All returns one instance of every codec in registration order.
func All() []format.Format {
	return []format.Format{PNG(), JPEG(), GIF(), BMP(), TIFF()}
}

// CanRead answers Yes when the content matches the codec. A matching
// extension alone queues the format as a fallback and answers Unknown.
func (f *Format) CanRead(req *request.Request) format.Capability {
	fb, err := req.FirstBytes()
	if err != nil {
		req.Logger().Debug("sniff failed", "format", f.Name(), "error", err)
	}
	if len(fb) > 0 {
		if t, err := filetype.Match(fb); err == nil && t == f.codec.kind {
			return format.Yes
		}
	}
	if f.HasExtension(req.Extension()) {
		req.AddPotentialFormat(f)
		return format.Unknown
	}
	return format.No
}

func (f *Format) CanSave(req *request.Request) format.Capability {
	switch {
	case f.HasExtension(req.Extension()):
		return format.Yes
	case req.Extension() == "":
		return format.Unknown
	default:
		return format.No
	}
}

func (f *Format) Reader(req *request.Request) (format.ReadHandler, error) {
	if f.codec.decode == nil {
		return nil, fmt.Errorf("%w: no decoder", format.ErrNotImplemented)
	}
	return &reader{f: f, req: req}, nil
}

func (f *Format) Writer(req *request.Request) (format.WriteHandler, error) {
	return &writer{f: f, req: req}, nil
}
