// Package array holds the decoded item representation exchanged between
// readers, writers and callers: a shaped buffer of numeric samples plus
// grouped metadata.
package array

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"slices"
)

type DType string

const (
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// Size returns the number of bytes per sample, or 0 for unknown types.
func (d DType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Uint16:
		return 2
	case Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

var ErrShape = errors.New("data length does not match shape")

// Array is a dense, row-major buffer of little-endian samples.
type Array struct {
	Shape []int
	DType DType
	Data  []byte
	Meta  Metadata
}

// New allocates a zeroed array.
func New(dtype DType, shape ...int) (*Array, error) {
	if dtype.Size() == 0 {
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d", d)
		}
		n *= d
	}
	return &Array{Shape: slices.Clone(shape), DType: dtype, Data: make([]byte, n*dtype.Size())}, nil
}

// FromBytes wraps data without copying. The length must match the shape.
func FromBytes(dtype DType, data []byte, shape ...int) (*Array, error) {
	a := &Array{Shape: slices.Clone(shape), DType: dtype, Data: data}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Len is the number of samples.
func (a *Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

func (a *Array) Validate() error {
	if a.DType.Size() == 0 {
		return fmt.Errorf("unsupported dtype %q", a.DType)
	}
	if want := a.Len() * a.DType.Size(); want != len(a.Data) {
		return fmt.Errorf("%w: shape %v wants %d bytes, have %d", ErrShape, a.Shape, want, len(a.Data))
	}
	return nil
}

// At returns sample i converted to float64.
func (a *Array) At(i int) float64 {
	switch a.DType {
	case Uint8:
		return float64(a.Data[i])
	case Uint16:
		return float64(binary.LittleEndian.Uint16(a.Data[i*2:]))
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(a.Data[i*4:])))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(a.Data[i*8:]))
	}
	return 0
}

// Set stores v into sample i, converting to the array dtype.
func (a *Array) Set(i int, v float64) {
	switch a.DType {
	case Uint8:
		a.Data[i] = uint8(v)
	case Uint16:
		binary.LittleEndian.PutUint16(a.Data[i*2:], uint16(v))
	case Float32:
		binary.LittleEndian.PutUint32(a.Data[i*4:], math.Float32bits(float32(v)))
	case Float64:
		binary.LittleEndian.PutUint64(a.Data[i*8:], math.Float64bits(v))
	}
}

// Equal compares shape, dtype and samples. Metadata is ignored.
func (a *Array) Equal(b *Array) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.DType == b.DType && slices.Equal(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}

// FromImage converts an image into a (h, w) uint8 array for gray images and a
// (h, w, 4) uint8 RGBA array otherwise.
func FromImage(img image.Image) *Array {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch src := img.(type) {
	case *image.Gray:
		a, _ := New(Uint8, h, w)
		for y := 0; y < h; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(a.Data[y*w:(y+1)*w], src.Pix[off:off+w])
		}
		return a
	case *image.Gray16:
		a, _ := New(Uint16, h, w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				a.Set(y*w+x, float64(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
		return a
	}
	a, _ := New(Uint8, h, w, 4)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			o := (y*w + x) * 4
			a.Data[o], a.Data[o+1], a.Data[o+2], a.Data[o+3] = c.R, c.G, c.B, c.A
		}
	}
	return a
}

// ToImage converts a 2-D gray or 3-D (h, w, 1|3|4) array into an image.
func ToImage(a *Array) (image.Image, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if len(a.Shape) < 2 || len(a.Shape) > 3 {
		return nil, fmt.Errorf("cannot convert array of shape %v to an image", a.Shape)
	}
	h, w := a.Shape[0], a.Shape[1]
	channels := 1
	if len(a.Shape) == 3 {
		channels = a.Shape[2]
	}
	rect := image.Rect(0, 0, w, h)
	switch {
	case channels == 1 && a.DType == Uint16:
		img := image.NewGray16(rect)
		for i := 0; i < w*h; i++ {
			img.SetGray16(i%w, i/w, color.Gray16{Y: uint16(a.At(i))})
		}
		return img, nil
	case channels == 1:
		img := image.NewGray(rect)
		for i := 0; i < w*h; i++ {
			img.Pix[i] = clamp8(a.At(i))
		}
		return img, nil
	case channels == 3 || channels == 4:
		img := image.NewNRGBA(rect)
		for i := 0; i < w*h; i++ {
			o := i * 4
			img.Pix[o] = clamp8(a.At(i*channels))
			img.Pix[o+1] = clamp8(a.At(i*channels + 1))
			img.Pix[o+2] = clamp8(a.At(i*channels + 2))
			img.Pix[o+3] = 255
			if channels == 4 {
				img.Pix[o+3] = clamp8(a.At(i*channels + 3))
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("unsupported channel count %d", channels)
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}
