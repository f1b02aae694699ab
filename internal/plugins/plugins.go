// Package plugins assembles the built-in formats in search order.
package plugins

import (
	"github.com/islishude/imgio/internal/format"
	"github.com/islishude/imgio/internal/plugins/ndarray"
	"github.com/islishude/imgio/internal/plugins/stdimage"
)

// Default returns fresh instances of every built-in format.
func Default() []format.Format {
	return append(stdimage.All(), ndarray.New())
}

// NewRegistry returns a registry holding Default.
func NewRegistry() *format.Registry {
	reg, err := format.NewRegistry(Default()...)
	if err != nil {
		// Built-in names are distinct.
		panic(err)
	}
	return reg
}
