package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/islishude/imgio/internal/config"
	"github.com/islishude/imgio/internal/format"
	"github.com/islishude/imgio/internal/locator"
	"github.com/islishude/imgio/internal/progress"
	"github.com/islishude/imgio/internal/request"
)

// Engine resolves formats for resources and hands out bound readers and
// writers. It is safe for concurrent use; every call builds its own request.
type Engine struct {
	Registry *format.Registry
	Config   *config.Config
	Remote   request.Opener
	Uploader request.Uploader
	// Progress, when set, receives temp file materialization events.
	Progress progress.Sink
	Logger   *slog.Logger
}

// ReadOptions and SaveOptions select a format explicitly (by name or
// extension) or leave it to registry search, narrowed by Expect.
type ReadOptions struct {
	Format  string
	Expect  request.Expect
	Options map[string]any
}

type SaveOptions = ReadOptions

// Read returns an open reader for src.
func (e *Engine) Read(ctx context.Context, src request.Source, o ReadOptions) (*format.Reader, error) {
	req, f, err := e.resolve(ctx, src, request.Read, o)
	if err != nil {
		return nil, err
	}
	return format.Read(f, req)
}

// Save returns an open writer for dst.
func (e *Engine) Save(ctx context.Context, dst request.Source, o SaveOptions) (*format.Writer, error) {
	req, f, err := e.resolve(ctx, dst, request.Write, o)
	if err != nil {
		return nil, err
	}
	return format.Save(f, req)
}

func (e *Engine) resolve(ctx context.Context, src request.Source, dir request.Direction, o ReadOptions) (*request.Request, format.Format, error) {
	expect := o.Expect
	if expect == 0 {
		expect = request.ExpectAny
	}
	req, err := request.New(src, request.Mode{Direction: dir, Expect: expect}, e.requestConfig(ctx, src, o))
	if err != nil {
		return nil, nil, err
	}

	var f format.Format
	switch {
	case o.Format != "":
		f, err = e.Registry.Lookup(o.Format)
	case dir == request.Read:
		f = e.Registry.SearchRead(req)
	default:
		f = e.Registry.SearchSave(req)
	}
	if f == nil && err == nil {
		verb := "read"
		if dir == request.Write {
			verb = "write"
		}
		err = fmt.Errorf("%w: could not find a format to %s %s in mode %q",
			format.ErrFormatNotFound, verb, locator.Truncate(req.Filename(), 60), req.Mode().String())
	}
	if err != nil {
		_ = req.Finish()
		return nil, nil, err
	}

	e.applyFormatDefaults(f, req.Options())
	e.logger().Debug("format resolved", "format", f.Name(), "resource", req.Filename(), "mode", req.Mode().String())
	return req, f, nil
}

func (e *Engine) requestConfig(ctx context.Context, src request.Source, o ReadOptions) request.Config {
	cfg := request.Config{
		Options:  maps.Clone(o.Options),
		Remote:   e.Remote,
		Uploader: e.Uploader,
		Logger:   e.logger(),
		Context:  ctx,
	}
	if e.Config != nil {
		cfg.FirstBytes = e.Config.Request.FirstBytes
		cfg.TempDir = e.Config.Request.TempDir
	}
	if e.Progress != nil {
		cfg.Progress = progress.New(src.String(), e.Progress)
	}
	return cfg
}

// applyFormatDefaults adds configured options for f that the caller did
// not set.
func (e *Engine) applyFormatDefaults(f format.Format, opts map[string]any) {
	if e.Config == nil {
		return
	}
	for k, v := range e.Config.Formats[f.Name()] {
		if _, ok := opts[k]; !ok {
			opts[k] = v
		}
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}
