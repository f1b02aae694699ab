package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/islishude/imgio/internal/cli"
	"github.com/islishude/imgio/internal/format"
	"github.com/islishude/imgio/internal/locator"
	"github.com/islishude/imgio/internal/progress"
	"github.com/islishude/imgio/internal/request"
)

type conversion struct {
	in, out string
}

func readOptions(opts cli.Options) ReadOptions {
	expect := request.ExpectAny
	if opts.Expect != "" {
		expect = request.Expect(opts.Expect[0])
	}
	return ReadOptions{Format: opts.Format, Expect: expect, Options: toAnyMap(opts.Options)}
}

// runConvert converts one input to one output, or, with --to, every input
// into the output directory. A failed file in a batch is a warning; a
// failed single conversion is fatal.
func (r *Runner) runConvert(ctx context.Context, opts cli.Options) (int, error) {
	ro := readOptions(opts)
	so := SaveOptions{Options: ro.Options}

	if opts.To == "" {
		return 0, r.convert(ctx, opts.Args[0], opts.Args[1], ro, so)
	}

	to, err := r.engine.Registry.Lookup(opts.To)
	if err != nil {
		return 0, err
	}
	so.Format = to.Name()
	// --to names an extension or a format; a format writes its first one.
	ext := strings.ToLower(opts.To)
	if exts := to.Extensions(); len(exts) > 0 && !slices.Contains(exts, ext) {
		ext = exts[0]
	}
	plan, err := planBatch(opts.Args, opts.Chdir, ext)
	if err != nil {
		return 0, err
	}

	limit := opts.Jobs
	if limit == 0 && r.cfg != nil {
		limit = r.cfg.Convert.Jobs
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(limit, 1))

	var warnings atomic.Int64
	for _, c := range plan {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := r.convert(gctx, c.in, c.out, ro, so); err != nil {
				if ctx.Err() != nil {
					return err
				}
				warnings.Add(1)
				r.warnf("%s: %v", c.in, err)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(warnings.Load()), err
}

// planBatch maps every input to <dir>/<base>.<ext>. Without dir, local
// inputs are converted next to themselves and remote ones into the working
// directory.
func planBatch(inputs []string, dir, ext string) ([]conversion, error) {
	seen := make(map[string]string, len(inputs))
	plan := make([]conversion, 0, len(inputs))
	for _, in := range inputs {
		if in == "-" {
			return nil, fmt.Errorf("stdin cannot be converted with --to; name an output instead")
		}
		ref, err := locator.Parse(in, false)
		if err != nil {
			return nil, err
		}
		name, parent := outputName(ref)
		if name == "" {
			return nil, fmt.Errorf("cannot derive an output name from %q", locator.Truncate(in, 60))
		}
		name = strings.TrimSuffix(name, path.Ext(name)) + "." + ext

		var out string
		switch {
		case dir == "":
			out = filepath.Join(parent, name)
		case strings.Contains(dir, "://"):
			out = strings.TrimSuffix(dir, "/") + "/" + name
		default:
			out = filepath.Join(dir, name)
		}
		if prev, ok := seen[out]; ok {
			return nil, fmt.Errorf("inputs %q and %q both convert to %q", prev, in, out)
		}
		seen[out] = in
		plan = append(plan, conversion{in: in, out: out})
	}
	return plan, nil
}

func outputName(ref locator.Ref) (name, parent string) {
	switch ref.Kind {
	case locator.KindZip:
		return path.Base(filepath.ToSlash(ref.Member)), filepath.Dir(ref.Archive)
	case locator.KindHTTP, locator.KindFTP:
		return path.Base(ref.URL.Path), "."
	case locator.KindS3:
		return path.Base(ref.Key), "."
	default:
		return filepath.Base(ref.Path), filepath.Dir(ref.Path)
	}
}

func (r *Runner) convert(ctx context.Context, in, out string, ro ReadOptions, so SaveOptions) error {
	rd, err := r.engine.Read(ctx, r.source(in, false), ro)
	if err != nil {
		return err
	}
	if out == "-" && so.Format == "" {
		// stdout has no extension to search by.
		so.Format = rd.Format().Name()
	}
	wr, err := r.engine.Save(ctx, r.source(out, true), so)
	if err != nil {
		return errors.Join(err, rd.Close())
	}

	var ind *progress.Indicator
	if r.engine.Progress != nil {
		ind = progress.New(in, r.engine.Progress)
		total, _ := rd.Length()
		if total == format.Unbounded {
			total = 0
		}
		ind.Start("convert to "+out, "items", int64(total))
	}

	n, copyErr := copyItems(ctx, rd, wr, ind)
	err = errors.Join(copyErr, wr.Close(), rd.Close())
	if ind != nil {
		if err != nil {
			_ = ind.Fail(err.Error())
		} else {
			_ = ind.Finish(out)
		}
	}
	if err != nil {
		return err
	}
	r.logger.Debug("converted", "input", in, "output", out, "items", n,
		"reader", rd.Format().Name(), "writer", wr.Format().Name())
	return nil
}

func copyItems(ctx context.Context, rd *format.Reader, wr *format.Writer, ind *progress.Indicator) (int, error) {
	n := 0
	for item, err := range rd.Iterate() {
		if err != nil {
			return n, err
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := wr.AppendData(item, nil); err != nil {
			return n, err
		}
		n++
		if ind != nil {
			_ = ind.IncreaseProgress(1)
		}
	}
	// Streamed resources only know their metadata once exhausted.
	meta, err := rd.GetMetaData(format.ResourceMeta)
	if err != nil {
		return n, err
	}
	return n, wr.SetMetaData(meta)
}
