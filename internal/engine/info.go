package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/islishude/imgio/internal/array"
	"github.com/islishude/imgio/internal/cli"
	"github.com/islishude/imgio/internal/config"
	"github.com/islishude/imgio/internal/format"
)

type resourceInfo struct {
	Resource string         `json:"resource" yaml:"resource"`
	Format   string         `json:"format" yaml:"format"`
	Length   *int           `json:"length,omitempty" yaml:"length,omitempty"`
	Meta     array.Metadata `json:"meta,omitempty" yaml:"meta,omitempty"`
	Items    []itemInfo     `json:"items" yaml:"items"`
}

type itemInfo struct {
	Index int            `json:"index" yaml:"index"`
	DType array.DType    `json:"dtype" yaml:"dtype"`
	Shape []int          `json:"shape" yaml:"shape,flow"`
	Meta  array.Metadata `json:"meta,omitempty" yaml:"meta,omitempty"`
}

type infoEncoder interface {
	Encode(v any) error
}

// runInfo describes every input. With a single input a failure is fatal;
// otherwise it is reported as a warning and the next input is described.
func (r *Runner) runInfo(ctx context.Context, opts cli.Options) (int, error) {
	var enc infoEncoder
	switch opts.Output {
	case cli.OutputJSON:
		enc = json.NewEncoder(r.stdout)
	default:
		ye := yaml.NewEncoder(r.stdout)
		ye.SetIndent(2)
		defer ye.Close()
		enc = ye
	}

	ro := readOptions(opts)
	warnings := 0
	for _, arg := range opts.Args {
		if err := ctx.Err(); err != nil {
			return warnings, err
		}
		info, err := r.describe(ctx, arg, ro)
		if err == nil {
			err = enc.Encode(info)
		}
		if err != nil {
			if len(opts.Args) == 1 {
				return 0, err
			}
			warnings++
			r.warnf("%s: %v", arg, err)
		}
	}
	return warnings, nil
}

func (r *Runner) describe(ctx context.Context, arg string, ro ReadOptions) (resourceInfo, error) {
	rd, err := r.engine.Read(ctx, r.source(arg, false), ro)
	if err != nil {
		return resourceInfo{}, err
	}
	defer rd.Close()

	info := resourceInfo{Resource: arg, Format: rd.Format().Name(), Items: []itemInfo{}}
	if n, err := rd.Length(); err != nil {
		return info, err
	} else if n != format.Unbounded {
		info.Length = &n
	}

	i := 0
	for item, err := range rd.Iterate() {
		if err != nil {
			return info, err
		}
		info.Items = append(info.Items, itemInfo{Index: i, DType: item.DType, Shape: item.Shape, Meta: item.Meta})
		i++
	}
	if info.Meta, err = rd.GetMetaData(format.ResourceMeta); err != nil {
		return info, err
	}
	return info, rd.Close()
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// runFormats prints the registry in search order.
func (r *Runner) runFormats() error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "MODES", "EXTENSIONS", "DESCRIPTION").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, f := range r.engine.Registry.Formats() {
		t.Row(f.Name(), f.Modes(), strings.Join(f.Extensions(), " "), f.Description())
	}
	_, err := fmt.Fprintln(r.stdout, t.Render())
	return err
}

// runConfig creates a default config file with --init, or prints the
// effective configuration.
func (r *Runner) runConfig(opts cli.Options) error {
	if opts.Init {
		path, err := config.Init(opts.ConfigPath, opts.Force)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(r.stdout, path)
		return err
	}
	if r.cfg == nil {
		def := config.Default()
		return config.Write(r.stdout, &def)
	}
	return config.Write(r.stdout, r.cfg)
}
