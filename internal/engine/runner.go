package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/islishude/imgio/internal/cli"
	"github.com/islishude/imgio/internal/config"
	"github.com/islishude/imgio/internal/plugins"
	"github.com/islishude/imgio/internal/progress"
	"github.com/islishude/imgio/internal/request"
	"github.com/islishude/imgio/internal/storage/remote"
	s3store "github.com/islishude/imgio/internal/storage/s3"
)

const (
	ExitSuccess = 0
	ExitWarning = 1
	ExitFatal   = 2
)

type Runner struct {
	engine *Engine
	cfg    *config.Config
	logger *slog.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	errMu  sync.Mutex
}

type RunResult struct {
	ExitCode int
	Err      error
}

// New wires the built-in formats, the remote opener and the S3 store from
// cfg. Progress is rendered to stderr when verbose is set.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, verbose bool, stdin io.Reader, stdout, stderr io.Writer) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s3s, err := s3store.New(ctx, s3store.Settings{
		PartSizeMB:   cfg.S3.PartSizeMB,
		Concurrency:  cfg.S3.Concurrency,
		SSE:          cfg.S3.SSE,
		SSEKMSKeyID:  cfg.S3.SSEKMSKeyID,
		UsePathStyle: cfg.S3.UsePathStyle,
		MaxRetries:   cfg.S3.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3: %w", err)
	}
	r := newRunner(cfg, logger, stdin, stdout, stderr)
	r.engine.Remote = &remote.Opener{
		Timeout:   cfg.Remote.Timeout,
		UserAgent: cfg.Remote.UserAgent,
		S3:        s3s,
		Logger:    logger,
	}
	r.engine.Uploader = s3s
	if verbose {
		r.engine.Progress = &lockedSink{sink: progress.Terminal{W: stderr}}
	}
	return r, nil
}

func newRunner(cfg *config.Config, logger *slog.Logger, stdin io.Reader, stdout, stderr io.Writer) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine: &Engine{Registry: plugins.NewRegistry(), Config: cfg, Logger: logger},
		cfg:    cfg,
		logger: logger,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
}

// Engine exposes the engine the runner converts with.
func (r *Runner) Engine() *Engine { return r.engine }

func (r *Runner) Run(ctx context.Context, opts cli.Options) RunResult {
	switch opts.Command {
	case cli.CommandConvert:
		warnings, err := r.runConvert(ctx, opts)
		return classifyResult(err, warnings)
	case cli.CommandInfo:
		warnings, err := r.runInfo(ctx, opts)
		return classifyResult(err, warnings)
	case cli.CommandFormats:
		return classifyResult(r.runFormats(), 0)
	case cli.CommandConfig:
		return classifyResult(r.runConfig(opts), 0)
	default:
		return RunResult{ExitCode: ExitFatal, Err: fmt.Errorf("unsupported command %q", opts.Command)}
	}
}

func classifyResult(err error, warnings int) RunResult {
	if err != nil {
		return RunResult{ExitCode: ExitFatal, Err: err}
	}
	if warnings > 0 {
		return RunResult{ExitCode: ExitWarning}
	}
	return RunResult{ExitCode: ExitSuccess}
}

func (r *Runner) warnf(format string, args ...any) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	_, _ = fmt.Fprintf(r.stderr, "imgio: warning: "+format+"\n", args...)
}

// source maps "-" to stdin or stdout.
func (r *Runner) source(arg string, write bool) request.Source {
	if arg != "-" {
		return request.FromURI(arg)
	}
	if write {
		return request.FromWriter(r.stdout)
	}
	return request.FromReader(r.stdin)
}

func toAnyMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// lockedSink serializes renders from concurrent conversions.
type lockedSink struct {
	mu   sync.Mutex
	sink progress.Sink
}

func (s *lockedSink) Render(e progress.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink.Render(e)
}
