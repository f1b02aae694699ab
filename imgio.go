// Package imgio reads and writes images and volumes through pluggable
// formats. Resources are files, zip members, byte slices, streams, HTTP,
// FTP and S3 objects.
package imgio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/islishude/imgio/internal/array"
	"github.com/islishude/imgio/internal/config"
	"github.com/islishude/imgio/internal/engine"
	"github.com/islishude/imgio/internal/format"
	"github.com/islishude/imgio/internal/plugins"
	"github.com/islishude/imgio/internal/progress"
	"github.com/islishude/imgio/internal/request"
	"github.com/islishude/imgio/internal/storage/remote"
	s3store "github.com/islishude/imgio/internal/storage/s3"
)

type (
	Array    = array.Array
	Metadata = array.Metadata
	Config   = config.Config
	Format   = format.Format
	Registry = format.Registry
	Reader   = format.Reader
	Writer   = format.Writer
	Source   = request.Source
	Options  = engine.ReadOptions
)

// ResourceMeta selects whole-resource metadata in Reader.GetMetaData.
const ResourceMeta = format.ResourceMeta

var (
	ErrFormatNotFound   = format.ErrFormatNotFound
	ErrModeNotSupported = format.ErrModeNotSupported
)

func FromURI(uri string) Source     { return request.FromURI(uri) }
func FromBytes(data []byte) Source  { return request.FromBytes(data) }
func FromReader(r io.Reader) Source { return request.FromReader(r) }
func FromWriter(w io.Writer) Source { return request.FromWriter(w) }
func ToMemory() Source              { return request.ToMemory() }

type Client struct {
	engine *engine.Engine
}

type settings struct {
	cfg        *config.Config
	logger     *slog.Logger
	registry   *format.Registry
	httpClient *http.Client
	progress   progress.Sink
	s3         bool
}

type Option func(*settings)

// WithConfig replaces the defaults. Missing values are still defaulted.
func WithConfig(cfg Config) Option {
	return func(s *settings) { s.cfg = &cfg }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithRegistry searches reg instead of DefaultRegistry.
func WithRegistry(reg *Registry) Option {
	return func(s *settings) { s.registry = reg }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithProgress renders temp file copies to w.
func WithProgress(w io.Writer) Option {
	return func(s *settings) { s.progress = progress.Terminal{W: w} }
}

// WithS3 enables s3:// and ARN resources using the default AWS credential
// chain.
func WithS3() Option {
	return func(s *settings) { s.s3 = true }
}

// DefaultRegistry returns a new registry holding the built-in formats.
func DefaultRegistry() *Registry {
	return plugins.NewRegistry()
}

func New(ctx context.Context, opts ...Option) (*Client, error) {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if s.cfg == nil {
		def := config.Default()
		s.cfg = &def
	} else {
		config.ApplyDefaults(s.cfg)
	}
	if err := config.Validate(s.cfg); err != nil {
		return nil, err
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry == nil {
		s.registry = DefaultRegistry()
	}

	opener := &remote.Opener{
		Timeout:   s.cfg.Remote.Timeout,
		UserAgent: s.cfg.Remote.UserAgent,
		Client:    s.httpClient,
		Logger:    s.logger,
	}
	e := &engine.Engine{
		Registry: s.registry,
		Config:   s.cfg,
		Remote:   opener,
		Progress: s.progress,
		Logger:   s.logger,
	}
	if s.s3 {
		store, err := s3store.New(ctx, s3store.Settings{
			PartSizeMB:   s.cfg.S3.PartSizeMB,
			Concurrency:  s.cfg.S3.Concurrency,
			SSE:          s.cfg.S3.SSE,
			SSEKMSKeyID:  s.cfg.S3.SSEKMSKeyID,
			UsePathStyle: s.cfg.S3.UsePathStyle,
			MaxRetries:   s.cfg.S3.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3: %w", err)
		}
		opener.S3 = store
		e.Uploader = store
	}
	return &Client{engine: e}, nil
}

func (c *Client) Registry() *Registry { return c.engine.Registry }

// Read returns an open reader. The caller closes it.
func (c *Client) Read(ctx context.Context, src Source, o Options) (*Reader, error) {
	return c.engine.Read(ctx, src, o)
}

// Save returns an open writer. The caller closes it; for ToMemory the
// encoded bytes are then available from Writer.Request().Result().
func (c *Client) Save(ctx context.Context, dst Source, o Options) (*Writer, error) {
	return c.engine.Save(ctx, dst, o)
}

// ReadAll reads every item and the resource metadata.
func (c *Client) ReadAll(ctx context.Context, src Source, o Options) (items []*Array, meta Metadata, err error) {
	rd, err := c.Read(ctx, src, o)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		err = errors.Join(err, rd.Close())
	}()

	for item, ierr := range rd.Iterate() {
		if ierr != nil {
			return nil, nil, ierr
		}
		items = append(items, item)
	}
	meta, err = rd.GetMetaData(ResourceMeta)
	if err != nil {
		return nil, nil, err
	}
	return items, meta, nil
}

// SaveAll writes items with their own metadata, then meta for the whole
// resource. It returns the encoded bytes when dst is ToMemory.
func (c *Client) SaveAll(ctx context.Context, dst Source, items []*Array, meta Metadata, o Options) ([]byte, error) {
	wr, err := c.Save(ctx, dst, o)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := wr.AppendData(item, item.Meta); err != nil {
			return nil, errors.Join(err, wr.Close())
		}
	}
	if len(meta) > 0 {
		if err := wr.SetMetaData(meta); err != nil {
			return nil, errors.Join(err, wr.Close())
		}
	}
	if err := wr.Close(); err != nil {
		return nil, err
	}
	return wr.Request().Result(), nil
}
