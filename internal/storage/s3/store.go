package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	tmtypes "github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager/types"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/islishude/imgio/internal/locator"
)

type Store struct {
	client   *awss3.Client
	tm       *transfermanager.Client
	settings Settings
}

type Settings struct {
	PartSizeMB   int64
	Concurrency  int
	SSE          string
	SSEKMSKeyID  string
	UsePathStyle bool
	MaxRetries   int
}

type Metadata struct {
	Size        int64
	ETag        string
	ContentType string
}

func New(ctx context.Context, settings Settings) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	if settings.MaxRetries > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(settings.MaxRetries))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	if settings.PartSizeMB <= 0 {
		settings.PartSizeMB = 16
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = 4
	}
	settings.SSE = strings.ToLower(strings.TrimSpace(settings.SSE))
	settings.SSEKMSKeyID = strings.TrimSpace(settings.SSEKMSKeyID)

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.UsePathStyle = settings.UsePathStyle
	})
	tm := transfermanager.New(client, func(o *transfermanager.Options) {
		o.PartSizeBytes = settings.PartSizeMB * 1024 * 1024
		o.Concurrency = settings.Concurrency
	})
	return &Store{client: client, tm: tm, settings: settings}, nil
}

func (s *Store) OpenReader(ctx context.Context, ref locator.Ref) (io.ReadCloser, Metadata, error) {
	if ref.Kind != locator.KindS3 {
		return nil, Metadata{}, fmt.Errorf("ref %q is not s3", ref.Raw)
	}
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{Bucket: aws.String(ref.Bucket), Key: aws.String(ref.Key)})
	if err != nil {
		return nil, Metadata{}, err
	}
	meta := Metadata{
		Size:        aws.ToInt64(out.ContentLength),
		ETag:        aws.ToString(out.ETag),
		ContentType: aws.ToString(out.ContentType),
	}
	return out.Body, meta, nil
}

// UploadStream writes body to the object named by ref. The content type is
// derived from the key extension.
func (s *Store) UploadStream(ctx context.Context, ref locator.Ref, body io.Reader, metadata map[string]string) error {
	if ref.Kind != locator.KindS3 {
		return fmt.Errorf("ref %q is not s3", ref.Raw)
	}
	in := &transfermanager.UploadObjectInput{
		Bucket:      aws.String(ref.Bucket),
		Key:         aws.String(ref.Key),
		Body:        body,
		ContentType: aws.String(contentTypeForKey(ref.Key)),
		Metadata:    metadata,
	}
	s.applyEncryption(in)
	_, err := s.tm.UploadObject(ctx, in)
	return err
}

func (s *Store) applyEncryption(in *transfermanager.UploadObjectInput) {
	switch s.settings.SSE {
	case "", "aes256", "sse-s3":
		in.ServerSideEncryption = tmtypes.ServerSideEncryptionAes256
	case "aws:kms", "sse-kms":
		in.ServerSideEncryption = tmtypes.ServerSideEncryptionAwsKms
		if s.settings.SSEKMSKeyID != "" {
			in.SSEKMSKeyID = aws.String(s.settings.SSEKMSKeyID)
		}
	case "none":
		return
	default:
		in.ServerSideEncryption = tmtypes.ServerSideEncryptionAes256
	}
}

var imageContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpe":  "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".nda":  "application/x-ndarray",
	".zip":  "application/zip",
}

func contentTypeForKey(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ext == "" {
		return "application/octet-stream"
	}
	if ct, ok := imageContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
