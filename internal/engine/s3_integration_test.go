package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/islishude/imgio/internal/cli"
	"github.com/islishude/imgio/internal/request"
)

// s3Endpoint returns the LocalStack endpoint if configured, or skips the test.
func s3Endpoint(t *testing.T) string {
	t.Helper()
	ep := os.Getenv("IMGIO_TEST_S3_ENDPOINT")
	if ep == "" {
		t.Skip("IMGIO_TEST_S3_ENDPOINT not set; skipping S3 integration test")
	}
	return ep
}

// setupS3Bucket creates a temporary bucket that is emptied and deleted when
// the test finishes.
func setupS3Bucket(t *testing.T, ctx context.Context, endpoint string) (*awss3.Client, string) {
	t.Helper()
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
			})),
	)
	if err != nil {
		t.Fatalf("load aws config: %v", err)
	}

	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	bucket := fmt.Sprintf("imgio-test-%d", os.Getpid())
	if _, err := client.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Fatalf("create bucket %s: %v", bucket, err)
	}

	t.Cleanup(func() {
		list, _ := client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{Bucket: aws.String(bucket)})
		if list != nil {
			for _, obj := range list.Contents {
				_, _ = client.DeleteObject(ctx, &awss3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &awss3.DeleteBucketInput{Bucket: aws.String(bucket)})
	})
	return client, bucket
}

func putObject(t *testing.T, ctx context.Context, client *awss3.Client, bucket, key string, body []byte) {
	t.Helper()
	_, err := client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("put s3://%s/%s: %v", bucket, key, err)
	}
}

func getObject(t *testing.T, ctx context.Context, client *awss3.Client, bucket, key string) []byte {
	t.Helper()
	out, err := client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		t.Fatalf("get s3://%s/%s: %v", bucket, key, err)
	}
	defer out.Body.Close() // nolint: errcheck
	b, err := io.ReadAll(out.Body)
	if err != nil {
		t.Fatalf("read s3://%s/%s: %v", bucket, key, err)
	}
	return b
}

// newRunnerWithEndpoint creates a fully wired Runner pointing at endpoint.
func newRunnerWithEndpoint(t *testing.T, endpoint string, stdout, stderr io.Writer) *Runner {
	t.Helper()
	t.Setenv("AWS_ENDPOINT_URL", endpoint)
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_REGION", "us-east-1")

	cfg := testConfig()
	cfg.S3.UsePathStyle = true
	r, err := New(context.Background(), cfg, nil, false, nil, stdout, stderr)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestS3ConvertToLocal(t *testing.T) {
	ctx := context.Background()
	ep := s3Endpoint(t)
	client, bucket := setupS3Bucket(t, ctx, ep)
	putObject(t, ctx, client, bucket, "in/photo.png", writePNG(t, "", 8, 8))

	out := filepath.Join(t.TempDir(), "photo.nda")
	r := newRunnerWithEndpoint(t, ep, io.Discard, io.Discard)
	opts := cli.Options{Command: cli.CommandConvert, Args: []string{fmt.Sprintf("s3://%s/in/photo.png", bucket), out}}
	if res := r.Run(ctx, opts); res.ExitCode != ExitSuccess {
		t.Fatalf("convert exit=%d err=%v", res.ExitCode, res.Err)
	}

	rd, err := r.Engine().Read(ctx, request.FromURI(out), ReadOptions{})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	defer rd.Close()
	a, err := rd.GetData(0)
	if err != nil {
		t.Fatal(err)
	}
	if a.Shape[0] != 8 || a.Shape[1] != 8 {
		t.Fatalf("shape = %v", a.Shape)
	}
}

func TestS3BatchConvertToS3(t *testing.T) {
	ctx := context.Background()
	ep := s3Endpoint(t)
	client, bucket := setupS3Bucket(t, ctx, ep)

	root := t.TempDir()
	a := filepath.Join(root, "a.png")
	b := filepath.Join(root, "b.png")
	writePNG(t, a, 4, 4)
	writePNG(t, b, 2, 6)

	var stderr bytes.Buffer
	r := newRunnerWithEndpoint(t, ep, io.Discard, &stderr)
	opts := cli.Options{
		Command: cli.CommandConvert,
		To:      "tiff",
		Chdir:   fmt.Sprintf("s3://%s/converted/", bucket),
		Jobs:    2,
		Args:    []string{a, b},
	}
	if res := r.Run(ctx, opts); res.ExitCode != ExitSuccess {
		t.Fatalf("convert exit=%d err=%v stderr=%s", res.ExitCode, res.Err, stderr.String())
	}

	for _, key := range []string{"converted/a.tiff", "converted/b.tiff"} {
		body := getObject(t, ctx, client, bucket, key)
		if !bytes.HasPrefix(body, []byte("II*\x00")) && !bytes.HasPrefix(body, []byte("MM\x00*")) {
			t.Fatalf("s3://%s/%s is not a tiff", bucket, key)
		}
	}
}

func TestS3InfoMissingObject(t *testing.T) {
	ctx := context.Background()
	ep := s3Endpoint(t)
	_, bucket := setupS3Bucket(t, ctx, ep)

	r := newRunnerWithEndpoint(t, ep, io.Discard, io.Discard)
	opts := cli.Options{Command: cli.CommandInfo, Args: []string{fmt.Sprintf("s3://%s/nope.png", bucket)}}
	res := r.Run(ctx, opts)
	if res.ExitCode != ExitFatal || res.Err == nil {
		t.Fatalf("info exit=%d err=%v", res.ExitCode, res.Err)
	}
	if !strings.Contains(res.Err.Error(), "nope.png") {
		t.Fatalf("err = %v", res.Err)
	}
}
