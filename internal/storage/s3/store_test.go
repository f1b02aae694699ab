package s3

import (
	"context"
	"strings"
	"testing"

	tmtypes "github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager/types"
	"github.com/aws/aws-sdk-go-v2/feature/s3/transfermanager"
	"github.com/islishude/imgio/internal/locator"
)

func TestContentTypeForKey(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{key: "images/out.png", want: "image/png"},
		{key: "images/OUT.JPG", want: "image/jpeg"},
		{key: "images/out.jpeg", want: "image/jpeg"},
		{key: "images/anim.gif", want: "image/gif"},
		{key: "images/scan.tiff", want: "image/tiff"},
		{key: "arrays/vol.nda", want: "application/x-ndarray"},
		{key: "notes/readme.txt", want: "text/plain; charset=utf-8"},
		{key: "noext", want: "application/octet-stream"},
	}

	for _, tc := range cases {
		t.Run(tc.key, func(t *testing.T) {
			got := contentTypeForKey(tc.key)
			if got != tc.want {
				t.Fatalf("contentTypeForKey(%q)=%q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestApplyEncryption(t *testing.T) {
	cases := []struct {
		sse     string
		kms     string
		want    tmtypes.ServerSideEncryption
		wantKMS bool
	}{
		{sse: "", want: tmtypes.ServerSideEncryptionAes256},
		{sse: "sse-kms", kms: "key-1", want: tmtypes.ServerSideEncryptionAwsKms, wantKMS: true},
		{sse: "none", want: ""},
		{sse: "bogus", want: tmtypes.ServerSideEncryptionAes256},
	}
	for _, tc := range cases {
		t.Run(tc.sse, func(t *testing.T) {
			s := &Store{settings: Settings{SSE: tc.sse, SSEKMSKeyID: tc.kms}}
			in := &transfermanager.UploadObjectInput{}
			s.applyEncryption(in)
			if in.ServerSideEncryption != tc.want {
				t.Fatalf("applyEncryption() sse = %q, want %q", in.ServerSideEncryption, tc.want)
			}
			if got := in.SSEKMSKeyID != nil; got != tc.wantKMS {
				t.Fatalf("applyEncryption() kms key set = %v, want %v", got, tc.wantKMS)
			}
		})
	}
}

func TestRejectsNonS3Ref(t *testing.T) {
	s := &Store{}
	ref := locator.Ref{Kind: locator.KindFile, Raw: "a.png"}
	if _, _, err := s.OpenReader(context.Background(), ref); err == nil {
		t.Fatalf("OpenReader() expected error")
	}
	if err := s.UploadStream(context.Background(), ref, strings.NewReader("x"), nil); err == nil {
		t.Fatalf("UploadStream() expected error")
	}
}
