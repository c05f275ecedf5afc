package s3

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/fruitsalade/blobfm/internal/storage"
)

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"no such key", &types.NoSuchKey{}, true},
		{"head not found", fmt.Errorf("wrapped: %w", &types.NotFound{}), true},
		{"generic 404 code", &smithy.GenericAPIError{Code: "NotFound"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.want {
				t.Errorf("isNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapMapsToStorageErrNotFound(t *testing.T) {
	b := &S3Backend{bucket: "files"}
	err := b.wrap("k", &types.NoSuchKey{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected storage.ErrNotFound, got %v", err)
	}
	if errors.Is(b.wrap("k", errors.New("x")), storage.ErrNotFound) {
		t.Error("unexpected ErrNotFound for generic error")
	}
}

func TestCopySourceEscapesKey(t *testing.T) {
	b := &S3Backend{bucket: "files"}
	if got := b.copySource("docs/my file.txt"); got != "files/docs/my%20file.txt" {
		t.Errorf("unexpected copy source %q", got)
	}
}
