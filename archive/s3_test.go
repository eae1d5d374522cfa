package archive

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
)

type fakeBucket struct {
	objects map[string]minio.ObjectInfo
	statErr error
	puts    []string
}

func (f *fakeBucket) StatObject(_ context.Context, _, key string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if f.statErr != nil {
		return minio.ObjectInfo{}, f.statErr
	}

	info, ok := f.objects[key]
	if !ok {
		return minio.ObjectInfo{}, minio.ErrorResponse{
			Code:       "NoSuchKey",
			StatusCode: http.StatusNotFound,
		}
	}

	return info, nil
}

func (f *fakeBucket) FPutObject(_ context.Context, _, key, path string, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.puts = append(f.puts, key)

	// Stored metadata comes back canonicalised.
	meta := minio.StringMap{}
	for k, v := range opts.UserMetadata {
		meta[http.CanonicalHeaderKey(k)] = v
	}

	info, err := os.Stat(path)
	if err != nil {
		return minio.UploadInfo{}, err
	}

	f.objects[key] = minio.ObjectInfo{Key: key, Size: info.Size(), UserMetadata: meta}

	return minio.UploadInfo{Key: key, Size: info.Size()}, nil
}

func TestS3Has(t *testing.T) {
	obj := Object{Path: "run.log", Size: 15, SHA256: "abc"}

	tests := []struct {
		name string
		info minio.ObjectInfo
		want bool
	}{
		{"matching sum", minio.ObjectInfo{Size: 15, UserMetadata: minio.StringMap{"Sha256": "abc"}}, true},
		{"lowercase key", minio.ObjectInfo{Size: 15, UserMetadata: minio.StringMap{"sha256": "abc"}}, true},
		{"other sum", minio.ObjectInfo{Size: 15, UserMetadata: minio.StringMap{"Sha256": "def"}}, false},
		{"no sum", minio.ObjectInfo{Size: 15}, false},
		{"other size", minio.ObjectInfo{Size: 3, UserMetadata: minio.StringMap{"Sha256": "abc"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &S3{
				client: &fakeBucket{objects: map[string]minio.ObjectInfo{"k": tt.info}},
				bucket: "results",
			}

			got, err := s.Has(context.Background(), "k", obj)
			if err != nil {
				t.Fatalf("Has: %v", err)
			}

			if got != tt.want {
				t.Errorf("Has = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestS3HasMissingKey(t *testing.T) {
	s := &S3{client: &fakeBucket{objects: map[string]minio.ObjectInfo{}}, bucket: "results"}

	got, err := s.Has(context.Background(), "missing", Object{Size: 1})
	if err != nil {
		t.Fatalf("Has: %v", err)
	}

	if got {
		t.Error("Has = true for a missing key")
	}
}

func TestS3HasError(t *testing.T) {
	s := &S3{
		client: &fakeBucket{statErr: minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}},
		bucket: "results",
	}

	if _, err := s.Has(context.Background(), "k", Object{}); err == nil {
		t.Error("Has swallowed an access error")
	}
}

func TestArchiveS3(t *testing.T) {
	src := filepath.Join(t.TempDir(), "exp-eval")
	writeTree(t, src, map[string]string{
		"exp-abs.md":   "| total_time | 12.34s |",
		"exp-abs.json": "{}",
	})

	bucket := &fakeBucket{objects: map[string]minio.ObjectInfo{}}
	s := &S3{client: bucket, bucket: "results"}

	stats, err := Archive(context.Background(), s, "labrun", src)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if stats.Copied != 2 {
		t.Errorf("stats = %+v, want 2 copied", stats)
	}

	stats, err = Archive(context.Background(), s, "labrun", src)
	if err != nil {
		t.Fatalf("second Archive: %v", err)
	}

	if stats.Copied != 0 || stats.Skipped != 2 {
		t.Errorf("unchanged stats = %+v, want 2 skipped", stats)
	}

	writeTree(t, src, map[string]string{"exp-abs.md": "| total_time | 98.76s |"})

	stats, err = Archive(context.Background(), s, "labrun", src)
	if err != nil {
		t.Fatalf("third Archive: %v", err)
	}

	if stats.Copied != 1 || stats.Skipped != 1 {
		t.Errorf("rewritten stats = %+v, want 1 copied 1 skipped", stats)
	}

	if last := bucket.puts[len(bucket.puts)-1]; last != "labrun/exp-eval/exp-abs.md" {
		t.Errorf("last upload = %q, want labrun/exp-eval/exp-abs.md", last)
	}
}
