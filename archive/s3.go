package archive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config locates an S3 compatible bucket.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

// Validate checks that the config can build a client.
func (c S3Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

// sumKey is the user metadata entry holding an object's sha256.
const sumKey = "sha256"

// objectAPI is the part of *minio.Client that S3 uses.
type objectAPI interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// S3 archives into a bucket.
type S3 struct {
	client objectAPI
	bucket string
}

// NewS3 connects to the bucket described by cfg.
func NewS3(cfg S3Config) (*S3, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("s3 archive: %w", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}

	return &S3{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3) String() string { return "s3://" + s.bucket }

// Has implements Target.
// Objects without a stored sha256 are never considered current.
func (s *S3) Has(ctx context.Context, key string, obj Object) (bool, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return false, nil
		}

		return false, err
	}

	if info.Size != obj.Size {
		return false, nil
	}

	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, sumKey) {
			return v == obj.SHA256, nil
		}
	}

	return false, nil
}

// Put implements Target.
func (s *S3) Put(ctx context.Context, key string, obj Object) error {
	_, err := s.client.FPutObject(ctx, s.bucket, key, obj.Path, minio.PutObjectOptions{
		ContentType:  contentType(obj.Path),
		UserMetadata: map[string]string{sumKey: obj.SHA256},
	})

	return err
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown"
	case ".log", ".err", ".sbatch":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// ParseDestination splits "s3://bucket/prefix". ok is false for anything
// that is not an S3 URL.
func ParseDestination(dest string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(dest, "s3://")
	if !found {
		return "", "", false
	}

	bucket, prefix, _ = strings.Cut(rest, "/")

	return bucket, strings.Trim(prefix, "/"), bucket != ""
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
