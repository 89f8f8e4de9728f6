package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const objectPrefix = "uploads/"

// S3Config holds the connection settings of the MinIO backend.
type S3Config struct {
	Endpoint  string // "minio:9000" or "https://minio:9000"
	AccessKey string
	SecretKey string
	Bucket    string
}

// MinIO stores blobs as objects under the "uploads/" prefix of one bucket.
type MinIO struct {
	client *minio.Client
	bucket string
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	// No scheme provided, treat as host:port (insecure by default for local MinIO).
	return raw, false, nil
}

// NewMinIO connects to the endpoint and checks that the bucket exists.
func NewMinIO(ctx context.Context, cfg S3Config) (*MinIO, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}

	return &MinIO{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinIO) Put(ctx context.Context, ref string, r io.Reader) (int64, error) {
	if !ValidRef(ref) {
		return 0, ErrInvalidRef
	}
	info, err := m.client.PutObject(ctx, m.bucket, objectPrefix+ref, r, -1, minio.PutObjectOptions{})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (m *MinIO) Open(ctx context.Context, ref string) (io.ReadSeekCloser, Info, error) {
	if !ValidRef(ref) {
		return nil, Info{}, ErrInvalidRef
	}

	obj, err := m.client.GetObject(ctx, m.bucket, objectPrefix+ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, Info{}, err
	}

	// Force an early error for a missing object.
	st, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, err
	}
	return obj, Info{Size: st.Size, ModTime: st.LastModified}, nil
}

// Remove deletes the object; S3 reports success for keys that do not exist.
func (m *MinIO) Remove(ctx context.Context, ref string) error {
	if !ValidRef(ref) {
		return ErrInvalidRef
	}
	return m.client.RemoveObject(ctx, m.bucket, objectPrefix+ref, minio.RemoveObjectOptions{})
}
