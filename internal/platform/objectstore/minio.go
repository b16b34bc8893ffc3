// Package objectstore archives uploaded result bundles to S3-compatible
// object storage. Archival is optional; the filesystem data root remains the
// source of truth for raw results and reports.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

func EnsureBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bundles bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region})
}

func CheckBucket(ctx context.Context, client *minio.Client, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("bundles bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("bundles bucket missing: %s", cfg.Bucket)
	}
	return nil
}

// Archiver stores original uploaded zip bundles under
// <project>/<run_id>.zip in the bundles bucket.
type Archiver struct {
	client *minio.Client
	cfg    Config
}

func NewArchiver(client *minio.Client, cfg Config) (*Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Archiver{client: client, cfg: cfg}, nil
}

// StoreBundle uploads one bundle and returns the object key.
func (a *Archiver) StoreBundle(ctx context.Context, project, runID string, body io.Reader, size int64, sha256Hex string) (string, error) {
	if a == nil || a.client == nil {
		return "", fmt.Errorf("archiver not initialized")
	}
	key := fmt.Sprintf("%s/%s.zip", project, runID)
	opts := minio.PutObjectOptions{
		ContentType:  "application/zip",
		UserMetadata: map[string]string{"bundle-sha256": sha256Hex},
	}
	if _, err := a.client.PutObject(ctx, a.cfg.Bucket, key, body, size, opts); err != nil {
		return "", fmt.Errorf("put bundle %s: %w", key, err)
	}
	return key, nil
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
