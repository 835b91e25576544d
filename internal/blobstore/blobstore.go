// Package blobstore wraps MinIO/S3 access to the per-service source
// containers that scanning providers drop signed archives into.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/ScanDrop/internal/config"
)

// RejectedSuffix names the container that keeps archives left for manual
// rescan.
const RejectedSuffix = "-rejected"

// Client wraps source-container interactions.
type Client struct {
	mc     *minio.Client
	region string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Client, error) {
	mc, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
		Region: cfg.Storage.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Client{mc: mc, region: cfg.Storage.Region}, nil
}

// Minio exposes the underlying client for collaborators that share the
// connection, such as the document store and lease metadata.
func (c *Client) Minio() *minio.Client { return c.mc }

// EnsureContainers makes sure every source container and its rejected twin
// exist before polling starts.
func (c *Client) EnsureContainers(ctx context.Context, names []string) error {
	for _, name := range names {
		for _, bucket := range []string{name, name + RejectedSuffix} {
			exists, err := c.mc.BucketExists(ctx, bucket)
			if err != nil {
				return fmt.Errorf("check container %s: %w", bucket, err)
			}
			if !exists {
				if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
					return fmt.Errorf("make container %s: %w", bucket, err)
				}
			}
		}
	}
	return nil
}

// ListArchives returns the zip archives currently sitting in a container.
func (c *Client) ListArchives(ctx context.Context, container string) ([]string, error) {
	var names []string
	for object := range c.mc.ListObjects(ctx, container, minio.ListObjectsOptions{}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list container %s: %w", container, object.Err)
		}
		if strings.HasSuffix(strings.ToLower(object.Key), ".zip") {
			names = append(names, object.Key)
		}
	}
	return names, nil
}

// Download fetches the raw archive bytes.
func (c *Client) Download(ctx context.Context, container, name string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, container, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", container, name, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", container, name, err)
	}
	return data, nil
}

// Delete removes a fully processed archive from its container.
func (c *Client) Delete(ctx context.Context, container, name string) error {
	if err := c.mc.RemoveObject(ctx, container, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s/%s: %w", container, name, err)
	}
	return nil
}

// MoveToRejected copies a rejected archive into the container's rejected
// twin, then deletes the original.
func (c *Client) MoveToRejected(ctx context.Context, container, name string) error {
	src := minio.CopySrcOptions{Bucket: container, Object: name}
	dst := minio.CopyDestOptions{Bucket: container + RejectedSuffix, Object: name}
	if _, err := c.mc.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("copy %s/%s to rejected: %w", container, name, err)
	}
	return c.Delete(ctx, container, name)
}
