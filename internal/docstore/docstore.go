// Package docstore uploads extracted PDF documents into the document store
// bucket and hands back their references.
package docstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/dharsanguruparan/ScanDrop/internal/metafile"
)

// Reference identifies one stored document.
type Reference struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Store uploads documents into a dedicated bucket. Uploads are idempotent
// per object key, so retrying a file name is safe.
type Store struct {
	mc     *minio.Client
	bucket string
	region string
}

// New constructs a Store over an existing MinIO client.
func New(mc *minio.Client, bucket, region string) *Store {
	return &Store{mc: mc, bucket: bucket, region: region}
}

// EnsureBucket makes sure the documents bucket exists before use.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Upload stores every PDF and returns a file name → reference mapping. A
// partial result is never returned: the first upload error aborts the call.
func (s *Store) Upload(ctx context.Context, container string, files []metafile.PDF) (map[string]Reference, error) {
	refs := make(map[string]Reference, len(files))
	for _, f := range files {
		id := uuid.NewString()
		key := fmt.Sprintf("%s/%s/%s", container, id, f.FileName)
		opts := minio.PutObjectOptions{ContentType: "application/pdf"}
		reader := bytes.NewReader(f.Content)
		if _, err := s.mc.PutObject(ctx, s.bucket, key, reader, int64(len(f.Content)), opts); err != nil {
			return nil, fmt.Errorf("upload %s: %w", f.FileName, err)
		}
		refs[f.FileName] = Reference{
			ID:  id,
			URL: fmt.Sprintf("%s/%s/%s", s.mc.EndpointURL(), s.bucket, key),
		}
	}
	return refs, nil
}
