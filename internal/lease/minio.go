package lease

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
)

// Metadata keys stored on the object. MinIO reports user metadata with
// canonicalized casing, so reads go through a case-insensitive lookup.
const (
	metaRetryCount     = "Retrycount"
	metaDelayExpiresAt = "Retrydelayexpiresat"
)

// delayTimeLayout pins the timestamp format to UTC ISO-8601.
const delayTimeLayout = time.RFC3339

// MinioMetadata implements MetadataStore over object user metadata.
type MinioMetadata struct {
	mc *minio.Client
}

// NewMinioMetadata constructs a MinioMetadata.
func NewMinioMetadata(mc *minio.Client) *MinioMetadata {
	return &MinioMetadata{mc: mc}
}

// RetryState reads the retry metadata without any lock.
func (s *MinioMetadata) RetryState(ctx context.Context, obj ObjectRef) (RetryState, error) {
	info, err := s.mc.StatObject(ctx, obj.Container, obj.Name, minio.StatObjectOptions{})
	if err != nil {
		return RetryState{}, fmt.Errorf("stat %s: %w", obj, err)
	}
	var state RetryState
	if raw, ok := info.UserMetadata[metaRetryCount]; ok {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return RetryState{}, fmt.Errorf("parse retry count %q on %s: %w", raw, obj, err)
		}
		state.Count = count
	}
	if raw, ok := info.UserMetadata[metaDelayExpiresAt]; ok {
		expires, err := time.Parse(delayTimeLayout, raw)
		if err != nil {
			return RetryState{}, fmt.Errorf("parse delay expiration %q on %s: %w", raw, obj, err)
		}
		state.DelayExpiresAt = expires.UTC()
	}
	return state, nil
}

// SetRetryState rewrites the object metadata via a same-key copy; callers
// hold the lease, so the replace is single-writer.
func (s *MinioMetadata) SetRetryState(ctx context.Context, obj ObjectRef, state RetryState) error {
	src := minio.CopySrcOptions{Bucket: obj.Container, Object: obj.Name}
	dst := minio.CopyDestOptions{
		Bucket:          obj.Container,
		Object:          obj.Name,
		ReplaceMetadata: true,
		UserMetadata: map[string]string{
			metaRetryCount:     strconv.Itoa(state.Count),
			metaDelayExpiresAt: state.DelayExpiresAt.UTC().Format(delayTimeLayout),
		},
	}
	if _, err := s.mc.CopyObject(ctx, dst, src); err != nil {
		return fmt.Errorf("replace metadata on %s: %w", obj, err)
	}
	return nil
}
