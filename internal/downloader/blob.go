package downloader

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"render-worker/internal/storage"
)

// BlobSource reads assets from a gocloud bucket (gs://, s3://, file://, mem://).
type BlobSource struct {
	bucket *blob.Bucket
}

func NewBlobSource(bucket *blob.Bucket) *BlobSource {
	return &BlobSource{bucket: bucket}
}

func (s *BlobSource) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrObjectNotFound)
		}
		return nil, err
	}
	return r, nil
}

var (
	_ ObjectSource = (*BlobSource)(nil)
	_ ObjectSource = (*storage.BucketReader)(nil)
)
