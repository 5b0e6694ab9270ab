package storage

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectMeta is forwarded verbatim to the store on object creation.
type ObjectMeta struct {
	ContentType        string
	ContentDisposition string
}

// CompletedPart acknowledges one stored part of a multipart upload.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// Client is the object-store surface the transfer pipeline needs. Bucket and
// credentials are resolved by whoever builds the client.
type Client interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, meta ObjectMeta) error
	CreateMultipartUpload(ctx context.Context, bucket, key string, meta ObjectMeta) (string, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// BucketReader exposes GetObject on a fixed bucket as a keyed reader source.
type BucketReader struct {
	client Client
	bucket string
}

func NewBucketReader(client Client, bucket string) *BucketReader {
	return &BucketReader{client: client, bucket: bucket}
}

func (r *BucketReader) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return r.client.GetObject(ctx, r.bucket, key)
}
