package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient implements Client on top of the low-level minio-go Core API,
// which exposes the multipart primitives without minio's own part splitting.
type MinioClient struct {
	core *minio.Core
}

// NewMinioClient connects to an S3-compatible endpoint (MinIO, ArvanCloud, ...).
func NewMinioClient(endpoint, accessKey, secretKey, region string, useSSL bool) (*MinioClient, error) {
	core, err := minio.NewCore(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioClient{core: core}, nil
}

func (c *MinioClient) PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, meta ObjectMeta) error {
	_, err := c.core.PutObject(ctx, bucket, key, body, size, "", "", putOptions(meta))
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (c *MinioClient) CreateMultipartUpload(ctx context.Context, bucket, key string, meta ObjectMeta) (string, error) {
	uploadID, err := c.core.NewMultipartUpload(ctx, bucket, key, putOptions(meta))
	if err != nil {
		return "", fmt.Errorf("create multipart upload %s: %w", key, err)
	}
	return uploadID, nil
}

func (c *MinioClient) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.Reader, size int64) (string, error) {
	part, err := c.core.PutObjectPart(ctx, bucket, key, uploadID, int(partNumber), body, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", fmt.Errorf("upload part %d: %w", partNumber, err)
	}
	return part.ETag, nil
}

func (c *MinioClient) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error {
	completed := make([]minio.CompletePart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, minio.CompletePart{
			PartNumber: int(p.PartNumber),
			ETag:       p.ETag,
		})
	}
	if _, err := c.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, completed, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("complete multipart upload %s: %w", key, err)
	}
	return nil
}

func (c *MinioClient) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	if err := c.core.AbortMultipartUpload(ctx, bucket, key, uploadID); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchUpload" {
			return nil
		}
		return fmt.Errorf("abort multipart upload %s: %w", key, err)
	}
	return nil
}

func (c *MinioClient) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	body, _, _, err := c.core.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("get object %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return body, nil
}

func putOptions(meta ObjectMeta) minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType:        meta.ContentType,
		ContentDisposition: meta.ContentDisposition,
	}
}

var _ Client = (*MinioClient)(nil)
