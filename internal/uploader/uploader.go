package uploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"render-worker/internal/domain"
	"render-worker/internal/storage"
)

const (
	DefaultThreshold    int64 = 100 * 1024 * 1024
	DefaultPartSize     int64 = 100 * 1024 * 1024
	DefaultAbortTimeout       = 30 * time.Second

	// MaxParts is the S3 limit on parts per multipart upload.
	MaxParts = 10000
)

var (
	ErrMissingUploadID = errors.New("uploader: create multipart upload returned no upload id")
	ErrTooManyParts    = errors.New("uploader: file needs more parts than the store allows")
)

type Options struct {
	// Files smaller than Threshold are sent with a single PutObject.
	Threshold int64
	// PartSize bounds the buffer held in memory during a multipart upload.
	PartSize int64
	// AbortTimeout limits the cleanup call made after a failed multipart upload.
	AbortTimeout time.Duration
}

// DefaultOptions returns 100 MiB threshold and part size with a 30s abort timeout.
func DefaultOptions() Options {
	return Options{
		Threshold:    DefaultThreshold,
		PartSize:     DefaultPartSize,
		AbortTimeout: DefaultAbortTimeout,
	}
}

// Result describes how an upload was carried out.
type Result struct {
	Strategy   domain.Strategy
	TotalParts int
	UploadID   string
}

type partSource interface {
	io.ReaderAt
	io.Closer
}

// Uploader pushes local files to the object store, switching to a sequential
// multipart upload for large files and aborting the session on failure.
type Uploader struct {
	client storage.Client
	log    StepLogger
	opts   Options

	open  func(path string) (partSource, error)
	alloc func(n int64) []byte
}

// New creates an Uploader over client. A nil log discards step events.
func New(client storage.Client, opts Options, log StepLogger) (*Uploader, error) {
	if client == nil {
		return nil, errors.New("uploader: storage client is required")
	}
	if opts.Threshold <= 0 {
		return nil, fmt.Errorf("uploader: threshold must be positive, got %d", opts.Threshold)
	}
	if opts.PartSize <= 0 {
		return nil, fmt.Errorf("uploader: part size must be positive, got %d", opts.PartSize)
	}
	if opts.AbortTimeout <= 0 {
		opts.AbortTimeout = DefaultAbortTimeout
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Uploader{
		client: client,
		log:    log,
		opts:   opts,
		open:   openFile,
		alloc:  func(n int64) []byte { return make([]byte, n) },
	}, nil
}

// WithLogger returns a copy of u that reports steps to log.
func (u *Uploader) WithLogger(log StepLogger) *Uploader {
	cp := *u
	if log == nil {
		log = nopLogger{}
	}
	cp.log = log
	return &cp
}

// Strategy reports how a file of fileSize bytes would be uploaded.
func (u *Uploader) Strategy(fileSize int64) domain.Strategy {
	if fileSize < u.opts.Threshold {
		return domain.StrategySingle
	}
	return domain.StrategyMultipart
}

// Upload sends spec.FilePath to spec.Bucket/spec.Key.
func (u *Uploader) Upload(ctx context.Context, spec domain.UploadSpec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{}, err
	}
	if u.Strategy(spec.FileSize) == domain.StrategySingle {
		return Result{Strategy: domain.StrategySingle}, u.uploadSingle(ctx, spec)
	}
	return u.uploadMultipart(ctx, spec)
}

func (u *Uploader) uploadSingle(ctx context.Context, spec domain.UploadSpec) error {
	f, err := os.Open(spec.FilePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", spec.FilePath, err)
	}
	defer f.Close()

	return u.client.PutObject(ctx, spec.Bucket, spec.Key, f, spec.FileSize, metaOf(spec))
}

func (u *Uploader) uploadMultipart(ctx context.Context, spec domain.UploadSpec) (Result, error) {
	plan := NewPartPlan(spec.FileSize, u.opts.PartSize)
	res := Result{Strategy: domain.StrategyMultipart, TotalParts: plan.TotalParts}
	if plan.TotalParts > MaxParts {
		return res, fmt.Errorf("%w: %d parts of %d bytes", ErrTooManyParts, plan.TotalParts, plan.PartSize)
	}

	u.log.Log(StepMultipartStart, logrus.Fields{
		"fileSize":   spec.FileSize,
		"partSize":   plan.PartSize,
		"totalParts": plan.TotalParts,
	})

	uploadID, err := u.client.CreateMultipartUpload(ctx, spec.Bucket, spec.Key, metaOf(spec))
	if err != nil {
		return res, err
	}
	if uploadID == "" {
		return res, ErrMissingUploadID
	}
	res.UploadID = uploadID
	u.log.Log(StepMultipartCreated, logrus.Fields{"uploadId": uploadID})

	if err := u.uploadParts(ctx, spec, plan, uploadID); err != nil {
		u.abort(ctx, spec, uploadID, err)
		return res, err
	}
	return res, nil
}

func (u *Uploader) uploadParts(ctx context.Context, spec domain.UploadSpec, plan PartPlan, uploadID string) error {
	f, err := u.open(spec.FilePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", spec.FilePath, err)
	}
	defer f.Close()

	completed := make([]storage.CompletedPart, 0, plan.TotalParts)
	for n := 1; n <= plan.TotalParts; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		part := plan.Part(n)
		buf := u.alloc(part.Size())
		if _, err := io.ReadFull(io.NewSectionReader(f, part.Start, part.Size()), buf); err != nil {
			return fmt.Errorf("read part %d: %w", n, err)
		}

		etag, err := u.client.UploadPart(ctx, spec.Bucket, spec.Key, uploadID, part.Number, bytes.NewReader(buf), part.Size())
		if err != nil {
			return err
		}
		completed = append(completed, storage.CompletedPart{PartNumber: part.Number, ETag: etag})

		u.log.Log(StepMultipartPartUploaded, logrus.Fields{
			"part":       n,
			"totalParts": plan.TotalParts,
			"partSize":   part.Size(),
			"pct":        percent(n, plan.TotalParts),
		})
	}

	if err := u.client.CompleteMultipartUpload(ctx, spec.Bucket, spec.Key, uploadID, completed); err != nil {
		return err
	}
	u.log.Log(StepMultipartComplete, logrus.Fields{"parts": len(completed)})
	return nil
}

// abort releases the remote session. Its failure is only logged so the
// caller always sees cause.
func (u *Uploader) abort(ctx context.Context, spec domain.UploadSpec, uploadID string, cause error) {
	u.log.Log(StepMultipartAbort, logrus.Fields{"error": cause.Error(), "uploadId": uploadID})

	if err := u.AbortSession(ctx, spec.Bucket, spec.Key, uploadID); err != nil {
		u.log.LogError(StepMultipartAbortFailed, err)
	}
}

// AbortSession discards a multipart upload left behind by an earlier run.
// It ignores cancellation of ctx and is bounded by the abort timeout.
func (u *Uploader) AbortSession(ctx context.Context, bucket, key, uploadID string) error {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.opts.AbortTimeout)
	defer cancel()
	return u.client.AbortMultipartUpload(abortCtx, bucket, key, uploadID)
}

func percent(done, total int) int {
	return int(math.Round(float64(done) / float64(total) * 100))
}

func metaOf(spec domain.UploadSpec) storage.ObjectMeta {
	return storage.ObjectMeta{
		ContentType:        spec.ContentType,
		ContentDisposition: spec.ContentDisposition,
	}
}

func openFile(path string) (partSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}
