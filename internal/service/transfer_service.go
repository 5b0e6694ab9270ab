package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"render-worker/internal/domain"
	"render-worker/internal/downloader"
	"render-worker/internal/repository"
	"render-worker/internal/uploader"
)

// ErrInvalidRequest marks caller mistakes, as opposed to transfer failures.
var ErrInvalidRequest = errors.New("invalid transfer request")

type DownloadRequest struct {
	Source    domain.TransferSource
	LocalPath string
}

// TransferService runs transfers for the orchestrator and keeps the ledger.
type TransferService interface {
	Download(ctx context.Context, req DownloadRequest) (*domain.Transfer, error)
	Upload(ctx context.Context, spec domain.UploadSpec) (*domain.Transfer, error)
	GetTransfer(ctx context.Context, id string) (*domain.Transfer, error)
	ListTransfers(ctx context.Context, limit int) ([]domain.Transfer, error)
	FailInterrupted(ctx context.Context) (int, error)
}

type transferService struct {
	transfers  repository.TransferRepository
	downloader *downloader.Downloader
	uploader   *uploader.Uploader
	logger     *logrus.Logger
}

func NewTransferService(transfers repository.TransferRepository, d *downloader.Downloader, u *uploader.Uploader, logger *logrus.Logger) TransferService {
	if logger == nil {
		logger = logrus.New()
	}
	return &transferService{
		transfers:  transfers,
		downloader: d,
		uploader:   u,
		logger:     logger,
	}
}

func (s *transferService) Download(ctx context.Context, req DownloadRequest) (*domain.Transfer, error) {
	if err := req.Source.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.LocalPath) == "" {
		return nil, fmt.Errorf("%w: local path is required", ErrInvalidRequest)
	}

	t := &domain.Transfer{
		ID:          uuid.NewString(),
		Kind:        domain.TransferKindDownload,
		Status:      domain.TransferStatusRunning,
		Source:      req.Source.String(),
		Destination: req.LocalPath,
	}
	if err := s.transfers.Create(ctx, t); err != nil {
		return nil, err
	}

	logger := s.logger.WithField("transfer_id", t.ID)
	logger.Infof("download started from %s", t.Source)

	if err := s.downloader.Download(ctx, req.Source, req.LocalPath); err != nil {
		return s.fail(ctx, t, err)
	}

	var size int64
	if info, err := os.Stat(req.LocalPath); err == nil {
		size = info.Size()
	}
	return s.complete(ctx, t, size, logger)
}

func (s *transferService) Upload(ctx context.Context, spec domain.UploadSpec) (*domain.Transfer, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	t := &domain.Transfer{
		ID:          uuid.NewString(),
		Kind:        domain.TransferKindUpload,
		Status:      domain.TransferStatusRunning,
		Source:      spec.FilePath,
		Destination: fmt.Sprintf("s3://%s/%s", spec.Bucket, spec.Key),
		Bucket:      spec.Bucket,
		Key:         spec.Key,
		Size:        spec.FileSize,
		Strategy:    s.uploader.Strategy(spec.FileSize),
	}
	if err := s.transfers.Create(ctx, t); err != nil {
		return nil, err
	}

	logger := s.logger.WithField("transfer_id", t.ID)
	logger.Infof("upload started from %s (%s, %s)", spec.FilePath, formatBytes(spec.FileSize), t.Strategy)

	steps := &ledgerLogger{
		ctx:       context.WithoutCancel(ctx),
		transfers: s.transfers,
		id:        t.ID,
		next:      uploader.NewLogrusLogger(logger),
		logger:    logger,
	}
	res, err := s.uploader.WithLogger(steps).Upload(ctx, spec)

	if res.Strategy != "" {
		if uerr := s.transfers.UpdateUploadInfo(context.WithoutCancel(ctx), t.ID, res.Strategy, res.TotalParts, res.UploadID); uerr != nil {
			logger.Warnf("record upload info: %v", uerr)
		}
	}
	if err != nil {
		return s.fail(ctx, t, err)
	}
	return s.complete(ctx, t, spec.FileSize, logger)
}

func (s *transferService) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	return s.transfers.Get(ctx, id)
}

func (s *transferService) ListTransfers(ctx context.Context, limit int) ([]domain.Transfer, error) {
	return s.transfers.List(ctx, limit)
}

// FailInterrupted marks transfers left running by a previous process as failed
// and aborts the multipart sessions they opened. Interrupted transfers are
// never resumed.
func (s *transferService) FailInterrupted(ctx context.Context) (int, error) {
	stale, err := s.transfers.ListByStatuses(ctx, domain.TransferStatusPending, domain.TransferStatusRunning)
	if err != nil {
		return 0, err
	}
	msg := "interrupted by worker restart"
	for _, t := range stale {
		logger := s.logger.WithField("transfer_id", t.ID)
		if t.Kind == domain.TransferKindUpload && t.UploadID != "" {
			if err := s.uploader.AbortSession(ctx, t.Bucket, t.Key, t.UploadID); err != nil {
				logger.Warnf("abort multipart upload %s on %s: %v", t.UploadID, t.Destination, err)
			} else {
				logger.Infof("aborted multipart upload %s on %s", t.UploadID, t.Destination)
			}
		}
		if err := s.transfers.UpdateStatus(ctx, t.ID, domain.TransferStatusFailed, &msg); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (s *transferService) complete(ctx context.Context, t *domain.Transfer, size int64, logger *logrus.Entry) (*domain.Transfer, error) {
	store := context.WithoutCancel(ctx)
	if err := s.transfers.MarkCompleted(store, t.ID, size, time.Now()); err != nil {
		logger.Errorf("mark completed: %v", err)
		return nil, err
	}
	logger.Infof("%s completed: %s -> %s (%s)", t.Kind, t.Source, t.Destination, formatBytes(size))
	return s.transfers.Get(store, t.ID)
}

// fail records cause on the ledger and hands it back unchanged.
func (s *transferService) fail(ctx context.Context, t *domain.Transfer, cause error) (*domain.Transfer, error) {
	store := context.WithoutCancel(ctx)
	logger := s.logger.WithField("transfer_id", t.ID)

	msg := cause.Error()
	if err := s.transfers.UpdateStatus(store, t.ID, domain.TransferStatusFailed, &msg); err != nil {
		logger.Errorf("persist failure status: %v", err)
	}
	logger.Errorf("%s failed: %s", t.Kind, msg)

	failed, err := s.transfers.Get(store, t.ID)
	if err != nil {
		return t, cause
	}
	return failed, cause
}

// ledgerLogger forwards upload steps and mirrors part progress into the ledger.
type ledgerLogger struct {
	ctx       context.Context
	transfers repository.TransferRepository
	id        string
	next      uploader.StepLogger
	logger    *logrus.Entry

	totalParts int
}

func (l *ledgerLogger) Log(step string, fields logrus.Fields) {
	l.next.Log(step, fields)

	switch step {
	case uploader.StepMultipartStart:
		l.totalParts, _ = fields["totalParts"].(int)
		if err := l.transfers.UpdateUploadInfo(l.ctx, l.id, domain.StrategyMultipart, l.totalParts, ""); err != nil {
			l.logger.Warnf("record multipart plan: %v", err)
		}
	case uploader.StepMultipartCreated:
		uploadID, _ := fields["uploadId"].(string)
		if err := l.transfers.UpdateUploadInfo(l.ctx, l.id, domain.StrategyMultipart, l.totalParts, uploadID); err != nil {
			l.logger.Warnf("record upload id: %v", err)
		}
	case uploader.StepMultipartPartUploaded:
		part, _ := fields["part"].(int)
		pct, _ := fields["pct"].(int)
		if err := l.transfers.UpdateProgress(l.ctx, l.id, part, pct); err != nil {
			l.logger.Warnf("update progress: %v", err)
		}
	}
}

func (l *ledgerLogger) LogError(step string, err error) {
	l.next.LogError(step, err)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB",
		float64(b)/float64(div),
		"KMGTPE"[exp],
	)
}
