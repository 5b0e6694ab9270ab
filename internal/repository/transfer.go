package repository

import (
	"context"
	"errors"
	"time"

	"render-worker/internal/domain"
)

var ErrNotFound = errors.New("transfer not found")

// TransferRepository persists the transfer ledger.
type TransferRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, transfer *domain.Transfer) error
	UpdateStatus(ctx context.Context, id string, status domain.TransferStatus, errorMessage *string) error
	UpdateUploadInfo(ctx context.Context, id string, strategy domain.Strategy, totalParts int, uploadID string) error
	UpdateProgress(ctx context.Context, id string, partsDone, progress int) error
	MarkCompleted(ctx context.Context, id string, size int64, completedAt time.Time) error
	Get(ctx context.Context, id string) (*domain.Transfer, error)
	List(ctx context.Context, limit int) ([]domain.Transfer, error)
	ListByStatuses(ctx context.Context, statuses ...domain.TransferStatus) ([]domain.Transfer, error)
}
