package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"render-worker/internal/domain"
	"render-worker/internal/repository"
)

const (
	createTransfersTable = `
CREATE TABLE IF NOT EXISTS transfers (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	destination TEXT NOT NULL DEFAULT '',
	bucket TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	strategy TEXT NOT NULL DEFAULT '',
	total_parts INTEGER NOT NULL DEFAULT 0,
	parts_done INTEGER NOT NULL DEFAULT 0,
	progress INTEGER NOT NULL DEFAULT 0,
	upload_id TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME NULL
);
CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status);
`

	selectTransfer = `
SELECT id, kind, status, source, destination, bucket, object_key, size, strategy, total_parts, parts_done, progress, upload_id, error_message, created_at, updated_at, completed_at
FROM transfers`
)

type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(db *sql.DB) repository.TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTransfersTable); err != nil {
		return fmt.Errorf("create transfers table: %w", err)
	}
	return nil
}

func (r *TransferRepository) Create(ctx context.Context, t *domain.Transfer) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO transfers (id, kind, status, source, destination, bucket, object_key, size, strategy, total_parts, parts_done, progress, upload_id, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		string(t.Kind),
		string(t.Status),
		t.Source,
		t.Destination,
		t.Bucket,
		t.Key,
		t.Size,
		string(t.Strategy),
		t.TotalParts,
		t.PartsDone,
		t.Progress,
		t.UploadID,
		t.ErrorMessage,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

func (r *TransferRepository) UpdateStatus(ctx context.Context, id string, status domain.TransferStatus, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	return r.exec(ctx, "update transfer status", `
UPDATE transfers
SET status=?, error_message=?, updated_at=?
WHERE id=?`,
		string(status),
		msg,
		time.Now().UTC(),
		id,
	)
}

func (r *TransferRepository) UpdateUploadInfo(ctx context.Context, id string, strategy domain.Strategy, totalParts int, uploadID string) error {
	return r.exec(ctx, "update upload info", `
UPDATE transfers
SET strategy=?, total_parts=?, upload_id=?, updated_at=?
WHERE id=?`,
		string(strategy),
		totalParts,
		uploadID,
		time.Now().UTC(),
		id,
	)
}

func (r *TransferRepository) UpdateProgress(ctx context.Context, id string, partsDone, progress int) error {
	return r.exec(ctx, "update transfer progress", `
UPDATE transfers
SET parts_done=?, progress=?, updated_at=?
WHERE id=?`,
		partsDone,
		progress,
		time.Now().UTC(),
		id,
	)
}

func (r *TransferRepository) MarkCompleted(ctx context.Context, id string, size int64, completedAt time.Time) error {
	return r.exec(ctx, "mark transfer completed", `
UPDATE transfers
SET status=?, size=?, progress=100, error_message='', completed_at=?, updated_at=?
WHERE id=?`,
		string(domain.TransferStatusCompleted),
		size,
		completedAt.UTC(),
		time.Now().UTC(),
		id,
	)
}

func (r *TransferRepository) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	row := r.db.QueryRowContext(ctx, selectTransfer+`
WHERE id=?`,
		id,
	)
	return scanTransfer(row)
}

func (r *TransferRepository) List(ctx context.Context, limit int) ([]domain.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, selectTransfer+`
ORDER BY created_at DESC, id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

func (r *TransferRepository) ListByStatuses(ctx context.Context, statuses ...domain.TransferStatus) ([]domain.Transfer, error) {
	if len(statuses) == 0 {
		return []domain.Transfer{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	query := fmt.Sprintf(selectTransfer+`
WHERE status IN (%s)
ORDER BY created_at ASC`, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers by status: %w", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

func (r *TransferRepository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if aff == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanTransfers(rows *sql.Rows) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

func scanTransfer(scanner interface {
	Scan(dest ...any) error
}) (*domain.Transfer, error) {
	var (
		t           domain.Transfer
		kind        string
		status      string
		strategy    string
		createdAt   time.Time
		updatedAt   time.Time
		completedAt sql.NullTime
	)

	if err := scanner.Scan(
		&t.ID,
		&kind,
		&status,
		&t.Source,
		&t.Destination,
		&t.Bucket,
		&t.Key,
		&t.Size,
		&strategy,
		&t.TotalParts,
		&t.PartsDone,
		&t.Progress,
		&t.UploadID,
		&t.ErrorMessage,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan transfer: %w", err)
	}

	t.Kind = domain.TransferKind(kind)
	t.Status = domain.TransferStatus(status)
	t.Strategy = domain.Strategy(strategy)
	t.CreatedAt = createdAt.Local()
	t.UpdatedAt = updatedAt.Local()
	if completedAt.Valid {
		v := completedAt.Time.Local()
		t.CompletedAt = &v
	}
	return &t, nil
}
