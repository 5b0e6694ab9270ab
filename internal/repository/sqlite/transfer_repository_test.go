package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"render-worker/internal/domain"
	"render-worker/internal/repository"
)

func newRepo(t *testing.T) repository.TransferRepository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := NewTransferRepository(db)
	if err := repo.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return repo
}

func TestTransferLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	tr := &domain.Transfer{
		ID:          "t-1",
		Kind:        domain.TransferKindUpload,
		Status:      domain.TransferStatusRunning,
		Source:      "/work/out.mp4",
		Destination: "s3://renders/jobs/1/out.mp4",
		Bucket:      "renders",
		Key:         "jobs/1/out.mp4",
		Size:        250 << 20,
	}
	if err := repo.Create(ctx, tr); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := repo.UpdateUploadInfo(ctx, tr.ID, domain.StrategyMultipart, 3, "upload-1"); err != nil {
		t.Fatalf("UpdateUploadInfo: %v", err)
	}
	if err := repo.UpdateProgress(ctx, tr.ID, 2, 67); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	got, err := repo.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Strategy != domain.StrategyMultipart || got.TotalParts != 3 || got.UploadID != "upload-1" {
		t.Errorf("unexpected upload info: %+v", got)
	}
	if got.PartsDone != 2 || got.Progress != 67 {
		t.Errorf("unexpected progress: %d parts, %d%%", got.PartsDone, got.Progress)
	}
	if got.Size != 250<<20 || got.Key != "jobs/1/out.mp4" {
		t.Errorf("unexpected fields: %+v", got)
	}

	if err := repo.MarkCompleted(ctx, tr.ID, tr.Size, time.Now()); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got, err = repo.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.TransferStatusCompleted || got.Progress != 100 || got.CompletedAt == nil {
		t.Errorf("expected completed transfer, got %+v", got)
	}
}

func TestTransferFailureStatus(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	tr := &domain.Transfer{ID: "t-2", Kind: domain.TransferKindDownload, Status: domain.TransferStatusRunning}
	if err := repo.Create(ctx, tr); err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg := "download: unexpected status 404"
	if err := repo.UpdateStatus(ctx, tr.ID, domain.TransferStatusFailed, &msg); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, err := repo.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.TransferStatusFailed || got.ErrorMessage != msg {
		t.Errorf("unexpected failure state: %+v", got)
	}
}

func TestTransferNotFound(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("Get: expected ErrNotFound, got %v", err)
	}
	if err := repo.UpdateProgress(ctx, "missing", 1, 1); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("UpdateProgress: expected ErrNotFound, got %v", err)
	}
}

func TestListAndListByStatuses(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	statuses := []domain.TransferStatus{
		domain.TransferStatusCompleted,
		domain.TransferStatusRunning,
		domain.TransferStatusPending,
	}
	for i, s := range statuses {
		tr := &domain.Transfer{ID: string(rune('a' + i)), Kind: domain.TransferKindDownload, Status: s}
		if err := repo.Create(ctx, tr); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	all, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 transfers, got %d", len(all))
	}

	limited, err := repo.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 transfers, got %d", len(limited))
	}

	active, err := repo.ListByStatuses(ctx, domain.TransferStatusPending, domain.TransferStatusRunning)
	if err != nil {
		t.Fatalf("ListByStatuses: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active transfers, got %d", len(active))
	}

	none, err := repo.ListByStatuses(ctx)
	if err != nil || len(none) != 0 {
		t.Errorf("expected empty result without statuses, got %v, %v", none, err)
	}
}
