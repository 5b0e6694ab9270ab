package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"render-worker/internal/domain"
	"render-worker/internal/downloader"
	"render-worker/internal/repository/sqlite"
	"render-worker/internal/service"
	"render-worker/internal/storage"
	"render-worker/internal/uploader"
)

// stallingStore accepts a multipart session and then blocks every part until
// its context ends.
type stallingStore struct {
	started chan struct{}
	once    sync.Once

	mu     sync.Mutex
	aborts []string
}

func (s *stallingStore) PutObject(context.Context, string, string, io.Reader, int64, storage.ObjectMeta) error {
	return errors.New("unexpected single put")
}

func (s *stallingStore) CreateMultipartUpload(context.Context, string, string, storage.ObjectMeta) (string, error) {
	return "upload-7", nil
}

func (s *stallingStore) UploadPart(ctx context.Context, _, _, _ string, _ int32, _ io.Reader, _ int64) (string, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

func (s *stallingStore) CompleteMultipartUpload(context.Context, string, string, string, []storage.CompletedPart) error {
	return errors.New("unexpected complete")
}

func (s *stallingStore) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts = append(s.aborts, bucket+"/"+key+"#"+uploadID)
	return nil
}

func (s *stallingStore) GetObject(context.Context, string, string) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotFound
}

func TestCancelledBaseContextAbortsMultipartUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	repo := sqlite.NewTransferRepository(db)
	if err := repo.Init(ctx); err != nil {
		t.Fatalf("init repo: %v", err)
	}

	store := &stallingStore{started: make(chan struct{})}
	up, err := uploader.New(store, uploader.Options{Threshold: 4, PartSize: 4, AbortTimeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc := service.NewTransferService(repo, downloader.New(storage.NewBucketReader(store, "assets"), downloader.DefaultOptions()), up, logger)

	root := t.TempDir()
	writeDataFile(t, root, "out.mp4", "0123456789abcdef")

	router := gin.New()
	NewHandler(svc, Options{DefaultBucket: "renders", DataRoot: root, JWTSecret: testSecret}).RegisterRoutes(router)

	base, shutdown := context.WithCancel(ctx)
	defer shutdown()
	ts := httptest.NewUnstartedServer(router)
	ts.Config = NewServer(base, "", router)
	ts.Start()
	defer ts.Close()

	body, _ := json.Marshal(gin.H{"key": "jobs/7/out.mp4", "file_path": "out.mp4"})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/uploads", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret))

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := ts.Client().Do(req)
		done <- result{resp, err}
	}()

	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never reached the first part")
	}
	shutdown()

	var res result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("request did not return after the base context was cancelled")
	}
	if res.err != nil {
		t.Fatalf("request: %v", res.err)
	}
	defer res.resp.Body.Close()
	if res.resp.StatusCode == http.StatusOK {
		t.Errorf("expected a failed upload, got 200")
	}

	store.mu.Lock()
	aborts := append([]string(nil), store.aborts...)
	store.mu.Unlock()
	if len(aborts) != 1 || aborts[0] != "renders/jobs/7/out.mp4#upload-7" {
		t.Errorf("expected exactly one abort of upload-7, got %v", aborts)
	}

	list, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Status != domain.TransferStatusFailed {
		t.Fatalf("expected one failed transfer, got %+v", list)
	}
	if list[0].UploadID != "upload-7" {
		t.Errorf("expected upload id recorded, got %q", list[0].UploadID)
	}
}
