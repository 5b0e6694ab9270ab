package http

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"render-worker/internal/domain"
	"render-worker/internal/downloader"
	"render-worker/internal/repository"
	"render-worker/internal/service"
	"render-worker/internal/storage"
)

var errPathOutsideRoot = errors.New("path must stay inside the data directory")

// Options configures the API.
type Options struct {
	// DefaultBucket receives uploads that name no bucket.
	DefaultBucket string
	// AllowedBuckets are the other buckets uploads may target.
	AllowedBuckets []string
	// DataRoot confines every local path in requests.
	DataRoot string
	// JWTSecret verifies the HMAC-signed bearer tokens callers present.
	JWTSecret string
	// AllowedOrigins get CORS headers. Empty means no cross-origin access.
	AllowedOrigins []string
}

// Handler wires HTTP routes to the transfer service.
type Handler struct {
	transfers service.TransferService
	opts      Options
}

func NewHandler(transfers service.TransferService, opts Options) *Handler {
	return &Handler{
		transfers: transfers,
		opts:      opts,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware(h.opts.AllowedOrigins))

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		authed := api.Group("", requireAuth(h.opts.JWTSecret), requireJSON())
		authed.POST("/downloads", h.createDownload)
		authed.POST("/uploads", h.createUpload)
		authed.GET("/transfers", h.listTransfers)
		authed.GET("/transfers/:id", h.getTransfer)
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && slices.Contains(origins, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
			c.Writer.Header().Set("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type createDownloadRequest struct {
	ObjectPath string `json:"object_path"`
	URL        string `json:"url"`
	LocalPath  string `json:"local_path" binding:"required"`
}

type createUploadRequest struct {
	Bucket             string `json:"bucket"`
	Key                string `json:"key" binding:"required"`
	FilePath           string `json:"file_path" binding:"required"`
	FileSize           *int64 `json:"file_size"`
	ContentType        string `json:"content_type"`
	ContentDisposition string `json:"content_disposition"`
}

func (h *Handler) createDownload(c *gin.Context) {
	var req createDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	localPath, err := h.resolve(req.LocalPath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	transfer, err := h.transfers.Download(c.Request.Context(), service.DownloadRequest{
		Source:    domain.TransferSource{ObjectPath: req.ObjectPath, URL: req.URL},
		LocalPath: localPath,
	})
	if err != nil {
		writeTransferError(c, transfer, err)
		return
	}
	c.JSON(http.StatusOK, transferToResponse(*transfer))
}

func (h *Handler) createUpload(c *gin.Context) {
	var req createUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filePath, err := h.resolve(req.FilePath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bucket := req.Bucket
	if bucket == "" {
		bucket = h.opts.DefaultBucket
	}
	if bucket != h.opts.DefaultBucket && !slices.Contains(h.opts.AllowedBuckets, bucket) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bucket %q is not allowed", bucket)})
		return
	}

	info, err := os.Stat(filePath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("stat %s: %v", req.FilePath, err)})
		return
	}
	if !info.Mode().IsRegular() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s is not a regular file", req.FilePath)})
		return
	}
	if req.FileSize != nil && *req.FileSize != info.Size() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file_size %d does not match %s (%d bytes)", *req.FileSize, req.FilePath, info.Size())})
		return
	}

	spec := domain.UploadSpec{
		Bucket:             bucket,
		Key:                req.Key,
		FilePath:           filePath,
		FileSize:           info.Size(),
		ContentType:        req.ContentType,
		ContentDisposition: req.ContentDisposition,
	}

	transfer, err := h.transfers.Upload(c.Request.Context(), spec)
	if err != nil {
		writeTransferError(c, transfer, err)
		return
	}
	c.JSON(http.StatusOK, transferToResponse(*transfer))
}

func (h *Handler) listTransfers(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	transfers, err := h.transfers.ListTransfers(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]TransferResponse, len(transfers))
	for i := range transfers {
		resp[i] = transferToResponse(transfers[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getTransfer(c *gin.Context) {
	transfer, err := h.transfers.GetTransfer(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeTransferError(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, transferToResponse(*transfer))
}

// resolve maps a request path onto the data directory. Absolute paths and
// paths climbing out of the directory are rejected.
func (h *Handler) resolve(p string) (string, error) {
	if h.opts.DataRoot == "" {
		return "", errors.New("data directory is not configured")
	}
	if p == "" || filepath.IsAbs(p) {
		return "", fmt.Errorf("%q: %w", p, errPathOutsideRoot)
	}

	root := filepath.Clean(h.opts.DataRoot)
	full := filepath.Join(root, p)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", p, errPathOutsideRoot)
	}
	return full, nil
}

func writeTransferError(c *gin.Context, transfer *domain.Transfer, err error) {
	resp := gin.H{"error": err.Error()}
	if transfer != nil {
		resp["transfer"] = transferToResponse(*transfer)
	}
	c.JSON(statusFor(err), resp)
}

func statusFor(err error) int {
	var statusErr *downloader.StatusError
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidSource):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrObjectNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &statusErr), errors.Is(err, downloader.ErrEmptyBody):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type TransferResponse struct {
	ID           string                `json:"id"`
	Kind         domain.TransferKind   `json:"kind"`
	Status       domain.TransferStatus `json:"status"`
	Source       string                `json:"source"`
	Destination  string                `json:"destination"`
	Bucket       string                `json:"bucket,omitempty"`
	Key          string                `json:"key,omitempty"`
	Size         int64                 `json:"size"`
	Strategy     domain.Strategy       `json:"strategy,omitempty"`
	TotalParts   int                   `json:"total_parts"`
	PartsDone    int                   `json:"parts_done"`
	Progress     int                   `json:"progress"`
	UploadID     string                `json:"upload_id,omitempty"`
	ErrorMessage string                `json:"error_message"`
	CreatedAt    string                `json:"created_at"`
	UpdatedAt    string                `json:"updated_at"`
	CompletedAt  *string               `json:"completed_at,omitempty"`
}

func transferToResponse(t domain.Transfer) TransferResponse {
	resp := TransferResponse{
		ID:           t.ID,
		Kind:         t.Kind,
		Status:       t.Status,
		Source:       t.Source,
		Destination:  t.Destination,
		Bucket:       t.Bucket,
		Key:          t.Key,
		Size:         t.Size,
		Strategy:     t.Strategy,
		TotalParts:   t.TotalParts,
		PartsDone:    t.PartsDone,
		Progress:     t.Progress,
		UploadID:     t.UploadID,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    t.UpdatedAt.Format(time.RFC3339),
	}
	if t.CompletedAt != nil {
		v := t.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	return resp
}
