package domain

import (
	"errors"
	"strings"
	"time"
)

type TransferKind string

const (
	TransferKindDownload TransferKind = "download"
	TransferKindUpload   TransferKind = "upload"
)

type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusRunning   TransferStatus = "running"
	TransferStatusCompleted TransferStatus = "completed"
	TransferStatusFailed    TransferStatus = "failed"
)

// Strategy is the upload mode picked from the file size.
type Strategy string

const (
	StrategySingle    Strategy = "single"
	StrategyMultipart Strategy = "multipart"
)

var ErrInvalidSource = errors.New("transfer source must set exactly one of object path or url")

// TransferSource says where downloaded bytes come from. Exactly one field is set.
type TransferSource struct {
	ObjectPath string
	URL        string
}

func (s TransferSource) Validate() error {
	hasPath := strings.TrimSpace(s.ObjectPath) != ""
	hasURL := strings.TrimSpace(s.URL) != ""
	if hasPath == hasURL {
		return ErrInvalidSource
	}
	return nil
}

func (s TransferSource) String() string {
	if s.URL != "" {
		return s.URL
	}
	return s.ObjectPath
}

// UploadSpec describes one render output to push to the object store.
// FileSize must match the size of FilePath.
type UploadSpec struct {
	Bucket             string
	Key                string
	FilePath           string
	FileSize           int64
	ContentType        string
	ContentDisposition string
}

func (s UploadSpec) Validate() error {
	switch {
	case s.Bucket == "":
		return errors.New("upload bucket is required")
	case s.Key == "":
		return errors.New("upload key is required")
	case s.FilePath == "":
		return errors.New("upload file path is required")
	case s.FileSize < 0:
		return errors.New("upload file size must not be negative")
	}
	return nil
}

// Transfer is the ledger entry kept for every download or upload the worker runs.
type Transfer struct {
	ID           string
	Kind         TransferKind
	Status       TransferStatus
	Source       string
	Destination  string
	Bucket       string
	Key          string
	Size         int64
	Strategy     Strategy
	TotalParts   int
	PartsDone    int
	Progress     int
	UploadID     string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}
