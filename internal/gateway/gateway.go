package gateway

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// UploadResult is the slice of the backend upload record the orchestrator
// needs; the backend returns more fields but they are not branched on.
type UploadResult struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
}

// ProgressFunc receives cumulative sent bytes and the total during an upload.
type ProgressFunc func(sent, total int64)

// Client is the contract the orchestrator drives its I/O through.
type Client interface {
	Upload(ctx context.Context, filename string, size int64, content io.Reader, onProgress ProgressFunc) (UploadResult, error)
	RunPlayerTracking(ctx context.Context, uploadID string) (json.RawMessage, error)
	RunCrowdAnalysis(ctx context.Context, uploadID string) (json.RawMessage, error)
	ListUploads(ctx context.Context) ([]UploadResult, error)
	DeleteUpload(ctx context.Context, uploadID string) error
}

// TokenSource supplies the bearer credential attached to every request.
// Clearing the credential after a 401 is the session layer's job, not ours.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed-credential TokenSource, used for service-to-service
// auth and in tests.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }
