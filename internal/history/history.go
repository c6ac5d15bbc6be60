package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("analysis not found")

// Analysis is one recorded completed run.
type Analysis struct {
	ID            int64     `json:"id"`
	UploadID      string    `json:"upload_id"`
	Filename      string    `json:"filename"`
	AnalysisType  string    `json:"analysis_type"`
	FocusAreas    []string  `json:"focus_areas"`
	PlayerService bool      `json:"player_service"`
	CrowdService  bool      `json:"crowd_service"`
	SizeBytes     int64     `json:"size_bytes"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Repository persists completed analyses to SQLite.
type Repository struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	upload_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	analysis_type TEXT NOT NULL,
	focus_areas TEXT NOT NULL DEFAULT '',
	player_service INTEGER NOT NULL DEFAULT 0,
	crowd_service INTEGER NOT NULL DEFAULT 0,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	completed_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_upload_id ON analyses(upload_id);
`

// Open initializes the database at path, creating the schema if needed.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// Record inserts the analysis and fills in its assigned id.
func (r *Repository) Record(ctx context.Context, a *Analysis) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO analyses (upload_id, filename, analysis_type, focus_areas,
			player_service, crowd_service, size_bytes, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UploadID, a.Filename, a.AnalysisType, strings.Join(a.FocusAreas, ","),
		a.PlayerService, a.CrowdService, a.SizeBytes, a.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("record analysis: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("record analysis id: %w", err)
	}
	a.ID = id
	return nil
}

// List returns all recorded analyses, most recent first.
func (r *Repository) List(ctx context.Context) ([]*Analysis, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, upload_id, filename, analysis_type, focus_areas,
			player_service, crowd_service, size_bytes, completed_at
		FROM analyses ORDER BY completed_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return out, nil
}

// GetByUploadID returns the most recent analysis recorded for the upload.
func (r *Repository) GetByUploadID(ctx context.Context, uploadID string) (*Analysis, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, upload_id, filename, analysis_type, focus_areas,
			player_service, crowd_service, size_bytes, completed_at
		FROM analyses WHERE upload_id = ?
		ORDER BY completed_at DESC, id DESC LIMIT 1`, uploadID)
	a, err := scanAnalysis(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func scanAnalysis(scan func(...any) error) (*Analysis, error) {
	var (
		a     Analysis
		areas string
	)
	if err := scan(&a.ID, &a.UploadID, &a.Filename, &a.AnalysisType, &areas,
		&a.PlayerService, &a.CrowdService, &a.SizeBytes, &a.CompletedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	if areas != "" {
		a.FocusAreas = strings.Split(areas, ",")
	}
	return &a, nil
}
