package report

import (
	"archive/zip"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"matchvision/internal/history"
)

func sampleAnalysis() *history.Analysis {
	return &history.Analysis{
		ID:            1,
		UploadID:      "up_1",
		Filename:      "grand-final.mp4",
		AnalysisType:  "Player Tracking",
		FocusAreas:    []string{"speed", "positioning"},
		PlayerService: true,
		CrowdService:  false,
		SizeBytes:     120 << 20,
		CompletedAt:   time.Date(2026, 8, 1, 15, 0, 0, 0, time.UTC),
	}
}

func TestTextRendering(t *testing.T) {
	rep := FromHistory(sampleAnalysis())
	text := rep.Text()

	for _, want := range []string{
		"grand-final.mp4",
		"Player Tracking",
		"speed, positioning",
		"120.0 MB",
		"Player Tracking: completed",
		"Crowd Analysis: not requested",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("report text missing %q:\n%s", want, text)
		}
	}
}

func TestJSONRendering(t *testing.T) {
	rep := FromHistory(sampleAnalysis())
	body, err := rep.JSON()
	if err != nil {
		t.Fatalf("render json: %v", err)
	}
	var decoded Report
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.UploadID != "up_1" || !decoded.Services.PlayerTracking {
		t.Fatalf("unexpected decode %+v", decoded)
	}
}

func TestExportBundle(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "report.zip")
	if err := ExportBundle(dest, FromHistory(sampleAnalysis())); err != nil {
		t.Fatalf("export: %v", err)
	}

	zr, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer func() { _ = zr.Close() }()

	names := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["report.txt"] || !names["report.json"] {
		t.Fatalf("bundle missing entries: %v", names)
	}
}
