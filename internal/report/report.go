package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"matchvision/internal/history"
)

// Report is the exportable view of one completed analysis.
type Report struct {
	UploadID     string    `json:"upload_id"`
	Filename     string    `json:"filename"`
	AnalysisType string    `json:"analysis_type"`
	FocusAreas   []string  `json:"focus_areas"`
	Services     Services  `json:"services"`
	SizeBytes    int64     `json:"size_bytes"`
	CompletedAt  time.Time `json:"completed_at"`
	GeneratedAt  time.Time `json:"generated_at"`
}

type Services struct {
	PlayerTracking bool `json:"player_tracking"`
	CrowdAnalysis  bool `json:"crowd_analysis"`
}

// FromHistory builds a report from a recorded analysis.
func FromHistory(a *history.Analysis) Report {
	return Report{
		UploadID:     a.UploadID,
		Filename:     a.Filename,
		AnalysisType: a.AnalysisType,
		FocusAreas:   a.FocusAreas,
		Services: Services{
			PlayerTracking: a.PlayerService,
			CrowdAnalysis:  a.CrowdService,
		},
		SizeBytes:   a.SizeBytes,
		CompletedAt: a.CompletedAt,
		GeneratedAt: time.Now(),
	}
}

// JSON renders the report as indented JSON.
func (r Report) JSON() ([]byte, error) {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return out, nil
}

// Text renders a plain-text report suitable for download.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "VIDEO ANALYSIS REPORT\n")
	fmt.Fprintf(&b, "Generated: %s\n", r.GeneratedAt.Format(time.RFC1123))
	fmt.Fprintf(&b, "Analysis ID: %s\n\n", r.UploadID)

	fmt.Fprintf(&b, "VIDEO INFORMATION\n")
	fmt.Fprintf(&b, "=================\n")
	fmt.Fprintf(&b, "File: %s\n", r.Filename)
	if r.SizeBytes > 0 {
		fmt.Fprintf(&b, "Size: %.1f MB\n", float64(r.SizeBytes)/(1024*1024))
	}
	fmt.Fprintf(&b, "Completed: %s\n\n", r.CompletedAt.Format(time.RFC1123))

	fmt.Fprintf(&b, "ANALYSIS\n")
	fmt.Fprintf(&b, "========\n")
	fmt.Fprintf(&b, "Type: %s\n", r.AnalysisType)
	if len(r.FocusAreas) > 0 {
		fmt.Fprintf(&b, "Focus Areas: %s\n", strings.Join(r.FocusAreas, ", "))
	}
	fmt.Fprintf(&b, "Player Tracking: %s\n", ranLabel(r.Services.PlayerTracking))
	fmt.Fprintf(&b, "Crowd Analysis: %s\n", ranLabel(r.Services.CrowdAnalysis))
	return b.String()
}

func ranLabel(ran bool) string {
	if ran {
		return "completed"
	}
	return "not requested"
}
