package queue

import "time"

type Status string

const (
	StatusUploading  Status = "uploading"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusAnalyzing  Status = "analyzing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further ambient transitions may apply.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type AnalysisType string

const (
	TypeHighlights  AnalysisType = "Highlight Generation"
	TypePlayer      AnalysisType = "Player Tracking"
	TypeTactical    AnalysisType = "Tactical Analysis"
	TypePerformance AnalysisType = "Performance Analysis"
	TypeCrowd       AnalysisType = "Crowd Analysis"
)

// Processing stage tags. Informational only; control flow branches on Status.
const (
	StageFileUpload       = "file_upload"
	StageQueueWaiting     = "queue_waiting"
	StagePreprocessing    = "preprocessing"
	StageVideoAnalysis    = "video_analysis"
	StageAnalysisComplete = "analysis_complete"
	StageUploadError      = "upload_error"
	StageServiceRestart   = "service_restart"
)

// FailureReasons is the fixed vocabulary used both for simulated ambient
// failures and for classifying gateway errors.
var FailureReasons = []string{
	"insufficient_memory",
	"corrupted_segment",
	"processing_timeout",
	"unsupported_codec",
	"server_overload",
}

// Item is one tracked video-analysis job.
type Item struct {
	ID                  string       `json:"id"`
	UploadID            string       `json:"upload_id,omitempty"`
	Name                string       `json:"name"`
	AnalysisType        AnalysisType `json:"analysis_type"`
	Status              Status       `json:"status"`
	Progress            int          `json:"progress"`
	ProcessingStage     string       `json:"processing_stage"`
	Duration            string       `json:"duration,omitempty"`
	Size                string       `json:"size"`
	SizeBytes           int64        `json:"size_bytes"`
	UploadTime          time.Time    `json:"upload_time"`
	CompletedTime       *time.Time   `json:"completed_time,omitempty"`
	EstimatedCompletion *time.Time   `json:"estimated_completion,omitempty"`
	Priority            Priority     `json:"priority"`
	ErrorCount          int          `json:"error_count"`
	RetryCount          int          `json:"retry_count"`
	UIControlled        bool         `json:"ui_controlled"`
}

// Clone returns a deep copy so snapshot consumers cannot alias store state.
func (it *Item) Clone() *Item {
	cp := *it
	if it.CompletedTime != nil {
		t := *it.CompletedTime
		cp.CompletedTime = &t
	}
	if it.EstimatedCompletion != nil {
		t := *it.EstimatedCompletion
		cp.EstimatedCompletion = &t
	}
	return &cp
}
