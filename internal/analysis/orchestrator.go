package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"matchvision/internal/gateway"
	"matchvision/internal/queue"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FileInput is a candidate video file. Open defers content access until the
// upload actually starts so validation never touches the payload.
type FileInput struct {
	Name     string
	MIMEType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// Request describes one validated upload-and-analyze run.
type Request struct {
	AnalysisType queue.AnalysisType
	FocusAreas   []string
	RunPlayer    bool
	RunCrowd     bool
}

// CompletedRun is the record handed to the history recorder after a
// successful run.
type CompletedRun struct {
	UploadID     string
	Filename     string
	AnalysisType queue.AnalysisType
	FocusAreas   []string
	RunPlayer    bool
	RunCrowd     bool
	SizeBytes    int64
	CompletedAt  time.Time
}

// Recorder persists completed runs. Recording is best effort; a recorder
// failure never fails the run itself.
type Recorder interface {
	Record(ctx context.Context, run CompletedRun) error
}

type Options struct {
	AllowedTypes      []string
	MaxUploadBytes    int64
	MaxConcurrentRuns int
	InferenceTimeout  time.Duration
	AnalysisStepDelay time.Duration
}

const (
	defaultMaxUploadBytes   = 500 * 1024 * 1024
	defaultInferenceTimeout = 10 * time.Minute
	defaultStepDelay        = 50 * time.Millisecond
	defaultMaxConcurrent    = 3

	// analysisProgressCap is where stepped progress parks until all
	// inference calls have joined.
	analysisProgressCap  = 95
	analysisProgressStep = 2
	analysisStartFloor   = 5
)

// Orchestrator drives upload-and-analyze runs end to end, recording every
// state transition into the queue store. It owns the current file selection
// and a bounded pool of in-flight runs.
type Orchestrator struct {
	mu        sync.Mutex
	selected  *FileInput
	complete  bool
	lastError string

	store    *queue.Store
	gw       gateway.Client
	recorder Recorder

	allowedTypes      map[string]struct{}
	maxUploadBytes    int64
	inferenceTimeout  time.Duration
	analysisStepDelay time.Duration

	semaphore chan struct{}
	runsWG    sync.WaitGroup
	baseCtx   context.Context
}

func NewOrchestrator(store *queue.Store, gw gateway.Client, recorder Recorder, opts Options) *Orchestrator {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = defaultInferenceTimeout
	}
	if opts.AnalysisStepDelay <= 0 {
		opts.AnalysisStepDelay = defaultStepDelay
	}
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = defaultMaxConcurrent
	}
	if len(opts.AllowedTypes) == 0 {
		opts.AllowedTypes = []string{"video/mp4", "video/mov", "video/avi", "video/quicktime"}
	}
	allowed := make(map[string]struct{}, len(opts.AllowedTypes))
	for _, mt := range opts.AllowedTypes {
		allowed[strings.ToLower(mt)] = struct{}{}
	}
	return &Orchestrator{
		store:             store,
		gw:                gw,
		recorder:          recorder,
		allowedTypes:      allowed,
		maxUploadBytes:    opts.MaxUploadBytes,
		inferenceTimeout:  opts.InferenceTimeout,
		analysisStepDelay: opts.AnalysisStepDelay,
		semaphore:         make(chan struct{}, opts.MaxConcurrentRuns),
		baseCtx:           context.Background(),
	}
}

// SetBaseContext sets the context governing background runs. Intended to be
// set at startup and cancelled during shutdown.
func (o *Orchestrator) SetBaseContext(ctx context.Context) {
	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()
}

// WaitAll blocks until in-flight runs finish or ctx is done. Reports whether
// all runs finished.
func (o *Orchestrator) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		o.runsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// SelectFile validates the candidate and, on success, replaces the current
// selection and clears the completion and error flags. On failure the prior
// selection is retained untouched.
func (o *Orchestrator) SelectFile(candidate FileInput) error {
	if _, ok := o.allowedTypes[strings.ToLower(candidate.MIMEType)]; !ok {
		return ErrUnsupportedFormat
	}
	if candidate.Size > o.maxUploadBytes {
		return ErrFileTooLarge
	}
	o.mu.Lock()
	o.selected = &candidate
	o.complete = false
	o.lastError = ""
	o.mu.Unlock()
	return nil
}

// Selected returns the current validated selection, if any.
func (o *Orchestrator) Selected() (FileInput, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.selected == nil {
		return FileInput{}, false
	}
	return *o.selected, true
}

// Complete reports whether the most recent run finished successfully.
func (o *Orchestrator) Complete() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.complete
}

// LastError returns the user-visible message of the most recent failed run.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastError
}

// IsBusy reports whether the run pool is saturated.
func (o *Orchestrator) IsBusy() bool {
	return len(o.semaphore) >= cap(o.semaphore)
}

// Run drives one upload-and-analyze workflow synchronously. The returned
// item id is valid even when the run fails, since the failed item stays in
// the queue.
func (o *Orchestrator) Run(ctx context.Context, req Request) (string, error) {
	itemID, sel, err := o.begin(req)
	if err != nil {
		return "", err
	}
	return itemID, o.drive(ctx, itemID, sel, req)
}

// Start begins a run in the background, bounded by the run pool, and returns
// the queue item id immediately. Failures surface through the queue item and
// LastError.
func (o *Orchestrator) Start(req Request) (string, error) {
	itemID, sel, err := o.begin(req)
	if err != nil {
		return "", err
	}
	o.semaphore <- struct{}{}
	o.runsWG.Add(1)
	go func() {
		defer o.runsWG.Done()
		defer func() { <-o.semaphore }()
		o.mu.Lock()
		ctx := o.baseCtx
		o.mu.Unlock()
		if err := o.drive(ctx, itemID, sel, req); err != nil {
			log.Warn().Str("item_id", itemID).Err(err).Msg("analysis run failed")
		}
	}()
	return itemID, nil
}

// begin guards the selection precondition and enqueues the new item.
func (o *Orchestrator) begin(req Request) (string, FileInput, error) {
	o.mu.Lock()
	sel := o.selected
	o.mu.Unlock()
	if sel == nil {
		return "", FileInput{}, ErrNoFileSelected
	}
	if req.AnalysisType == "" {
		req.AnalysisType = queue.TypeHighlights
	}

	now := time.Now()
	est := now.Add(estimateDuration(sel.Size, 0))
	item := &queue.Item{
		ID:                  uuid.NewString(),
		Name:                sel.Name,
		AnalysisType:        req.AnalysisType,
		Status:              queue.StatusUploading,
		Progress:            0,
		ProcessingStage:     queue.StageFileUpload,
		Size:                formatSize(sel.Size),
		SizeBytes:           sel.Size,
		UploadTime:          now,
		EstimatedCompletion: &est,
		Priority:            derivePriority(len(req.FocusAreas)),
		UIControlled:        true,
	}
	if err := o.store.Enqueue(item); err != nil {
		return "", FileInput{}, fmt.Errorf("enqueue item: %w", err)
	}
	o.mu.Lock()
	o.complete = false
	o.lastError = ""
	o.mu.Unlock()
	return item.ID, *sel, nil
}

// drive runs the upload and analysis phases, always leaving the queue item
// in a consistent terminal state. Errors are both recorded on the item and
// returned to the caller.
func (o *Orchestrator) drive(ctx context.Context, itemID string, sel FileInput, req Request) error {
	uploaded, err := o.uploadPhase(ctx, itemID, sel)
	if err != nil {
		o.failItem(itemID, queue.StageUploadError)
		o.setError(err)
		return err
	}

	// Canonical transition for user-driven runs is uploading -> analyzing;
	// queued is reserved for ambient items. The progress floor signals
	// "started, not stalled".
	o.store.UpdateByID(itemID, func(it *queue.Item) {
		it.Status = queue.StatusAnalyzing
		it.Progress = analysisStartFloor
		it.ProcessingStage = queue.StageVideoAnalysis
	})

	if err := o.analysisPhase(ctx, itemID, uploaded.ID, req); err != nil {
		o.failItem(itemID, failureStage(err))
		o.setError(err)
		return err
	}

	completedAt := time.Now()
	o.store.UpdateByID(itemID, func(it *queue.Item) {
		it.Status = queue.StatusCompleted
		it.Progress = 100
		it.ProcessingStage = queue.StageAnalysisComplete
		it.CompletedTime = &completedAt
		it.EstimatedCompletion = nil
	})
	o.mu.Lock()
	o.complete = true
	o.mu.Unlock()

	if o.recorder != nil {
		run := CompletedRun{
			UploadID:     uploaded.ID,
			Filename:     sel.Name,
			AnalysisType: req.AnalysisType,
			FocusAreas:   req.FocusAreas,
			RunPlayer:    req.RunPlayer,
			RunCrowd:     req.RunCrowd,
			SizeBytes:    sel.Size,
			CompletedAt:  completedAt,
		}
		if err := o.recorder.Record(ctx, run); err != nil {
			log.Warn().Str("item_id", itemID).Err(err).Msg("record completed run failed")
		}
	}
	log.Info().Str("item_id", itemID).Str("upload_id", uploaded.ID).Msg("analysis run completed")
	return nil
}

// uploadPhase streams the file to the gateway, mapping byte progress onto
// the queue item. Progress is clamped monotonic within the phase.
func (o *Orchestrator) uploadPhase(ctx context.Context, itemID string, sel FileInput) (gateway.UploadResult, error) {
	content, err := sel.Open()
	if err != nil {
		return gateway.UploadResult{}, &gateway.UploadError{Reason: "file_unreadable", Err: err}
	}
	defer func() { _ = content.Close() }()

	res, err := o.gw.Upload(ctx, sel.Name, sel.Size, content, func(sent, total int64) {
		pct := 100
		if total > 0 {
			pct = int(sent * 100 / total)
		}
		o.store.UpdateByID(itemID, func(it *queue.Item) {
			if it.Status == queue.StatusUploading && pct > it.Progress {
				it.Progress = pct
			}
		})
	})
	if err != nil {
		return gateway.UploadResult{}, err
	}
	o.store.UpdateByID(itemID, func(it *queue.Item) {
		if it.Status == queue.StatusUploading {
			it.Progress = 100
		}
	})
	o.store.UpdateByID(itemID, func(it *queue.Item) { it.UploadID = res.ID })
	return res, nil
}

// analysisPhase fans out the requested inference calls and joins on all of
// them. Policy is join-then-any-fail: every in-flight call runs to
// completion even when a sibling errors, then the first error fails the run.
func (o *Orchestrator) analysisPhase(ctx context.Context, itemID, uploadID string, req Request) error {
	type inferenceCall struct {
		service string
		run     func(context.Context, string) (json.RawMessage, error)
	}
	var calls []inferenceCall
	if req.RunPlayer {
		calls = append(calls, inferenceCall{"player", o.gw.RunPlayerTracking})
	}
	if req.RunCrowd {
		calls = append(calls, inferenceCall{"crowd", o.gw.RunCrowdAnalysis})
	}
	if len(calls) == 0 {
		return nil
	}

	stepCtx, stopStepper := context.WithCancel(ctx)
	stepDone := make(chan struct{})
	go o.stepAnalysisProgress(stepCtx, itemID, stepDone)

	var wg sync.WaitGroup
	errs := make([]error, len(calls))
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call inferenceCall) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, o.inferenceTimeout)
			defer cancel()
			_, errs[i] = call.run(callCtx, uploadID)
		}(i, call)
	}
	wg.Wait()
	stopStepper()
	<-stepDone

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// stepAnalysisProgress advances the item in fixed increments while inference
// is in flight, parking below 100 until the join resolves.
func (o *Orchestrator) stepAnalysisProgress(ctx context.Context, itemID string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.analysisStepDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.store.UpdateByID(itemID, func(it *queue.Item) {
				if it.Status == queue.StatusAnalyzing && it.Progress < analysisProgressCap {
					it.Progress += analysisProgressStep
				}
			})
		}
	}
}

func (o *Orchestrator) failItem(itemID, stage string) {
	o.store.UpdateByID(itemID, func(it *queue.Item) {
		it.Status = queue.StatusFailed
		it.ProcessingStage = stage
		it.ErrorCount++
	})
}

func (o *Orchestrator) setError(err error) {
	o.mu.Lock()
	o.lastError = err.Error()
	o.mu.Unlock()
}

// failureStage maps a workflow error to the item's processing stage tag.
func failureStage(err error) string {
	var infErr *gateway.InferenceError
	if errors.As(err, &infErr) && infErr.Reason != "" {
		return infErr.Reason
	}
	var upErr *gateway.UploadError
	if errors.As(err, &upErr) {
		return queue.StageUploadError
	}
	return "inference_error"
}

func derivePriority(focusAreas int) queue.Priority {
	switch {
	case focusAreas > 2:
		return queue.PriorityHigh
	case focusAreas > 0:
		return queue.PriorityMedium
	default:
		return queue.PriorityLow
	}
}

func formatSize(bytes int64) string {
	return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
}

// estimateDuration is a coarse size-based completion estimate, longer after
// retries since the backlog already rejected the job once.
func estimateDuration(sizeBytes int64, retries int) time.Duration {
	base := 5*time.Minute + time.Duration(sizeBytes/(1024*1024))*time.Second
	return base + time.Duration(retries)*2*time.Minute
}
