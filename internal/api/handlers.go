package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"matchvision/internal/analysis"
	"matchvision/internal/history"
	"matchvision/internal/queue"
	"matchvision/internal/report"
)

type startAnalysisResponse struct {
	ItemID string       `json:"item_id"`
	Status queue.Status `json:"status"`
}

type API struct {
	orch      *analysis.Orchestrator
	store     *queue.Store
	hist      *history.Repository
	exportDir string
	jwtSecret string
}

func NewAPI(orch *analysis.Orchestrator, store *queue.Store, hist *history.Repository, exportDir, jwtSecret string) *API {
	return &API{orch: orch, store: store, hist: hist, exportDir: exportDir, jwtSecret: jwtSecret}
}

// RegisterRoutes registers API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	grp := router.Group("/api/v1")
	if a.jwtSecret != "" {
		grp.Use(RequireAuth(a.jwtSecret))
	}
	grp.POST("/analyses", a.StartAnalysis)
	grp.GET("/queue", a.ListQueue)
	grp.GET("/queue/:id", a.GetQueueItem)
	grp.POST("/queue/:id/retry", a.RetryItem)
	grp.DELETE("/queue/:id", a.RemoveItem)
	grp.GET("/history", a.ListHistory)
	grp.GET("/history/:id/report", a.DownloadReport)
}

// StartAnalysis validates the uploaded video and launches a background
// upload-and-analyze run, returning the queue item id immediately.
func (a *API) StartAnalysis(c *gin.Context) {
	if a.orch.IsBusy() {
		log.Warn().Msg("rejecting analysis: run pool is saturated")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy"})
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing video file"})
		return
	}
	candidate := analysis.FileInput{
		Name:     header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Open:     func() (io.ReadCloser, error) { return header.Open() },
	}
	if err := a.orch.SelectFile(candidate); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, analysis.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		log.Warn().Str("filename", header.Filename).Err(err).Msg("video rejected")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	req := analysis.Request{
		AnalysisType: parseAnalysisType(c.PostForm("analysis_type")),
		FocusAreas:   c.PostFormArray("focus_areas"),
		RunPlayer:    c.PostForm("run_player") == "true",
		RunCrowd:     c.PostForm("run_crowd") == "true",
	}
	itemID, err := a.orch.Start(req)
	if err != nil {
		log.Warn().Err(err).Msg("failed to start analysis run")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("item_id", itemID).Str("filename", header.Filename).Msg("analysis run started")
	c.JSON(http.StatusAccepted, startAnalysisResponse{ItemID: itemID, Status: queue.StatusUploading})
}

// ListQueue returns a snapshot of the queue, newest first.
func (a *API) ListQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": a.store.ListAll()})
}

func (a *API) GetQueueItem(c *gin.Context) {
	if item, ok := a.store.GetByID(c.Param("id")); ok {
		c.JSON(http.StatusOK, item)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
}

// RetryItem resets a failed item back into the ambient pipeline.
func (a *API) RetryItem(c *gin.Context) {
	id := c.Param("id")
	err := a.orch.Retry(id)
	switch {
	case err == nil:
		item, _ := a.store.GetByID(id)
		c.JSON(http.StatusOK, item)
	case errors.Is(err, queue.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, analysis.ErrNotFailed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Warn().Str("item_id", id).Err(err).Msg("retry failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// RemoveItem deletes the item and, when the upload persisted server side,
// the backing resource. Gateway failures leave the queue untouched.
func (a *API) RemoveItem(c *gin.Context) {
	id := c.Param("id")
	err := a.orch.Remove(c.Request.Context(), id)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, queue.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Warn().Str("item_id", id).Err(err).Msg("remove failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (a *API) ListHistory(c *gin.Context) {
	analyses, err := a.hist.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analyses": analyses})
}

// DownloadReport serves the completed-analysis report as txt, json or a zip
// bundle containing both.
func (a *API) DownloadReport(c *gin.Context) {
	id := c.Param("id")
	rec, err := a.hist.GetByUploadID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		log.Error().Str("upload_id", id).Err(err).Msg("load history record failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load analysis"})
		return
	}
	rep := report.FromHistory(rec)

	switch c.DefaultQuery("format", "txt") {
	case "json":
		body, err := rep.JSON()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render report"})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=analysis-%s.json", id))
		c.Data(http.StatusOK, "application/json", body)
	case "zip":
		dest := filepath.Join(a.exportDir, "report-"+id+".zip")
		if err := report.ExportBundle(dest, rep); err != nil {
			log.Error().Str("upload_id", id).Err(err).Msg("export report bundle failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to export report"})
			return
		}
		c.FileAttachment(dest, "analysis-"+id+".zip")
	case "txt":
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=analysis-%s.txt", id))
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(rep.Text()))
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown report format"})
	}
}

// parseAnalysisType maps the short form keys used by the upload form onto
// the canonical analysis types.
func parseAnalysisType(key string) queue.AnalysisType {
	switch key {
	case "player":
		return queue.TypePlayer
	case "tactics":
		return queue.TypeTactical
	case "performance":
		return queue.TypePerformance
	case "crowd":
		return queue.TypeCrowd
	default:
		return queue.TypeHighlights
	}
}
