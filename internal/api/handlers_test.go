package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"matchvision/internal/analysis"
	"matchvision/internal/gateway"
	"matchvision/internal/history"
	"matchvision/internal/queue"
)

// fakeGateway answers every call successfully.
type fakeGateway struct{}

func (fakeGateway) Upload(_ context.Context, filename string, size int64, content io.Reader, onProgress gateway.ProgressFunc) (gateway.UploadResult, error) {
	_, _ = io.Copy(io.Discard, content)
	if onProgress != nil {
		onProgress(size, size)
	}
	return gateway.UploadResult{ID: "up_1", OriginalFilename: filename, CreatedAt: time.Now()}, nil
}

func (fakeGateway) RunPlayerTracking(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (fakeGateway) RunCrowdAnalysis(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (fakeGateway) ListUploads(context.Context) ([]gateway.UploadResult, error) { return nil, nil }

func (fakeGateway) DeleteUpload(context.Context, string) error { return nil }

type testEnv struct {
	router *gin.Engine
	store  *queue.Store
	hist   *history.Repository
}

func setupAPI(t *testing.T, jwtSecret string) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := queue.NewStore()
	hist, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })

	orch := analysis.NewOrchestrator(store, fakeGateway{}, nil, analysis.Options{
		MaxConcurrentRuns: 2,
		InferenceTimeout:  time.Second,
		AnalysisStepDelay: time.Millisecond,
	})
	router := gin.New()
	NewAPI(orch, store, hist, t.TempDir(), jwtSecret).RegisterRoutes(router)
	return testEnv{router: router, store: store, hist: hist}
}

func multipartVideo(t *testing.T, filename, contentType string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write([]byte("fake video frames")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestStartAnalysisAccepted(t *testing.T) {
	env := setupAPI(t, "")
	body, contentType := multipartVideo(t, "match.mp4", "video/mp4", map[string]string{
		"analysis_type": "player",
		"run_player":    "true",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ItemID string `json:"item_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.ItemID == "" {
		t.Fatalf("bad response %s: %v", w.Body.String(), err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if item, ok := env.store.GetByID(resp.ItemID); ok && item.Status.Terminal() {
			if item.Status != queue.StatusCompleted {
				t.Fatalf("expected completed, got %s (%s)", item.Status, item.ProcessingStage)
			}
			if item.AnalysisType != queue.TypePlayer {
				t.Fatalf("unexpected analysis type %s", item.AnalysisType)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for background run")
}

func TestStartAnalysisRejectsUnsupportedFormat(t *testing.T) {
	env := setupAPI(t, "")
	body, contentType := multipartVideo(t, "notes.txt", "text/plain", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if env.store.Len() != 0 {
		t.Fatalf("rejected upload must not enqueue anything")
	}
}

func TestStartAnalysisRequiresFile(t *testing.T) {
	env := setupAPI(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestQueueEndpoints(t *testing.T) {
	env := setupAPI(t, "")
	_ = env.store.Enqueue(&queue.Item{ID: "q1", Name: "a.mp4", Status: queue.StatusQueued, UploadTime: time.Now()})

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list queue: %d", w.Code)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/queue/q1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get item: %d", w.Code)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/queue/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRetryEndpointStatuses(t *testing.T) {
	env := setupAPI(t, "")
	_ = env.store.Enqueue(&queue.Item{ID: "f1", Name: "a.mp4", Status: queue.StatusFailed, UploadTime: time.Now()})

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/queue/f1/retry", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("retry failed item: %d (%s)", w.Code, w.Body.String())
	}

	// item is now queued; retrying again conflicts
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/queue/f1/retry", nil))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/queue/missing/retry", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRemoveEndpoint(t *testing.T) {
	env := setupAPI(t, "")
	_ = env.store.Enqueue(&queue.Item{ID: "q1", Name: "a.mp4", Status: queue.StatusFailed, UploadTime: time.Now()})

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/queue/q1", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if env.store.Len() != 0 {
		t.Fatalf("item should be gone")
	}
}

func TestHistoryAndReportEndpoints(t *testing.T) {
	env := setupAPI(t, "")
	rec := &history.Analysis{
		UploadID:      "up_1",
		Filename:      "match.mp4",
		AnalysisType:  "Crowd Analysis",
		CrowdService:  true,
		PlayerService: false,
		CompletedAt:   time.Now(),
	}
	if err := env.hist.Record(context.Background(), rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("match.mp4")) {
		t.Fatalf("history listing: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history/up_1/report?format=json", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("json report: %d", w.Code)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history/up_1/report", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("VIDEO ANALYSIS REPORT")) {
		t.Fatalf("txt report: %d", w.Code)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history/up_1/report?format=docx", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/history/missing/report", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRequireAuth(t *testing.T) {
	const secret = "test-secret"
	env := setupAPI(t, secret)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "analyst",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", w.Code)
	}

	// health endpoint stays open
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("healthz should not require auth, got %d", w.Code)
	}
}
