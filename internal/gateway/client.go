package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// HTTPClient talks to the upload/inference backend over its REST API.
// Cancellation and timeouts are caller-supplied through the context; the
// client itself sets no global deadline because upload duration depends on
// file size.
type HTTPClient struct {
	baseURL string
	httpc   *http.Client
	tokens  TokenSource
}

func NewHTTPClient(baseURL string, tokens TokenSource) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
		tokens:  tokens,
	}
}

// Upload streams the file as multipart form data and reports byte progress
// through onProgress. Progress callbacks are monotonic in sent bytes.
func (c *HTTPClient) Upload(ctx context.Context, filename string, size int64, content io.Reader, onProgress ProgressFunc) (UploadResult, error) {
	bodyReader, bodyWriter := io.Pipe()
	form := multipart.NewWriter(bodyWriter)

	go func() {
		part, err := form.CreateFormFile("file", filename)
		if err != nil {
			_ = bodyWriter.CloseWithError(err)
			return
		}
		counted := &progressReader{r: content, total: size, onProgress: onProgress}
		if _, err := io.Copy(part, counted); err != nil {
			_ = bodyWriter.CloseWithError(err)
			return
		}
		_ = bodyWriter.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads/", bodyReader)
	if err != nil {
		return UploadResult{}, &UploadError{Reason: "bad_request", Err: err}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return UploadResult{}, &UploadError{Reason: classifyTransport(ctx, err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		log.Warn().Int("status", resp.StatusCode).Str("filename", filename).Msg("upload rejected by backend")
		return UploadResult{}, &UploadError{Reason: fmt.Sprintf("http_%d", resp.StatusCode)}
	}
	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResult{}, &UploadError{Reason: "bad_response", Err: err}
	}
	return out, nil
}

func (c *HTTPClient) RunPlayerTracking(ctx context.Context, uploadID string) (json.RawMessage, error) {
	payload, _ := json.Marshal(map[string]string{"id": uploadID})
	return c.postInference(ctx, "player", c.baseURL+"/inference/player/track", bytes.NewReader(payload))
}

func (c *HTTPClient) RunCrowdAnalysis(ctx context.Context, uploadID string) (json.RawMessage, error) {
	return c.postInference(ctx, "crowd", c.baseURL+"/inference/crowd/"+uploadID, nil)
}

func (c *HTTPClient) ListUploads(ctx context.Context) ([]UploadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/uploads/", nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list uploads: http %d", resp.StatusCode)
	}
	var out []UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode uploads listing: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) DeleteUpload(ctx context.Context, uploadID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/uploads/"+uploadID, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	c.authorize(req)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("delete upload: http %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) postInference(ctx context.Context, service, url string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, &InferenceError{Service: service, Reason: "bad_request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &InferenceError{Service: service, Reason: classifyTransport(ctx, err), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &InferenceError{Service: service, Reason: "bad_response", Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		log.Warn().Int("status", resp.StatusCode).Str("service", service).Msg("inference rejected by backend")
		return nil, &InferenceError{Service: service, Reason: backendReason(raw, resp.StatusCode)}
	}
	return raw, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// backendReason extracts a machine-readable reason tag from an error body,
// falling back to the status code.
func backendReason(body []byte, status int) string {
	var payload struct {
		Reason string `json:"reason"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Reason != "" {
			return payload.Reason
		}
		if payload.Detail != "" {
			return payload.Detail
		}
	}
	return fmt.Sprintf("http_%d", status)
}

func classifyTransport(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "processing_timeout"
	}
	return "network_error"
}

type progressReader struct {
	r          io.Reader
	total      int64
	sent       int64
	onProgress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.sent, p.total)
		}
	}
	return n, err
}
