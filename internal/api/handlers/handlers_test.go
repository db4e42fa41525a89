package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orrn/label-api/internal/core"
	"github.com/orrn/label-api/internal/driver"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	mu       sync.Mutex
	requests []core.PrintRequest
	invalid  []error
	result   core.PrintResult
	busy     bool
}

func (f *fakeService) Submit(_ context.Context, req core.PrintRequest) core.PrintResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result
}

func (f *fakeService) Invalid(err error) core.PrintResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalid = append(f.invalid, err)
	return core.PrintResult{Success: false, Error: err.Error(), Err: err}
}

func (f *fakeService) Busy() bool { return f.busy }

func (f *fakeService) Printer() core.PrinterSettings {
	return core.PrinterSettings{Model: "TE200", Backend: "network", Identifier: "tcp://10.0.0.2:9100"}
}

func postPrint(t *testing.T, h *PrintHandler, body string) (int, map[string]any) {
	t.Helper()
	r := gin.New()
	r.POST("/api/print", h.Print)

	req := httptest.NewRequest(http.MethodPost, "/api/print", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func TestPrint_ForwardsImageAndOptions(t *testing.T) {
	svc := &fakeService{result: core.PrintResult{
		Success: true,
		Result:  &driver.SendResult{InstructionsSent: true, Outcome: "printed", DidPrint: true, ReadyForNextJob: true},
	}}

	code, resp := postPrint(t, NewPrintHandler(svc), `{"image":"aGk=","label":"62","cut":true,"copies":2}`)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["success"])
	assert.NotContains(t, resp, "error")
	result := resp["result"].(map[string]any)
	assert.Equal(t, true, result["did_print"])
	assert.Equal(t, true, result["ready_for_next_job"])

	require.Len(t, svc.requests, 1)
	assert.Equal(t, "aGk=", svc.requests[0].Image)
	assert.Equal(t, map[string]any{"label": "62", "cut": true, "copies": float64(2)}, svc.requests[0].Options)
}

func TestPrint_RejectedBeforeSubmit(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "missing image", body: `{"label":"62"}`, wantErr: "image is required"},
		{name: "null body", body: `null`, wantErr: "image is required"},
		{name: "numeric image", body: `{"image":5}`, wantErr: "image must be a base64 string"},
		{name: "array body", body: `[1,2]`, wantErr: "invalid JSON body"},
		{name: "truncated body", body: `{"image":`, wantErr: "invalid JSON body"},
		{name: "empty body", body: ``, wantErr: "invalid JSON body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			code, resp := postPrint(t, NewPrintHandler(svc), tt.body)

			assert.Equal(t, http.StatusOK, code)
			assert.Equal(t, false, resp["success"])
			assert.Contains(t, resp["error"], tt.wantErr)
			assert.NotContains(t, resp, "result")
			assert.Empty(t, svc.requests)
			assert.Len(t, svc.invalid, 1)
		})
	}
}

func TestPrint_BusyIsHTTP200(t *testing.T) {
	svc := &fakeService{result: core.PrintResult{Success: false, Error: "Printer is busy"}}

	code, resp := postPrint(t, NewPrintHandler(svc), `{"image":"aGk="}`)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"success": false, "error": "Printer is busy"}, resp)
}

func TestStatus(t *testing.T) {
	svc := &fakeService{busy: true}
	h := NewStatusHandler(svc)

	r := gin.New()
	r.GET("/api/status", h.Status)
	r.GET("/healthz", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"busy":true,"model":"TE200","backend":"network","printer":"tcp://10.0.0.2:9100"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatic(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>label</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "js"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "js", "app.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(root), "secret.txt"), []byte("nope"), 0o644))

	h := NewStaticHandler(root)
	r := gin.New()
	r.GET("/", h.Index)
	r.GET("/static/*path", h.Asset)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{path: "/", wantCode: http.StatusOK, wantBody: "<html>label</html>"},
		{path: "/static/js/app.js", wantCode: http.StatusOK, wantBody: "console.log(1)"},
		{path: "/static/missing.js", wantCode: http.StatusNotFound},
		{path: "/static/js", wantCode: http.StatusNotFound},
		{path: "/static/", wantCode: http.StatusNotFound},
		{path: "/static/../secret.txt", wantCode: http.StatusNotFound},
		{path: "/static/js/../../secret.txt", wantCode: http.StatusNotFound},
		{path: "/static/%2e%2e/secret.txt", wantCode: http.StatusNotFound},
		{path: "/static/..%5csecret.txt", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestStatic_MissingIndex(t *testing.T) {
	h := NewStaticHandler(t.TempDir())
	r := gin.New()
	r.GET("/", h.Index)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
