package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourusername/chartsnap/pkg/cron"
	"github.com/yourusername/chartsnap/pkg/model"
	"github.com/yourusername/chartsnap/pkg/render"
	"github.com/yourusername/chartsnap/pkg/store"
)

// fakeBackend satisfies render.Backend without a browser.
type fakeBackend struct {
	err     error
	lastReq *model.ChartRequest
}

func (f *fakeBackend) RenderChart(ctx context.Context, req *model.ChartRequest) ([]byte, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return testPNG(), nil
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) Name() string { return "fake" }

func testPNG() []byte {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func testHandler(t *testing.T) (*Handler, *fakeBackend) {
	t.Helper()

	st, err := store.NewStore(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	backend := &fakeBackend{}
	h := NewHandler(st, cron.NewScheduler(st, 1))
	h.backend = backend
	return h, backend
}

func chartBody(t *testing.T) *bytes.Reader {
	t.Helper()

	req := model.ChartRequest{
		Type: "bar",
		Data: model.ChartData{
			Labels:   []interface{}{"a", "b"},
			Datasets: []model.Dataset{{"data": []interface{}{1.0, 2.0}}},
		},
	}
	body, err := json.Marshal(&req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(body)
}

func TestHandleChartPOST(t *testing.T) {
	h, backend := testHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/api/chart", chartBody(t))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("response is not a PNG")
	}
	if backend.lastReq == nil || backend.lastReq.Type != "bar" {
		t.Errorf("backend got %+v, want bar request", backend.lastReq)
	}
}

func TestHandleChartGETQueryParam(t *testing.T) {
	h, backend := testHandler(t)

	c := `{"type":"line","data":{"labels":["x"],"datasets":[{"data":[5]}]},"width":640,"height":400}`
	r := httptest.NewRequest(http.MethodGet, "/api/chart?c="+url.QueryEscape(c), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if backend.lastReq.Width != 640 || backend.lastReq.Height != 400 {
		t.Errorf("got %dx%d, want 640x400", backend.lastReq.Width, backend.lastReq.Height)
	}
}

func TestHandleChartGETIndividualParams(t *testing.T) {
	h, backend := testHandler(t)

	u := "/api/chart?type=pie&data=" + url.QueryEscape(`{"labels":["a","b"],"datasets":[{"data":[3,4]}]}`) + "&width=300&height=200"
	r := httptest.NewRequest(http.MethodGet, u, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if backend.lastReq.Type != "pie" {
		t.Errorf("type = %q, want pie", backend.lastReq.Type)
	}
	if backend.lastReq.Width != 300 || backend.lastReq.Height != 200 {
		t.Errorf("got %dx%d, want 300x200", backend.lastReq.Width, backend.lastReq.Height)
	}
}

func TestHandleChartBadRequests(t *testing.T) {
	h, _ := testHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"unsupported type", `{"type":"treemap","data":{"datasets":[{"data":[1]}]}}`},
		{"no datasets", `{"type":"bar","data":{"datasets":[]}}`},
		{"missing type", `{"data":{"datasets":[{"data":[1]}]}}`},
		{"not json", `{{{`},
		{"oversize", `{"type":"bar","width":9000,"data":{"datasets":[{"data":[1]}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/chart", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		})
	}
}

func TestHandleChartRenderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"timeout", render.ErrRenderTimeout, http.StatusGatewayTimeout},
		{"wrapped timeout", fmt.Errorf("render: %w", render.ErrRenderTimeout), http.StatusGatewayTimeout},
		{"invalid config", fmt.Errorf("bad sparkline: %w", model.ErrInvalidConfiguration), http.StatusBadRequest},
		{"browser crash", fmt.Errorf("browser exited"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, backend := testHandler(t)
			backend.err = tt.err

			r := httptest.NewRequest(http.MethodPost, "/api/chart", chartBody(t))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			var envelope map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if envelope["error"] == "" {
				t.Error("error envelope is missing the error message")
			}
		})
	}
}

func TestHandleChartPDF(t *testing.T) {
	h, _ := testHandler(t)

	r := httptest.NewRequest(http.MethodPost, "/api/chart/pdf", chartBody(t))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q, want application/pdf", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")) {
		t.Error("response is not a PDF")
	}
}

func TestHandleChartEmailUnconfigured(t *testing.T) {
	h, _ := testHandler(t)

	body := `{"chart":{"type":"bar","data":{"datasets":[{"data":[1]}]}},"recipients":{"to":["a@example.com"]}}`
	r := httptest.NewRequest(http.MethodPost, "/api/chart/email", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	// No SMTP settings stored, so the request is rejected before rendering.
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleChartEmailNoRecipients(t *testing.T) {
	h, _ := testHandler(t)

	body := `{"chart":{"type":"bar","data":{"datasets":[{"data":[1]}]}}}`
	r := httptest.NewRequest(http.MethodPost, "/api/chart/email", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSnapshotCRUD(t *testing.T) {
	h, _ := testHandler(t)

	snapshot := model.Snapshot{
		Name: "daily sales",
		Chart: model.ChartRequest{
			Type: "bar",
			Data: model.ChartData{Datasets: []model.Dataset{{"data": []interface{}{1.0}}}},
		},
		CronExpr: "0 9 * * *",
		Timezone: "UTC",
		Enabled:  true,
	}
	body, _ := json.Marshal(&snapshot)

	r := httptest.NewRequest(http.MethodPost, "/api/snapshots", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}

	var created model.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("created snapshot has no ID")
	}
	if created.NextRunAt == nil {
		t.Error("enabled snapshot with cron expression should have next_run_at")
	}

	// Get
	r = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/snapshots/%d", created.ID), nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	// Update: disabling clears the next run time
	created.Enabled = false
	body, _ = json.Marshal(&created)
	r = httptest.NewRequest(http.MethodPut, fmt.Sprintf("/api/snapshots/%d", created.ID), bytes.NewReader(body))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	var updated model.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	if updated.NextRunAt != nil {
		t.Error("disabled snapshot should have no next_run_at")
	}

	// List
	r = httptest.NewRequest(http.MethodGet, "/api/snapshots", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Snapshots []model.Snapshot `json:"snapshots"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Snapshots) != 1 {
		t.Errorf("got %d snapshots, want 1", len(list.Snapshots))
	}

	// Delete
	r = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/api/snapshots/%d", created.ID), nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/snapshots/%d", created.ID), nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestSnapshotInvalid(t *testing.T) {
	h, _ := testHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"chart":{"type":"bar","data":{"datasets":[{"data":[1]}]}}}`},
		{"bad cron", `{"name":"x","cron_expr":"not a cron","chart":{"type":"bar","data":{"datasets":[{"data":[1]}]}}}`},
		{"bad chart type", `{"name":"x","chart":{"type":"wat","data":{"datasets":[{"data":[1]}]}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/snapshots", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestRenderArtifact(t *testing.T) {
	h, _ := testHandler(t)

	snapshot := &model.Snapshot{
		Name: "weekly report",
		Chart: model.ChartRequest{
			Type: "line",
			Data: model.ChartData{Datasets: []model.Dataset{{"data": []interface{}{1.0}}}},
		},
	}
	if err := h.store.CreateSnapshot(snapshot); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	rec := &model.Render{
		SnapshotID:   snapshot.ID,
		Status:       "success",
		ArtifactData: testPNG(),
	}
	if err := h.store.CreateRender(rec); err != nil {
		t.Fatalf("CreateRender: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/renders/%d/artifact", rec.ID), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	cd := w.Header().Get("Content-Disposition")
	if !strings.Contains(cd, "weekly_report-") || !strings.Contains(cd, ".png") {
		t.Errorf("Content-Disposition = %q, want generated filename", cd)
	}
	if !bytes.Equal(w.Body.Bytes(), rec.ArtifactData) {
		t.Error("artifact bytes differ from stored data")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	h, _ := testHandler(t)

	// Unconfigured service answers with defaults.
	r := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var settings model.Settings
	if err := json.Unmarshal(w.Body.Bytes(), &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if settings.RendererConfig.Backend != "chromium" {
		t.Errorf("default backend = %q, want chromium", settings.RendererConfig.Backend)
	}

	settings.Limits.MaxWidth = 1024
	body, _ := json.Marshal(&settings)
	r = httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", w.Code, w.Body.String())
	}

	r = httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	var got model.Settings
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Limits.MaxWidth != 1024 {
		t.Errorf("MaxWidth = %d, want 1024", got.Limits.MaxWidth)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := testHandler(t)

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %q", w.Body.String())
	}
}
