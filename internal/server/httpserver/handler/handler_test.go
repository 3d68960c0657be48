package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/otamesh-go/internal/core/domain"
	"github.com/yndnr/otamesh-go/internal/core/resolve"
	"github.com/yndnr/otamesh-go/internal/core/service"
	"github.com/yndnr/otamesh-go/internal/storage"
)

type testServer struct {
	handler *Handler
	serve   *service.ServeService
	kv      storage.KVEngine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	kv := storage.NewMemoryEngine()
	t.Cleanup(func() { _ = kv.Close() })
	store := storage.NewCatalogStore(kv)

	dims := service.NewDimensionService(store, store)
	files := service.NewFileService(store)
	packages := service.NewPackageService(store, files)
	releases := service.NewReleaseService(store, dims, packages, files)
	serve := service.NewServeService(resolve.NewEngine(), dims, store, packages, files, nil, slog.Default())
	dims.OnChange(serve.OnCatalogChange)
	releases.OnChange(serve.OnCatalogChange)
	if err := dims.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	h := New(Services{
		Dimensions: dims,
		Releases:   releases,
		Files:      files,
		Packages:   packages,
		Serve:      serve,
		Analytics:  service.NewAnalyticsService(storage.NewAnalyticsStore(kv), time.Hour),
		KV:         kv,
	})
	return &testServer{handler: h, serve: serve, kv: kv}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if r != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

// expect checks the status and decodes the envelope data into out.
func expect(t *testing.T, w *httptest.ResponseRecorder, status int, out any) *Response {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, status, w.Body.String())
	}
	var env struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v; body = %s", err, w.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
	return &env.Response
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	resp := expect(t, w, status, nil)
	if resp.Code != code {
		t.Errorf("code = %q, want %q (details %v)", resp.Code, code, resp.Details)
	}
	if got := w.Header().Get("X-Error-Code"); got != code {
		t.Errorf("X-Error-Code = %q, want %q", got, code)
	}
}

// seed publishes one release of index.html targeting region=us.
func (s *testServer) seed(t *testing.T) *domain.Release {
	t.Helper()
	expect(t, s.do(t, "POST", "/admin/v1/dimensions", CreateDimensionRequest{Key: "region"}), http.StatusCreated, nil)

	data := []byte("<html></html>")
	var file fileResponse
	expect(t, s.do(t, "POST", "/admin/v1/files", CreateFileRequest{
		FilePath: "index.html",
		URL:      "https://cdn.example.com/index.html",
		Checksum: domain.Checksum(data),
		Size:     int64(len(data)),
	}), http.StatusCreated, &file)
	if file.ID != "index.html@version:1" {
		t.Fatalf("file id = %q", file.ID)
	}

	expect(t, s.do(t, "POST", "/admin/v1/package-groups", CreateGroupRequest{Name: "main"}), http.StatusCreated, nil)
	var pkg domain.Package
	expect(t, s.do(t, "POST", "/admin/v1/packages", CreatePackageRequest{Index: file.ID}), http.StatusCreated, &pkg)

	var rel domain.Release
	expect(t, s.do(t, "POST", "/admin/v1/releases", CreateReleaseRequest{
		PackageVersion:    pkg.Version,
		DimensionFilter:   map[string]string{"region": "us"},
		RolloutPercentage: 100,
	}), http.StatusCreated, &rel)
	expect(t, s.do(t, "POST", "/admin/v1/releases/"+rel.ID+"/publish", nil), http.StatusOK, &rel)
	if rel.Experiment.Status != domain.ReleaseActive {
		t.Fatalf("status after publish = %q", rel.Experiment.Status)
	}
	return &rel
}

func TestHandler_Health(t *testing.T) {
	s := newTestServer(t)

	var health HealthResponse
	expect(t, s.do(t, "GET", "/health", nil), http.StatusOK, &health)
	if health.Status != "healthy" || health.Version == "" {
		t.Errorf("health = %+v", health)
	}

	expectError(t, s.do(t, "GET", "/ready", nil), http.StatusServiceUnavailable, domain.ErrServiceUnavailable.Code)

	if err := s.serve.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	expect(t, s.do(t, "GET", "/ready", nil), http.StatusOK, &health)
	if health.Status != "ready" || health.SnapshotBuiltAt == "" {
		t.Errorf("ready = %+v", health)
	}
}

func TestHandler_ReleaseConfig(t *testing.T) {
	s := newTestServer(t)
	rel := s.seed(t)

	w := s.do(t, "GET", "/v1/release-config?device_id=dev-1&region=us", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Release-ID"); got != rel.ID {
		t.Errorf("X-Release-ID = %q, want %q", got, rel.ID)
	}
	var rc domain.ReleaseConfig
	if err := json.Unmarshal(w.Body.Bytes(), &rc); err != nil {
		t.Fatal(err)
	}
	if rc.Version != rel.ID || rc.Package.Index.FilePath != "index.html" {
		t.Errorf("config = %+v", rc)
	}

	w = s.do(t, "GET", "/v1/release-config?device_id=dev-1&region=eu", nil)
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Errorf("unmatched: status = %d, body = %q", w.Code, w.Body.String())
	}

	// Paused releases stop serving.
	expect(t, s.do(t, "POST", "/admin/v1/releases/"+rel.ID+"/pause", nil), http.StatusOK, nil)
	if w := s.do(t, "GET", "/v1/release-config?device_id=dev-1&region=us", nil); w.Code != http.StatusNoContent {
		t.Errorf("paused: status = %d", w.Code)
	}

	var p service.Preview
	expect(t, s.do(t, "POST", "/admin/v1/resolve/preview", PreviewRequest{
		DeviceID: "dev-1",
		Context:  map[string]string{"region": "us"},
	}), http.StatusOK, &p)
	if p.Matched || p.Bucket != resolve.Bucket("dev-1") {
		t.Errorf("preview = %+v", p)
	}
}

func TestHandler_Releases(t *testing.T) {
	s := newTestServer(t)
	rel := s.seed(t)

	var got domain.Release
	expect(t, s.do(t, "POST", "/admin/v1/releases/"+rel.ID+"/ramp", RampReleaseRequest{RolloutPercentage: ptr(0)}), http.StatusOK, &got)
	if got.Experiment.RolloutPercentage != 0 {
		t.Errorf("rollout = %d, want 0", got.Experiment.RolloutPercentage)
	}
	expectError(t, s.do(t, "POST", "/admin/v1/releases/"+rel.ID+"/ramp", `{}`), http.StatusBadRequest, domain.ErrReleaseValidation.Code)
	expectError(t, s.do(t, "POST", "/admin/v1/releases/"+rel.ID+"/ramp", RampReleaseRequest{RolloutPercentage: ptr(101)}), http.StatusBadRequest, domain.ErrReleaseValidation.Code)

	expect(t, s.do(t, "POST", "/admin/v1/releases/"+rel.ID+"/rollback", nil), http.StatusOK, &got)
	if got.Experiment.Status != domain.ReleaseRolledBack {
		t.Errorf("status = %q", got.Experiment.Status)
	}
	expectError(t, s.do(t, "POST", "/admin/v1/releases/"+rel.ID+"/resume", nil), http.StatusConflict, domain.ErrReleaseTransition.Code)
	expectError(t, s.do(t, "POST", "/admin/v1/releases/"+rel.ID+"/explode", nil), http.StatusNotFound, domain.ErrNotFound.Code)
	expectError(t, s.do(t, "GET", "/admin/v1/releases/rel-missing", nil), http.StatusNotFound, domain.ErrReleaseNotFound.Code)

	var list ListResponse[domain.Release]
	expect(t, s.do(t, "GET", "/admin/v1/releases?status=rolled_back", nil), http.StatusOK, &list)
	if list.Total != 1 || list.Items[0].ID != rel.ID {
		t.Errorf("list = %+v", list)
	}
	expect(t, s.do(t, "GET", "/admin/v1/releases?status=active", nil), http.StatusOK, &list)
	if list.Total != 0 {
		t.Errorf("active releases = %d, want 0", list.Total)
	}
	expectError(t, s.do(t, "GET", "/admin/v1/releases?status=bogus", nil), http.StatusBadRequest, domain.ErrInvalidArgument.Code)
}

func TestHandler_Dimensions(t *testing.T) {
	s := newTestServer(t)
	rel := s.seed(t)

	expectError(t, s.do(t, "POST", "/admin/v1/dimensions", CreateDimensionRequest{}), http.StatusBadRequest, domain.ErrDimensionValidation.Code)
	expectError(t, s.do(t, "POST", "/admin/v1/dimensions", CreateDimensionRequest{Key: "region"}), http.StatusBadRequest, domain.ErrDimensionValidation.Code)
	expectError(t, s.do(t, "POST", "/admin/v1/dimensions", `{"key":`), http.StatusBadRequest, domain.ErrBadRequest.Code)
	expectError(t, s.do(t, "POST", "/admin/v1/dimensions", ""), http.StatusBadRequest, domain.ErrBadRequest.Code)

	var d domain.Dimension
	expect(t, s.do(t, "POST", "/admin/v1/dimensions", CreateDimensionRequest{Key: "app_version"}), http.StatusCreated, &d)
	if d.Priority != 2 {
		t.Errorf("appended priority = %d, want 2", d.Priority)
	}
	expect(t, s.do(t, "POST", "/admin/v1/dimensions/app_version/reorder", ReorderDimensionRequest{Priority: 1}), http.StatusOK, &d)
	if d.Priority != 1 {
		t.Errorf("priority after reorder = %d", d.Priority)
	}

	var list ListResponse[domain.Dimension]
	expect(t, s.do(t, "GET", "/admin/v1/dimensions", nil), http.StatusOK, &list)
	if list.Total != 2 || list.Items[0].Key != "app_version" {
		t.Errorf("dimensions = %+v", list.Items)
	}

	// A dimension used by a live release cannot be removed.
	expectError(t, s.do(t, "POST", "/admin/v1/dimensions/region/remove", nil), http.StatusConflict, domain.ErrDimensionDependency.Code)
	expect(t, s.do(t, "POST", "/admin/v1/releases/"+rel.ID+"/rollback", nil), http.StatusOK, nil)
	expect(t, s.do(t, "POST", "/admin/v1/dimensions/region/remove", nil), http.StatusOK, nil)
	expectError(t, s.do(t, "GET", "/admin/v1/dimensions/region", nil), http.StatusNotFound, domain.ErrDimensionNotFound.Code)
}

func TestHandler_FilesAndPackages(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	var f fileResponse
	expect(t, s.do(t, "GET", "/admin/v1/files/lookup?key=index.html", nil), http.StatusOK, &f)
	if f.ID != "index.html@version:1" {
		t.Errorf("lookup latest = %q", f.ID)
	}
	expect(t, s.do(t, "POST", "/admin/v1/files/tag", TagFileRequest{Key: f.ID, Tag: "stable"}), http.StatusOK, &f)
	expect(t, s.do(t, "GET", "/admin/v1/files/lookup?key=index.html@tag:stable", nil), http.StatusOK, &f)
	if f.Tag != "stable" {
		t.Errorf("tag = %q", f.Tag)
	}
	expectError(t, s.do(t, "GET", "/admin/v1/files/lookup", nil), http.StatusBadRequest, domain.ErrMissingArgument.Code)
	expectError(t, s.do(t, "GET", "/admin/v1/files/lookup?key=missing.js", nil), http.StatusNotFound, domain.ErrFileNotFound.Code)
	expectError(t, s.do(t, "POST", "/admin/v1/files", CreateFileRequest{
		FilePath: "app.js",
		URL:      "https://cdn.example.com/app.js",
		Checksum: "not-a-checksum",
		Size:     1,
	}), http.StatusBadRequest, domain.ErrFileValidation.Code)

	var files ListResponse[fileResponse]
	expect(t, s.do(t, "GET", "/admin/v1/files?prefix=index", nil), http.StatusOK, &files)
	if files.Total != 1 {
		t.Errorf("files = %d, want 1", files.Total)
	}

	var groups ListResponse[domain.PackageGroup]
	expect(t, s.do(t, "GET", "/admin/v1/package-groups", nil), http.StatusOK, &groups)
	if groups.Total != 1 || !groups.Items[0].Primary {
		t.Errorf("groups = %+v", groups.Items)
	}

	var pkg domain.Package
	expect(t, s.do(t, "GET", "/admin/v1/packages/1", nil), http.StatusOK, &pkg)
	if pkg.Index != "index.html@version:1" {
		t.Errorf("package index = %q", pkg.Index)
	}
	expectError(t, s.do(t, "GET", "/admin/v1/packages/two", nil), http.StatusBadRequest, domain.ErrInvalidArgument.Code)
	expectError(t, s.do(t, "GET", "/admin/v1/packages/9", nil), http.StatusNotFound, domain.ErrPackageNotFound.Code)
	expectError(t, s.do(t, "POST", "/admin/v1/packages", CreatePackageRequest{Index: "missing.js"}), http.StatusNotFound, domain.ErrFileNotFound.Code)
}

func TestHandler_Events(t *testing.T) {
	s := newTestServer(t)
	rel := s.seed(t)

	now := time.Now()
	events := IngestEventsRequest{Events: []*domain.Event{
		{AppUpdateID: "upd-1", DeviceID: "dev-1", ReleaseID: rel.ID, Type: domain.EventDownloadCompleted, Timestamp: now.UnixMilli()},
		{AppUpdateID: "upd-1", DeviceID: "dev-1", ReleaseID: rel.ID, Type: domain.EventApplySuccess, Timestamp: now.UnixMilli()},
	}}

	var res service.IngestResult
	expect(t, s.do(t, "POST", "/v1/events", events), http.StatusOK, &res)
	if res.Accepted != 2 || res.Duplicates != 0 {
		t.Errorf("first ingest = %+v", res)
	}
	expect(t, s.do(t, "POST", "/v1/events", events), http.StatusOK, &res)
	if res.Accepted != 0 || res.Duplicates != 2 {
		t.Errorf("replayed ingest = %+v", res)
	}

	expectError(t, s.do(t, "POST", "/v1/events", IngestEventsRequest{}), http.StatusBadRequest, domain.ErrEventValidation.Code)
	expectError(t, s.do(t, "POST", "/v1/events", IngestEventsRequest{Events: []*domain.Event{
		{AppUpdateID: "upd-2", Type: domain.EventApplySuccess, Timestamp: now.UnixMilli()},
	}}), http.StatusBadRequest, domain.ErrEventValidation.Code)

	var report service.AdoptionReport
	expect(t, s.do(t, "GET", "/admin/v1/analytics/adoption?release_id="+rel.ID+"&interval=day", nil), http.StatusOK, &report)
	if report.Totals.DownloadSuccess != 1 || report.Totals.ApplySuccess != 1 {
		t.Errorf("totals = %+v", report.Totals)
	}
	expectError(t, s.do(t, "GET", "/admin/v1/analytics/adoption?interval=week", nil), http.StatusBadRequest, domain.ErrInvalidArgument.Code)
	expectError(t, s.do(t, "GET", "/admin/v1/analytics/adoption?from=yesterday", nil), http.StatusBadRequest, domain.ErrInvalidArgument.Code)
}

func TestHandler_Backup(t *testing.T) {
	s := newTestServer(t)
	s.seed(t)

	w := s.do(t, "GET", "/admin/v1/backup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/zstd" {
		t.Errorf("Content-Type = %q", ct)
	}
	rc, err := storage.OpenBackup(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("backup is empty")
	}
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{"OM-ARG-1001", http.StatusBadRequest},
		{"OM-DIM-4040", http.StatusNotFound},
		{"OM-REL-4091", http.StatusConflict},
		{"OM-SYS-4290", http.StatusTooManyRequests},
		{"OM-SYS-5030", http.StatusServiceUnavailable},
		{"OM-UPD-4220", http.StatusUnprocessableEntity},
		{"OM-SYS-9999", http.StatusInternalServerError},
		{"garbage", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorCodeToHTTPStatus(tt.code); got != tt.want {
			t.Errorf("errorCodeToHTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func ptr[T any](v T) *T { return &v }
