package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/keagan/reelcutter/internal/store"
)

type fakeRunner struct {
	inputs []string
}

func (f *fakeRunner) Submit(_ context.Context, input string) (*store.Run, error) {
	f.inputs = append(f.inputs, input)
	return &store.Run{ID: fmt.Sprintf("run-%d", len(f.inputs)), InputPath: input, Status: store.StatusRunning}, nil
}

type fakeRuns struct {
	runs map[string]*store.Run
}

func (f fakeRuns) ListRuns(context.Context, int) ([]*store.Run, error) {
	var out []*store.Run
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f fakeRuns) GetRun(_ context.Context, id string) (*store.Run, error) {
	if r, ok := f.runs[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
}

type testServer struct {
	handler   http.Handler
	runner    *fakeRunner
	outputDir string
	uploadDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	ts := &testServer{
		runner:    &fakeRunner{},
		outputDir: filepath.Join(dir, "outputs"),
		uploadDir: filepath.Join(dir, "inputs"),
	}
	if err := os.MkdirAll(ts.outputDir, 0o755); err != nil {
		t.Fatal(err)
	}
	runs := fakeRuns{runs: map[string]*store.Run{
		"abc": {ID: "abc", InputPath: "/videos/a.mp4", Status: store.StatusCompleted, StartedAt: time.Now()},
	}}
	srv := NewServer(context.Background(), zerolog.Nop(), ts.runner, runs, Options{
		OutputDir: ts.outputDir,
		UploadDir: ts.uploadDir,
	})
	ts.handler = srv.Router()
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("GET /ping = %d %q", rec.Code, rec.Body.String())
	}
}

func TestCreateRunFromPath(t *testing.T) {
	ts := newTestServer(t)
	input := filepath.Join(t.TempDir(), "talk.mp4")
	if err := os.WriteFile(input, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}

	body := strings.NewReader(fmt.Sprintf(`{"path": %q}`, input))
	req := httptest.NewRequest(http.MethodPost, "/api/runs", body)
	req.Header.Set("Content-Type", "application/json")
	rec := ts.do(req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/api/runs/run-1" {
		t.Errorf("Location = %q", loc)
	}
	var run store.Run
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if run.ID != "run-1" || run.InputPath != input {
		t.Errorf("run = %#v", run)
	}
}

func TestCreateRunRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"path":`},
		{"empty path", `{"path": "  "}`},
		{"missing file", `{"path": "/definitely/not/here.mp4"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if len(ts.runner.inputs) != 0 {
				t.Error("run submitted for a bad request")
			}
		})
	}
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestCreateRunFromUpload(t *testing.T) {
	ts := newTestServer(t)
	body, contentType := multipartUpload(t, "clip.mp4", []byte("video bytes"))

	req := httptest.NewRequest(http.MethodPost, "/api/runs", body)
	req.Header.Set("Content-Type", contentType)
	rec := ts.do(req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	want := filepath.Join(ts.uploadDir, "clip.mp4")
	if len(ts.runner.inputs) != 1 || ts.runner.inputs[0] != want {
		t.Errorf("submitted %v, want %s", ts.runner.inputs, want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "video bytes" {
		t.Errorf("upload saved as %q, err %v", data, err)
	}
}

func TestCreateRunRejectsNonVideoUpload(t *testing.T) {
	ts := newTestServer(t)
	body, contentType := multipartUpload(t, "notes.txt", []byte("hi"))

	req := httptest.NewRequest(http.MethodPost, "/api/runs", body)
	req.Header.Set("Content-Type", contentType)
	if rec := ts.do(req); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetRun(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/abc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var run store.Run
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if run.ID != "abc" || run.Status != store.StatusCompleted {
		t.Errorf("run = %#v", run)
	}

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rec.Code)
	}
}

func TestListRuns(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var runs []store.Run
	if err := json.NewDecoder(rec.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("runs = %d, want 1", len(runs))
	}

	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/runs?limit=x", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestOutputsAndDownload(t *testing.T) {
	ts := newTestServer(t)
	name := "reel_1_Dynamic_Peak.mp4"
	if err := os.WriteFile(filepath.Join(ts.outputDir, name), []byte("reel"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/outputs/"+name, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "reel" {
		t.Errorf("inline = %d %q", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != "" {
		t.Errorf("inline Content-Disposition = %q", cd)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/download/"+name, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") || !strings.Contains(cd, name) {
		t.Errorf("download Content-Disposition = %q", cd)
	}

	for _, path := range []string{"/outputs/missing.mp4", "/outputs/..%2Fsecret", "/download/.reelcutter.lock"} {
		if rec := ts.do(httptest.NewRequest(http.MethodGet, path, nil)); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}
