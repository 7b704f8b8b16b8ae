package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/keagan/reelcutter/internal/store"
	"github.com/keagan/reelcutter/internal/watcher"
	"github.com/keagan/reelcutter/pkg/util"
)

// DefaultMaxUpload bounds multipart uploads
const DefaultMaxUpload = 2 << 30

// Submitter starts a run in the background
type Submitter interface {
	Submit(ctx context.Context, input string) (*store.Run, error)
}

// RunReader reads the run ledger
type RunReader interface {
	ListRuns(ctx context.Context, limit int) ([]*store.Run, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
}

// Options configures a Server
type Options struct {
	OutputDir string
	UploadDir string
	MaxUpload int64
}

// Server exposes runs and rendered reels over HTTP
type Server struct {
	logger    zerolog.Logger
	jobs      context.Context
	runner    Submitter
	runs      RunReader
	outputDir string
	uploadDir string
	maxUpload int64
}

// NewServer creates a server. Runs it submits live as long as jobs.
func NewServer(jobs context.Context, logger zerolog.Logger, runner Submitter, runs RunReader, opts Options) *Server {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = DefaultMaxUpload
	}
	return &Server{
		logger:    logger.With().Str("component", "api").Logger(),
		jobs:      jobs,
		runner:    runner,
		runs:      runs,
		outputDir: opts.OutputDir,
		uploadDir: opts.UploadDir,
		maxUpload: opts.MaxUpload,
	}
}

type createRunRequest struct {
	Path string `json:"path"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// CreateRunHandler accepts either a JSON body {"path": ...} naming a local
// video or a multipart upload in the "file" field.
func (s *Server) CreateRunHandler(w http.ResponseWriter, r *http.Request) {
	var (
		input string
		err   error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		input, err = s.saveUpload(w, r)
	} else {
		input, err = decodePath(r.Body)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if !util.FileExists(input) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("input not found: %s", input)})
		return
	}

	run, err := s.runner.Submit(s.jobs, input)
	if err != nil {
		s.logger.Error().Err(err).Str("input", input).Msg("failed to submit run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to submit run"})
		return
	}

	w.Header().Set("Location", "/api/runs/"+run.ID)
	writeJSON(w, http.StatusAccepted, run)
}

func decodePath(body io.Reader) (string, error) {
	var req createRunRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return "", fmt.Errorf("invalid request body: %w", err)
	}
	if strings.TrimSpace(req.Path) == "" {
		return "", errors.New("path is required")
	}
	return req.Path, nil
}

func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", fmt.Errorf("invalid upload: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", fmt.Errorf("missing file field: %w", err)
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	if !watcher.IsVideoFile(name) {
		return "", fmt.Errorf("unsupported file type: %s", name)
	}
	if err := util.EnsureDir(s.uploadDir); err != nil {
		return "", err
	}

	dst := filepath.Join(s.uploadDir, name)
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *Server) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list runs")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run not found"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", id).Msg("failed to load run")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load run"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// OutputHandler serves a rendered file inline
func (s *Server) OutputHandler(w http.ResponseWriter, r *http.Request) {
	s.serveOutput(w, r, false)
}

// DownloadHandler serves a rendered file as an attachment
func (s *Server) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	s.serveOutput(w, r, true)
}

func (s *Server) serveOutput(w http.ResponseWriter, r *http.Request, attachment bool) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.outputDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	if attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
