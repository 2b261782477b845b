package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/storewatch/storewatch/pkg/jobs"
	"github.com/storewatch/storewatch/pkg/metrics"
	"github.com/storewatch/storewatch/pkg/report"
)

type Config struct {
	Logger    *slog.Logger
	Registry  *jobs.Registry
	Generator *report.Generator

	// ReportsDir is where finished CSV artifacts are written, one per job id.
	ReportsDir string

	// FlushEvery controls how often the CSV sink flushes to disk mid-run.
	FlushEvery int

	// Metrics is optional instrumentation.
	Metrics *metrics.Metrics
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Registry == nil {
		return errors.New("job registry is required")
	}
	if cfg.Generator == nil {
		return errors.New("report generator is required")
	}
	if cfg.ReportsDir == "" {
		return errors.New("reports directory is required")
	}
	return nil
}

// Server exposes the report trigger/poll API. Report generation runs in a
// background goroutine per job; the trigger call returns immediately with the
// job id and callers poll until the artifact is ready.
type Server struct {
	log *slog.Logger
	cfg Config
}

func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{log: cfg.Logger, cfg: cfg}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/trigger_report", s.handleTriggerReport)
	r.Get("/get_report", s.handleGetReport)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTriggerReport(w http.ResponseWriter, _ *http.Request) {
	job := s.cfg.Registry.Start()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ReportsStarted.Inc()
	}
	s.log.Info("report triggered", "report_id", job.ID)

	go s.runJob(job.ID)

	writeJSON(w, http.StatusOK, map[string]string{"report_id": job.ID.String()})
}

// runJob drives one report to completion. Any failure marks the job as
// errored and removes the partial artifact so callers never see one.
func (s *Server) runJob(id uuid.UUID) {
	ctx := context.Background()

	path := filepath.Join(s.cfg.ReportsDir, fmt.Sprintf("%s.csv", id))
	if err := s.generateArtifact(ctx, path); err != nil {
		s.log.Error("report job failed", "report_id", id, "error", err)
		s.cfg.Registry.Fail(id, err.Error())
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ReportsFailed.Inc()
		}
		_ = os.Remove(path)
		return
	}

	s.cfg.Registry.Complete(id, path)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ReportsCompleted.Inc()
	}
	s.log.Info("report job complete", "report_id", id, "artifact", path)
}

func (s *Server) generateArtifact(ctx context.Context, path string) error {
	if err := os.MkdirAll(s.cfg.ReportsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	sink, err := report.NewCSVSink(f, s.cfg.FlushEvery)
	if err != nil {
		return err
	}
	if _, err := s.cfg.Generator.Generate(ctx, sink); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync report file: %w", err)
	}
	return nil
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	rawID := r.URL.Query().Get("report_id")
	if rawID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing report_id parameter"})
		return
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "report id not found"})
		return
	}
	job, ok := s.cfg.Registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "report id not found"})
		return
	}

	switch job.State {
	case jobs.StateRunning:
		writeJSON(w, http.StatusOK, map[string]string{"status": string(jobs.StateRunning)})
	case jobs.StateError:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": string(jobs.StateError),
			"error":  job.Error,
		})
	case jobs.StateComplete:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=report_%s.csv", job.ID))
		http.ServeFile(w, r, job.ArtifactPath)
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unknown report state"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
