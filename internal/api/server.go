package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"protoscript/internal/config"
	"protoscript/internal/jobs"
	"protoscript/internal/models"
	"protoscript/internal/ratelimit"
	"protoscript/internal/telemetry"
)

// multipartMemory is how much of an upload is buffered in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// EventReader lists the audit trail of a job.
type EventReader interface {
	Events(ctx context.Context, jobID string) ([]models.AuditEvent, error)
}

// DLQReader lists jobs whose delivery failed.
type DLQReader interface {
	DLQPeek(ctx context.Context, count int64) ([]string, error)
}

// Server wires HTTP handlers for submission and polling.
type Server struct {
	cfg     config.Config
	jobs    *jobs.Service
	limiter ratelimit.Limiter
	events  EventReader
	dlq     DLQReader
}

// New constructs the API server. limiter, events and dlq may be nil.
func New(cfg config.Config, svc *jobs.Service, limiter ratelimit.Limiter, events EventReader, dlq DLQReader) *Server {
	return &Server{
		cfg:     cfg,
		jobs:    svc,
		limiter: limiter,
		events:  events,
		dlq:     dlq,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/protocols", func(r chi.Router) {
		r.Post("/request/", s.handleSubmit)
		r.Post("/request", s.handleSubmit)
		r.Get("/result/{id}/", s.handleResult)
		r.Get("/result/{id}", s.handleResult)
		r.Get("/result/{id}/events", s.handleEvents)
		r.Get("/dlq", s.handleDLQ)
	})
	return r
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), "rl:"+clientFromRequest(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with meta and audio")
		return
	}
	defer r.MultipartForm.RemoveAll()

	meta, err := formPart(r.MultipartForm, "meta")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	audio, err := formPart(r.MultipartForm, "audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.jobs.Submit(r.Context(), jobs.SubmitRequest{
		Meta:         meta,
		Audio:        audio,
		TemplateName: r.FormValue("template"),
	})
	switch {
	case errors.Is(err, models.ErrInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil && job.ID != "":
		telemetry.DispatchFailures.Inc()
		log.Printf("api: job %s: %v", job.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to dispatch job")
		return
	case err != nil:
		log.Printf("api: submit: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to store job")
		return
	}
	telemetry.JobsSubmitted.Inc()
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	poll, err := s.jobs.Poll(r.Context(), id)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		log.Printf("api: job %s: poll: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to read job")
		return
	}
	writeJSON(w, http.StatusOK, poll)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	id := chi.URLParam(r, "id")
	events, err := s.events.Events(r.Context(), id)
	if err != nil {
		log.Printf("api: job %s: events: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleDLQ returns the DLQ contents (IDs only).
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	if s.dlq == nil {
		writeError(w, http.StatusNotFound, "no dead-letter queue")
		return
	}
	items, err := s.dlq.DLQPeek(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dlq")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// formPart reads a field sent either as a file or as a plain value.
func formPart(form *multipart.Form, name string) ([]byte, error) {
	if files := form.File[name]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%s is empty", name)
		}
		return data, nil
	}
	if values := form.Value[name]; len(values) > 0 && values[0] != "" {
		return []byte(values[0]), nil
	}
	return nil, fmt.Errorf("%s is required", name)
}

func clientFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Client-ID"); v != "" {
		return v
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
