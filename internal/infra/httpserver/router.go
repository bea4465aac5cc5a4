package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	appanalysis "github.com/DeMost777/UX-Audit/internal/application/analysis"
	domai "github.com/DeMost777/UX-Audit/internal/domain/ai"
	domain "github.com/DeMost777/UX-Audit/internal/domain/analysis"
	"github.com/DeMost777/UX-Audit/internal/middleware"
)

// Options carries the request-surface limits the router enforces.
type Options struct {
	MaxUploadBytes     int64
	SignedURLExpirySec int
	Health             http.HandlerFunc

	// APIKeys maps tenant -> key; empty map disables auth
	APIKeys map[string]string

	RateLimitCapacity int
	RateLimitPerSec   int
}

type Router struct {
	svc  *appanalysis.Service
	opts Options
}

func NewRouter(svc *appanalysis.Service, opts Options) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	if opts.SignedURLExpirySec <= 0 {
		opts.SignedURLExpirySec = 3600
	}
	r := &Router{svc: svc, opts: opts}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	if len(opts.APIKeys) > 0 {
		mux.Use(middleware.APIKeyAuth(opts.APIKeys))
	}
	if opts.RateLimitCapacity > 0 && opts.RateLimitPerSec > 0 {
		mux.Use(middleware.RateLimitMiddleware(opts.RateLimitCapacity, opts.RateLimitPerSec))
	}

	if opts.Health != nil {
		mux.Get("/health", opts.Health)
	} else {
		mux.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("ok"))
		})
	}
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/{tenant}", func(rt chi.Router) {
		if len(opts.APIKeys) > 0 {
			rt.Use(middleware.TenantGuard)
		}
		rt.Post("/uploads", r.wrap(r.handleUpload))
		rt.Post("/jobs", r.wrap(r.handleCreateJob))
		rt.Post("/jobs/{id}/analyze", r.wrap(r.handleAnalyze))
		rt.Get("/jobs/latest", r.wrap(r.handleLatest))
		rt.Get("/jobs/{id}", r.wrap(r.handleGet))
		rt.Get("/jobs/{id}/errors", r.wrap(r.handleJobErrors))
		rt.Get("/jobs", r.wrap(r.handleList))
		rt.Get("/summary", r.wrap(r.handleStats))
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks handler errors that map to HTTP 400.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			var br badRequest
			if errors.As(err, &br) {
				http.Error(w, br.Error(), http.StatusBadRequest)
				return
			}
			if errors.Is(err, sql.ErrNoRows) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, domai.ErrQuotaExceeded) {
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/{tenant}/uploads
// Multipart upload: validates the image, stores it and registers a
// pending analysis job for the stored object.
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	if err := middleware.ValidateTenantID(tenant); err != nil {
		return badRequest{err}
	}

	req.Body = http.MaxBytesReader(w, req.Body, r.opts.MaxUploadBytes)
	if err := req.ParseMultipartForm(r.opts.MaxUploadBytes); err != nil {
		return badRequest{fmt.Errorf("file too large or malformed form: %w", err)}
	}

	file, header, err := req.FormFile("file")
	if err != nil {
		return badRequest{fmt.Errorf("no file provided")}
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := middleware.ValidateUploadType(contentType); err != nil {
		return badRequest{err}
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	ext := strings.ToLower(path.Ext(header.Filename))
	if ext == "" {
		ext = ".png"
	}
	key := fmt.Sprintf("%s/%d-%s%s", tenant, time.Now().UnixMilli(), uuid.New().String()[:8], ext)

	reference, err := r.svc.Source.Upload(req.Context(), key, data, contentType)
	if err != nil {
		return fmt.Errorf("failed to store upload: %w", err)
	}

	job, err := r.svc.CreateJob(req.Context(), appanalysis.CreateJobCommand{
		TenantID:      tenant,
		FileReference: reference,
	})
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusCreated)
	return writeJSON(w, job)
}

// POST /v1/{tenant}/jobs
// Body: {"file_reference": "<object key or http(s) URL>"}
func (r *Router) handleCreateJob(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	if err := middleware.ValidateTenantID(tenant); err != nil {
		return badRequest{err}
	}

	var body struct {
		FileReference string `json:"file_reference"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return badRequest{err}
	}
	if err := middleware.ValidateReference(body.FileReference); err != nil {
		return badRequest{err}
	}

	job, err := r.svc.CreateJob(req.Context(), appanalysis.CreateJobCommand{
		TenantID:      tenant,
		FileReference: body.FileReference,
	})
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusCreated)
	return writeJSON(w, job)
}

// POST /v1/{tenant}/jobs/{id}/analyze
// Runs the pipeline for a job. Synchronous by default: the caller gets
// the final status and issue count in the response. With ?async=1 the
// run continues in the background and the caller polls the job.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")
	if err := middleware.ValidateTenantID(tenant); err != nil {
		return badRequest{err}
	}
	if err := middleware.ValidateJobID(id); err != nil {
		return badRequest{err}
	}

	middleware.IncrementAnalyses()

	if req.URL.Query().Get("async") == "1" {
		// jalanin di background, biar jalan sampai selesai
		go func() {
			middleware.IncrementAnalysesRunning()
			defer middleware.DecrementAnalysesRunning()

			result, err := r.svc.RunAnalysisUntilDone(tenant, domain.JobID(id))
			if err != nil {
				middleware.IncrementAnalysesFailed()
				log.Printf("background analysis error for tenant=%s job=%s: %v", tenant, id, err)
				return
			}
			log.Printf("analysis finished: tenant=%s job=%s status=%s issues=%d",
				tenant, id, result.Status, result.TotalIssues)
		}()

		// langsung balikin respons ke client
		w.WriteHeader(http.StatusAccepted)
		return writeJSON(w, map[string]any{
			"id":       id,
			"status":   "queued",
			"message":  "analysis started in background",
			"queuedAt": time.Now(),
		})
	}

	middleware.IncrementAnalysesRunning()
	defer middleware.DecrementAnalysesRunning()

	result, err := r.svc.RunAnalysis(req.Context(), tenant, domain.JobID(id))
	if err != nil {
		middleware.IncrementAnalysesFailed()
		return err
	}
	return writeJSON(w, result)
}

// GET /v1/{tenant}/jobs/{id}
// Job detail with findings, run summary and a signed image URL.
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")

	job, err := r.svc.Get(req.Context(), tenant, domain.JobID(id))
	if err != nil {
		return err
	}

	findings, err := r.svc.Findings(req.Context(), tenant, domain.JobID(id))
	if err != nil {
		return err
	}
	summary, err := r.svc.Summary(req.Context(), tenant, domain.JobID(id))
	if err != nil {
		return err
	}

	imageURL, err := r.svc.Source.SignedURL(req.Context(), job.FileReference, r.opts.SignedURLExpirySec)
	if err != nil {
		log.Printf("signed url failed for job=%s: %v", id, err)
		imageURL = job.FileReference
	}

	return writeJSON(w, map[string]any{
		"job":       job,
		"findings":  findings,
		"summary":   summary,
		"image_url": imageURL,
	})
}

// GET /v1/{tenant}/jobs/{id}/errors?limit=20
func (r *Router) handleJobErrors(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	id := chi.URLParam(req, "id")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.svc.JobErrors(req.Context(), tenant, domain.JobID(id), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/jobs/latest?limit=20
func (r *Router) handleLatest(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))

	list, err := r.svc.Latest(req.Context(), tenant, middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/jobs?page=&page_size=&status=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	page, _ := strconv.Atoi(req.URL.Query().Get("page"))
	size, _ := strconv.Atoi(req.URL.Query().Get("page_size"))

	var filters map[string]interface{}
	if status := strings.TrimSpace(req.URL.Query().Get("status")); status != "" {
		filters = map[string]interface{}{"status": status}
	}

	list, err := r.svc.Paginate(req.Context(), tenant, page, size, filters)
	if err != nil {
		return err
	}
	return writeJSON(w, list)
}

// GET /v1/{tenant}/summary?days=7
func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) error {
	tenant := chi.URLParam(req, "tenant")
	days, _ := strconv.Atoi(req.URL.Query().Get("days"))

	stats, err := r.svc.Stats(req.Context(), tenant, middleware.ValidateDays(days))
	if err != nil {
		return err
	}
	return writeJSON(w, stats)
}
