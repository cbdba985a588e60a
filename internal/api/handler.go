// Package api serves skills over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/tutor/internal/dataset"
	"github.com/nidhogg/tutor/internal/learn"
	"github.com/nidhogg/tutor/internal/metrics"
	"github.com/nidhogg/tutor/internal/runtime"
	"github.com/nidhogg/tutor/internal/skill"
	"github.com/nidhogg/tutor/internal/store"
	"github.com/nidhogg/tutor/internal/table"
)

// VersionLister reads saved instruction versions. *store.Store satisfies it.
type VersionLister interface {
	ListVersions(ctx context.Context, skill string) ([]*store.Version, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	skills    *skill.Manager
	student   runtime.Runtime
	teacher   runtime.Runtime
	learner   *learn.Learner
	versions  VersionLister
	metrics   *metrics.Collector
	sampler   *skill.Sampler
	batchSize int
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(skills *skill.Manager, student, teacher runtime.Runtime, learner *learn.Learner, logger *zap.Logger) *Handler {
	if teacher == nil {
		teacher = student
	}
	return &Handler{
		skills:    skills,
		student:   student,
		teacher:   teacher,
		learner:   learner,
		sampler:   skill.NewSampler(nil),
		batchSize: dataset.DefaultBatchSize,
		logger:    logger.With(zap.String("component", "api")),
	}
}

// WithVersions enables the versions endpoint.
func (h *Handler) WithVersions(v VersionLister) *Handler {
	h.versions = v
	return h
}

// WithMetrics records request metrics and serves /metrics.
func (h *Handler) WithMetrics(m *metrics.Collector) *Handler {
	h.metrics = m
	return h
}

// WithBatchSize sets the batch size for request datasets.
func (h *Handler) WithBatchSize(n int) *Handler {
	if n > 0 {
		h.batchSize = n
	}
	return h
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	if h.metrics != nil {
		r.Use(h.instrument)
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/skills", h.listSkills)
		r.Post("/skills", h.createSkill)
		r.Route("/skills/{name}", func(r chi.Router) {
			r.Get("/", h.getSkill)
			r.Delete("/", h.deleteSkill)
			r.Post("/apply", h.applySkill)
			r.Post("/analyze", h.analyzeSkill)
			r.Post("/improve", h.improveSkill)
			r.Post("/learn", h.learnSkill)
			r.Get("/versions", h.listVersions)
		})
	})

	return r
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.metrics.RecordHTTPRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "skills": len(h.skills.All())})
}

// skillView is the JSON shape of a skill.
type skillView struct {
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	Description  string         `json:"description,omitempty"`
	Instructions string         `json:"instructions"`
	Config       map[string]any `json:"config"`
}

func viewOf(s skill.Skill) skillView {
	cfg := s.Descriptor().Config()
	return skillView{
		Name:         cfg.Name,
		Kind:         s.Kind(),
		Description:  cfg.Description,
		Instructions: cfg.Instructions,
		Config:       cfg.Map(),
	}
}

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	all := h.skills.All()
	out := make([]skillView, len(all))
	for i, s := range all {
		out[i] = viewOf(s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createSkill(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s, err := skill.Decode(raw, skill.WithLogger(h.logger))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if h.skills.Get(s.Descriptor().Name()) != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "skill already exists"})
		return
	}
	h.skills.Add(s)
	writeJSON(w, http.StatusCreated, viewOf(s))
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) skill.Skill {
	s := h.skills.Get(chi.URLParam(r, "name"))
	if s == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "skill not found"})
	}
	return s
}

func (h *Handler) getSkill(w http.ResponseWriter, r *http.Request) {
	if s := h.lookup(w, r); s != nil {
		writeJSON(w, http.StatusOK, viewOf(s))
	}
}

func (h *Handler) deleteSkill(w http.ResponseWriter, r *http.Request) {
	if s := h.lookup(w, r); s != nil {
		h.skills.Remove(s.Descriptor().Name())
		w.WriteHeader(http.StatusNoContent)
	}
}

// rowsRequest carries inline tabular data.
type rowsRequest struct {
	Columns []string         `json:"columns,omitempty"`
	Records []map[string]any `json:"records"`
}

// batch builds a table from the request. Without explicit columns, the
// columns are the keys of the records in first-seen order, sorted within
// each record.
func (rr rowsRequest) batch() *table.Batch {
	cols := slices.Clone(rr.Columns)
	if len(cols) == 0 {
		for _, rec := range rr.Records {
			var added []string
			for k := range rec {
				if !slices.Contains(cols, k) {
					added = append(added, k)
				}
			}
			slices.Sort(added)
			cols = append(cols, added...)
		}
	}
	rows := make([]table.Record, len(rr.Records))
	for i, rec := range rr.Records {
		rows[i] = table.Record(rec)
	}
	return table.New(cols, rows)
}

// batchView is the JSON shape of a batch.
type batchView struct {
	Columns []string         `json:"columns"`
	Index   []int            `json:"index"`
	Records []map[string]any `json:"records"`
}

func viewOfBatch(b *table.Batch) batchView {
	return batchView{Columns: b.Columns, Index: b.Index, Records: b.Maps()}
}

func (h *Handler) applySkill(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}
	var req rowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	out, err := s.Apply(r.Context(), dataset.NewFrame(req.batch(), h.batchSize), h.student)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOfBatch(out))
}

type analyzeRequest struct {
	rowsRequest
	GroundTruthField string `json:"ground_truth_field"`
	MaxErrors        int    `json:"max_errors"`
}

type analyzeResponse struct {
	Report   string  `json:"report"`
	Accuracy float64 `json:"accuracy"`
	Errors   int     `json:"errors"`
	Sampled  []int   `json:"sampled"`
}

// analyzeSkill evaluates posted predictions (rows already carrying the skill
// column) against the ground truth field and analyzes a sample of the errors.
func (h *Handler) analyzeSkill(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	preds := req.batch()
	ev, err := skill.Evaluate(preds, s.Descriptor().Name(), req.GroundTruthField)
	if err != nil {
		h.writeError(w, err)
		return
	}
	sample := h.sampler.Sample(ev.Errors, req.MaxErrors)
	report, err := s.Analyze(r.Context(), preds, sample, h.student, h.teacher)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{
		Report:   report,
		Accuracy: ev.Accuracy,
		Errors:   ev.Errors.Len(),
		Sampled:  sample.Index,
	})
}

func (h *Handler) improveSkill(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}
	var req struct {
		Report string `json:"report"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Report == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "report is required"})
		return
	}

	instr, err := s.Improve(r.Context(), req.Report, h.teacher)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"instructions": instr})
}

type learnRequest struct {
	rowsRequest
	learn.Options
}

func (h *Handler) learnSkill(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}
	if h.learner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "learner not initialized"})
		return
	}
	var req learnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res, err := h.learner.Learn(r.Context(), s, dataset.NewFrame(req.batch(), h.batchSize), req.Options)
	if err != nil {
		h.logger.Warn("learning stopped", zap.String("skill", s.Descriptor().Name()), zap.Error(err))
		if res == nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, statusOf(err), map[string]any{"error": err.Error(), "result": res})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	s := h.lookup(w, r)
	if s == nil {
		return
	}
	if h.versions == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "version store not configured"})
		return
	}
	versions, err := h.versions.ListVersions(r.Context(), s.Descriptor().Name())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if versions == nil {
		versions = []*store.Version{}
	}
	writeJSON(w, http.StatusOK, versions)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	var (
		ce *skill.ConfigurationError
		se *table.SchemaError
		be *runtime.BackendError
	)
	switch {
	case errors.As(err, &ce):
		return http.StatusBadRequest
	case errors.Is(err, skill.ErrNoErrors):
		return http.StatusUnprocessableEntity
	case errors.Is(err, table.ErrColumnNotFound):
		return http.StatusBadRequest
	case errors.As(err, &se), errors.As(err, &be), errors.Is(err, skill.ErrEmptyInstructions):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
