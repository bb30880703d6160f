// Package httpapi exposes the model registry over HTTP: a prediction
// endpoint, admin version control, health, and metrics. All registry state is
// reached through the Service interface; handlers never touch it directly.
package httpapi

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"modelswitch/internal/audit"
	"modelswitch/internal/model"
	"modelswitch/internal/registry"
	"modelswitch/pkg/types"
)

// Service defines the registry operations required by the HTTP layer.
// *registry.Registry satisfies it.
type Service interface {
	Resolve(ctx context.Context, version string) (model.Predictor, string, error)
	SetActive(ctx context.Context, version string) error
	Active() string
	IsLoaded(version string) bool
	LoadedCount() int
	KnownVersions(ctx context.Context) ([]string, error)
	Evict(version string) bool
	EvictAll() int
	Info(ctx context.Context, version string) (registry.Info, error)
}

// Options configures the mux. Zero values get sensible defaults.
type Options struct {
	Logger       zerolog.Logger
	MaxBodyBytes int64
	// AdminRate limits mutating admin endpoints; 0 disables the limiter.
	AdminRate  rate.Limit
	AdminBurst int
	// Audit may be nil; admin switches then go unrecorded.
	Audit *audit.Journal
	// Ready reports startup readiness for /readyz; nil means always ready.
	Ready func() bool
}

const defaultMaxBodyBytes = 1 << 20

// NewMux builds the HTTP handler.
func NewMux(svc Service, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	var adminLimiter *rate.Limiter
	if opts.AdminRate > 0 {
		burst := opts.AdminBurst
		if burst <= 0 {
			burst = 1
		}
		adminLimiter = rate.NewLimiter(opts.AdminRate, burst)
	}
	s := &server{svc: svc, opts: opts, adminLimiter: adminLimiter}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/predict", s.handlePredict)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/set-active-version", s.handleSetActive)
		r.Get("/active-version", s.handleActiveVersion)
		r.Get("/models", s.handleModels)
		r.Get("/models/{version}", s.handleModelInfo)
		r.Post("/cache/clear", s.handleCacheClear)
		r.Get("/activity", s.handleActivity)
	})

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

type server struct {
	svc          Service
	opts         Options
	adminLimiter *rate.Limiter
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.opts.Logger.Error().Err(err).Msg("encode response")
	}
}

func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func validFeatures(features []float64) bool {
	if len(features) == 0 {
		return false
	}
	for _, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func (s *server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req types.PredictRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !validFeatures(req.Features) {
		writeJSONError(w, http.StatusBadRequest, "invalid features provided")
		return
	}

	start := time.Now()
	predictor, version, err := s.svc.Resolve(r.Context(), req.Version)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		predictionsTotal.WithLabelValues(version, "error").Inc()
		s.logRequest(r).Err(err).Str("version", version).Msg("predict resolve failed")
		writeJSONError(w, statusForRegistryErr(err), err.Error())
		return
	}

	prediction, err := predictor.Predict(req.Features)
	if err != nil {
		predictionsTotal.WithLabelValues(version, "error").Inc()
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	latency := time.Since(start)
	inferenceLatency.WithLabelValues(version).Observe(latency.Seconds())
	predictionsTotal.WithLabelValues(version, "success").Inc()

	s.writeJSON(w, http.StatusOK, types.PredictResponse{
		Prediction:   prediction,
		ModelVersion: version,
		LatencyMS:    float64(latency.Microseconds()) / 1000.0,
	})
}

func (s *server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	if s.adminLimiter != nil && !s.adminLimiter.Allow() {
		IncrementBackpressure("admin_rate")
		writeJSONError(w, http.StatusTooManyRequests, "too many admin requests")
		return
	}
	var req types.VersionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Version) == "" {
		writeJSONError(w, http.StatusBadRequest, "version is required")
		return
	}

	from := s.svc.Active()
	err := s.svc.SetActive(r.Context(), req.Version)

	outcome := audit.OutcomeOK
	if err != nil {
		outcome = audit.OutcomeRejected
	}
	if aerr := s.opts.Audit.Record(r.Context(), audit.Event{
		From:    from,
		To:      req.Version,
		Outcome: outcome,
	}); aerr != nil {
		s.logRequest(r).Err(aerr).Msg("audit record failed")
	}

	if err != nil {
		s.logRequest(r).Err(err).Str("version", req.Version).Msg("version switch rejected")
		s.writeJSON(w, statusForRegistryErr(err), types.VersionResponse{
			Success:       false,
			Message:       err.Error(),
			ActiveVersion: s.svc.Active(),
		})
		return
	}

	s.logRequest(r).Str("from", from).Str("to", req.Version).Msg("active version switched")
	s.writeJSON(w, http.StatusOK, types.VersionResponse{
		Success:       true,
		Message:       "switched to version " + req.Version,
		ActiveVersion: req.Version,
	})
}

func (s *server) handleActiveVersion(w http.ResponseWriter, r *http.Request) {
	versions, err := s.svc.KnownVersions(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, types.ActiveVersionResponse{
		ActiveVersion:     s.svc.Active(),
		AvailableVersions: versions,
	})
}

func (s *server) modelInfoResponse(ctx context.Context, version string) (types.ModelInfoResponse, error) {
	info, err := s.svc.Info(ctx, version)
	if err != nil {
		return types.ModelInfoResponse{}, err
	}
	resp := types.ModelInfoResponse{
		Version: info.Version,
		Exists:  info.Exists,
		Loaded:  info.Loaded,
		Active:  info.Active,
	}
	if info.HasLoad {
		sec := info.LoadDur.Seconds()
		resp.LoadTimeSec = &sec
	}
	if info.HasStat {
		size := info.Size
		mod := info.ModTime.Unix()
		resp.FileSize = &size
		resp.ModifiedTime = &mod
	}
	return resp, nil
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	versions, err := s.svc.KnownVersions(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]types.ModelInfoResponse, 0, len(versions))
	for _, v := range versions {
		info, err := s.modelInfoResponse(r.Context(), v)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, info)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	version := chi.URLParam(r, "version")
	info, err := s.modelInfoResponse(r.Context(), version)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.adminLimiter != nil && !s.adminLimiter.Allow() {
		IncrementBackpressure("admin_rate")
		writeJSONError(w, http.StatusTooManyRequests, "too many admin requests")
		return
	}
	version := r.URL.Query().Get("version")
	if version != "" {
		s.svc.Evict(version)
		s.logRequest(r).Str("version", version).Msg("cache cleared")
		s.writeJSON(w, http.StatusOK, types.CacheClearResponse{
			Success:        true,
			Message:        "cache cleared for version " + version,
			ClearedVersion: version,
		})
		return
	}
	n := s.svc.EvictAll()
	s.logRequest(r).Int("evicted", n).Msg("cache cleared")
	s.writeJSON(w, http.StatusOK, types.CacheClearResponse{
		Success: true,
		Message: "cache cleared for all models",
	})
}

func (s *server) handleActivity(w http.ResponseWriter, r *http.Request) {
	events, err := s.opts.Audit.Recent(r.Context(), 50)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]types.ActivityEvent, 0, len(events))
	for _, e := range events {
		out = append(out, types.ActivityEvent{
			At:          e.At.Unix(),
			FromVersion: e.From,
			ToVersion:   e.To,
			Outcome:     e.Outcome,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	versions, err := s.svc.KnownVersions(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	active := s.svc.Active()

	status := "healthy"
	switch {
	case len(versions) == 0:
		status = "no_models"
	case !contains(versions, active):
		status = "no_active_model"
	}

	s.writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:            status,
		ActiveVersion:     active,
		AvailableVersions: versions,
		ModelsLoaded:      s.svc.LoadedCount(),
	})
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready == nil || s.opts.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("loading"))
}

func (s *server) logRequest(r *http.Request) *zerolog.Event {
	e := s.opts.Logger.Info()
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		e = e.Str("request_id", rid)
	}
	return e
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
