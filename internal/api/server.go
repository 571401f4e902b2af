package api

import (
	"context"
	"net/http"
	"time"

	"github.com/Sternrassler/fleet-activity-sync/internal/config"
	"github.com/Sternrassler/fleet-activity-sync/internal/ingest"
	"github.com/Sternrassler/fleet-activity-sync/internal/progress"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/Sternrassler/fleet-activity-sync/pkg/cache"
	"github.com/Sternrassler/fleet-activity-sync/pkg/client"
	"github.com/Sternrassler/fleet-activity-sync/pkg/logging"
	"github.com/Sternrassler/fleet-activity-sync/pkg/metrics"
	"github.com/Sternrassler/fleet-activity-sync/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_api_requests_total",
			Help: "API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_api_request_duration_seconds",
			Help:    "API request duration by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

// Runner executes an activity run.
type Runner interface {
	Run(ctx context.Context, p *config.Project, window client.DateRange) (ingest.Summary, error)
}

// Server holds the handler dependencies.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	runner   Runner
	progress *progress.Registry
	cache    *cache.Manager
	logger   zerolog.Logger

	// Gate, when set, is reported by /ready.
	Gate *ratelimit.Gate
}

// NewServer creates a Server. cacheManager may be nil.
func NewServer(cfg *config.Config, store storage.Store, runner Runner, registry *progress.Registry, cacheManager *cache.Manager) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		runner:   runner,
		progress: registry,
		cache:    cacheManager,
		logger:   logging.NewLogger("api"),
	}
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "devices", s.cached("devices", s.handleDevices))
	s.handle(mux, "all-devices", s.cached("all-devices", s.handleAllDevices))
	s.handle(mux, "device-stats", s.cached("device-stats", s.handleDeviceStats))
	s.handle(mux, "fetchProgress", http.HandlerFunc(s.handleProgress))
	s.handle(mux, "fetchActiveStatusData", http.HandlerFunc(s.handleFetchActivity))

	mux.Handle("GET /health", instrument("health", http.HandlerFunc(handleHealth)))
	mux.Handle("GET /ready", instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", metrics.Handler())

	var h http.Handler = mux
	h = corsHandler(s.cfg.AllowedOrigins, h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request served")
	})(h)
	h = hlog.NewHandler(s.logger)(h)
	return h
}

func (s *Server) handle(mux *http.ServeMux, route string, h http.Handler) {
	mux.Handle("GET /api/"+route+"/{projectId}", instrument(route, h))
}

func instrument(route string, h http.Handler) http.Handler {
	counter := requestsTotal.MustCurryWith(prometheus.Labels{"route": route})
	duration := requestDuration.MustCurryWith(prometheus.Labels{"route": route})
	return promhttp.InstrumentHandlerDuration(duration, promhttp.InstrumentHandlerCounter(counter, h))
}

// cached wraps a read handler with the response cache. Requests for unknown
// projects bypass it.
func (s *Server) cached(endpoint string, h http.HandlerFunc) http.Handler {
	return cache.Handler(s.cache, func(r *http.Request) (cache.CacheKey, bool) {
		id := r.PathValue("projectId")
		if _, ok := s.cfg.Projects[id]; !ok {
			return cache.CacheKey{}, false
		}
		return cache.CacheKey{Project: id, Endpoint: endpoint, QueryParams: r.URL.Query()}, true
	}, h)
}

// InvalidateProject drops the cached responses of project. It matches the
// ingest and inventory persistence hooks.
func (s *Server) InvalidateProject(ctx context.Context, project string) {
	if s.cache == nil {
		return
	}
	n, err := s.cache.InvalidateProject(ctx, project)
	if err != nil {
		s.logger.Warn().Err(err).Str("project", project).Msg("Cache invalidation failed")
		return
	}
	s.logger.Debug().Str("project", project).Int("keys", n).Msg("Cache invalidated")
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type admissionStatus struct {
	ratelimit.State
	Utilization float64 `json:"utilization"`
	Saturated   bool    `json:"saturated"`
}

type readyResponse struct {
	Status    string           `json:"status"`
	Projects  []string         `json:"projects"`
	Admission *admissionStatus `json:"admission,omitempty"`
}

// handleReady reports configured projects and the admission gate load.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Status: "ok", Projects: nonNil(s.cfg.ProjectIDs())}
	if s.Gate != nil {
		state := s.Gate.State()
		resp.Admission = &admissionStatus{State: state, Utilization: state.Utilization(), Saturated: state.Saturated()}
	}
	writeJSON(w, http.StatusOK, resp)
}
