package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-interview/pkg/gateway/blobstore"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/handlers"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-interview/pkg/gateway/scoring"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
	"github.com/vango-go/vai-interview/pkg/gateway/tokens"
	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/metrics"
)

// Deps are the backends the gateway serves from. Store, Blobs and Minter are required.
type Deps struct {
	Store     *store.Store
	Blobs     blobstore.Store
	Minter    tokens.Minter
	Scorer    *scoring.Scorer
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
	Logger    *slog.Logger
}

type Server struct {
	cfg  config.Config
	deps Deps
	mux  *http.ServeMux

	limiter *ratelimit.Limiter
}

func New(cfg config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Scorer == nil {
		deps.Scorer = scoring.New(scoring.DefaultThresholds)
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		mux:  http.NewServeMux(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxConcurrentUploads:  cfg.LimitMaxConcurrentUploads,
		}),
	}

	s.routes()
	return s
}

func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, mw.Route(pattern, h))
}

func (s *Server) routes() {
	d := s.deps

	s.handle("GET /healthz", handlers.HealthHandler{})
	s.handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: d.Lifecycle, DB: d.Store})
	if s.cfg.MetricsEndpoint && d.Metrics != nil {
		s.handle("GET /metrics", d.Metrics.Handler())
	}

	s.handle("POST "+api.PathToken, s.withTimeout(handlers.TokenHandler{
		Config: s.cfg,
		Minter: d.Minter,
		Store:  d.Store,
		Logger: d.Logger,
	}))
	s.handle("POST "+api.PathUploadChunk, s.withTimeout(handlers.UploadChunkHandler{
		Config:  s.cfg,
		Blobs:   d.Blobs,
		Store:   d.Store,
		Limiter: s.limiter,
		Metrics: d.Metrics,
		Logger:  d.Logger,
	}))
	s.handle("POST "+api.PathFinalize, s.withTimeout(handlers.FinalizeHandler{
		Config:    s.cfg,
		Blobs:     d.Blobs,
		Store:     d.Store,
		Lifecycle: d.Lifecycle,
		Metrics:   d.Metrics,
		Logger:    d.Logger,
	}))
	s.handle("POST "+api.PathResults, s.withTimeout(handlers.ResultsHandler{
		Config:  s.cfg,
		Store:   d.Store,
		Metrics: d.Metrics,
		Logger:  d.Logger,
	}))
	s.handle("POST /api/interview/{sessionId}/ai-score", s.withTimeout(handlers.AIScoreHandler{
		Store:   d.Store,
		Scorer:  d.Scorer,
		Metrics: d.Metrics,
		Logger:  d.Logger,
	}))

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) withTimeout(h http.Handler) http.Handler {
	if s.cfg.HandlerTimeout <= 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HandlerTimeout)
		defer cancel()
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, s.deps.Metrics, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.deps.Logger, h)
	h = mw.AccessLog(s.deps.Logger, s.deps.Metrics, h)
	h = mw.RequestID(h)
	return h
}
