package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/promptguard-dashboard/internal/console/handler"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	gather prometheus.Gatherer

	dashHandler   *handler.DashboardHandler // /api/v1/dashboard, /api/v1/analyze
	reviewHandler *handler.ReviewHandler    // /api/v1/review
}

// NewConsoleServer инициализирует HTTP API дашборда со всеми зависимостями
func NewConsoleServer(
	logger *zap.Logger,
	gather prometheus.Gatherer,
	dashH *handler.DashboardHandler,
	reviewH *handler.ReviewHandler,
) *ConsoleServer {
	if gather == nil {
		gather = prometheus.NewRegistry()
	}
	s := &ConsoleServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("console-api"),
		gather:        gather,
		dashHandler:   dashH,
		reviewHandler: reviewH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(AccessLog(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/dashboard", s.dashHandler.GetSnapshot)
		r.Get("/prompts", s.dashHandler.GetPrompts)
		r.Post("/analyze", s.dashHandler.Analyze)

		// Ревью оператором (approve / reject / skip)
		r.Route("/review", func(r chi.Router) {
			r.Get("/", s.reviewHandler.List)
			r.Get("/whitelist", s.reviewHandler.Whitelist)
			r.Post("/{id}/decide", s.reviewHandler.Decide)
		})
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
