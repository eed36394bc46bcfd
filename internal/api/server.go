// Package api serves the messaging engine to dashboard front-ends over HTTP
// and a websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tOgg1/courier/internal/config"
	"github.com/tOgg1/courier/internal/logging"
)

// Server is the HTTP surface.
type Server struct {
	cfg       config.ServerConfig
	sessions  *Registry
	validator TokenValidator
	limiter   *limiterPool
	gatherer  prometheus.Gatherer
	logger    zerolog.Logger
	handler   http.Handler
}

// NewServer builds the router. A nil gatherer serves the default registry.
func NewServer(cfg config.ServerConfig, sessions *Registry, validator TokenValidator, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:       cfg,
		sessions:  sessions,
		validator: validator,
		limiter:   newLimiterPool(cfg.SendRate, cfg.SendBurst),
		gatherer:  gatherer,
		logger:    logging.Component("api"),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://*", "https://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(authenticate(s.validator))

		r.Get("/ws", s.serveWS)

		r.Route("/api", func(r chi.Router) {
			r.Get("/messaging", s.getState)
			r.Post("/messaging/open", s.openMessaging)
			r.Post("/messaging/close", s.closeMessaging)
			r.Post("/messaging/back", s.goBack)
			r.Post("/messaging/directory", s.showDirectory)
			r.Post("/conversations/{id}/select", s.selectConversation)
			r.Post("/users/{id}/select", s.selectUser)
			r.Post("/messages", s.sendMessage)

			r.Get("/notifications", s.listNotifications)
			r.Post("/notifications/read-all", s.markAllRead)
			r.Post("/notifications/{id}/read", s.markRead)
			r.Post("/notifications/{id}/click", s.clickNotification)

			r.Post("/logout", s.logout)
		})
	})
	return r
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		event := s.logger.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// and ends every session.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.sessions.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info().Msg("shutting down")
	err := srv.Shutdown(shutdownCtx)
	s.sessions.Close()
	return err
}
