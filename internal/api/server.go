package api

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/cpufreqctl/internal/action"
	"codeberg.org/mutker/cpufreqctl/internal/config"
	"codeberg.org/mutker/cpufreqctl/internal/errors"
	"codeberg.org/mutker/cpufreqctl/internal/history"
	"codeberg.org/mutker/cpufreqctl/internal/logger"
	"codeberg.org/mutker/cpufreqctl/internal/monitor"
	"codeberg.org/mutker/cpufreqctl/internal/power"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type Engine interface {
	Start()
	Stop()
	Running() bool
	ModeAutoSwitched() bool
	State() monitor.State
	RefreshNow(ctx context.Context) (monitor.State, error)
}

type Settings interface {
	Snapshot() config.Settings
	Get(key string) (any, error)
	Set(key string, value any) error
}

type Actions interface {
	List() []action.TriggerAction
	Save(ctx context.Context, a action.TriggerAction) (action.TriggerAction, error)
	Delete(id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	Reconcile(ctx context.Context) ([]string, error)
}

type History interface {
	RecentSamples(ctx context.Context, limit int) ([]history.Sample, error)
}

type Deps struct {
	Engine   Engine
	Settings Settings
	Plans    power.Controller
	Actions  Actions
	History  History
	Events   Subscriber
}

// Server is the local control API.
type Server struct {
	deps   Deps
	hub    *Hub
	router chi.Router
	log    logger.Logger
}

func New(d Deps) *Server {
	s := &Server{
		deps: d,
		hub:  NewHub(d.Events),
		log:  logger.With("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", s.getState)
		r.Post("/monitor/start", s.startMonitor)
		r.Post("/monitor/stop", s.stopMonitor)
		r.Post("/monitor/refresh", s.refresh)

		r.Get("/settings", s.listSettings)
		r.Get("/settings/{key}", s.getSetting)
		r.Put("/settings/{key}", s.putSetting)

		r.Get("/plans", s.listPlans)
		r.Post("/plans/import", s.importPlan)
		r.Post("/plans/{id}/activate", s.activatePlan)
		r.Post("/plans/{id}/duplicate", s.duplicatePlan)
		r.Post("/plans/{id}/export", s.exportPlan)
		r.Put("/plans/{id}/name", s.renamePlan)
		r.Delete("/plans/{id}", s.deletePlan)

		r.Get("/actions", s.listActions)
		r.Post("/actions", s.saveAction)
		r.Delete("/actions/{id}", s.deleteAction)
		r.Put("/actions/{id}/enabled", s.setActionEnabled)

		r.Get("/history/samples", s.recentSamples)

		r.Get("/events", s.streamEvents)
	})

	return r
}

// Serve runs the event hub and listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("Control API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.New().Wrap(errors.ErrServeAPI, err).WithData(addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	s.log.Info().Msg("Control API stopped")

	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
