package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wakehub/wakehub/internal/api"
	"github.com/wakehub/wakehub/internal/apperrors"
	"github.com/wakehub/wakehub/internal/auth"
	"github.com/wakehub/wakehub/internal/breaker"
	"github.com/wakehub/wakehub/internal/cloud"
	"github.com/wakehub/wakehub/internal/config"
	"github.com/wakehub/wakehub/internal/db"
	"github.com/wakehub/wakehub/internal/discovery"
	"github.com/wakehub/wakehub/internal/events"
	"github.com/wakehub/wakehub/internal/logging"
	"github.com/wakehub/wakehub/internal/orchestrator"
	"github.com/wakehub/wakehub/internal/registry"
	"github.com/wakehub/wakehub/internal/scheduler"
	"github.com/wakehub/wakehub/internal/system"
	"github.com/wakehub/wakehub/internal/token"
	"github.com/wakehub/wakehub/internal/zeroconf"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// requestLoggerMiddleware logs every request with its status and duration.
func requestLoggerMiddleware(next http.Handler) http.Handler {
	logger := logging.WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Options controls server wiring.
type Options struct {
	// DisableRunner keeps the alarm poller from starting (for tests that
	// drive the scheduler through the API only).
	DisableRunner bool
}

// strictPlayer fronts the orchestrator when strict targets are on: runs for
// names the registry has never seen fail immediately instead of sweeping the
// network for them.
type strictPlayer struct {
	registry *registry.Service
	next     *orchestrator.Orchestrator
}

func (p strictPlayer) PlayAlarm(ctx context.Context, req orchestrator.Request) (*orchestrator.PhaseMetrics, error) {
	profile, err := p.registry.Get(req.Target)
	if err == nil && profile == nil {
		return &orchestrator.PhaseMetrics{
				Branch:     orchestrator.FailedBranch(orchestrator.ReasonMisconfigured),
				FinalState: string(orchestrator.StateUnknown),
			},
			apperrors.NewMisconfigured(fmt.Sprintf("unknown target %q: not in the device registry", req.Target))
	}
	return p.next.PlayAlarm(ctx, req)
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	logger := logging.WithComponent("server")
	logger.Info().Str("path", cfg.SQLiteDBPath).Msg("opening database")

	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))

	registerHealthRoutes(router, dbPair)
	auth.RegisterRoutes(router, cfg)

	tokens := token.NewSource(&cfg, nil)
	states := token.NewStateStore()
	token.RegisterRoutes(router, &cfg, tokens, states)

	zeroconfClient := zeroconf.NewClient()
	browser := discovery.Browser{}

	registryService := registry.NewService(
		registry.NewRepository(dbPair),
		browser,
		zeroconfClient,
		cfg.DiscoveryTimeout,
		cfg.DiscoveryCacheTTL,
		nil,
	)
	registry.RegisterRoutes(router, registryService)

	var targetsWatcher *config.TargetsWatcher
	if cfg.TargetsFile != "" {
		targets, err := config.LoadTargets(cfg.TargetsFile)
		if err != nil {
			dbPair.Close()
			return nil, nil, err
		}
		if err := registryService.ApplyTargets(targets); err != nil {
			dbPair.Close()
			return nil, nil, err
		}
		targetsWatcher, err = config.NewTargetsWatcher(cfg.TargetsFile, logger, func(targets []config.Target) {
			if err := registryService.ApplyTargets(targets); err != nil {
				logger.Error().Err(err).Msg("reapplying targets file failed")
			}
		})
		if err != nil {
			dbPair.Close()
			return nil, nil, err
		}
		targetsWatcher.Start()
	}

	hub := events.NewHub()
	hub.Start()
	events.RegisterRoutes(router, hub)

	circuitBreaker := breaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown, nil)
	breaker.RegisterRoutes(router, circuitBreaker)

	cloudClient := cloud.NewClient(tokens, cfg.Retry404Delay, nil)

	orch := orchestrator.New(orchestrator.Config{
		Username:          cfg.SpotifyUsername,
		DiscoveryTimeout:  cfg.DiscoveryTimeout,
		PollDeadline:      cfg.PollDeadline,
		PollFastPeriod:    cfg.PollFastPeriod,
		DebounceAfterSeen: cfg.DebounceAfterSeen,
		ConfirmWindow:     cfg.ConfirmWindow,
	}, orchestrator.Deps{
		Tokens:   tokens,
		Cloud:    cloudClient,
		Browser:  browser,
		Device:   zeroconfClient,
		Registry: registryService,
		Breaker:  circuitBreaker,
		Events:   hub,
	})

	var player scheduler.AlarmPlayer = orch
	if cfg.StrictTargets {
		player = strictPlayer{registry: registryService, next: orch}
	}

	alarms := scheduler.NewAlarmsRepository(dbPair)
	runs := scheduler.NewRunsRepository(dbPair)
	schedulerService := scheduler.NewService(alarms, runs, player, nil)
	scheduler.RegisterRoutes(router, schedulerService)

	retention := time.Duration(cfg.RunRetentionDays) * 24 * time.Hour
	runner := scheduler.NewRunner(schedulerService, alarms, cfg.RunnerPollInterval, retention, nil)
	if !options.DisableRunner {
		runner.Start()
	}

	systemService := system.NewService(dbPair, registryService, alarms, tokens, circuitBreaker, runner, hub, nil)
	system.RegisterRoutes(router, systemService)

	router.Handle("/metrics", promhttp.Handler())

	shutdown := func(ctx context.Context) error {
		runner.Stop()
		if targetsWatcher != nil {
			targetsWatcher.Stop()
		}
		hub.Stop()
		return dbPair.Close()
	}

	return router, shutdown, nil
}

func registerHealthRoutes(router chi.Router, dbPair *db.DBPair) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "wakehub",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if err := dbPair.Reader().PingContext(r.Context()); err != nil {
			return api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
