package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"cardauth/internal/config"
	apierrors "cardauth/internal/errors"
	"cardauth/internal/events"
	"cardauth/internal/infrastructure"
	"cardauth/internal/license"
	customMiddleware "cardauth/internal/middleware"
	"cardauth/internal/security"
	"cardauth/internal/services"
	"cardauth/internal/session"
	handlers "cardauth/internal/transport/http"
	"cardauth/internal/userdata"
	ws "cardauth/internal/websocket"
	"cardauth/pkg/contracts"
)

// AppName is reported by /api/app-info
const AppName = "cardauth"

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	Authenticator *license.Authenticator
	Store         *session.Store
	Monitor       *session.Monitor
	Events        *events.Bus
	WebSocketHub  *ws.Hub
	Services      *ServiceContainer

	terminator session.Terminator
	fingerprint security.FingerprintProvider
	transport   license.Transport

	// ctx bounds the hub and every monitor task; cancel ends them on Stop.
	ctx    context.Context
	cancel context.CancelFunc
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	Auth   services.AuthService
	Data   services.DataService
	Health *services.HealthService
}

// Option customizes an Application before its services are built
type Option func(*Application)

// WithTerminator replaces the process exit used after a failed
// re-verification and by the release-mode startup gate
func WithTerminator(t session.Terminator) Option {
	return func(a *Application) { a.terminator = t }
}

// WithFingerprint replaces the platform fingerprint provider
func WithFingerprint(fp security.FingerprintProvider) Option {
	return func(a *Application) { a.fingerprint = fp }
}

// WithTransport replaces the HTTP client to the card authority
func WithTransport(t license.Transport) Option {
	return func(a *Application) { a.transport = t }
}

// NewApplication loads the configuration and builds the application from it
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	return New(cfg, logger, otelProviders)
}

// New wires an application from an already loaded configuration. A nil
// otelProviders disables tracing and metrics.
func New(cfg *config.Config, logger *slog.Logger, otelProviders *infrastructure.OTelProviders, opts ...Option) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if otelProviders == nil {
		var err error
		otelProviders, err = infrastructure.InitializeOTel(&infrastructure.OTelConfig{
			ServiceName:    infrastructure.ServiceName,
			ServiceVersion: contracts.Version,
			Environment:    cfg.Mode,
			TraceExporter:  "none",
			MetricExporter: "none",
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("mode", cfg.Mode),
		slog.String("backend_url", cfg.BackendURL))

	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.initializeServices(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.setupRouter(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}
	app.createServer()

	return app, nil
}

// initializeServices builds the session engine and the command services
func (a *Application) initializeServices() error {
	meter := a.OTelProviders.Meter

	if a.terminator == nil {
		a.terminator = session.ProcessTerminator{Logger: a.Logger}
	}
	if a.fingerprint == nil {
		fp := security.NewPlatformFingerprint(a.Config.Hardware.Source, a.Logger)
		if ttl := a.Config.Hardware.CacheTTL; ttl > 0 {
			fp = security.NewFingerprintManager(fp, ttl)
		}
		a.fingerprint = fp
	}
	if a.transport == nil {
		a.transport = license.NewClient(a.Config.BackendURL, a.Config.HTTP.Timeout,
			license.WithLogger(a.Logger))
	}

	licenseMetrics, err := license.InitializeMetrics(meter)
	if err != nil {
		return err
	}
	a.Authenticator = license.NewAuthenticator(a.transport, a.fingerprint,
		license.WithMetrics(licenseMetrics),
		license.WithAuthLogger(a.Logger))

	a.Events = events.NewBus(a.Logger)

	wsMetrics, err := ws.NewMetrics(meter)
	if err != nil {
		return err
	}
	a.WebSocketHub = ws.NewHub(a.Logger, wsMetrics)
	if err := a.WebSocketHub.Subscribe(a.Events); err != nil {
		return fmt.Errorf("failed to subscribe websocket hub: %w", err)
	}

	a.Store = session.NewStore()
	a.Monitor = session.NewMonitor(a.Store, a.Authenticator,
		session.WithInterval(a.Config.Monitor.Interval),
		session.WithTerminator(a.terminator),
		session.WithPublisher(a.Events),
		session.WithBaseContext(a.ctx),
		session.WithMonitorLogger(a.Logger))

	dataPath, err := a.Config.DataFilePath()
	if err != nil {
		return fmt.Errorf("failed to resolve data file: %w", err)
	}

	a.Services = &ServiceContainer{
		Auth: services.NewAuthService(a.Authenticator, a.Store, a.Monitor, a.Events, a.Logger),
		Data: services.NewDataService(userdata.NewStore(dataPath, a.Logger), a.Logger),
		Health: services.NewHealthService(
			services.AppInfo{App: AppName, Version: contracts.Version},
			a.Authenticator, a.Store, a.WebSocketHub, a.Logger),
	}

	a.Logger.Info("Services initialized",
		slog.String("data_file", dataPath),
		slog.Duration("monitor_interval", a.Monitor.Interval()),
		slog.Duration("http_timeout", a.Config.HTTP.Timeout))
	return nil
}

// setupRouter mounts the shell API.
// Middleware order: RequestID → Telemetry → Logger → Recoverer → headers → CORS.
func (a *Application) setupRouter() error {
	errorHandler := apierrors.NewErrorHandler(a.Logger, customMiddleware.GetReqID, !a.Config.IsRelease())
	validator := customMiddleware.NewValidator(a.Logger)

	httpMetrics, err := customMiddleware.NewHTTPMetrics(a.OTelProviders.Meter)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)

	// The event stream is registered before the wrapping middleware so the
	// upgrade sees the raw ResponseWriter.
	r.Handle("/api/events", ws.NewHandler(a.WebSocketHub, a.Config.Security.AllowedOrigins, a.Logger))

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.Telemetry(a.OTelProviders.Tracer, httpMetrics))
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(errorHandler))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
			AllowedOrigins: a.Config.Security.AllowedOrigins,
			MaxAge:         300,
		}))

		health := handlers.NewHealthHandler(a.Services.Health, a.Logger)
		r.Get("/healthz", health.HealthCheck)
		r.Get("/readyz", health.ReadinessCheck)

		r.Route("/api", func(r chi.Router) {
			r.Use(customMiddleware.ContentTypeJSON(errorHandler))
			r.Use(render.SetContentType(render.ContentTypeJSON))

			loginLimiter := customMiddleware.NewRateLimiter(
				a.Config.Security.LoginRPS,
				a.Config.Security.LoginBurst,
				errorHandler,
				a.Logger)

			r.Mount("/auth", handlers.NewAuthHandler(a.Services.Auth, validator, errorHandler, a.Logger).Routes(loginLimiter.Handler))
			r.Mount("/data", handlers.NewDataHandler(a.Services.Data, validator, errorHandler, a.Logger).Routes())
			r.Get("/app-info", health.AppInfo)
		})
	})

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	a.Router = r
	return nil
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Server.Address(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// CheckBackend probes the card authority once. In release mode an
// unreachable authority is handed to the terminator; in development mode it
// is only logged. It reports whether the authority answered.
func (a *Application) CheckBackend(ctx context.Context) bool {
	if a.Authenticator.ProbeConnectivity(ctx) {
		return true
	}

	err := fmt.Errorf("%w: %s", services.ErrBackendDown, a.Config.BackendURL)
	if a.Config.IsRelease() {
		a.Logger.ErrorContext(ctx, "Card authority unreachable at startup",
			slog.String("backend_url", a.Config.BackendURL),
			slog.String("mode", a.Config.Mode))
		a.Events.Publish(events.TopicTerminated, map[string]any{
			"reason":  "backend_unreachable",
			"message": err.Error(),
		})
		a.terminator.Terminate(err)
		return false
	}

	a.Logger.WarnContext(ctx, "Card authority unreachable, continuing in development mode",
		slog.String("backend_url", a.Config.BackendURL))
	return false
}

// Start runs the startup gate, the websocket hub and the shell server. It
// returns when ctx is cancelled or the server fails.
func (a *Application) Start(ctx context.Context) error {
	a.CheckBackend(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.WebSocketHub.Run(a.ctx)
		return nil
	})

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "Shell server listening",
			slog.String("address", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.Background())
	})

	return g.Wait()
}

// Stop shuts the server down, cancels the session monitor and flushes telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	a.cancel()
	if err := a.Monitor.Wait(shutdownCtx); err != nil {
		a.Logger.WarnContext(ctx, "Session monitor did not stop in time", slog.String("error", err.Error()))
	}
	a.Events.Close()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// Run runs the application until SIGINT or SIGTERM
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err := a.Start(ctx)
	a.Logger.Info("Application exited", slog.Duration("uptime", time.Since(start)))
	if closeErr := infrastructure.CloseLogFile(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
