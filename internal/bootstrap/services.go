package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stagepass/notify/config"
	"github.com/stagepass/notify/internal/adapters/notifyrunner"
	"github.com/stagepass/notify/internal/core"
	"github.com/stagepass/notify/internal/data"
	"github.com/stagepass/notify/internal/dispatch"
	domainjob "github.com/stagepass/notify/internal/domain/job"
	"github.com/stagepass/notify/internal/observability/statsd"
	"github.com/stagepass/notify/internal/push"
	"github.com/stagepass/notify/internal/service"
)

// shutdownWaitTimeout bounds how long shutdown waits for each component.
const shutdownWaitTimeout = 30 * time.Second

// ServiceContainer holds the constructed services of the pipeline.
type ServiceContainer struct {
	Queue         *service.QueueService
	Tracker       *service.Tracker
	Health        *service.HealthService
	Reaper        *service.ReaperService
	Runner        *notifyrunner.Runner
	Subscriptions core.SubscriptionRepository
	Observability ObservabilityContainer
}

// ObservabilityContainer holds the metrics plumbing shared by services.
type ObservabilityContainer struct {
	Metrics statsd.Sink
}

// ServiceDeps groups the external dependencies services are built from.
type ServiceDeps struct {
	DB     *sql.DB
	Redis  redis.UniversalClient
	Config *config.AppConfig
	Logger *slog.Logger
}

func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	client, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Metrics.IsEnabled(),
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  "notify",
		Logger:  logger,
	})
	if err != nil {
		// Metrics are best-effort; run without a sink rather than refuse to start.
		if logger != nil {
			logger.Warn("statsd client unavailable", "error", err)
		}
		client, _ = statsd.NewClient(statsd.Config{Enabled: false})
	}
	return ObservabilityContainer{Metrics: client}
}

type serviceRepositories struct {
	jobs     *data.JobRepo
	subs     *data.SubscriptionRepo
	audience *data.AudienceRepo
	cache    *data.RedisCacheRepo
}

func buildRepositories(deps *ServiceDeps) *serviceRepositories {
	return &serviceRepositories{
		jobs: data.NewJobRepo(deps.DB, data.JobRepoConfig{
			Retry:  domainjob.MustNewRetryPolicy(deps.Config.Queue.BackoffBase, deps.Config.Queue.MaxAttempts),
			Logger: deps.Logger,
		}),
		subs:     data.NewSubscriptionRepo(deps.DB),
		audience: data.NewAudienceRepo(deps.DB),
		cache:    data.NewRedisCacheRepo(deps.Redis),
	}
}

func newWorkerRunner(
	deps *ServiceDeps,
	repos *serviceRepositories,
	queue *service.QueueService,
	tracker *service.Tracker,
	metrics statsd.Sink,
) (*notifyrunner.Runner, error) {
	cfg := deps.Config

	sender, err := push.NewClient(push.Config{
		Authorization: cfg.Push.Authorization,
		ContactEmail:  cfg.Push.ContactEmail,
		Timeout:       cfg.Push.Timeout,
		DefaultTTL:    cfg.Push.DefaultTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create push client: %w", err)
	}

	dispatcher, err := dispatch.New(dispatch.Options{
		Sender:      sender,
		Concurrency: cfg.Dispatch.Concurrency,
		Logger:      deps.Logger,
		Metrics:     metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}

	renderer := service.NewRenderer(service.RenderOptions{
		BaseURL:  cfg.HTTP.BaseURL,
		IconURL:  cfg.Push.IconURL,
		BadgeURL: cfg.Push.BadgeURL,
	})

	runner, err := notifyrunner.NewRunner(notifyrunner.RunnerOptions{
		Queue:        queue,
		Audience:     repos.audience,
		Dispatcher:   dispatcher,
		Renderer:     renderer,
		Tracker:      tracker,
		Logger:       deps.Logger,
		Metrics:      metrics,
		Lease:        cfg.Worker.JobLease,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("create notification runner: %w", err)
	}
	return runner, nil
}

// NewServices builds the service container from external dependencies.
// The worker runner is only built when the worker service is enabled,
// since it requires valid push credentials.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}

	cfg := deps.Config
	observability := buildObservability(deps.Logger, cfg.Observability)
	repos := buildRepositories(deps)

	queue := service.MustNewQueueService(service.QueueServiceOptions{
		Repo:         repos.jobs,
		Cache:        repos.cache,
		DefaultLease: cfg.Queue.DefaultLease,
		DefaultTTL:   cfg.Queue.DefaultTTL,
		Logger:       deps.Logger,
	})

	tracker := service.NewTracker(service.TrackerOptions{
		Subscriptions: repos.subs,
		Logger:        deps.Logger,
	})

	var runner *notifyrunner.Runner
	if cfg.IsWorkerEnabled() {
		var err error
		runner, err = newWorkerRunner(deps, repos, queue, tracker, observability.Metrics)
		if err != nil {
			return ServiceContainer{}, err
		}
	}

	var probe service.WorkerProbe
	if runner != nil {
		probe = runner
	}
	health := service.NewHealthService(service.HealthServiceOptions{
		Jobs:          repos.jobs,
		Subscriptions: repos.subs,
		Tracker:       tracker,
		Worker:        probe,
		Logger:        deps.Logger,
	})

	reaper, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:          repos.jobs,
		Subscriptions: repos.subs,
		Tracker:       tracker,
		Config:        cfg.Reaper,
		Logger:        deps.Logger,
		Metrics:       observability.Metrics,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create reaper service: %w", err)
	}

	return ServiceContainer{
		Queue:         queue,
		Tracker:       tracker,
		Health:        health,
		Reaper:        reaper,
		Runner:        runner,
		Subscriptions: repos.subs,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig groups what RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
}

type serviceStartupDeps struct {
	ctx             context.Context
	cfg             *ServiceOrchestrationConfig
	logger          *slog.Logger
	enabledServices map[config.ServiceMode]bool
	errCh           chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	mode  config.ServiceMode
	name  string
	start func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	mode config.ServiceMode
	name string
	done <-chan struct{}
}

func startHTTPServerIfEnabled(deps *serviceStartupDeps) *http.Server {
	if deps == nil || deps.cfg == nil || !deps.enabledServices[config.ServiceModeHTTP] {
		return nil
	}
	return StartHTTPServer(&HTTPServerConfig{
		Config:   deps.cfg.Config,
		Services: deps.cfg.Services,
		Logger:   deps.logger,
	})
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
	}

	logger := deps.logger
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				logger.WarnContext(ctx, "dropping background service error",
					"service", descriptor.name, "error", errMsg)
			}
		}
	}()

	logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	if deps == nil {
		return nil
	}
	handles := make([]backgroundServiceHandle, 0, len(services))

	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}
		handles = append(handles, backgroundServiceHandle{mode: svc.mode, name: svc.name, done: done})
	}

	return handles
}

func newWorkerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeWorker,
		name: "notification worker",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg.Services.Runner == nil {
				return errors.New("worker enabled but runner not built")
			}
			return deps.cfg.Services.Runner.Run(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg.Services.Reaper == nil {
				return errors.New("reaper enabled but service not built")
			}
			return deps.cfg.Services.Reaper.Run(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newWorkerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// ServiceStartupResult holds the results of starting all services.
type ServiceStartupResult struct {
	HTTPServer *http.Server
	Background []backgroundServiceHandle
}

func startServices(deps *serviceStartupDeps) ServiceStartupResult {
	return ServiceStartupResult{
		HTTPServer: startHTTPServerIfEnabled(deps),
		Background: startBackgroundServices(deps, buildBackgroundServices(deps)),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their
// lifecycle. It blocks until a shutdown signal is received or a service
// fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	result := startServices(&serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	})

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		httpServer:  result.HTTPServer,
		queue:       cfg.Services.Queue,
		logger:      logger,
		backgrounds: result.Background,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	size := errorChannelCapacity(enabled) + 1
	if size < 1 {
		return 1
	}
	return size
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	queue       *service.QueueService
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for a shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

func gracefulStop(cfg shutdownConfig) error {
	if cfg.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
		defer cancel()

		if err := ShutdownHTTPServer(ShutdownConfig{
			Context: shutdownCtx,
			Server:  cfg.httpServer,
			Queue:   cfg.queue,
			Logger:  cfg.logger,
		}); err != nil {
			return err
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	return nil
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
