package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nudgelabs/nudged/config"
	"github.com/nudgelabs/nudged/internal/adapters/delivery"
	"github.com/nudgelabs/nudged/internal/adapters/scheduler"
	"github.com/nudgelabs/nudged/internal/core"
	"github.com/nudgelabs/nudged/internal/data"
	"github.com/nudgelabs/nudged/internal/domain/job"
	"github.com/nudgelabs/nudged/internal/domain/model"
	"github.com/nudgelabs/nudged/internal/observability/notify/webhook"
	"github.com/nudgelabs/nudged/internal/observability/statsd"
	"github.com/nudgelabs/nudged/internal/service"
	"github.com/nudgelabs/nudged/internal/service/failurenotifier"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs          *data.JobRepo
	Users         *data.UserRepo
	Messages      *data.MessageRepo
	Push          *service.PushService
	Executor      *service.ExecutorService
	Runner        *service.RunnerService
	Scheduler     *service.SchedulerService
	Reaper        *service.ReaperService
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink     *statsd.Client
	MetricsConfig   config.ObservabilityMetricsConfig
	FailureNotifier *failurenotifier.Notifier
	NotifierConfig  config.ObservabilityNotificationsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	DB          *sql.DB
	Redis       redis.UniversalClient
	JobRepo     *data.JobRepo
	UserRepo    *data.UserRepo
	MessageRepo *data.MessageRepo
	Guard       core.DeliveryGuard
}

// buildObservability configures metrics and notification adapters.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	var metricsSink *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  "nudged",
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	failureNotifier := buildFailureNotifier(obsLogger, cfg.Notifications)

	return ObservabilityContainer{
		MetricsSink:     metricsSink,
		MetricsConfig:   cfg.Metrics,
		FailureNotifier: failureNotifier,
		NotifierConfig:  cfg.Notifications,
	}
}

func buildFailureNotifier(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig) *failurenotifier.Notifier {
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	if !cfg.Enabled {
		return failurenotifier.New(failurenotifier.Options{Logger: baseLogger})
	}

	sinks := make([]failurenotifier.SinkRegistration, 0, 1)

	if cfg.Webhook.Enabled {
		client, err := webhook.NewClient(webhook.Config{
			WebhookURL: cfg.Webhook.URL,
			Channel:    cfg.Webhook.Channel,
			Username:   cfg.Webhook.Username,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
			Logger:     baseLogger,
		})
		if err != nil {
			baseLogger.Error("failed to initialise webhook notifier", "error", err)
		} else {
			sinks = append(sinks, failurenotifier.SinkRegistration{
				Name: "webhook",
				Sink: client,
			})
		}
	}

	return failurenotifier.New(failurenotifier.Options{
		Logger: baseLogger,
		Sinks:  sinks,
	})
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient, cfg *config.AppConfig, logger *slog.Logger) *serviceRepositories {
	var guard core.DeliveryGuard = data.NoopDeliveryGuard{}
	if cfg != nil && cfg.Redis.Enabled && redisClient != nil {
		guard = data.MustNewRedisDeliveryGuard(data.RedisDeliveryGuardOptions{
			Client: redisClient,
			Logger: logger,
		})
	}

	return &serviceRepositories{
		DB:          db,
		Redis:       redisClient,
		JobRepo:     data.MustNewJobRepo(data.JobRepoOptions{DB: db, Logger: logger}),
		UserRepo:    data.MustNewUserRepo(data.UserRepoOptions{DB: db, Logger: logger}),
		MessageRepo: data.MustNewMessageRepo(data.MessageRepoOptions{DB: db, Logger: logger}),
		Guard:       guard,
	}
}

func newPushService(repos *serviceRepositories, cfg config.DeliveryConfig, observability ObservabilityContainer, logger *slog.Logger) *service.PushService {
	gateway := delivery.MustNewGateway(delivery.GatewayOptions{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
		Logger:  logger,
	})

	return service.MustNewPushService(service.PushServiceOptions{
		Users:   repos.UserRepo,
		Gateway: gateway,
		Log:     repos.MessageRepo,
		Metrics: observability.MetricsSink,
		Logger:  logger,
	})
}

func newExecutorService(push *service.PushService, logger *slog.Logger) *service.ExecutorService {
	return service.MustNewExecutorService(service.ExecutorServiceOptions{
		Handlers: map[string]service.HandlerFunc{
			model.ParamsTypePushMessage: service.NewPushMessageHandler(push),
		},
		Logger: logger,
	})
}

func newRunnerService(repos *serviceRepositories, executor *service.ExecutorService, cfg *config.AppConfig, observability ObservabilityContainer, logger *slog.Logger) *service.RunnerService {
	var jobTimeout, guardTTL time.Duration
	if cfg != nil {
		jobTimeout = cfg.Scheduler.JobTimeout
		guardTTL = cfg.Delivery.GuardTTL
	}
	return service.MustNewRunnerService(service.RunnerServiceOptions{
		Jobs:       repos.JobRepo,
		Executor:   executor,
		Guard:      repos.Guard,
		Notifier:   observability.FailureNotifier,
		Metrics:    observability.MetricsSink,
		JobTimeout: jobTimeout,
		GuardTTL:   guardTTL,
		Logger:     logger,
	})
}

func newSchedulerService(repos *serviceRepositories, runner *service.RunnerService, cfg *config.AppConfig, logger *slog.Logger) *service.SchedulerService {
	schedulerCfg := config.SchedulerConfig{}
	if cfg != nil {
		schedulerCfg = cfg.Scheduler
	}

	var leasePolicy *job.LeasePolicy
	if schedulerCfg.JobLease > 0 {
		policy, err := job.NewLeasePolicy(schedulerCfg.JobLease)
		if err != nil {
			logger.Error("invalid job lease configuration, using service default", "error", err)
		} else {
			leasePolicy = policy
		}
	}

	return service.MustNewSchedulerService(service.SchedulerServiceOptions{
		Jobs:        repos.JobRepo,
		Runner:      runner,
		BatchSize:   schedulerCfg.BatchSize,
		Concurrency: schedulerCfg.Concurrency,
		LeasePolicy: leasePolicy,
		Lease:       schedulerCfg.JobLease,
		Logger:      logger,
	})
}

func newReaperService(repos *serviceRepositories, cfg *config.AppConfig, observability ObservabilityContainer, logger *slog.Logger) *service.ReaperService {
	reaperCfg := config.ReaperConfig{}
	if cfg != nil {
		reaperCfg = cfg.Reaper
	}
	return service.MustNewReaperService(service.ReaperServiceOptions{
		Jobs:            repos.JobRepo,
		Interval:        reaperCfg.Interval,
		BatchSize:       reaperCfg.BatchSize,
		CompletedMaxAge: reaperCfg.CompletedMaxAge,
		FailedMaxAge:    reaperCfg.FailedMaxAge,
		Metrics:         observability.MetricsSink,
		Logger:          logger,
	})
}

// NewServices wires the full service graph from shared infrastructure.
func NewServices(deps *ServiceDeps) ServiceContainer {
	if deps == nil {
		return ServiceContainer{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var obsCfg config.ObservabilityConfig
	var deliveryCfg config.DeliveryConfig
	if deps.Config != nil {
		obsCfg = deps.Config.Observability
		deliveryCfg = deps.Config.Delivery
	}

	observability := buildObservability(logger, obsCfg)
	repos := buildRepositories(deps.DB, deps.RedisClient, deps.Config, logger)

	push := newPushService(repos, deliveryCfg, observability, logger)
	executor := newExecutorService(push, logger)
	runner := newRunnerService(repos, executor, deps.Config, observability, logger)
	schedulerSvc := newSchedulerService(repos, runner, deps.Config, logger)
	reaper := newReaperService(repos, deps.Config, observability, logger)

	return ServiceContainer{
		Jobs:          repos.JobRepo,
		Users:         repos.UserRepo,
		Messages:      repos.MessageRepo,
		Push:          push,
		Executor:      executor,
		Runner:        runner,
		Scheduler:     schedulerSvc,
		Reaper:        reaper,
		Observability: observability,
	}
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

const (
	// shutdownWaitTimeout is the maximum time to wait for services to stop gracefully.
	shutdownWaitTimeout = 15 * time.Second
)

// serviceStartupDeps groups dependencies for service startup.
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

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !deps.enabledServices[descriptor.mode] {
		return nil
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
				if deps.logger != nil {
					deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
				} else {
					slog.Default().WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
				}
			}
		}
	}()

	if deps.logger != nil {
		deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	} else {
		slog.Default().InfoContext(ctx, "background service started", "service", descriptor.name, "mode", descriptor.mode)
	}

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

		handles = append(handles, backgroundServiceHandle{
			mode: svc.mode,
			name: svc.name,
			done: done,
		})
	}

	return handles
}

func newSchedulerBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeScheduler,
		name: "scheduler",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			var interval time.Duration
			if deps.cfg.Config != nil {
				interval = deps.cfg.Config.Scheduler.Interval
			}
			loop, err := scheduler.NewRunner(scheduler.RunnerOptions{
				Scheduler: deps.cfg.Services.Scheduler,
				Interval:  interval,
				Logger:    deps.logger,
				Metrics:   deps.cfg.Services.Observability.MetricsSink,
			})
			if err != nil {
				return fmt.Errorf("build scheduler loop: %w", err)
			}
			return loop.Start(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps) backgroundService {
	return backgroundService{
		mode: config.ServiceModeReaper,
		name: "reaper",
		start: func(ctx context.Context) error {
			if deps == nil || deps.cfg == nil {
				return nil
			}
			return deps.cfg.Services.Reaper.Start(ctx)
		},
	}
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	if deps == nil {
		return nil
	}
	return []backgroundService{
		newSchedulerBackgroundService(deps),
		newReaperBackgroundService(deps),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	ctx := context.Background()
	serviceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	errCh := make(chan error, errorChannelBufferSize(enabledServices))

	deps := &serviceStartupDeps{
		ctx:             serviceCtx,
		cfg:             cfg,
		logger:          logger,
		enabledServices: enabledServices,
		errCh:           errCh,
	}
	handles := startBackgroundServices(deps, buildBackgroundServices(deps))

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       errCh,
		metrics:     cfg.Services.Observability.MetricsSink,
		logger:      logger,
		backgrounds: handles,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	modes := []config.ServiceMode{
		config.ServiceModeScheduler,
		config.ServiceModeReaper,
	}

	count := 0
	for _, mode := range modes {
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
	metrics     *statsd.Client
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		gracefulStop(cfg)
		return nil
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		gracefulStop(cfg)
		return err
	}
}

// gracefulStop waits for background services to finish, then flushes metrics.
func gracefulStop(cfg shutdownConfig) {
	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if err := cfg.metrics.Close(); err != nil {
		cfg.logger.Warn("failed to close metrics sink", "error", err)
	}
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
