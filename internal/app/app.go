package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/semmidev/markavault/internal/adapter/database"
	"github.com/semmidev/markavault/internal/adapter/license"
	"github.com/semmidev/markavault/internal/adapter/notifier"
	"github.com/semmidev/markavault/internal/adapter/pipeline"
	"github.com/semmidev/markavault/internal/adapter/storage"
	"github.com/semmidev/markavault/internal/config"
	"github.com/semmidev/markavault/internal/domain"
	"github.com/semmidev/markavault/internal/infrastructure/logger"
	"github.com/semmidev/markavault/internal/infrastructure/metrics"
	"github.com/semmidev/markavault/internal/infrastructure/scheduler"
	"github.com/semmidev/markavault/internal/usecase"
)

type App struct {
	config       *config.Config
	logger       *logger.Logger
	store        *database.SQLite
	cipher       *pipeline.Cipher
	providers    []domain.Provider
	registry     *prometheus.Registry
	scheduler    *scheduler.Scheduler
	orchestrator *usecase.Orchestrator
	metricsSrv   *http.Server
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return NewWithLogger(ctx, cfg, log)
}

func NewWithLogger(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	log.Infof("Starting %s", cfg.App.Name)

	store := database.NewSQLite(cfg.Data.Path)
	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}

	var cipher *pipeline.Cipher
	if cfg.Backup.EncryptionPassphrase != "" {
		var err error
		cipher, err = pipeline.NewCipher([]byte(cfg.Backup.EncryptionPassphrase), cfg.Backup.ScryptWorkFactor)
		if err != nil {
			store.Close(ctx)
			return nil, fmt.Errorf("failed to initialize encryption: %w", err)
		}
	}

	checker, err := license.New(cfg.License.Tier)
	if err != nil {
		store.Close(ctx)
		return nil, err
	}
	log.Infof("License tier: %s", checker.Tier())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	providers := initializeProviders(ctx, cfg, log)
	transport := usecase.NewTransport(providers, usecase.TransportConfig{
		MaxRetries:  cfg.Sync.MaxRetries,
		RetryDelay:  cfg.Sync.RetryDelay,
		CallTimeout: cfg.Sync.CallTimeout,
	}, log, m)

	orchestrator := usecase.NewOrchestrator(usecase.OrchestratorConfig{
		AppName:      cfg.App.Name,
		BackupDir:    cfg.Backup.Dir,
		Sidecars:     cfg.Data.Sidecars,
		SyncPrefix:   cfg.Sync.Prefix,
		BackupPrefix: cfg.Sync.BackupPrefix,
		Retention: usecase.RetentionPolicy{
			MaxCount:      cfg.Backup.MaxCount,
			RetentionDays: cfg.Backup.RetentionDays,
		},
		Compress:      cfg.Backup.Compress,
		Encrypt:       cfg.Backup.Encrypt,
		AutoBackup:    cfg.Backup.Auto,
		SyncEnabled:   cfg.Sync.Enabled,
		UploadBackups: len(providers) > 0,
	}, usecase.Deps{
		Store:     store,
		Checker:   database.NewIntegrityChecker(),
		History:   store,
		Settings:  store,
		Features:  checker,
		Notifier:  initializeNotifiers(cfg, log),
		Pipeline:  pipeline.New(cipher, cfg.Backup.CompressionLevel),
		Transport: transport,
		Logger:    log,
		Metrics:   m,
	})

	return &App{
		config:       cfg,
		logger:       log,
		store:        store,
		cipher:       cipher,
		providers:    providers,
		registry:     registry,
		scheduler:    scheduler.New(log),
		orchestrator: orchestrator,
	}, nil
}

func initializeProviders(ctx context.Context, cfg *config.Config, log *logger.Logger) []domain.Provider {
	var providers []domain.Provider
	for _, pc := range cfg.GetEnabledProviders() {
		p, err := storage.New(ctx, pc)
		if err != nil {
			log.Errorf("Failed to initialize provider %s (%s): %v", pc.Name, pc.Type, err)
			continue
		}
		log.Infof("✓ Provider %s enabled (%s)", pc.Name, pc.Type)
		providers = append(providers, p)
	}
	return providers
}

func initializeNotifiers(cfg *config.Config, log *logger.Logger) domain.Notifier {
	notifiers := []domain.Notifier{notifier.NewLog(log)}
	if cfg.Notify.Telegram.Enabled {
		tg, err := notifier.NewTelegram(cfg.Notify.Telegram, cfg.App.Name)
		if err != nil {
			log.Errorf("Failed to initialize Telegram notifier: %v", err)
		} else {
			log.Infof("✓ Telegram notifications enabled")
			notifiers = append(notifiers, tg)
		}
	}
	return notifier.NewMulti(log, notifiers...)
}

func (a *App) Orchestrator() *usecase.Orchestrator {
	return a.orchestrator
}

func (a *App) History(ctx context.Context, limit int) ([]domain.TransferRecord, error) {
	return a.store.History(ctx, limit)
}

func (a *App) ProviderNames() []string {
	names := make([]string, len(a.providers))
	for i, p := range a.providers {
		names[i] = p.Name()
	}
	return names
}

// Run schedules the automatic jobs and blocks until ctx is cancelled. Each
// job checks its own setting and license gate on every tick.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.AddJob("backup", a.config.Backup.Schedule, a.orchestrator.RunScheduledBackup); err != nil {
		return fmt.Errorf("failed to schedule backup: %w", err)
	}

	if len(a.providers) > 0 {
		spec := "@every " + a.config.Sync.Interval.String()
		if err := a.scheduler.AddJob("sync", spec, a.orchestrator.RunScheduledSync); err != nil {
			return fmt.Errorf("failed to schedule sync: %w", err)
		}
	} else {
		a.logger.Warnf("No cloud provider enabled, scheduled sync is off")
	}

	if addr := a.config.App.MetricsAddr; addr != "" {
		a.serveMetrics(addr)
	}

	a.scheduler.Start()
	a.logger.Infof("Scheduler started with %d job(s)", a.scheduler.Len())
	a.logger.Infof("Backup destinations: local + %d remote provider(s)", len(a.providers))

	<-ctx.Done()
	return nil
}

func (a *App) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))

	a.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Infof("Metrics listening on %s", addr)
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorf("Metrics server error: %v", err)
		}
	}()
}

// Shutdown waits for running jobs, closes the data file and releases the
// passphrase.
func (a *App) Shutdown() {
	a.logger.Infof("Shutting down application...")
	a.scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Warnf("Metrics server shutdown: %v", err)
		}
	}
	for _, p := range a.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				a.logger.Warnf("Closing provider %s: %v", p.Name(), err)
			}
		}
	}
	if err := a.store.Close(ctx); err != nil {
		a.logger.Errorf("Closing data file: %v", err)
	}
	if a.cipher != nil {
		a.cipher.Destroy()
	}
	a.logger.Close()
}
