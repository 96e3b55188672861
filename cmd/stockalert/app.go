package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/stockalert/internal/alerting"
	"github.com/good-yellow-bee/stockalert/internal/batch"
	"github.com/good-yellow-bee/stockalert/internal/eventbus"
	"github.com/good-yellow-bee/stockalert/internal/logging"
	"github.com/good-yellow-bee/stockalert/internal/notifier"
	"github.com/good-yellow-bee/stockalert/internal/pipeline"
	"github.com/good-yellow-bee/stockalert/internal/storage"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg          *Config
	logger       *zap.Logger
	store        *storage.SQLStorage
	dispatcher   *notifier.Dispatcher
	service      *pipeline.Service
	orchestrator *batch.Orchestrator
	redis        *redis.Client
	publisher    *eventbus.KafkaPublisher
	evaluator    *alerting.Evaluator
	gate         *alerting.Gate
	limiters     map[string]*notifier.RateLimiter
}

// loadConfig reads the config file when given and applies CLI overrides.
func loadConfig() (*Config, error) {
	var cfg *Config
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}
	if dsn != "" {
		cfg.Database.DSN = dsn
	}
	if verbose {
		cfg.Verbose = true
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openStore opens and migrates the configured database.
func openStore(cfg *Config, logger *zap.Logger) (*storage.SQLStorage, error) {
	driver, err := storage.ParseDriver(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	if driver == storage.DriverSQLite {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	store := storage.New(driver, cfg.Database.DSN)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	logger.Info("database initialized", zap.String("driver", string(driver)))
	return store, nil
}

// newApp wires storage, notifiers, the pipeline and the orchestrator.
func newApp(ctx context.Context, cfg *Config) (*app, error) {
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		evaluator: alerting.NewEvaluator(store.Products(), store.Sales()),
		gate:      alerting.NewGate(store.AlertEvents()),
		limiters:  make(map[string]*notifier.RateLimiter),
	}

	a.dispatcher, err = notifier.NewDispatcher(store.AlertEvents(), &notifier.DispatcherOptions{
		Retry: notifier.RetryConfig{
			MaxRetries:     cfg.Notifications.Retry.MaxRetries,
			InitialBackoff: durationOf(cfg.Notifications.Retry.InitialBackoff),
			MaxBackoff:     durationOf(cfg.Notifications.Retry.MaxBackoff),
			BackoffFactor:  2.0,
		},
		Logger: logger,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	if err := a.registerSenders(ctx); err != nil {
		a.close()
		return nil, err
	}

	opts := &pipeline.Options{Logger: logger}
	if cfg.Kafka.Enabled {
		a.publisher, err = eventbus.NewKafkaPublisher(eventbus.Config{
			Brokers: strings.Join(cfg.Kafka.Brokers, ","),
			Topic:   cfg.Kafka.Topic,
		}, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create kafka publisher: %w", err)
		}
		opts.Sink = a.publisher
	}

	a.service = pipeline.NewService(
		store.Rules(),
		a.evaluator,
		a.gate,
		alerting.NewRecorder(store.AlertEvents()),
		a.dispatcher,
		opts,
	)

	a.orchestrator = batch.NewOrchestrator(store.Tenants(), a.service, &batch.OrchestratorOptions{
		Workers: cfg.Scheduler.Workers,
		Logger:  logger,
	})

	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	return a, nil
}

// registerSenders creates a sender for every enabled channel.
// Channels left disabled fail with ErrChannelUnavailable at dispatch time.
func (a *app) registerSenders(ctx context.Context) error {
	n := a.cfg.Notifications

	if n.WhatsApp.Enabled {
		limiter := notifier.NewRateLimiter(notifier.RateLimitConfig{
			PerSecond: n.WhatsApp.RatePerSec,
			Burst:     n.WhatsApp.Burst,
			Enabled:   true,
		})
		a.limiters["whatsapp"] = limiter
		sender, err := notifier.NewWhatsAppSender(notifier.WhatsAppConfig{
			AccountSID: n.WhatsApp.AccountSID,
			AuthToken:  n.WhatsApp.AuthToken,
			From:       n.WhatsApp.From,
			BaseURL:    n.WhatsApp.BaseURL,
		}, limiter)
		if err != nil {
			return fmt.Errorf("create whatsapp sender: %w", err)
		}
		a.dispatcher.Register(sender)
	}

	if n.Email.Enabled {
		var providers []notifier.EmailProvider
		if n.Email.SMTP.Host != "" {
			smtpProvider, err := notifier.NewSMTPProvider(notifier.SMTPConfig{
				Host:     n.Email.SMTP.Host,
				Port:     n.Email.SMTP.Port,
				Username: n.Email.SMTP.Username,
				Password: n.Email.SMTP.Password,
			})
			if err != nil {
				return fmt.Errorf("create smtp provider: %w", err)
			}
			providers = append(providers, smtpProvider)
		}
		if n.Email.SES.Enabled {
			sesProvider, err := notifier.NewSESProvider(ctx, n.Email.SES.Region)
			if err != nil {
				return fmt.Errorf("create ses provider: %w", err)
			}
			providers = append(providers, sesProvider)
		}
		if n.Email.Resend.APIKey != "" {
			providers = append(providers, notifier.NewResendProvider(n.Email.Resend.APIKey))
		}

		sender, err := notifier.NewEmailSender(n.Email.From, a.logger, providers...)
		if err != nil {
			return fmt.Errorf("create email sender: %w", err)
		}
		a.dispatcher.Register(sender)
	}

	if n.Slack.Enabled {
		limiter := notifier.NewRateLimiter(notifier.RateLimitConfig{
			PerSecond: n.Slack.RatePerSec,
			Burst:     n.Slack.Burst,
			Enabled:   true,
		})
		a.limiters["slack"] = limiter
		a.dispatcher.Register(notifier.NewSlackSender(limiter))
	}

	return nil
}

// tickLock returns the Redis lock when Redis is enabled, otherwise an in-process lock.
func (a *app) tickLock() batch.TickLock {
	if a.redis != nil {
		return batch.NewRedisLock(a.redis, a.cfg.Redis.LockKey)
	}
	return batch.NewLocalLock()
}

// newScheduler builds the scheduler from config.
func (a *app) newScheduler() *batch.Scheduler {
	return batch.NewScheduler(a.orchestrator, &batch.SchedulerOptions{
		Interval:   a.cfg.Interval(),
		HardLimit:  a.cfg.HardLimit(),
		SoftLimit:  a.cfg.SoftLimit(),
		RunOnStart: a.cfg.Scheduler.RunOnStart,
		Lock:       a.tickLock(),
		Logger:     a.logger,
	})
}

// logEngineStats logs the process-lifetime engine counters.
func (a *app) logEngineStats(msg string) {
	ev := a.evaluator.Stats()
	fields := []zap.Field{
		zap.Int64("rules_evaluated", ev.RulesEvaluated),
		zap.Int64("rules_triggered", ev.RulesTriggered),
		zap.Int64("evaluation_errors", ev.Errors),
		zap.Int64("alerts_suppressed", a.gate.Suppressed()),
	}
	channels := make([]string, 0, len(a.limiters))
	for ch := range a.limiters {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	for _, ch := range channels {
		stats := a.limiters[ch].Stats()
		fields = append(fields,
			zap.Int64(ch+"_rate_waits", stats.Waits),
			zap.Int64(ch+"_rate_denied", stats.Denied),
		)
	}
	a.logger.Info(msg, fields...)
}

func (a *app) close() {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			a.logger.Warn("failed to close senders", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close kafka publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync()
}
