package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mhrishan/desco-monitor/config"
	"github.com/mhrishan/desco-monitor/desco"
	"github.com/mhrishan/desco-monitor/ledger"
	"github.com/mhrishan/desco-monitor/logger"
	"github.com/mhrishan/desco-monitor/metrics"
	"github.com/mhrishan/desco-monitor/monitor"
	"github.com/mhrishan/desco-monitor/notify"
	"github.com/mhrishan/desco-monitor/store/csvfile"
	"github.com/mhrishan/desco-monitor/store/sqlite"
	"github.com/mhrishan/desco-monitor/store/xlsx"
)

// components is the wired application shared by every command.
type components struct {
	cfg       config.Config
	log       *zap.Logger
	store     ledger.Store
	runs      ledger.RunLog
	client    *desco.Client
	tracker   *monitor.Tracker
	engine    *monitor.Engine
	scheduler *monitor.Scheduler
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	closers   []io.Closer
}

// loadConfig reads path. With optional set, a missing file yields the
// defaults so the control surface can be used to fill it in.
func loadConfig(path string, optional bool) (config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if optional && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return config.Config{}, err
}

func build(ctx context.Context, cfg config.Config, osFs afero.Fs) (*components, error) {
	log, err := logger.New(logger.Options{Env: cfg.Env, Level: cfg.Logging.Level, Version: version})
	if err != nil {
		return nil, err
	}
	c := &components{cfg: cfg, log: log}

	if err := c.openStores(osFs); err != nil {
		c.Close()
		return nil, err
	}

	c.client = desco.NewClient(cfg.Fetch.BaseURL,
		desco.WithTimeout(seconds(cfg.Fetch.TimeoutSec)),
		desco.WithInsecureSkipVerify(cfg.Fetch.InsecureSkipVerify),
	)

	notifier, err := buildNotifier(cfg, osFs, log)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.New(c.registry)

	c.tracker = monitor.NewTracker(c.store)
	c.engine, err = monitor.NewEngine(c.client, c.store, notifier,
		monitor.WithTracker(c.tracker),
		monitor.WithRunLog(c.runs),
		monitor.WithObserver(c.metrics),
		monitor.WithLocation(cfg.Location()),
		monitor.WithLogger(log),
		monitor.WithTimeouts(
			seconds(cfg.Fetch.TimeoutSec),
			seconds(cfg.Storage.TimeoutSec),
			seconds(cfg.Email.TimeoutSec),
		),
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.scheduler = monitor.NewScheduler(c.engine,
		monitor.WithSchedulerTracker(c.tracker),
		monitor.WithSchedulerObserver(c.metrics),
		monitor.WithSchedulerLogger(log),
	)

	if err := c.tracker.Rebuild(ctx); err != nil {
		log.Warn("could not seed status from ledger", zap.Error(err))
	}
	log.Info("components ready",
		zap.String("backend", cfg.Storage.Backend),
		zap.String("ledger", c.store.Reference()),
		zap.String("history", cfg.History.Path),
	)
	return c, nil
}

// openStores opens the ledger backend and the run-history database. The
// sqlite backend shares one database with the history when paths match.
func (c *components) openStores(osFs afero.Fs) error {
	history, err := sqlite.New(c.cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	c.closers = append(c.closers, history)
	c.runs = history

	switch c.cfg.Storage.Backend {
	case config.BackendSQLite:
		if c.cfg.Storage.Path == c.cfg.History.Path {
			c.store = history
			return nil
		}
		db, err := sqlite.New(c.cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open ledger: %w", err)
		}
		c.closers = append(c.closers, db)
		c.store = db
	case config.BackendXLSX:
		c.store = xlsx.New(osFs, c.cfg.Storage.Path, c.cfg.Storage.Sheet)
	default:
		c.store = csvfile.New(osFs, c.cfg.Storage.Path)
	}
	return nil
}

// buildNotifier fans out to every configured channel, or does nothing.
func buildNotifier(cfg config.Config, osFs afero.Fs, log *zap.Logger) (monitor.Notifier, error) {
	var out notify.Multi

	if cfg.Email.Enabled {
		password := cfg.Email.Password
		if cfg.Email.PasswordFromKeyring {
			secret, err := notify.PasswordFromKeyring(cfg.Email.Username)
			if err != nil {
				return nil, err
			}
			if secret != "" {
				password = secret
			} else {
				log.Warn("no keyring entry for smtp user, using config password",
					zap.String("user", cfg.Email.Username))
			}
		}
		email, err := notify.NewEmail(notify.EmailConfig{
			Host:         cfg.Email.Host,
			Port:         cfg.Email.Port,
			SSL:          !cfg.Email.StartTLS,
			Username:     cfg.Email.Username,
			Password:     password,
			From:         cfg.Email.From,
			To:           cfg.Email.To,
			Subject:      cfg.Email.Subject,
			Timeout:      seconds(cfg.Email.TimeoutSec),
			AttachLedger: cfg.Email.AttachLedger,
		}, notify.WithAttachmentFs(osFs))
		if err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	if cfg.Webhook.URL != "" {
		out = append(out, notify.NewWebhook(cfg.Webhook.URL, seconds(cfg.Webhook.TimeoutSec)))
	}

	switch len(out) {
	case 0:
		log.Info("no notifier configured")
		return notify.Nop{}, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}

// Close releases every opened database.
func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil && c.log != nil {
			c.log.Warn("close failed", zap.Error(err))
		}
	}
	c.closers = nil
	if c.log != nil {
		_ = c.log.Sync()
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
