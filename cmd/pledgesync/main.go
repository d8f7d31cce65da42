package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jessevdk/go-flags"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mxpv/pledgesync/pkg/audit"
	"github.com/mxpv/pledgesync/pkg/classifier"
	"github.com/mxpv/pledgesync/pkg/config"
	"github.com/mxpv/pledgesync/pkg/db"
	"github.com/mxpv/pledgesync/pkg/handler"
	"github.com/mxpv/pledgesync/pkg/id"
	"github.com/mxpv/pledgesync/pkg/ledger"
	"github.com/mxpv/pledgesync/pkg/lock"
	"github.com/mxpv/pledgesync/pkg/mailbox"
	"github.com/mxpv/pledgesync/pkg/metrics"
	"github.com/mxpv/pledgesync/pkg/queue"
	"github.com/mxpv/pledgesync/services/allocate"
	"github.com/mxpv/pledgesync/services/reconcile"
)

type Opts struct {
	ConfigPath string `long:"config" short:"c" default:"config.toml" env:"PLEDGESYNC_CONFIG_PATH"`
	Debug      bool   `long:"debug"`
	Once       bool   `long:"once" description:"run reconciliation once and exit"`
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Parse args
	opts := Opts{}
	_, err := flags.Parse(&opts)
	if err != nil {
		log.WithError(err).Fatal("failed to parse command line arguments")
	}

	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log.WithFields(log.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("running pledgesync")

	// Load TOML file
	log.Debugf("loading configuration %q", opts.ConfigPath)
	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration file")
	}

	metrics.RegisterMetrics()

	storage, err := db.Open(&cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}

	defer func() {
		if err := storage.Close(); err != nil {
			log.WithError(err).Error("failed to close database")
		}
	}()

	locker, err := newLocker(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to create pledge locker")
	}

	ids, err := id.NewGenerator()
	if err != nil {
		log.WithError(err).Fatal("failed to create id generator")
	}

	recorder := audit.NewRecorder(storage, ids)

	gmail, err := mailbox.NewGmail(ctx, mailbox.GmailConfig{
		CredentialsFile: cfg.Mail.CredentialsFile,
		TokenFile:       cfg.Mail.TokenFile,
		User:            cfg.Mail.User,
		From:            cfg.Mail.From,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create mailbox client")
	}

	oracle := classifier.NewBreaker(
		classifier.NewOpenAI(classifier.OpenAIConfig{
			APIKey:  cfg.Classifier.APIKey,
			BaseURL: cfg.Classifier.BaseURL,
			Model:   cfg.Classifier.Model,
			Timeout: cfg.Classifier.Timeout.Duration,
		}),
		cfg.Classifier.MaxFailures,
		cfg.Classifier.Cooldown.Duration,
	)

	group, ctx := errgroup.WithContext(ctx)

	// Hostel requests go through SQS when a queue is configured
	var notifier queue.Notifier = queue.NewInline(gmail)
	if cfg.Queue.URL != "" {
		api, err := queue.NewSQS(queue.SQSConfig{
			URL:      cfg.Queue.URL,
			Region:   cfg.Queue.Region,
			Endpoint: cfg.Queue.Endpoint,
		})
		if err != nil {
			log.WithError(err).Fatal("failed to create queue client")
		}

		sender := queue.NewSender(ctx, api, cfg.Queue.URL)
		defer sender.Close()
		notifier = sender

		worker := queue.NewWorker(api, cfg.Queue.URL, gmail, cfg.Queue.WaitTime.Duration)
		group.Go(func() error {
			return worker.Run(ctx)
		})
	}

	manager := allocate.NewManager(storage, locker, ids, recorder, notifier, allocate.Config{
		LockTimeout:   cfg.Lock.Timeout.Duration,
		HostelAddress: cfg.Mail.HostelAddress,
	})

	inbox := mailbox.NewInbox(gmail, cfg.Reconcile.Query, cfg.Reconcile.ProcessedLabel, cfg.Reconcile.ManualReviewLabel)

	engine := reconcile.NewEngine(inbox, storage, oracle, gmail, manager, recorder, reconcile.Config{
		BatchSize:        cfg.Reconcile.BatchSize,
		MaxStaleAttempts: cfg.Reconcile.MaxStaleAttempts,
		Operators:        cfg.Reconcile.Operators,
	})

	if opts.Once {
		runReconcile(ctx, engine)
		log.Info("done")
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))

	group.Go(func() error {
		// Shutdown cron
		defer func() {
			log.Info("shutting down cron")
			<-c.Stop().Done()
		}()

		if _, err := c.AddFunc(cfg.Reconcile.Schedule, func() {
			runReconcile(ctx, engine)
		}); err != nil {
			return err
		}

		if _, err := c.AddFunc(cfg.Reconcile.RepairSchedule, func() {
			repaired, err := manager.Repair(ctx)
			if err != nil {
				log.WithError(err).Error("pledge repair finished with errors")
			}
			log.Infof("pledge repair updated %d pledge(s)", repaired)
		}); err != nil {
			return err
		}

		log.Debugf("-> reconcile %q, repair %q", cfg.Reconcile.Schedule, cfg.Reconcile.RepairSchedule)

		c.Start()

		<-ctx.Done()
		return ctx.Err()
	})

	// Run web server
	srv := NewServer(cfg, handler.New(manager, ledger.NewCalculator(storage, storage), engine, recorder))

	group.Go(func() error {
		log.Infof("running listener at %s", srv.Addr)
		return srv.ListenAndServe()
	})

	group.Go(func() error {
		// Shutdown web server
		defer func() {
			log.Info("shutting down web server")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.WithError(err).Error("server shutdown failed")
			}
		}()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			cancel()
			return nil
		}
	})

	if err := group.Wait(); err != nil && (err != context.Canceled && err != http.ErrServerClosed) {
		log.WithError(err).Error("wait error")
	}

	log.Info("gracefully stopped")
}

func newLocker(ctx context.Context, cfg *config.Config) (lock.Locker, error) {
	if cfg.Lock.Driver != config.LockRedis {
		log.Debug("using in-process pledge locks")
		return lock.NewLocal(), nil
	}

	locker, err := lock.NewRedis(cfg.Lock.Addresses, cfg.Lock.Password, cfg.Lock.Expiry.Duration)
	if err != nil {
		return nil, err
	}

	if err := locker.Ping(ctx); err != nil {
		return nil, err
	}

	log.Debugf("using redis pledge locks (%d node(s))", len(cfg.Lock.Addresses))
	return locker, nil
}

func runReconcile(ctx context.Context, engine *reconcile.Engine) {
	summary, err := engine.Run(ctx)
	if err != nil {
		log.WithError(err).Error("reconciliation failed")
		return
	}

	if summary.Err != nil {
		log.WithError(summary.Err).Warn("reconciliation finished with errors")
	}
}
