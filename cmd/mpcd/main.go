// Command mpcd runs the matching/partnership/check-in service: the HTTP
// operational surface (C7's companion) and the scheduled jobs that drive
// matching, expiry, health recomputation, and queue eviction.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/buddyup/internal/checkin"
	"github.com/malbeclabs/buddyup/internal/compatibility"
	"github.com/malbeclabs/buddyup/internal/config"
	"github.com/malbeclabs/buddyup/internal/health"
	"github.com/malbeclabs/buddyup/internal/logger"
	"github.com/malbeclabs/buddyup/internal/notify"
	"github.com/malbeclabs/buddyup/internal/partnership"
	"github.com/malbeclabs/buddyup/internal/preferences"
	"github.com/malbeclabs/buddyup/internal/queue"
	"github.com/malbeclabs/buddyup/internal/scheduler"
	"github.com/malbeclabs/buddyup/internal/server"
)

// Set by LDFLAGS.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listenAddrFlag := flag.String("listen-addr", ":8080", "address to listen on for the HTTP operational surface")
	matchingThresholdFlag := flag.Float64("matching-threshold", 0, "minimum compatibility score to auto-propose a match (0 = use default)")
	matchingIntervalFlag := flag.Duration("matching-interval", 0, "cadence of the matching pass job (0 = use default)")
	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN for error reporting (or set SENTRY_DSN env var)")
	slackBotTokenFlag := flag.String("slack-bot-token", "", "Slack bot token for notifications (or set SLACK_BOT_TOKEN env var); falls back to an in-memory notifier when unset")
	slackChannelFlag := flag.String("slack-channel", "", "Slack channel ID to post notifications to (or set SLACK_CHANNEL env var)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "maximum time to wait for in-flight work during graceful shutdown")

	flag.Parse()

	_ = godotenv.Load()

	log := logger.New(*verboseFlag)

	if dsn := envOr("SENTRY_DSN", *sentryDSNFlag); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Release: version}); err != nil {
			log.Warn("sentry: failed to initialize, continuing without it", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	cfg := config.Default()
	if *matchingThresholdFlag != 0 {
		cfg.MatchingThreshold = *matchingThresholdFlag
	}
	if *matchingIntervalFlag != 0 {
		cfg.MatchingInterval = *matchingIntervalFlag
	}

	pgCfg, err := config.PostgresConfigFromEnv()
	if err != nil {
		return fmt.Errorf("postgres config: %w", err)
	}
	pgCfg.RunMigrations = true

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := config.NewPool(ctx, log, pgCfg)
	if err != nil {
		return fmt.Errorf("postgres pool: %w", err)
	}
	defer pool.Close()

	clock := clockwork.NewRealClock()

	prefsStore := preferences.NewPostgresStore(pool)
	partnershipStore := partnership.NewPostgresStore(pool)
	queueStore := queue.NewPostgresStore(pool)
	checkinStore := checkin.NewPostgresStore(pool, clock, cfg.StreakAccountabilityWindowDays, cfg.CompatCacheTTL)
	healthEvents := health.NewPostgresEventStore(pool)

	scorer := compatibility.NewCachedScorer(
		compatibility.NewRuleBasedScorer(),
		compatibility.NewCache(cfg.CompatCacheTTL, clock),
	)

	botToken := envOr("SLACK_BOT_TOKEN", *slackBotTokenFlag)
	channel := envOr("SLACK_CHANNEL", *slackChannelFlag)
	var notifier notify.Notifier
	if botToken != "" && channel != "" {
		notifier = notify.NewSlackNotifier(botToken, channel, log)
	} else {
		log.Info("notify: no slack credentials configured, using in-memory notifier")
		notifier = notify.NewMemoryNotifier()
	}

	engine := queue.NewEngine(
		queueStore,
		prefsStore,
		partnershipStore,
		scorer,
		notifier,
		log,
		cfg.MatchingThreshold,
		cfg.MatchingBucketHours,
		cfg.PartnershipMaxConcurrent,
	)

	jobs := scheduler.BuildJobs(cfg, log, engine, partnershipStore, checkinStore, healthEvents, notifier)
	sched := scheduler.New(log, clock, jobs)
	sched.Start(ctx)

	srv := server.New(log, server.Config{
		ListenAddr: *listenAddrFlag,
		VersionInfo: server.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
	}, &poolReady{pool: pool})

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.Run(ctx)
	}()

	var srvErr error
	select {
	case <-ctx.Done():
		log.Info("mpcd: shutdown signal received")
		srvErr = <-serveErrCh
	case srvErr = <-serveErrCh:
		if srvErr != nil {
			log.Error("mpcd: http server exited", "error", srvErr)
		}
		cancel()
	}

	waitDone := make(chan struct{})
	go func() {
		sched.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		log.Info("mpcd: scheduled jobs drained")
	case <-time.After(*shutdownTimeoutFlag):
		log.Warn("mpcd: timed out waiting for scheduled jobs to drain", "timeout", *shutdownTimeoutFlag)
	}

	return srvErr
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type poolReady struct {
	pool *pgxpool.Pool
}

func (r *poolReady) Ready() bool {
	return r.pool.Ping(context.Background()) == nil
}
