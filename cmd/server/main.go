package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/repost-scheduler/internal/config"
	"github.com/iliyamo/repost-scheduler/internal/database"
	"github.com/iliyamo/repost-scheduler/internal/handler"
	"github.com/iliyamo/repost-scheduler/internal/jobs"
	"github.com/iliyamo/repost-scheduler/internal/ledger"
	"github.com/iliyamo/repost-scheduler/internal/logging"
	"github.com/iliyamo/repost-scheduler/internal/middleware"
	"github.com/iliyamo/repost-scheduler/internal/pool"
	"github.com/iliyamo/repost-scheduler/internal/queue"
	"github.com/iliyamo/repost-scheduler/internal/repository"
	"github.com/iliyamo/repost-scheduler/internal/router"
	"github.com/iliyamo/repost-scheduler/internal/scheduling"
	"github.com/iliyamo/repost-scheduler/internal/scoring"
	queue_publisher "github.com/iliyamo/repost-scheduler/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real env wins
	cfg := config.Load()
	log := logging.New(cfg.Env, cfg.LogLevel, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	weights, tiers, err := config.LoadScoring(cfg.ScoringFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ScoringFile).Msg("load scoring config")
	}

	// Redis is optional: without it the ledger and the rate limiter run
	// in-process, which is only correct for a single instance.
	var rdb redis.UniversalClient
	if client, err := config.NewRedisClient(); err != nil {
		log.Warn().Err(err).Msg("redis unavailable")
	} else {
		rdb = client
		defer client.Close()
	}

	bookings := repository.NewBookingRepo(db)
	members := repository.NewMemberRepo(db)
	led, err := newLedger(ctx, cfg, rdb, bookings, log)
	if err != nil {
		log.Fatal().Err(err).Msg("ledger")
	}
	orc := scheduling.NewOrchestrator(scheduling.Deps{
		Ledger:    led,
		Members:   pool.NewSource(members, led),
		Store:     bookings,
		Scorer:    scoring.New(weights, tiers),
		Engine:    cfg.Engine,
		Publisher: queue_publisher.New(queue.BrokerURL(), log),
		Log:       log,
	})

	if cfg.ConsumerEnabled {
		c := &queue.Consumer{URL: queue.BrokerURL(), Log: log}
		go func() {
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("booking consumer stopped")
			}
		}()
	}

	sched := jobs.NewScheduler(cfg.Engine.Location, log)
	prune := jobs.PruneJob{Ledger: led, Location: cfg.Engine.Location, Log: log}
	if err := sched.Add("ledger-prune", cfg.LedgerPruneCron, time.Minute, prune.Run); err != nil {
		log.Fatal().Err(err).Msg("schedule ledger prune")
	}
	sched.Start()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLogger(log))

	checks := map[string]handler.Check{"mysql": db.PingContext}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	router.RegisterRoutes(e, checks)
	router.RegisterAPI(e,
		cfg.JWTSecret,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		handler.NewBookingHandler(orc, log),
		handler.NewMemberHandler(members, tiers, log),
	)

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	sched.Stop(shutdownCtx)
}

// newLedger picks the capacity ledger backend.  "redis" falls back to
// memory when no client is available.  A memory ledger starts empty, so it
// is rebuilt from the committed bookings before serving.
func newLedger(ctx context.Context, cfg config.Config, rdb redis.UniversalClient, src ledger.CommittedLister, log zerolog.Logger) (ledger.Ledger, error) {
	limits := ledger.Limits{
		MaxDailySubmissions: cfg.Engine.MaxDailySubmissions,
		PerChannelDailyCap:  cfg.Engine.PerChannelDailyCap,
	}
	if strings.EqualFold(cfg.LedgerBackend, "redis") {
		if rdb != nil {
			log.Info().Str("prefix", cfg.LedgerPrefix).Msg("ledger: redis")
			return ledger.NewRedisLedger(rdb, limits, cfg.LedgerPrefix), nil
		}
		log.Warn().Msg("ledger: redis requested but unavailable, using memory")
	}
	mem := ledger.NewMemoryLedger(limits)
	n, err := ledger.Rebuild(ctx, mem, src, time.Now().In(cfg.Engine.Location))
	if err != nil {
		return nil, err
	}
	log.Info().Int("bookings", n).Msg("ledger: memory, rebuilt from bookings")
	return mem, nil
}
