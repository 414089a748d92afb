package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	proposalengine "agora/contexts/community-governance/proposal-engine"
	postgresadapter "agora/contexts/community-governance/proposal-engine/adapters/postgres"
	redisadapter "agora/contexts/community-governance/proposal-engine/adapters/redis"
	"agora/contexts/community-governance/proposal-engine/adapters/weights"
	workerapp "agora/contexts/community-governance/proposal-engine/application/workers"
	"agora/contexts/community-governance/proposal-engine/ports"
	"agora/internal/platform/cache"
	"agora/internal/platform/config"
	"agora/internal/platform/db"
	"agora/internal/platform/httpserver"
	"agora/internal/platform/messaging"

	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	redis    *cache.Redis
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres     *db.Postgres
	redis        *cache.Redis
	kafka        *messaging.Kafka
	outboxRelay  workerapp.OutboxRelay
	membership   workerapp.MembershipConsumer
	sweeper      workerapp.ExpirySweeper
	pollInterval time.Duration
	logger       *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)

	var redisHandle *cache.Redis
	var capabilities ports.CapabilityChecker = repo
	var balances ports.BalanceSource
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisHandle, err = cache.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = pg.Close()
			return nil, err
		}
		capabilities = redisadapter.NewCapabilityCache(redisHandle.Client, repo, cfg.CapabilityCacheTTL, logger)
		balances = redisadapter.NewBalanceSource(redisHandle.Client)
	}

	module := proposalengine.NewModule(proposalengine.Dependencies{
		Proposals:      repo,
		Communities:    repo,
		Capabilities:   capabilities,
		Weights:        weights.NewResolver(balances),
		Idempotency:    repo,
		Outbox:         repo,
		Clock:          postgresadapter.SystemClock{},
		IDGen:          postgresadapter.UUIDGenerator{},
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger,
	})

	server := httpserver.New(module, logger, normalizeAddr(cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: pg,
		redis:    redisHandle,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)

	var redisHandle *cache.Redis
	var invalidator ports.CapabilityInvalidator
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisHandle, err = cache.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = pg.Close()
			_ = kafka.Close()
			return nil, err
		}
		invalidator = redisadapter.NewCapabilityCache(redisHandle.Client, repo, cfg.CapabilityCacheTTL, logger)
	}

	module := proposalengine.NewModule(proposalengine.Dependencies{
		Proposals:      repo,
		Communities:    repo,
		Capabilities:   repo,
		Weights:        weights.NewResolver(nil),
		Idempotency:    repo,
		Outbox:         repo,
		Clock:          postgresadapter.SystemClock{},
		IDGen:          postgresadapter.UUIDGenerator{},
		IdempotencyTTL: cfg.IdempotencyTTL,
		Logger:         logger,
	})

	return &WorkerApp{
		postgres: pg,
		redis:    redisHandle,
		kafka:    kafka,
		outboxRelay: workerapp.OutboxRelay{
			Outbox:    repo,
			Publisher: kafka,
			Clock:     postgresadapter.SystemClock{},
			BatchSize: 100,
			Logger:    logger,
		},
		membership: workerapp.MembershipConsumer{
			Subscriber:    kafka,
			Dedup:         repo,
			Communities:   repo,
			Capabilities:  invalidator,
			Clock:         postgresadapter.SystemClock{},
			ConsumerGroup: "proposal-engine-membership-cg",
			DedupTTL:      7 * 24 * time.Hour,
			Disabled:      !cfg.EnableMembershipConsumer,
			Logger:        logger,
		},
		sweeper: workerapp.ExpirySweeper{
			Proposals: repo,
			Settler:   module.Settler,
			Clock:     postgresadapter.SystemClock{},
			BatchSize: 100,
			Disabled:  !cfg.EnableExpirySweeper,
			Logger:    logger,
		},
		pollInterval: cfg.WorkerPollInterval,
		logger:       logger,
	}, nil
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	var firstErr error
	if a.redis != nil {
		firstErr = a.redis.Close()
	}
	if a.postgres != nil {
		if err := a.postgres.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *WorkerApp) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	if err := w.membership.Start(ctx); err != nil {
		return err
	}

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)

	group.Go(func() error {
		ticker := time.NewTicker(w.pollInterval)
		defer ticker.Stop()
		for {
			if err := w.sweeper.RunOnce(ctx); err != nil {
				return err
			}
			if err := w.outboxRelay.RunOnce(ctx); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	return group.Wait()
}

func (w *WorkerApp) Close() error {
	var firstErr error
	if w.kafka != nil {
		firstErr = w.kafka.Close()
	}
	if w.redis != nil {
		if err := w.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.postgres != nil {
		if err := w.postgres.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
