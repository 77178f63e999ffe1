package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BrandonDHaskell/Argus/internal/argus/relay"
	"github.com/BrandonDHaskell/Argus/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/store/memory"
	sqlitestore "github.com/BrandonDHaskell/Argus/internal/argus/store/sqlite"
	"github.com/BrandonDHaskell/Argus/internal/auth"
	"github.com/BrandonDHaskell/Argus/internal/config"
	"github.com/BrandonDHaskell/Argus/internal/db"
	"github.com/BrandonDHaskell/Argus/internal/grpcapi"
	"github.com/BrandonDHaskell/Argus/internal/httpapi"
)

// devJWTSecret is only used when ARGUS_ENV=dev and no secret is configured.
const devJWTSecret = "argus-dev-secret"

func main() {
	logger := log.New(os.Stdout, "argus-server ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	secret := cfg.JWTSecret
	if secret == "" {
		if cfg.Env != "dev" {
			logger.Fatalf("ARGUS_JWT_SECRET is required outside dev")
		}
		logger.Printf("WARNING: ARGUS_JWT_SECRET not set, using the dev secret")
		secret = devJWTSecret
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	var (
		examStore store.ExamStore
		sqlDB     *sql.DB
		writer    *db.Worker
	)
	switch cfg.Store {
	case "memory":
		bank := make([]store.QuestionRecord, 0, len(db.SampleQuestions))
		for _, q := range db.SampleQuestions {
			bank = append(bank, store.QuestionRecord{ID: q.ID, Prompt: q.Prompt, Options: q.Options, Answer: q.Answer})
		}
		examStore = memory.New(bank)
		logger.Printf("store: memory (state is lost on restart)")
	default:
		sqlDB, err = db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			logger.Fatalf("db: %v", err)
		}
		if cfg.Env != "dev" {
			n, err := db.QuestionCount(ctx, sqlDB)
			switch {
			case err != nil:
				logger.Printf("question bank: %v", err)
			case n == 0:
				logger.Printf("WARNING: question_bank is empty; exams will start with no questions")
			}
		}
		writer = db.NewWorker(sqlDB)
		examStore = sqlitestore.NewExamStore(sqlDB, writer)
		logger.Printf("store: sqlite at %s", cfg.DBPath)
	}

	// Relay
	alerts := relay.New(cfg.RelayBuffer)
	var notifier service.Notifier = alerts
	var (
		bridge *relay.RedisBridge
		rdb    *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = relay.NewRedisClient(cfg.RedisAddr)
		bridge = relay.NewRedisBridge(rdb, relay.BridgeConfig{Channel: cfg.RedisChannel}, alerts, logger)
		// Local monitors are served while Redis is down; the subscription
		// is retried in the background.
		bridge.Connect(ctx)
		notifier = bridge
	}

	// Services
	examSvc := service.NewExamService(service.Dependencies{
		Store: examStore,
		Policy: service.FlagPolicy{
			TabSwitchThreshold: cfg.TabSwitchThreshold,
			ImmediateKinds:     service.DefaultFlagPolicy().ImmediateKinds,
		},
		Notifier: notifier,
		Logger:   logger,
	})

	pruner := service.NewKeyPruner(examStore, service.PrunerConfig{
		RetentionDays: cfg.IdempotencyRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)

	validator := auth.NewValidator([]byte(secret))

	limiter := httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if limiter != nil {
		go limiter.Run(ctx)
	}

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:         logger,
		Addr:           cfg.HTTPAddr,
		ExamService:    examSvc,
		Relay:          alerts,
		Validator:      validator,
		RateLimiter:    limiter,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("http server error: %v", err)
			stop()
		}
	}()

	// gRPC
	var grpcSrv *grpcapi.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpcapi.NewServer(grpcapi.Dependencies{
			Logger:      logger,
			Addr:        cfg.GRPCAddr,
			ExamService: examSvc,
			Relay:       alerts,
			Validator:   validator,
		})
		go func() {
			logger.Printf("grpc listening on %s", cfg.GRPCAddr)
			if err := grpcSrv.Start(); err != nil {
				logger.Printf("grpc server error: %v", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	// Closing the relay ends every open monitor stream.
	alerts.Close()
	if grpcSrv != nil {
		grpcSrv.Shutdown(shutdownCtx)
	}
	pruner.Stop()
	if bridge != nil {
		_ = bridge.Close()
		_ = rdb.Close()
	}
	if writer != nil {
		writer.Close()
	}
	if sqlDB != nil {
		_ = sqlDB.Close()
	}
}
