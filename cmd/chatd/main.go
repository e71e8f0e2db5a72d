package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gocql/gocql"
	"golang.org/x/sync/errgroup"

	appoutbox "workly/internal/app/outbox"
	"workly/internal/app/services/messaging"
	domainchat "workly/internal/domain/chat"
	"workly/internal/infra/broker/kafka"
	"workly/internal/infra/config"
	mongostore "workly/internal/infra/db/mongo"
	ginserver "workly/internal/infra/http/gin"
	"workly/internal/infra/obs"
	"workly/internal/infra/outbox"
	"workly/internal/infra/realtime"
	"workly/internal/infra/security"
	"workly/internal/infra/storage/memory"
	"workly/internal/infra/storage/scylla"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadServer()
	if err != nil {
		obs.NewLogger("dev", "info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env, cfg.LogLevel)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("chatd stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("chatd stopped")
}

type closer func() error

func run(ctx context.Context, cfg config.Server, logger *slog.Logger) error {
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("shutdown step failed", "error", err)
			}
		}
	}()

	directory, err := loadDirectory(cfg.FixturesPath, logger)
	if err != nil {
		return err
	}

	var (
		repo  domainchat.Repository
		ready = func(context.Context) error { return nil }
	)
	switch cfg.Store {
	case "scylla":
		session, err := scylla.NewSession(ctx, scylla.Config{
			Hosts:             cfg.ScyllaHosts,
			Keyspace:          cfg.ScyllaKeyspace,
			Username:          cfg.ScyllaUsername,
			Password:          cfg.ScyllaPassword,
			Timeout:           cfg.ScyllaTimeout,
			Consistency:       gocql.Quorum,
			ReplicationFactor: cfg.ScyllaReplication,
		}, logger)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		closers = append(closers, func() error { session.Close(); return nil })
		repo = scylla.NewStore(session, logger)
		ready = func(ctx context.Context) error {
			return session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
		}
	default:
		repo = memory.NewChatRepository()
	}

	var (
		box         outbox.Store
		idempotency messaging.IdempotencyStore = memory.NewIdempotencyStore()
	)
	if cfg.MongoURI != "" {
		db, err := outbox.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		closers = append(closers, func() error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return db.Client().Disconnect(shutdownCtx)
		})
		mongoBox, err := outbox.NewMongoStore(ctx, db)
		if err != nil {
			return err
		}
		box = mongoBox
		sendLog, err := mongostore.NewSendLog(ctx, db, 0)
		if err != nil {
			return err
		}
		idempotency = sendLog
		logger.Info("outbox on mongo", "database", cfg.MongoDB)
	} else {
		box = outbox.NewMemoryStore()
	}

	var metrics *obs.Metrics
	if cfg.MetricsEnabled {
		metrics = obs.NewMetrics()
	}

	svc := &messaging.Service{
		Repo:        repo,
		Directory:   directory,
		Idempotency: idempotency,
		Outbox:      box,
		Encoder:     appoutbox.JSONEventEncoder{},
		Logger:      logger,
	}

	var hubMetrics realtime.HubMetrics
	if metrics != nil {
		hubMetrics = metrics
	}
	hub := realtime.NewHub(svc, logger, hubMetrics)
	hub.PingInterval = cfg.WSPingInterval
	closers = append(closers, func() error { hub.Close(); return nil })

	tokens := &security.Tokens{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer, TTL: cfg.TokenTTL}
	handlers := ginserver.Handlers{
		Chat:           ginserver.ChatHandler{Service: svc, Reads: hub, Logger: logger},
		Profiles:       ginserver.ProfileHandler{Service: svc, Logger: logger},
		Realtime:       ginserver.NewWSHandler(hub, logger),
		AuthMiddleware: ginserver.AuthMiddleware{Tokens: tokens, Logger: logger}.Handle,
	}
	if metrics != nil {
		handlers.Metrics = metrics.Handler()
	}
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger, Metrics: metrics}, obs.HealthHandlers{Ready: ready}, handlers)

	g, gctx := errgroup.WithContext(ctx)
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.KafkaBrokers, ClientID: cfg.KafkaClientID})
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		closers = append(closers, producer.Close)
		worker := &outbox.Worker{
			Store:       box,
			Producer:    producer,
			Logger:      logger,
			Interval:    cfg.OutboxPollInterval,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Backoff:     cfg.RetryBackoff,
		}
		if metrics != nil {
			worker.Metrics = metrics
		}
		g.Go(func() error { return worker.Run(gctx) })
		logger.Info("outbox worker started", "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("KAFKA_BROKERS not set, domain events stay in the outbox")
	}

	g.Go(func() error {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "store", cfg.Store)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadDirectory(path string, logger *slog.Logger) (*memory.Directory, error) {
	if path == "" {
		logger.Warn("CHAT_FIXTURES not set, directory is empty")
		return memory.NewDirectory(), nil
	}
	dir, err := memory.LoadDirectory(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("fixtures file not found, skipping", "path", path)
			return memory.NewDirectory(), nil
		}
		return nil, err
	}
	logger.Info("directory fixtures imported", "path", path)
	return dir, nil
}
