// Command server wires the PHI protection layer and exposes the read-only
// audit query API. The crypto and classification surfaces are consumed
// in-process by the platform's services; only disclosure accounting and
// its rate limits need a network endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"phiguard/internal/platform/config"
	"phiguard/internal/platform/httpserver"
	"phiguard/internal/platform/logger"
	"phiguard/internal/platform/metrics"
	"phiguard/internal/platform/postgres"
	platformredis "phiguard/internal/platform/redis"
	httptransport "phiguard/internal/transport/http"
	"phiguard/pkg/audit"
	auditpg "phiguard/pkg/audit/store/postgres"
	auditworker "phiguard/pkg/audit/worker"
	"phiguard/pkg/ratelimit"
	rlredis "phiguard/pkg/ratelimit/store/redis"
	"phiguard/pkg/security"
	"phiguard/pkg/security/counter"
	"phiguard/pkg/security/publisher"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The API refuses to start without durable persistence: an audit
	// trail in memory is not a compliance artifact.
	db, err := postgres.Open(cfg.Postgres)
	if err != nil {
		log.Error("postgres", "error", err)
		os.Exit(1)
	}
	if db == nil {
		log.Error("configuration", "error", "PHIGUARD_POSTGRES_DSN is required")
		os.Exit(1)
	}
	defer db.Close()
	auditStore := auditpg.New(db)

	writer, err := auditworker.New(auditStore, cfg.AuditQueueCapacity, auditworker.WithLogger(log))
	if err != nil {
		log.Error("audit worker", "error", err)
		os.Exit(1)
	}

	auditLogger, err := audit.New(auditStore,
		audit.WithLogger(log),
		audit.WithMetrics(m),
		audit.WithAsyncWriter(writer),
	)
	if err != nil {
		log.Error("audit logger", "error", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis", "error", err)
		os.Exit(1)
	}
	if redisClient == nil {
		log.Error("configuration", "error", "PHIGUARD_REDIS_URL is required")
		os.Exit(1)
	}
	defer redisClient.Close()

	secOpts := []security.Option{
		security.WithLogger(log),
		security.WithMetrics(m),
	}

	var siem *publisher.Kafka
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
		)
		if err != nil {
			log.Error("kafka client", "error", err)
			os.Exit(1)
		}
		defer kafkaClient.Close()

		siem, err = publisher.NewKafka(kafkaClient,
			publisher.WithTopic(cfg.Kafka.Topic),
			publisher.WithLogger(log),
		)
		if err != nil {
			log.Error("siem publisher", "error", err)
			os.Exit(1)
		}
		if err := siem.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("ensure siem topic", "error", err)
		}
		secOpts = append(secOpts, security.WithPublisher(siem))
	}

	securityLogger, err := security.NewEventLogger(
		counter.NewRedisStore(redisClient.Client, "sec:"),
		secOpts...,
	)
	if err != nil {
		log.Error("security event logger", "error", err)
		os.Exit(1)
	}

	limiter, err := ratelimit.New(
		rlredis.New(redisClient.Client),
		ratelimit.DefaultPresets(),
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(m),
		ratelimit.WithEventSink(securityLogger),
	)
	if err != nil {
		log.Error("rate limiter", "error", err)
		os.Exit(1)
	}

	handler := httptransport.NewHandler(auditLogger, auditLogger)
	router := httptransport.NewRouter(handler, cfg.JWTSigningKey, limiter)
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := writer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if siem != nil {
		g.Go(func() error {
			err := siem.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		log.Info("starting phiguard audit API", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown", "error", err)
		os.Exit(1)
	}
}
