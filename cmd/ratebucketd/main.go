/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command ratebucketd serves distributed multi-tier rate-limit buckets over HTTP.
//
// Buckets are declared by environment variables with a configurable prefix
// (default BUCKET_): the variable BUCKET_llm-openrouter=2/5s:15/m:100/4h
// defines the bucket "llm-openrouter" with three nested rate tiers.
// Runtime counters live in a shared Redis, so any number of processes may
// acquire permits from the same buckets.
package main

import (
	"context"
	"flag"
	"fmt"
	golog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/acronis/go-ratebucket/config"
	"github.com/acronis/go-ratebucket/httpapi"
	"github.com/acronis/go-ratebucket/limiter"
	"github.com/acronis/go-ratebucket/log"
	"github.com/acronis/go-ratebucket/store/redisstore"
)

func main() {
	if err := runApp(); err != nil {
		golog.Fatal(err)
	}
}

func runApp() error {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	bucketPrefix := flag.String("bucket-prefix", config.DefaultBucketEnvPrefix,
		"environment variable prefix for bucket declarations")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err = cfg.CollectEnvBuckets(os.Environ(), *bucketPrefix); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	bucketDefs, err := cfg.BucketDefs()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if len(bucketDefs) == 0 {
		return fmt.Errorf("no buckets are defined, declare at least one via %s<name> environment variable", *bucketPrefix)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			logger.Error("error while closing redis client", log.Error(closeErr))
		}
	}()

	st, err := redisstore.New(redisClient, redisstore.Opts{KeyPrefix: cfg.Redis.KeyPrefix})
	if err != nil {
		return fmt.Errorf("create redis store: %w", err)
	}
	logger.Info("waiting for redis", log.String("address", cfg.Redis.Address))
	if err = st.WaitReady(context.Background(), cfg.Redis.WaitReadyTimeout); err != nil {
		return fmt.Errorf("redis is not ready: %w", err)
	}

	metrics := limiter.NewMetricsCollector(cfg.Metrics.Namespace)
	metrics.MustRegister()
	defer metrics.Unregister()

	registry, err := limiter.NewRegistry(bucketDefs, st, limiter.Opts{
		MaxWait:   cfg.Acquire.MaxWait,
		MaxJitter: cfg.Acquire.MaxJitter,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf("build bucket registry: %w", err)
	}
	for _, def := range bucketDefs {
		logger.Info("registered bucket",
			log.String("bucket", def.Spec.Name), log.String("rates", def.Spec.Tiers.String()))
	}

	router := httpapi.NewRouter(registry, logger, httpapi.Opts{
		MetricsHandler: promhttp.Handler(),
		HealthCheck: func(r *http.Request) error {
			return redisClient.Ping(r.Context()).Err()
		},
	})
	server := httpapi.NewServer(router, logger, httpapi.ServerOpts{
		Address:         cfg.Server.Address,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	return run(server, logger)
}

// run starts the server and blocks until a fatal error occurs or one of the
// shutdown signals is received.
func run(server *httpapi.Server, logger log.FieldLogger) error {
	fatalError := make(chan error, 1)
	go server.Start(fatalError)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-fatalError:
		logger.Error("service fatal error", log.Error(err))
		return err
	case sig := <-signals:
		logger.Info("service got signal", log.String("signal", sig.String()))
		if err := server.Stop(true); err != nil {
			return fmt.Errorf("stop service gracefully: %w", err)
		}
	}
	return nil
}
