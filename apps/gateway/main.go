package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mahaj/groupchat/pkg/auth"
	"github.com/mahaj/groupchat/pkg/config"
	"github.com/mahaj/groupchat/pkg/logging"
	"github.com/mahaj/groupchat/pkg/snowflake"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	log.Logger = logging.Service("gateway")
	if err := cfg.ValidateServer(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	issuer, err := auth.NewIssuer(cfg.Auth.JWTKey, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("creating token issuer")
	}
	seq, err := snowflake.NewSequencer(cfg.Gateway.NodeID)
	if err != nil {
		log.Fatal().Err(err).Msg("creating sequencer")
	}

	producer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer producer.Close()

	// Every gateway needs every event, so each instance reads with its own
	// consumer group.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		GroupID:     fmt.Sprintf("gateway-%d-%d", cfg.Gateway.NodeID, time.Now().UnixNano()),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     100 * time.Millisecond,
	})

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	hub := NewHub(producer, rdb, seq)

	mux := http.NewServeMux()
	mux.Handle("/ws", &wsHandler{
		hub:        hub,
		issuer:     issuer,
		eventRate:  rate.Limit(cfg.Gateway.EventRate),
		eventBurst: cfg.Gateway.EventBurst,
	})
	srv := &http.Server{Addr: cfg.Gateway.Addr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metrics := &http.Server{Addr: cfg.Gateway.MetricsAddr, Handler: metricsMux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return hub.Fanout(gctx, reader)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Gateway.Addr).Msg("gateway service starting")
		return serve(srv)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Gateway.MetricsAddr).Msg("metrics listening")
		return serve(metrics)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), metrics.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
	log.Info().Msg("gateway stopped")
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
