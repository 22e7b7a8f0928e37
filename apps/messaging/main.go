package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/groupchat/pkg/config"
	"github.com/mahaj/groupchat/pkg/db"
	"github.com/mahaj/groupchat/pkg/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	log.Logger = logging.Service("messaging")

	// Schema creation belongs to scripts/schema in production.
	if err := db.EnsureKeyspace(cfg.Scylla.Hosts, cfg.Scylla.Keyspace); err != nil {
		log.Fatal().Err(err).Msg("creating keyspace")
	}
	session, err := db.NewSession(cfg.Scylla.Hosts, cfg.Scylla.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to scylla")
	}
	defer session.Close()
	if err := session.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("creating tables")
	}

	consumer := NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, session)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("starting kafka consumer")
	consumer.Consume(ctx)
	log.Info().Msg("messaging service stopped")
}
