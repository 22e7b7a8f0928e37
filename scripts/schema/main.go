package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/groupchat/pkg/config"
	"github.com/mahaj/groupchat/pkg/db"
	"github.com/mahaj/groupchat/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "config file")
	drop := flag.Bool("drop", false, "drop the message tables instead of creating them")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)

	if !*drop {
		if err := db.EnsureKeyspace(cfg.Scylla.Hosts, cfg.Scylla.Keyspace); err != nil {
			log.Fatal().Err(err).Msg("creating keyspace")
		}
	}

	session, err := db.NewSession(cfg.Scylla.Hosts, cfg.Scylla.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to scylla")
	}
	defer session.Close()

	if *drop {
		if err := session.DropSchema(); err != nil {
			log.Fatal().Err(err).Msg("dropping tables")
		}
		log.Info().Str("keyspace", cfg.Scylla.Keyspace).Msg("tables dropped")
		return
	}
	if err := session.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("creating tables")
	}
	log.Info().Str("keyspace", cfg.Scylla.Keyspace).Msg("tables created")
}
