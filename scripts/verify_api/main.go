package main

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/groupchat/pkg/api"
	"github.com/mahaj/groupchat/pkg/logging"
)

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	userID := flag.String("user", "test_user", "user id to log in as")
	groupID := flag.String("group", "general", "group to fetch history for")
	flag.Parse()

	logging.Init("info", "console")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := api.New(*apiAddr, &http.Client{Timeout: 5 * time.Second})

	res, err := c.Login(ctx, api.LoginRequest{UserID: *userID})
	if err != nil {
		log.Fatal().Err(err).Msg("login")
	}
	log.Info().Str("user", res.User.ID).Str("token", res.Token[:10]+"...").Msg("logged in")
	c = c.WithToken(res.Token)

	msgs, err := c.History(ctx, *groupID)
	if err != nil {
		log.Fatal().Err(err).Msg("history")
	}
	log.Info().Str("group", *groupID).Int("messages", len(msgs)).Msg("fetched history")

	members, err := c.Members(ctx, *groupID)
	if err != nil {
		log.Fatal().Err(err).Msg("members")
	}
	log.Info().Strs("members", members).Msg("fetched members")

	suggestions, err := c.Suggest(ctx, "Lunch today?")
	if err != nil {
		log.Fatal().Err(err).Msg("suggestions")
	}
	log.Info().Strs("suggestions", suggestions).Msg("fetched suggestions")
}
