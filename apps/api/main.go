package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mahaj/groupchat/pkg/auth"
	"github.com/mahaj/groupchat/pkg/config"
	"github.com/mahaj/groupchat/pkg/db"
	"github.com/mahaj/groupchat/pkg/logging"
	"github.com/mahaj/groupchat/pkg/media"
)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

type services struct {
	issuer  *auth.Issuer
	history HistoryStore
	redis   redis.Cmdable
	media   MediaSigner
}

func routes(s services) http.Handler {
	protect := func(h http.Handler) http.Handler { return AuthMiddleware(s.issuer, h) }
	mh := NewMediaHandler(s.media)

	mux := http.NewServeMux()
	mux.Handle("POST /login", LoginHandler(s.issuer))
	mux.Handle("GET /history", protect(NewHistoryHandler(s.history)))
	mux.Handle("GET /groups/{id}/members", protect(NewMembersHandler(s.redis)))
	mux.Handle("POST /media/upload", protect(http.HandlerFunc(mh.Upload)))
	mux.Handle("GET /media/url", protect(http.HandlerFunc(mh.URL)))
	mux.Handle("POST /suggestions", protect(http.HandlerFunc(SuggestionsHandler)))
	return CORSMiddleware(mux)
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	log.Logger = logging.Service("api")
	if err := cfg.ValidateServer(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	issuer, err := auth.NewIssuer(cfg.Auth.JWTKey, cfg.Auth.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("creating token issuer")
	}

	session, err := db.NewSession(cfg.Scylla.Hosts, cfg.Scylla.Keyspace)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to scylla")
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := services{issuer: issuer, history: session, redis: rdb}
	if cfg.Media.Bucket != "" {
		presigner, err := media.NewPresigner(ctx, media.Config{
			Bucket:      cfg.Media.Bucket,
			Region:      cfg.Media.Region,
			Endpoint:    cfg.Media.Endpoint,
			AccessKeyID: cfg.Media.AccessKeyID,
			SecretKey:   cfg.Media.SecretKey,
			Expiry:      cfg.Media.URLExpiry,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("configuring media storage")
		}
		svc.media = presigner
	} else {
		log.Warn().Msg("media.bucket not set, media endpoints disabled")
	}

	srv := &http.Server{Addr: cfg.API.Addr, Handler: routes(svc)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.API.Addr).Msg("api service starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("api server")
	}
}
