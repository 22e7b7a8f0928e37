package main

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/groupchat/pkg/api"
	"github.com/mahaj/groupchat/pkg/auth"
	"github.com/mahaj/groupchat/pkg/model"
)

func LoginHandler(issuer *auth.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		if req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		user := model.User{ID: req.UserID, Name: req.Name, Email: req.Email}
		if user.Name == "" {
			user.Name = user.ID
		}
		token, err := issuer.GenerateToken(user)
		if err != nil {
			log.Error().Err(err).Msg("generating token")
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		log.Info().Str("user", user.ID).Msg("user logged in")
		writeJSON(w, api.LoginResponse{Token: token, User: user})
	}
}

// AuthMiddleware validates the bearer token and stores its claims on the
// request context.
func AuthMiddleware(issuer *auth.Issuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := issuer.ValidateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		log.Debug().Str("user", claims.UserID).Str("path", r.URL.Path).Msg("authenticated request")
		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}
