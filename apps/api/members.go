package main

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// MembersHandler lists the users currently joined to a group, as recorded by
// the gateways.
type MembersHandler struct {
	redis redis.Cmdable
}

func NewMembersHandler(rdb redis.Cmdable) *MembersHandler {
	return &MembersHandler{redis: rdb}
}

func (h *MembersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if groupID == "" {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	users, err := h.redis.SMembers(r.Context(), "group:"+groupID+":members").Result()
	if err != nil {
		log.Error().Err(err).Str("group", groupID).Msg("fetching members")
		http.Error(w, "Failed to fetch members", http.StatusInternalServerError)
		return
	}
	writeJSON(w, users)
}
