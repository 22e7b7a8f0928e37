package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mahaj/groupchat/pkg/api"
)

type MediaSigner interface {
	SignUpload(ctx context.Context, fileType string) (uploadURL, reference string, err error)
	SignDownload(ctx context.Context, key string) (string, time.Time, error)
}

type MediaHandler struct {
	signer MediaSigner
}

func NewMediaHandler(signer MediaSigner) *MediaHandler {
	return &MediaHandler{signer: signer}
}

func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.signer == nil {
		http.Error(w, "Media storage not configured", http.StatusServiceUnavailable)
		return
	}
	var req api.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	uploadURL, ref, err := h.signer.SignUpload(r.Context(), req.FileType)
	if err != nil {
		log.Error().Err(err).Msg("signing upload")
		http.Error(w, "Failed to sign upload", http.StatusBadGateway)
		return
	}
	writeJSON(w, api.UploadTarget{UploadURL: uploadURL, Reference: ref})
}

func (h *MediaHandler) URL(w http.ResponseWriter, r *http.Request) {
	if h.signer == nil {
		http.Error(w, "Media storage not configured", http.StatusServiceUnavailable)
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	link, expires, err := h.signer.SignDownload(r.Context(), key)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("signing download")
		http.Error(w, "Failed to sign download", http.StatusBadGateway)
		return
	}
	writeJSON(w, api.MediaURLResponse{URL: link, ExpiresAt: expires})
}
