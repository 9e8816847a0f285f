// Package handlers is the thin HTTP boundary. Request validation and
// dispatch only; identity arrives pre-verified from the upstream auth
// proxy via headers, and all real work happens in the injected services.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"vidhost/internal/blob"
	"vidhost/internal/cache"
	"vidhost/internal/pipeline"
	"vidhost/internal/query"
	"vidhost/internal/store"
	"vidhost/internal/streaming"
	"vidhost/internal/video"
)

// Identity headers set by the upstream auth proxy.
const (
	headerUserID = "X-User-ID"
	headerAdmin  = "X-Admin"
)

// Handlers bundles the route implementations and their collaborators.
type Handlers struct {
	store      store.Store
	blobs      blob.Store
	queue      *pipeline.Queue
	query      *query.Service
	cache      *cache.Cache
	signTTL    time.Duration
	renditions []video.Rendition
}

// New wires the handler set.
func New(st store.Store, blobs blob.Store, q *pipeline.Queue, qs *query.Service, c *cache.Cache, signTTL time.Duration, renditions []video.Rendition) *Handlers {
	return &Handlers{
		store:      st,
		blobs:      blobs,
		queue:      q,
		query:      qs,
		cache:      c,
		signTTL:    signTTL,
		renditions: renditions,
	}
}

func requesterFrom(r *http.Request) query.Requester {
	return query.Requester{
		UserID: r.Header.Get(headerUserID),
		Admin:  r.Header.Get(headerAdmin) == "true",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// mapError translates service errors to HTTP statuses.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "video not found")
	case errors.Is(err, query.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, store.ErrExists):
		writeError(w, http.StatusConflict, "video already exists")
	default:
		log.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "server error")
	}
}

// CreateUploadURL issues a fresh video id plus a presigned PUT URL the
// client uploads the source file to directly.
func (h *Handlers) CreateUploadURL(w http.ResponseWriter, r *http.Request) {
	req := requesterFrom(r)
	if req.UserID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	videoID := uuid.NewString()
	sourceKey := video.SourceKey(videoID)

	uploadURL, err := h.blobs.SignedURL(r.Context(), sourceKey, h.signTTL, blob.OpWrite)
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"videoId":   videoID,
		"sourceKey": sourceKey,
		"uploadUrl": uploadURL,
	})
}

type createVideoRequest struct {
	VideoID     string `json:"videoId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateVideo confirms a finished direct upload: it writes the initial
// metadata record in the processing state and triggers the pipeline as a
// fire-and-forget job. The response returns before any transcoding runs.
func (h *Handlers) CreateVideo(w http.ResponseWriter, r *http.Request) {
	req := requesterFrom(r)
	if req.UserID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	var body createVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.VideoID == "" || body.Title == "" {
		writeError(w, http.StatusBadRequest, "videoId and title are required")
		return
	}
	if _, err := uuid.Parse(body.VideoID); err != nil {
		writeError(w, http.StatusBadRequest, "malformed videoId")
		return
	}

	v := &video.Video{
		ID:          body.VideoID,
		OwnerID:     req.UserID,
		Title:       body.Title,
		Description: body.Description,
		SourceKey:   video.SourceKey(body.VideoID),
		Status:      video.StatusProcessing,
		CreatedAt:   time.Now().UTC(),
	}

	if err := h.store.Create(r.Context(), v); err != nil {
		mapError(w, err)
		return
	}

	h.queue.Enqueue(v.ID, v.SourceKey)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"videoId": v.ID,
		"status":  string(v.Status),
	})
}

// listParams extracts shared filter/pagination query parameters.
func listParams(r *http.Request) (store.Filter, store.Page, error) {
	var f store.Filter
	q := r.URL.Query()

	if raw := q.Get("uploadedBefore"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, store.Page{}, errors.New("uploadedBefore must be RFC 3339")
		}
		f.CreatedBefore = t
	}
	if raw := q.Get("uploadedAfter"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, store.Page{}, errors.New("uploadedAfter must be RFC 3339")
		}
		f.CreatedAfter = t
	}

	p := store.Page{Cursor: q.Get("cursor")}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return f, p, errors.New("limit must be a positive integer")
		}
		p.Size = n
	}
	return f, p, nil
}

// ListPublic lists processed videos for anyone.
func (h *Handlers) ListPublic(w http.ResponseWriter, r *http.Request) {
	f, p, err := listParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listing, err := h.query.ListPublic(r.Context(), f, p)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// ListOwned lists the requester's own videos, any status.
func (h *Handlers) ListOwned(w http.ResponseWriter, r *http.Request) {
	req := requesterFrom(r)
	if req.UserID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	f, p, err := listParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	listing, err := h.query.ListOwned(r.Context(), req.UserID, f, p)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

// Status reports the lifecycle state of one video for polling.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	videoID := mux.Vars(r)["id"]

	v, err := h.query.Get(r.Context(), videoID, requesterFrom(r))
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"videoId": v.ID,
		"status":  string(v.Status),
	})
}

// StreamURL resolves a signed playback URL for one rendition of a
// processed video. URLs are cached for a fraction of their validity.
func (h *Handlers) StreamURL(w http.ResponseWriter, r *http.Request) {
	videoID := mux.Vars(r)["id"]
	res := r.URL.Query().Get("res")
	if res == "" {
		res = h.renditions[0].Label
	}

	v, err := h.store.Get(r.Context(), videoID)
	if err != nil {
		mapError(w, err)
		return
	}
	if v.Status != video.StatusProcessed {
		writeError(w, http.StatusConflict, "video is not ready for streaming")
		return
	}

	key, ok := v.ResolutionKeys[res]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown resolution")
		return
	}

	url, err := h.cache.Cached(r.Context(), "url:stream:"+videoID+":"+res, h.signTTL/2,
		func(ctx context.Context) (string, error) {
			return h.blobs.SignedURL(ctx, key, h.signTTL, blob.OpRead)
		})
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"videoUrl": url})
}

// ThumbnailURL resolves a signed thumbnail URL for a processed video.
func (h *Handlers) ThumbnailURL(w http.ResponseWriter, r *http.Request) {
	videoID := mux.Vars(r)["id"]

	v, err := h.store.Get(r.Context(), videoID)
	if err != nil {
		mapError(w, err)
		return
	}
	if v.Status != video.StatusProcessed || v.ThumbnailKey == "" {
		writeError(w, http.StatusConflict, "thumbnail not available")
		return
	}

	url, err := h.cache.Cached(r.Context(), "url:thumb:"+videoID, h.signTTL/2,
		func(ctx context.Context) (string, error) {
			return h.blobs.SignedURL(ctx, v.ThumbnailKey, h.signTTL, blob.OpRead)
		})
	if err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"thumbnailUrl": url})
}

// Content serves blob bytes directly with Range support. This is the
// playback path for the filesystem blob backend, where no external store
// serves signed URLs.
func (h *Handlers) Content(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]

	body, size, err := h.blobs.Download(r.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		mapError(w, err)
		return
	}
	defer body.Close()

	contentType := "application/octet-stream"
	switch {
	case strings.HasSuffix(key, ".mp4"):
		contentType = "video/mp4"
	case strings.HasSuffix(key, ".jpg"):
		contentType = "image/jpeg"
	}

	if err := streaming.ServeBlob(w, r, body, size, contentType); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("content stream ended with error")
	}
}

// Delete removes a video and its blobs for the owner or an admin.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	req := requesterFrom(r)
	if req.UserID == "" {
		writeError(w, http.StatusUnauthorized, "identity required")
		return
	}

	videoID := mux.Vars(r)["id"]

	// Invalidate cached URLs before the record disappears.
	keys := []string{"url:thumb:" + videoID}
	for _, rend := range h.renditions {
		keys = append(keys, "url:stream:"+videoID+":"+rend.Label)
	}
	h.cache.Invalidate(r.Context(), keys...)

	if err := h.query.Delete(r.Context(), videoID, req); err != nil {
		mapError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"videoId": videoID,
	})
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
