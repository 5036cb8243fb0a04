package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/geoclip/geoclip/internal/events"
	"github.com/geoclip/geoclip/internal/logging"
	"github.com/geoclip/geoclip/internal/metrics"
	"github.com/geoclip/geoclip/internal/models"
	"github.com/geoclip/geoclip/internal/repositories"
	"github.com/geoclip/geoclip/internal/storage"
	"github.com/geoclip/geoclip/internal/validate"
	"github.com/geoclip/geoclip/internal/videos"
)

const (
	// IdempotencyKeyHeader lets clients retry an upload without storing it twice.
	IdempotencyKeyHeader = "Idempotency-Key"

	listLimit            = 1000
	maxIdempotencyKeyLen = 128
	detailVideoNotFound  = "Video not found"
)

// VideoHandler provides endpoints for uploading and browsing clips.
type VideoHandler struct {
	Videos    VideoStore
	Assets    AssetStore
	Events    EventPublisher
	Validator BodyValidator
	Policy    videos.Policy
	Metrics   *metrics.Metrics
	NowFunc   func() time.Time
}

// Upload handles POST /api/videos/upload.
func (h VideoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx, span := logging.StartSpan(r.Context(), "videos.upload")
	defer span.End()
	logger := logging.FromContext(ctx)
	ownerID := claimsFromContext(ctx).UserID

	idempotencyKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(idempotencyKey) > maxIdempotencyKeyLen {
		respondError(ctx, w, http.StatusBadRequest, "Idempotency-Key is too long")
		return
	}
	if idempotencyKey != "" {
		if existing, err := h.Videos.FindByIdempotencyKey(ctx, ownerID, idempotencyKey); err == nil {
			logger.Info("duplicate upload replayed", "video_id", existing.ID)
			h.Metrics.ObserveUpload("duplicate", 0)
			respondJSON(ctx, w, http.StatusOK, uploaded(existing.ID))
			return
		} else if !errors.Is(err, repositories.ErrNotFound) {
			span.Fail(err)
			respondError(ctx, w, http.StatusInternalServerError, "unable to store video")
			return
		}
	}

	body, err := readBody(w, r, h.bodyLimit())
	if err != nil {
		h.reject(ctx, w, err)
		return
	}
	if h.Validator != nil {
		if err := h.Validator.Body(validate.Upload, body); err != nil {
			h.Metrics.ObserveUpload("rejected", 0)
			respondError(ctx, w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	var req models.UploadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.reject(ctx, w, err)
		return
	}

	clip, err := h.Policy.Decode(req.VideoData)
	if err != nil {
		h.reject(ctx, w, err)
		return
	}

	video := models.Video{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		MediaType:      clip.MediaType,
		SizeBytes:      int64(len(clip.Data)),
		LocationLat:    req.LocationLat,
		LocationLng:    req.LocationLng,
		PhoneNumber:    req.PhoneNumber,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      h.now(),
	}
	video.AssetKey = storage.VideoKey(ownerID, video.ID)

	if err := h.Assets.Put(ctx, video.AssetKey, video.MediaType, clip.Data); err != nil {
		span.Fail(err)
		logger.Error("store clip bytes failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to store video")
		return
	}

	if err := h.Videos.Create(ctx, video); err != nil {
		h.discardAsset(ctx, video.AssetKey)
		if errors.Is(err, repositories.ErrConflict) && idempotencyKey != "" {
			// A concurrent request with the same key won the insert.
			if existing, ferr := h.Videos.FindByIdempotencyKey(ctx, ownerID, idempotencyKey); ferr == nil {
				h.Metrics.ObserveUpload("duplicate", 0)
				respondJSON(ctx, w, http.StatusOK, uploaded(existing.ID))
				return
			}
		}
		span.Fail(err)
		logger.Error("insert video failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to store video")
		return
	}

	h.Metrics.ObserveUpload("stored", video.SizeBytes)
	h.publish(ctx, events.VideoUploaded, video)
	logger.Info("video uploaded", "video_id", video.ID, "bytes", video.SizeBytes, "media_type", video.MediaType)

	respondJSON(ctx, w, http.StatusOK, uploaded(video.ID))
}

// List handles GET /api/videos.
func (h VideoHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	records, err := h.Videos.ListByOwner(ctx, claimsFromContext(ctx).UserID, listLimit)
	if err != nil {
		logging.FromContext(ctx).Error("list videos failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to list videos")
		return
	}

	summaries := make([]models.VideoSummary, 0, len(records))
	for _, video := range records {
		summaries = append(summaries, video.Summary())
	}
	respondJSON(ctx, w, http.StatusOK, summaries)
}

// Get handles GET /api/videos/{id}.
func (h VideoHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := claimsFromContext(ctx).UserID

	video, err := h.Videos.FindByID(ctx, ownerID, mux.Vars(r)["id"])
	if err != nil {
		h.lookupFailed(ctx, w, err)
		return
	}

	obj, err := h.Assets.Get(ctx, video.AssetKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logging.FromContext(ctx).Error("clip bytes missing for record", "video_id", video.ID, "key", video.AssetKey)
			respondError(ctx, w, http.StatusNotFound, detailVideoNotFound)
			return
		}
		logging.FromContext(ctx).Error("load clip bytes failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to load video")
		return
	}

	mediaType := video.MediaType
	if mediaType == "" {
		mediaType = obj.ContentType
	}

	respondJSON(ctx, w, http.StatusOK, models.VideoDetail{
		VideoSummary: video.Summary(),
		UserID:       video.OwnerID,
		VideoData:    videos.EncodeDataURI(mediaType, obj.Data),
	})
}

// Delete handles DELETE /api/videos/{id}.
func (h VideoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := claimsFromContext(ctx).UserID

	video, err := h.Videos.Delete(ctx, ownerID, mux.Vars(r)["id"])
	if err != nil {
		h.lookupFailed(ctx, w, err)
		return
	}

	h.discardAsset(ctx, video.AssetKey)
	h.publish(ctx, events.VideoDeleted, video)

	respondJSON(ctx, w, http.StatusOK, messageResponse{Message: "Video deleted successfully"})
}

func (h VideoHandler) lookupFailed(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, repositories.ErrNotFound) {
		respondError(ctx, w, http.StatusNotFound, detailVideoNotFound)
		return
	}
	logging.FromContext(ctx).Error("video lookup failed", "error", err)
	respondError(ctx, w, http.StatusInternalServerError, "unable to load video")
}

// reject maps upload decoding failures to client errors.
func (h VideoHandler) reject(ctx context.Context, w http.ResponseWriter, err error) {
	h.Metrics.ObserveUpload("rejected", 0)
	switch {
	case errors.Is(err, errBodyTooLarge), errors.Is(err, videos.ErrMediaTooLarge):
		respondError(ctx, w, http.StatusRequestEntityTooLarge, videos.ErrMediaTooLarge.Error())
	case errors.Is(err, videos.ErrMediaTypeNotAllowed):
		respondError(ctx, w, http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, videos.ErrInvalidDataURI):
		respondError(ctx, w, http.StatusBadRequest, err.Error())
	default:
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
	}
}

func (h VideoHandler) discardAsset(ctx context.Context, key string) {
	if err := h.Assets.Delete(ctx, key); err != nil {
		logging.FromContext(ctx).Warn("delete clip bytes failed", "key", key, "error", err)
	}
}

func (h VideoHandler) publish(ctx context.Context, eventType string, video models.Video) {
	if h.Events == nil {
		return
	}
	err := h.Events.Publish(ctx, eventType, events.VideoEvent{
		VideoID:   video.ID,
		OwnerID:   video.OwnerID,
		MediaType: video.MediaType,
		SizeBytes: video.SizeBytes,
		HasCoords: video.LocationLat != nil && video.LocationLng != nil,
		CreatedAt: video.CreatedAt,
	})
	if err != nil {
		logging.FromContext(ctx).Warn("publish event failed", "event", eventType, "error", err)
	}
}

// bodyLimit allows for base64 expansion of a clip at the size limit plus the
// surrounding JSON fields.
func (h VideoHandler) bodyLimit() int64 {
	maxBytes := h.Policy.MaxBytes
	if maxBytes <= 0 {
		maxBytes = videos.DefaultMaxBytes
	}
	return (maxBytes+2)/3*4 + 64<<10
}

func (h VideoHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

func uploaded(videoID string) models.UploadResponse {
	return models.UploadResponse{Message: "Video uploaded successfully", VideoID: videoID}
}
