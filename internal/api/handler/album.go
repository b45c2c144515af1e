package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/domain/repository"
	"github.com/hszk-dev/photoflow/internal/infrastructure/cache"
	"github.com/hszk-dev/photoflow/internal/usecase"
)

// Request/Response types

type PhotoResponse struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	LastModified string            `json:"last_modified"`
	Tags         map[string]string `json:"tags,omitempty"`
}

type AlbumResponse struct {
	Name      string            `json:"name"`
	CreatedAt string            `json:"created_at"`
	Tags      map[string]string `json:"tags,omitempty"`
	Photos    []PhotoResponse   `json:"photos"`
}

type ListingResponse struct {
	Albums      []AlbumResponse `json:"albums"`
	RefreshedAt string          `json:"refreshed_at"`
}

type RemoveRequest struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type RemoveBatchRequest struct {
	Bucket string   `json:"bucket"`
	Keys   []string `json:"keys"`
}

type CopyRequest struct {
	TargetBucket string `json:"target_bucket"`
	Key          string `json:"key"`
	// Source is the byte source as "bucket/key".
	Source string `json:"source"`
}

type CreateBucketRequest struct {
	Name string `json:"name"`
}

type ReRecognizeResponse struct {
	Enqueued int `json:"enqueued"`
}

// AlbumHandler handles album browsing and curation HTTP requests.
type AlbumHandler struct {
	svc usecase.AlbumService
}

// NewAlbumHandler creates a new AlbumHandler.
func NewAlbumHandler(svc usecase.AlbumService) *AlbumHandler {
	return &AlbumHandler{svc: svc}
}

// Albums handles GET /v1/sso/albums
func (h *AlbumHandler) Albums(w http.ResponseWriter, r *http.Request) {
	listing, err := h.svc.Listing(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, toListingResponse(listing))
}

// Photos handles GET /v1/sso/photos/{bucket}
func (h *AlbumHandler) Photos(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	if bucket == "" {
		Error(w, http.StatusBadRequest, "invalid_bucket", "Bucket is required")
		return
	}

	photos, err := h.svc.Photos(r.Context(), bucket)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	out := make([]PhotoResponse, 0, len(photos))
	for _, p := range photos {
		out = append(out, toPhotoResponse(p))
	}
	JSON(w, http.StatusOK, out)
}

// Refresh handles POST /v1/sso/refresh
func (h *AlbumHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	listing, err := h.svc.Refresh(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, toListingResponse(listing))
}

// Remove handles POST /v1/sso/remove
func (h *AlbumHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var req RemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Bucket == "" || req.Key == "" {
		Error(w, http.StatusBadRequest, "invalid_request", "Bucket and key are required")
		return
	}

	if err := h.svc.Remove(r.Context(), req.Bucket, req.Key); err != nil {
		h.handleServiceError(w, err)
		return
	}
	NoContent(w)
}

// RemoveBatch handles POST /v1/sso/removes
func (h *AlbumHandler) RemoveBatch(w http.ResponseWriter, r *http.Request) {
	var req RemoveBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Bucket == "" || len(req.Keys) == 0 {
		Error(w, http.StatusBadRequest, "invalid_request", "Bucket and keys are required")
		return
	}

	if err := h.svc.RemoveBatch(r.Context(), req.Bucket, req.Keys); err != nil {
		h.handleServiceError(w, err)
		return
	}
	NoContent(w)
}

// Copy handles POST /v1/sso/copy
func (h *AlbumHandler) Copy(w http.ResponseWriter, r *http.Request) {
	var req CopyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.TargetBucket == "" || req.Key == "" {
		Error(w, http.StatusBadRequest, "invalid_request", "Target bucket and key are required")
		return
	}

	source, err := model.ParseObjectPath(req.Source)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_source", "Source must be of the form bucket/key")
		return
	}

	if err := h.svc.Copy(r.Context(), req.TargetBucket, req.Key, source); err != nil {
		h.handleServiceError(w, err)
		return
	}
	NoContent(w)
}

// CreateBucket handles POST /v1/sso/create
func (h *AlbumHandler) CreateBucket(w http.ResponseWriter, r *http.Request) {
	var req CreateBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Name == "" {
		Error(w, http.StatusBadRequest, "invalid_name", "Name is required")
		return
	}

	if err := h.svc.CreateBucket(r.Context(), req.Name); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ReRecognize handles POST /v1/sso/rerecognize
func (h *AlbumHandler) ReRecognize(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.ReRecognize(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, ReRecognizeResponse{Enqueued: count})
}

func (h *AlbumHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrObjectNotFound):
		Error(w, http.StatusNotFound, "object_not_found", "Object not found")
	case errors.Is(err, repository.ErrBucketNotFound):
		Error(w, http.StatusNotFound, "bucket_not_found", "Bucket not found")
	case errors.Is(err, model.ErrMalformedPath):
		Error(w, http.StatusBadRequest, "invalid_path", "Malformed object path")
	default:
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func toListingResponse(listing *cache.Listing) ListingResponse {
	out := ListingResponse{
		Albums:      make([]AlbumResponse, 0, len(listing.Albums)),
		RefreshedAt: listing.RefreshedAt.Format(time.RFC3339),
	}
	for _, album := range listing.Albums {
		a := AlbumResponse{
			Name:      album.Name,
			CreatedAt: album.CreatedAt.Format(time.RFC3339),
			Tags:      album.Tags,
			Photos:    make([]PhotoResponse, 0, len(album.Photos)),
		}
		for _, p := range album.Photos {
			a.Photos = append(a.Photos, toPhotoResponse(p))
		}
		out.Albums = append(out.Albums, a)
	}
	return out
}

func toPhotoResponse(p cache.Photo) PhotoResponse {
	return PhotoResponse{
		Key:          p.Key,
		Size:         p.Size,
		LastModified: p.LastModified.Format(time.RFC3339),
		Tags:         p.Tags,
	}
}
