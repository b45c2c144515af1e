package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hszk-dev/photoflow/internal/usecase"
)

// Request/Response types

type UploadedFile struct {
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	Basename string `json:"basename"`
	Kind     string `json:"kind"`
}

type UploadResponse struct {
	Files []UploadedFile `json:"files"`
}

type SyncRequest struct {
	Path         string `json:"path"`
	RemoveSource bool   `json:"remove_source"`
}

type SyncResponse struct {
	Synced int `json:"synced"`
}

// IngestHandler handles upload and directory-sync HTTP requests.
type IngestHandler struct {
	svc            usecase.Ingester
	maxUploadBytes int64
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(svc usecase.Ingester, maxUploadBytes int64) *IngestHandler {
	return &IngestHandler{svc: svc, maxUploadBytes: maxUploadBytes}
}

// Upload handles POST /v1/sso/upload
func (h *IngestHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	reader, err := r.MultipartReader()
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Request must be multipart/form-data")
		return
	}

	var files []UploadedFile
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		if part.FileName() == "" {
			continue
		}

		obj, err := h.svc.Ingest(r.Context(), usecase.IngestInput{
			Name:        part.FileName(),
			Reader:      part,
			Size:        -1,
			ContentType: part.Header.Get("Content-Type"),
		})
		_ = part.Close()
		if err != nil {
			Error(w, http.StatusInternalServerError, "ingest_failed", "Failed to store "+part.FileName())
			return
		}

		files = append(files, UploadedFile{
			Bucket:   obj.Path.Bucket,
			Key:      obj.Path.Key,
			Basename: obj.Basename,
			Kind:     obj.Kind.String(),
		})
	}

	if len(files) == 0 {
		Error(w, http.StatusBadRequest, "no_files", "No file parts in request")
		return
	}

	JSON(w, http.StatusCreated, UploadResponse{Files: files})
}

// Sync handles POST /v1/sso/sync
func (h *IngestHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Path == "" {
		Error(w, http.StatusBadRequest, "invalid_path", "Path is required")
		return
	}

	count, err := h.svc.Sync(r.Context(), req.Path, req.RemoveSource)
	if err != nil {
		if errors.Is(err, usecase.ErrNotADirectory) {
			Error(w, http.StatusBadRequest, "invalid_path", "Path is not a directory")
			return
		}
		Error(w, http.StatusInternalServerError, "sync_failed", "Directory sync failed")
		return
	}

	JSON(w, http.StatusOK, SyncResponse{Synced: count})
}
