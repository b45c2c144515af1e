package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hszk-dev/photoflow/internal/domain/repository"
)

// Request/Response types

type AddSubjectRequest struct {
	Subject string `json:"subject"`
}

type SubjectsResponse struct {
	Subjects []string `json:"subjects"`
}

// FaceAIHandler handles the recognition-service admin surface: registering
// subjects and example faces.
type FaceAIHandler struct {
	recognizer repository.FaceRecognizer
}

// NewFaceAIHandler creates a new FaceAIHandler.
func NewFaceAIHandler(recognizer repository.FaceRecognizer) *FaceAIHandler {
	return &FaceAIHandler{recognizer: recognizer}
}

// AddSubject handles POST /v1/faceai/subjects
func (h *FaceAIHandler) AddSubject(w http.ResponseWriter, r *http.Request) {
	var req AddSubjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Subject == "" {
		Error(w, http.StatusBadRequest, "invalid_subject", "Subject is required")
		return
	}

	if err := h.recognizer.AddSubject(r.Context(), req.Subject); err != nil {
		Error(w, http.StatusBadGateway, "recognition_unavailable", "Recognition service request failed")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ListSubjects handles GET /v1/faceai/subjects
func (h *FaceAIHandler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.recognizer.ListSubjects(r.Context())
	if err != nil {
		Error(w, http.StatusBadGateway, "recognition_unavailable", "Recognition service request failed")
		return
	}
	JSON(w, http.StatusOK, SubjectsResponse{Subjects: subjects})
}

// AddFace handles POST /v1/faceai/faces?subject=<name>
func (h *FaceAIHandler) AddFace(w http.ResponseWriter, r *http.Request) {
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		Error(w, http.StatusBadRequest, "invalid_subject", "Subject query parameter is required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "A file form field is required")
		return
	}
	defer func() { _ = file.Close() }()

	if err := h.recognizer.AddFace(r.Context(), file, subject); err != nil {
		Error(w, http.StatusBadGateway, "recognition_unavailable", "Recognition service request failed")
		return
	}
	w.WriteHeader(http.StatusCreated)
}
