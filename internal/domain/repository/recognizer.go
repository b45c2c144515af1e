package repository

import (
	"context"
	"io"

	"github.com/hszk-dev/photoflow/internal/domain/model"
)

// FaceRecognizer defines the interface to the face-recognition service.
// Implementations should be provided by the infrastructure layer.
type FaceRecognizer interface {
	// Recognize detects faces in the image stream and returns raw boxes
	// with per-subject similarity scores. A service-side "no face found"
	// response is reported as ErrNoFace.
	Recognize(ctx context.Context, image io.Reader) ([]model.Face, error)

	// AddSubject registers a new subject with the recognition service.
	AddSubject(ctx context.Context, subject string) error

	// AddFace adds an example image of subject to the face collection.
	AddFace(ctx context.Context, image io.Reader, subject string) error

	// ListSubjects returns all registered subjects.
	ListSubjects(ctx context.Context) ([]string, error)
}
