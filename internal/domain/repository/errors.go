package repository

import "errors"

var (
	// ErrBucketNotFound is returned when a bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrObjectNotFound is returned when an object cannot be found.
	ErrObjectNotFound = errors.New("object not found")

	// ErrNoFace is returned by the recognizer when the service reports that
	// the image contains no face. It is a valid classification outcome, not
	// a service failure.
	ErrNoFace = errors.New("no face found in image")
)
