// Package mediaproc provides the pixel-level engines the pipeline
// orchestrates: image compression, thumbnailing, and video frame sampling.
package mediaproc

import (
	"context"
	"errors"
	"io"
)

// ErrUnsupportedFormat is returned when an image format cannot be
// re-encoded. The caller falls back to copying the object as-is.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ThumbnailResult is an encoded thumbnail with its final dimensions.
type ThumbnailResult struct {
	Data   []byte
	Width  int
	Height int
}

// ImageProcessor defines the image derivation operations.
type ImageProcessor interface {
	// Compress re-encodes the image at reduced quality. Formats without a
	// lossy re-encode path return ErrUnsupportedFormat.
	Compress(r io.Reader, filename string) ([]byte, error)

	// Thumbnail scales the image down to fit within a size x size bounding
	// box, preserving aspect ratio.
	Thumbnail(r io.Reader, size int) (ThumbnailResult, error)
}

// FrameExtractor samples still frames from a video file.
type FrameExtractor interface {
	// ExtractFrames writes count evenly spaced frames from the video at
	// inputPath into outputDir and returns their paths in temporal order.
	ExtractFrames(ctx context.Context, inputPath, outputDir string, count int) ([]string, error)
}
