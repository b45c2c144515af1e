package mediaproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"

	// Extend image.Decode (used by imaging.Decode) with webp support.
	_ "golang.org/x/image/webp"
)

// ImagingConfig holds configuration for the imaging-based processor.
type ImagingConfig struct {
	// JPEGQuality is the quality used when re-encoding JPEG sources.
	JPEGQuality int
	// ThumbnailQuality is the quality used for thumbnail encoding.
	ThumbnailQuality int
}

// DefaultImagingConfig returns production defaults. JPEG quality 60 matches
// what the compression ladder has always produced.
func DefaultImagingConfig() ImagingConfig {
	return ImagingConfig{
		JPEGQuality:      60,
		ThumbnailQuality: 85,
	}
}

// ImagingProcessor implements ImageProcessor on top of disintegration/imaging.
type ImagingProcessor struct {
	config ImagingConfig
}

// Compile-time verification that ImagingProcessor implements ImageProcessor.
var _ ImageProcessor = (*ImagingProcessor)(nil)

// NewImagingProcessor creates a new imaging-based processor.
func NewImagingProcessor(cfg ImagingConfig) *ImagingProcessor {
	return &ImagingProcessor{config: cfg}
}

// Compress re-encodes the image at reduced quality. JPEG sources are
// re-encoded lossily; PNG is rewritten at best compression. Animated or
// vector formats (GIF, SVG) have no safe re-encode path here and return
// ErrUnsupportedFormat.
func (p *ImagingProcessor) Compress(r io.Reader, filename string) ([]byte, error) {
	ext := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(ext, ".jpg"), strings.HasSuffix(ext, ".jpeg"):
		return p.encode(r, imaging.JPEG, imaging.JPEGQuality(p.config.JPEGQuality))
	case strings.HasSuffix(ext, ".png"):
		return p.encode(r, imaging.PNG, imaging.PNGCompressionLevel(-3)) // png.BestCompression
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

func (p *ImagingProcessor) encode(r io.Reader, format imaging.Format, opts ...imaging.EncodeOption) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, opts...); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail scales the image down to fit within a size x size bounding box,
// preserving aspect ratio. Images already inside the box keep their size.
// Output is always JPEG. Inputs no registered decoder understands (SVG and
// other vector formats) return ErrUnsupportedFormat.
func (p *ImagingProcessor) Thumbnail(r io.Reader, size int) (ThumbnailResult, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if errors.Is(err, image.ErrFormat) {
		return ThumbnailResult{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if err != nil {
		return ThumbnailResult{}, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > size || bounds.Dy() > size {
		img = imaging.Fit(img, size, size, imaging.Lanczos)
		bounds = img.Bounds()
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.config.ThumbnailQuality)); err != nil {
		return ThumbnailResult{}, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return ThumbnailResult{
		Data:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}
