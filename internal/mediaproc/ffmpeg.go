package mediaproc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// FFmpegConfig holds configuration for the FFmpeg frame extractor.
type FFmpegConfig struct {
	// FFmpegPath is the path to the ffmpeg binary.
	// If empty, "ffmpeg" is used (assumes it's in PATH).
	FFmpegPath string

	// FFprobePath is the path to the ffprobe binary.
	// If empty, "ffprobe" is used.
	FFprobePath string
}

// DefaultFFmpegConfig returns an FFmpegConfig with production-ready defaults.
func DefaultFFmpegConfig() FFmpegConfig {
	return FFmpegConfig{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
	}
}

// FFmpegExtractor implements FrameExtractor using the FFmpeg CLI.
type FFmpegExtractor struct {
	config FFmpegConfig
}

// Compile-time verification that FFmpegExtractor implements FrameExtractor.
var _ FrameExtractor = (*FFmpegExtractor)(nil)

// NewFFmpegExtractor creates a new FFmpeg-based frame extractor.
func NewFFmpegExtractor(cfg FFmpegConfig) *FFmpegExtractor {
	return &FFmpegExtractor{config: cfg}
}

// ExtractFrames samples count evenly spaced frames from the video at
// inputPath into outputDir. Frames are taken at the midpoint of each of the
// count equal intervals, so short clips still yield distinct frames.
func (e *FFmpegExtractor) ExtractFrames(ctx context.Context, inputPath, outputDir string, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("frame count must be positive, got %d", count)
	}
	if err := e.validateInput(inputPath); err != nil {
		return nil, err
	}
	if err := e.validateOutputDir(outputDir); err != nil {
		return nil, err
	}

	duration, err := e.probeDuration(ctx, inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe duration: %w", err)
	}

	frames := make([]string, 0, count)
	for i := 0; i < count; i++ {
		offset := duration * (float64(i) + 0.5) / float64(count)
		framePath := filepath.Join(outputDir, fmt.Sprintf("frame_%03d.jpg", i))

		cmd := exec.CommandContext(ctx, e.config.FFmpegPath,
			"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
			"-i", inputPath,
			"-frames:v", "1",
			"-q:v", "2",
			"-y",
			framePath,
		)
		cmd.Stdout = nil
		cmd.Stderr = nil // FFmpeg outputs progress to stderr

		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("frame extraction cancelled: %w", ctx.Err())
			}
			return nil, fmt.Errorf("ffmpeg execution failed at offset %.3fs: %w", offset, err)
		}

		// Seeking past the last keyframe can legitimately produce nothing.
		if _, err := os.Stat(framePath); err == nil {
			frames = append(frames, framePath)
		}
	}

	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames extracted from %s", inputPath)
	}
	return frames, nil
}

// probeDuration reads the container duration in seconds via ffprobe.
func (e *FFmpegExtractor) probeDuration(ctx context.Context, inputPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, e.config.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		inputPath,
	)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe execution failed: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("non-positive duration %f", duration)
	}
	return duration, nil
}

// validateInput checks if the input file exists and is readable.
func (e *FFmpegExtractor) validateInput(inputPath string) error {
	info, err := os.Stat(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", inputPath)
		}
		return fmt.Errorf("failed to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path is a directory: %s", inputPath)
	}
	return nil
}

// validateOutputDir checks if the output directory exists.
func (e *FFmpegExtractor) validateOutputDir(outputDir string) error {
	info, err := os.Stat(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("output directory does not exist: %s", outputDir)
		}
		return fmt.Errorf("failed to access output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", outputDir)
	}
	return nil
}
