package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/domain/repository"
	"github.com/hszk-dev/photoflow/internal/infrastructure/metrics"
	"github.com/hszk-dev/photoflow/internal/mediaproc"
)

// PipelineConfig holds configuration for PipelineService.
type PipelineConfig struct {
	Buckets    model.Buckets
	Thresholds model.Thresholds
	// CompressThreshold is the minimum source size in bytes that triggers
	// real compression; smaller sources are copied as-is to the min key.
	CompressThreshold int64
	// ThumbnailSize is the bounding box edge for thumbnails in pixels.
	ThumbnailSize int
	// RecognizeDelay defers the recognize stage after thumbnailing.
	RecognizeDelay time.Duration
	// VideoFrameCount is the number of evenly spaced frames sampled per video.
	VideoFrameCount int
	// TempDir is the base directory for temporary files during video work.
	TempDir string
}

// DefaultPipelineConfig returns the default configuration.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Buckets:           model.NewBuckets(""),
		Thresholds:        model.DefaultThresholds(),
		CompressThreshold: 1000000,
		ThumbnailSize:     320,
		RecognizeDelay:    10 * time.Second,
		VideoFrameCount:   5,
		TempDir:           os.TempDir(),
	}
}

// PipelineService executes the pipeline stages. Stage ordering is explicit:
// each stage enqueues its successor on success, so a failed stage never
// advances the chain.
type PipelineService interface {
	// ProcessTask handles one task from the queue. A returned error routes
	// the task to the dead-letter queue; there is no automatic retry.
	ProcessTask(ctx context.Context, task repository.Task) error
}

type pipelineService struct {
	store      repository.BlobStore
	queue      repository.TaskQueue
	refs       RefCountManager
	recognizer repository.FaceRecognizer
	images     mediaproc.ImageProcessor
	frames     mediaproc.FrameExtractor

	config PipelineConfig
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(
	store repository.BlobStore,
	queue repository.TaskQueue,
	refs RefCountManager,
	recognizer repository.FaceRecognizer,
	images mediaproc.ImageProcessor,
	frames mediaproc.FrameExtractor,
	cfg PipelineConfig,
) PipelineService {
	return &pipelineService{
		store:      store,
		queue:      queue,
		refs:       refs,
		recognizer: recognizer,
		images:     images,
		frames:     frames,
		config:     cfg,
	}
}

func (s *pipelineService) ProcessTask(ctx context.Context, task repository.Task) error {
	var err error
	switch task.Stage {
	case repository.StageCompress:
		err = s.compress(ctx, task)
	case repository.StageThumbnail:
		err = s.thumbnail(ctx, task)
	case repository.StageRecognize:
		err = s.recognize(ctx, task)
	case repository.StageVideo:
		err = s.video(ctx, task)
	case repository.StageCleanup:
		err = s.cleanup(ctx, task)
	default:
		err = fmt.Errorf("unknown stage %q", task.Stage)
	}

	status := metrics.StageStatusSuccess
	if err != nil {
		status = metrics.StageStatusError
	}
	metrics.PipelineStageTotal.WithLabelValues(task.Stage.String(), status).Inc()
	return err
}

// compress derives the min variant of the source object. Sources below the
// size threshold are copied as-is; so are formats without a lossy re-encode
// path. Re-running on an already-compressed object is a no-op.
func (s *pipelineService) compress(ctx context.Context, task repository.Task) error {
	if _, err := s.store.Stat(ctx, task.Bucket, task.MinKey); err == nil {
		// Min variant already present.
		return s.chain(ctx, task, repository.StageThumbnail, 0)
	}

	info, err := s.store.Stat(ctx, task.Bucket, task.Key)
	if err != nil {
		return fmt.Errorf("stat source %s/%s: %w", task.Bucket, task.Key, err)
	}

	sourcePath := model.ObjectPath{Bucket: task.Bucket, Key: task.Key}

	if info.Size < s.config.CompressThreshold {
		if err := s.store.Copy(ctx, task.Bucket, task.MinKey, sourcePath); err != nil {
			return fmt.Errorf("copy small source to min: %w", err)
		}
	} else if err := s.compressInto(ctx, task, sourcePath); err != nil {
		return err
	}

	// Record the min variant on the source object.
	tags, err := s.store.GetObjectTags(ctx, task.Bucket, task.Key)
	if err != nil {
		return fmt.Errorf("read source tags: %w", err)
	}
	tags.SetMini(model.ObjectPath{Bucket: task.Bucket, Key: task.MinKey})
	if err := s.store.SetObjectTags(ctx, task.Bucket, task.Key, tags); err != nil {
		return fmt.Errorf("tag source with min variant: %w", err)
	}

	return s.chain(ctx, task, repository.StageThumbnail, 0)
}

func (s *pipelineService) compressInto(ctx context.Context, task repository.Task, sourcePath model.ObjectPath) error {
	rc, err := s.store.Get(ctx, task.Bucket, task.Key)
	if err != nil {
		return fmt.Errorf("get source: %w", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := s.images.Compress(rc, task.Basename)
	if errors.Is(err, mediaproc.ErrUnsupportedFormat) {
		return s.store.Copy(ctx, task.Bucket, task.MinKey, sourcePath)
	}
	if err != nil {
		return fmt.Errorf("compress %s: %w", task.Basename, err)
	}

	contentType := mime.TypeByExtension(path.Ext(task.Basename))
	if err := s.store.Put(ctx, task.Bucket, task.MinKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return fmt.Errorf("write min variant: %w", err)
	}
	return nil
}

// thumbnail derives the thumb variant from the min variant (or the source
// when no min exists) and tags it back to the source object.
func (s *pipelineService) thumbnail(ctx context.Context, task repository.Task) error {
	rc, err := s.openFirst(ctx, task.Bucket, task.MinKey, task.Key)
	if err != nil {
		return fmt.Errorf("open input for thumbnail: %w", err)
	}
	defer func() { _ = rc.Close() }()

	result, err := s.images.Thumbnail(rc, s.config.ThumbnailSize)
	if errors.Is(err, mediaproc.ErrUnsupportedFormat) {
		return s.divertUndecodable(ctx, task)
	}
	if err != nil {
		return fmt.Errorf("thumbnail %s: %w", task.Basename, err)
	}

	if err := s.store.Put(ctx, task.Bucket, task.ThumbKey, bytes.NewReader(result.Data), int64(len(result.Data)), "image/jpeg"); err != nil {
		return fmt.Errorf("write thumbnail: %w", err)
	}

	tags := model.Tags{}
	tags.SetSource(model.ObjectPath{Bucket: task.Bucket, Key: task.Key})
	tags.SetDimensions(result.Width, result.Height)
	if ts, err := model.OriginTime(task.Basename); err == nil {
		tags.SetOriginTime(ts)
	}
	if err := s.store.SetObjectTags(ctx, task.Bucket, task.ThumbKey, tags); err != nil {
		return fmt.Errorf("tag thumbnail: %w", err)
	}

	return s.chain(ctx, task, repository.StageRecognize, s.config.RecognizeDelay)
}

// divertUndecodable parks a source no decoder can handle (SVG and friends
// carry an image extension but cannot be rasterized) in the plain others
// bucket instead of failing the stage. The item leaves the pipeline
// unclassified; intake variants are reclaimed and no next stage is enqueued.
func (s *pipelineService) divertUndecodable(ctx context.Context, task repository.Task) error {
	exists, err := s.store.BucketExists(ctx, model.OthersBucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", model.OthersBucket, err)
	}
	if !exists {
		if err := s.store.MakeBucket(ctx, model.OthersBucket); err != nil {
			return fmt.Errorf("create bucket %s: %w", model.OthersBucket, err)
		}
	}

	source := model.ObjectPath{Bucket: task.Bucket, Key: task.Key}
	if err := s.store.Copy(ctx, model.OthersBucket, task.Basename, source); err != nil {
		return fmt.Errorf("divert %s to %s: %w", source, model.OthersBucket, err)
	}

	slog.Warn("undecodable image diverted",
		slog.String("basename", task.Basename),
		slog.String("bucket", task.Bucket),
	)

	var errs []error
	for _, key := range []string{task.Key, task.MinKey} {
		if key == "" {
			continue
		}
		if err := s.store.Remove(ctx, task.Bucket, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s/%s: %w", task.Bucket, key, err))
		}
	}
	return errors.Join(errs...)
}

// recognize classifies the item and places ref-counted copies of its
// thumbnail into the target buckets.
func (s *pipelineService) recognize(ctx context.Context, task repository.Task) error {
	result, err := s.recognizeObject(ctx, task)
	if err != nil {
		return err
	}

	c := model.Classify(result, task.ReRecognition)
	countClassification(c)

	// The copy's bytes come from this item's thumbnail; the canonical
	// object is resolved through the thumbnail's source tag.
	byteSource := model.ObjectPath{Bucket: task.Bucket, Key: task.ThumbKey}

	var errs []error
	for _, subject := range c.Subjects {
		target := s.config.Buckets.Subject(subject)
		if err := s.refs.Copy(ctx, target, task.ThumbKey, byteSource); err != nil {
			errs = append(errs, fmt.Errorf("copy to %s: %w", target, err))
		}
	}
	if c.NeedRecognition {
		target := s.config.Buckets.NeedRecognition()
		if err := s.refs.Copy(ctx, target, task.ThumbKey, byteSource); err != nil {
			errs = append(errs, fmt.Errorf("copy to %s: %w", target, err))
		} else if task.MinKey != "" {
			// Carry the min variant along so re-recognition has a
			// full-quality input to work with.
			if err := s.store.Copy(ctx, target, task.MinKey, model.ObjectPath{Bucket: task.Bucket, Key: task.MinKey}); err != nil {
				slog.Warn("failed to copy min variant for re-recognition",
					slog.String("key", task.MinKey),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if c.Other {
		target := s.config.Buckets.Other()
		if err := s.refs.Copy(ctx, target, task.ThumbKey, byteSource); err != nil {
			errs = append(errs, fmt.Errorf("copy to %s: %w", target, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if task.ReRecognition {
		return s.finishReRecognition(ctx, task, c)
	}
	return s.finishFirstPass(ctx, task)
}

// finishFirstPass removes the derived variants from the intake bucket; the
// canonical source object stays untouched.
func (s *pipelineService) finishFirstPass(ctx context.Context, task repository.Task) error {
	if task.MinKey != "" {
		if err := s.store.Remove(ctx, task.Bucket, task.MinKey); err != nil {
			return fmt.Errorf("remove intake min variant: %w", err)
		}
	}
	if err := s.store.Remove(ctx, task.Bucket, task.ThumbKey); err != nil {
		return fmt.Errorf("remove intake thumbnail: %w", err)
	}

	if task.RemoveSource && task.LocalPath != "" {
		if err := os.Remove(task.LocalPath); err != nil {
			slog.Warn("failed to remove synced file",
				slog.String("path", task.LocalPath),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// finishReRecognition resolves a manual-triage pass. An item that still has
// an unconfident face stays where it is; a fully resolved item leaves the
// triage bucket.
func (s *pipelineService) finishReRecognition(ctx context.Context, task repository.Task, c model.Classification) error {
	if c.Unconfident {
		return nil
	}

	if err := s.refs.Remove(ctx, task.Bucket, task.ThumbKey); err != nil {
		return fmt.Errorf("remove resolved item from %s: %w", task.Bucket, err)
	}
	if task.MinKey != "" {
		if err := s.store.Remove(ctx, task.Bucket, task.MinKey); err != nil {
			return fmt.Errorf("remove min variant from %s: %w", task.Bucket, err)
		}
	}
	return nil
}

// recognizeObject runs recognition on the best available variant: min, then
// source, then thumbnail. A service-side "no face" is a valid outcome, not
// an error.
func (s *pipelineService) recognizeObject(ctx context.Context, task repository.Task) (model.RecognitionResult, error) {
	rc, err := s.openFirst(ctx, task.Bucket, task.MinKey, task.Key, task.ThumbKey)
	if err != nil {
		return model.RecognitionResult{}, fmt.Errorf("open input for recognition: %w", err)
	}
	defer func() { _ = rc.Close() }()

	faces, err := s.recognizer.Recognize(ctx, rc)
	if errors.Is(err, repository.ErrNoFace) {
		return model.RecognitionResult{}, nil
	}
	if err != nil {
		return model.RecognitionResult{}, fmt.Errorf("recognize %s/%s: %w", task.Bucket, task.Key, err)
	}
	return s.config.Thresholds.Evaluate(faces), nil
}

// video samples frames from the video source, recognizes each, and
// classifies the item once per matched subject using that subject's earliest
// frame as its thumbnail source.
func (s *pipelineService) video(ctx context.Context, task repository.Task) error {
	workDir := filepath.Join(s.config.TempDir, "video", task.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("create work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath, err := s.download(ctx, task.Bucket, task.Key, workDir)
	if err != nil {
		return fmt.Errorf("download video source: %w", err)
	}

	framePaths, err := s.frames.ExtractFrames(ctx, localPath, workDir, s.config.VideoFrameCount)
	if err != nil {
		return fmt.Errorf("extract frames: %w", err)
	}

	type hit struct {
		subject string
		frame   int
	}
	earliest := make(map[string]hit)
	anyFace := false
	unconfidentFrame := -1

	for i, framePath := range framePaths {
		result, err := s.recognizeFrame(ctx, framePath)
		if err != nil {
			return fmt.Errorf("recognize frame %d: %w", i, err)
		}
		if result.Recognized {
			anyFace = true
		}
		for _, m := range result.Matches {
			if !m.Confident {
				if unconfidentFrame < 0 {
					unconfidentFrame = i
				}
				continue
			}
			key := s.config.Buckets.Subject(m.Subject)
			if _, seen := earliest[key]; !seen {
				earliest[key] = hit{subject: m.Subject, frame: i}
			}
		}
	}

	// Deterministic target order.
	targets := make([]string, 0, len(earliest))
	for bucket := range earliest {
		targets = append(targets, bucket)
	}
	sort.Strings(targets)

	var errs []error
	for _, bucket := range targets {
		h := earliest[bucket]
		name := strings.ToLower(h.subject)
		if err := s.classifyFrame(ctx, task, framePaths[h.frame], name, bucket); err != nil {
			errs = append(errs, err)
		}
	}
	if unconfidentFrame >= 0 && !task.ReRecognition {
		if err := s.classifyFrame(ctx, task, framePaths[unconfidentFrame], "unmatched", s.config.Buckets.NeedRecognition()); err != nil {
			errs = append(errs, err)
		}
	}
	if !anyFace && len(framePaths) > 0 {
		if err := s.classifyFrame(ctx, task, framePaths[0], "unmatched", s.config.Buckets.Other()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if task.RemoveSource && task.LocalPath != "" {
		if err := os.Remove(task.LocalPath); err != nil {
			slog.Warn("failed to remove synced file",
				slog.String("path", task.LocalPath),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// classifyFrame uploads a frame thumbnail as a canonical-tagged variant of
// the video source and ref-copies it into the target bucket.
func (s *pipelineService) classifyFrame(ctx context.Context, task repository.Task, framePath, name, targetBucket string) error {
	f, err := os.Open(framePath)
	if err != nil {
		return fmt.Errorf("open frame: %w", err)
	}
	defer func() { _ = f.Close() }()

	result, err := s.images.Thumbnail(f, s.config.ThumbnailSize)
	if err != nil {
		return fmt.Errorf("thumbnail frame: %w", err)
	}

	key := task.ThumbKey + "/" + name + ".jpg"
	if err := s.store.Put(ctx, task.Bucket, key, bytes.NewReader(result.Data), int64(len(result.Data)), "image/jpeg"); err != nil {
		return fmt.Errorf("write frame thumbnail: %w", err)
	}

	tags := model.Tags{}
	tags.SetSource(model.ObjectPath{Bucket: task.Bucket, Key: task.Key})
	tags.SetDimensions(result.Width, result.Height)
	if ts, err := model.OriginTime(task.Basename); err == nil {
		tags.SetOriginTime(ts)
	}
	if err := s.store.SetObjectTags(ctx, task.Bucket, key, tags); err != nil {
		return fmt.Errorf("tag frame thumbnail: %w", err)
	}

	if err := s.refs.Copy(ctx, targetBucket, key, model.ObjectPath{Bucket: task.Bucket, Key: key}); err != nil {
		return fmt.Errorf("copy frame to %s: %w", targetBucket, err)
	}
	return nil
}

func (s *pipelineService) recognizeFrame(ctx context.Context, framePath string) (model.RecognitionResult, error) {
	f, err := os.Open(framePath)
	if err != nil {
		return model.RecognitionResult{}, fmt.Errorf("open frame: %w", err)
	}
	defer func() { _ = f.Close() }()

	faces, err := s.recognizer.Recognize(ctx, f)
	if errors.Is(err, repository.ErrNoFace) {
		return model.RecognitionResult{}, nil
	}
	if err != nil {
		return model.RecognitionResult{}, err
	}
	return s.config.Thresholds.Evaluate(faces), nil
}

// cleanup reclaims the derived variants of a canonical object whose last
// reference is gone.
func (s *pipelineService) cleanup(ctx context.Context, task repository.Task) error {
	var errs []error
	if task.MinKey != "" {
		if err := s.store.Remove(ctx, task.Bucket, task.MinKey); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", task.MinKey, err))
		}
	}
	if task.ThumbKey != "" {
		if err := s.store.Remove(ctx, task.Bucket, task.ThumbKey); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", task.ThumbKey, err))
		}

		// Video items keep per-subject frame thumbnails under the thumb
		// key as a prefix.
		objects, err := s.store.ListObjects(ctx, task.Bucket, task.ThumbKey+"/", true)
		if err != nil {
			errs = append(errs, fmt.Errorf("list frame thumbnails: %w", err))
		}
		for _, obj := range objects {
			if err := s.store.Remove(ctx, task.Bucket, obj.Key); err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", obj.Key, err))
			}
		}
	}
	return errors.Join(errs...)
}

// chain enqueues the next stage of the task.
func (s *pipelineService) chain(ctx context.Context, task repository.Task, next repository.Stage, delay time.Duration) error {
	task.Stage = next
	if err := s.queue.Publish(ctx, task, delay); err != nil {
		return fmt.Errorf("enqueue %s stage: %w", next, err)
	}
	return nil
}

// openFirst returns a reader for the first existing object among keys.
// Empty keys are skipped.
func (s *pipelineService) openFirst(ctx context.Context, bucket string, keys ...string) (io.ReadCloser, error) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		rc, err := s.store.Get(ctx, bucket, key)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, repository.ErrObjectNotFound) {
			return nil, err
		}
	}
	return nil, repository.ErrObjectNotFound
}

// download copies an object to a local file inside workDir.
func (s *pipelineService) download(ctx context.Context, bucket, key, workDir string) (string, error) {
	rc, err := s.store.Get(ctx, bucket, key)
	if err != nil {
		return "", fmt.Errorf("get object: %w", err)
	}
	defer func() { _ = rc.Close() }()

	localPath := filepath.Join(workDir, path.Base(key))
	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create local file: %w", err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("copy to local file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close local file: %w", err)
	}
	return localPath, nil
}

func countClassification(c model.Classification) {
	for range c.Subjects {
		metrics.ClassificationsTotal.WithLabelValues(metrics.OutcomeSubject).Inc()
	}
	if c.NeedRecognition {
		metrics.ClassificationsTotal.WithLabelValues(metrics.OutcomeNeedRecognition).Inc()
	}
	if c.Other {
		metrics.ClassificationsTotal.WithLabelValues(metrics.OutcomeOther).Inc()
	}
}
