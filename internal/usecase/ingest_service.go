package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/domain/repository"
)

// ErrNotADirectory is returned by Sync when the given path is not a
// directory.
var ErrNotADirectory = errors.New("sync path is not a directory")

// IngestInput describes one incoming file.
type IngestInput struct {
	// Name is the declared filename, used for kind and canonical naming.
	Name   string
	Reader io.Reader
	// Size is the stream length, or -1 when unknown.
	Size        int64
	ContentType string

	// LocalPath is set when the file came from a directory sync; with
	// RemoveSource the pipeline deletes it once classification finishes.
	LocalPath    string
	RemoveSource bool
}

// Ingester routes incoming files into storage and starts their pipeline.
type Ingester interface {
	// Ingest classifies the file by media kind, writes the source variant
	// and enqueues the first pipeline stage. Non-media files land in the
	// others bucket verbatim with no pipeline.
	Ingest(ctx context.Context, input IngestInput) (*model.MediaObject, error)

	// Sync walks a local directory and ingests every regular non-hidden
	// file. Returns the number of files ingested.
	Sync(ctx context.Context, dir string, removeSource bool) (int, error)
}

// IngestService implements Ingester.
type IngestService struct {
	store   repository.BlobStore
	queue   repository.TaskQueue
	buckets model.Buckets
}

// Compile-time verification that IngestService implements Ingester.
var _ Ingester = (*IngestService)(nil)

// NewIngestService creates a new IngestService.
func NewIngestService(store repository.BlobStore, queue repository.TaskQueue, buckets model.Buckets) *IngestService {
	return &IngestService{
		store:   store,
		queue:   queue,
		buckets: buckets,
	}
}

// Ingest routes one file. No task is enqueued until the source write
// succeeds, so a failed ingest leaves no partial pipeline state.
func (s *IngestService) Ingest(ctx context.Context, input IngestInput) (*model.MediaObject, error) {
	kind := model.KindOf(input.Name)

	if kind == model.KindOther {
		return s.ingestOther(ctx, input)
	}

	basename := model.CanonicalBasename(input.Name, kind)
	bucket := s.buckets.NoGroup()
	stage := repository.StageCompress
	if kind == model.KindVideo {
		bucket = s.buckets.Video()
		stage = repository.StageVideo
	}
	key := model.SourceKey(basename)

	if err := s.ensureBucket(ctx, bucket); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, bucket, key, input.Reader, input.Size, input.ContentType); err != nil {
		return nil, fmt.Errorf("write source %s/%s: %w", bucket, key, err)
	}

	task := repository.Task{
		ID:           uuid.New(),
		Stage:        stage,
		Bucket:       bucket,
		Key:          key,
		MinKey:       model.MinKey(basename),
		ThumbKey:     model.ThumbKey(basename),
		Basename:     basename,
		LocalPath:    input.LocalPath,
		RemoveSource: input.RemoveSource,
	}
	if err := s.queue.Publish(ctx, task, 0); err != nil {
		return nil, fmt.Errorf("enqueue %s for %s/%s: %w", stage, bucket, key, err)
	}

	obj := &model.MediaObject{
		Path:     model.ObjectPath{Bucket: bucket, Key: key},
		Kind:     kind,
		Basename: basename,
		Variant:  model.VariantSource,
	}
	if ts, err := model.OriginTime(basename); err == nil {
		obj.OriginTime = ts
	}
	return obj, nil
}

// ingestOther stores a non-media file verbatim, outside the pipeline.
func (s *IngestService) ingestOther(ctx context.Context, input IngestInput) (*model.MediaObject, error) {
	if err := s.ensureBucket(ctx, model.OthersBucket); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, model.OthersBucket, input.Name, input.Reader, input.Size, input.ContentType); err != nil {
		return nil, fmt.Errorf("write %s/%s: %w", model.OthersBucket, input.Name, err)
	}

	if input.RemoveSource && input.LocalPath != "" {
		if err := os.Remove(input.LocalPath); err != nil {
			slog.Warn("failed to remove synced file",
				slog.String("path", input.LocalPath),
				slog.String("error", err.Error()),
			)
		}
	}

	return &model.MediaObject{
		Path:     model.ObjectPath{Bucket: model.OthersBucket, Key: input.Name},
		Kind:     model.KindOther,
		Basename: input.Name,
		Variant:  model.VariantSource,
	}, nil
}

// Sync walks dir and ingests every regular file whose name does not start
// with a dot. The walk aborts on the first storage failure.
func (s *IngestService) Sync(ctx context.Context, dir string, removeSource bool) (int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("stat sync path: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}

	count := 0
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		if err := s.ingestFile(ctx, p, removeSource); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("sync %s: %w", dir, err)
	}
	return count, nil
}

func (s *IngestService) ingestFile(ctx context.Context, p string, removeSource bool) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}

	_, err = s.Ingest(ctx, IngestInput{
		Name:         filepath.Base(p),
		Reader:       f,
		Size:         info.Size(),
		LocalPath:    p,
		RemoveSource: removeSource,
	})
	return err
}

func (s *IngestService) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := s.store.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.store.MakeBucket(ctx, bucket); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}
