package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/domain/repository"
)

// CopyRequest is one item of a batch copy.
type CopyRequest struct {
	TargetBucket string
	Key          string
	Source       model.ObjectPath
}

// RefCountManager maintains the reference-counted tagging scheme that lets
// one physical artifact be logically present in many group buckets.
type RefCountManager interface {
	// Copy places a classified copy of Source into targetBucket/key and
	// records it in the canonical object's ref set. Copy is idempotent:
	// repeating it never duplicates the ref entry.
	Copy(ctx context.Context, targetBucket, key string, source model.ObjectPath) error

	// Remove deletes the classified copy at bucket/key and removes it from
	// the canonical object's ref set. Removing the last reference deletes
	// the canonical object and schedules cleanup of its derived variants.
	Remove(ctx context.Context, bucket, key string) error

	// CopyBatch applies Copy per request. Each item fails independently;
	// the joined error reports all failures.
	CopyBatch(ctx context.Context, requests []CopyRequest) error

	// RemoveBatch applies Remove per key with the same best-effort
	// semantics as CopyBatch.
	RemoveBatch(ctx context.Context, bucket string, keys []string) error
}

// RefCounter implements RefCountManager on top of the blob store's object
// tags. The read-modify-write of a canonical object's refs tag is guarded by
// a per-canonical-path mutex, so concurrent copies and removes of the same
// item cannot lose updates within one process.
type RefCounter struct {
	store repository.BlobStore
	queue repository.TaskQueue

	mu    sync.Mutex
	locks map[string]*canonicalLock
}

// canonicalLock guards one canonical object's tags. users counts lockers
// holding or waiting on the entry so it can be dropped from the table once
// the last one releases it.
type canonicalLock struct {
	mu    sync.Mutex
	users int
}

// Compile-time verification that RefCounter implements RefCountManager.
var _ RefCountManager = (*RefCounter)(nil)

// NewRefCounter creates a new RefCounter.
func NewRefCounter(store repository.BlobStore, queue repository.TaskQueue) *RefCounter {
	return &RefCounter{
		store: store,
		queue: queue,
		locks: make(map[string]*canonicalLock),
	}
}

// lockCanonical acquires the mutex guarding one canonical object's tags and
// returns its release func.
func (r *RefCounter) lockCanonical(canonical model.ObjectPath) func() {
	key := canonical.String()

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &canonicalLock{}
		r.locks[key] = l
	}
	l.users++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.users--
		if l.users == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

// Copy places a classified copy of source into targetBucket/key.
//
// The copy's bytes come from source. The canonical object is whatever the
// copy's source tag points at; a copy without one (the first copy of an
// untagged object) adopts source itself as canonical.
func (r *RefCounter) Copy(ctx context.Context, targetBucket, key string, source model.ObjectPath) error {
	if err := r.ensureBucket(ctx, targetBucket); err != nil {
		return err
	}

	if err := r.store.Copy(ctx, targetBucket, key, source); err != nil {
		return fmt.Errorf("copy %s to %s/%s: %w", source, targetBucket, key, err)
	}

	// The server-side copy carried the source object's tags along. Resolve
	// the canonical path from them, then strip the canonical-only tags so
	// the copy never masquerades as a canonical object.
	copyTags, err := r.store.GetObjectTags(ctx, targetBucket, key)
	if err != nil {
		return fmt.Errorf("read tags of copy %s/%s: %w", targetBucket, key, err)
	}

	canonical, err := copyTags.Source()
	if errors.Is(err, model.ErrTagMissing) {
		canonical = source
	} else if err != nil {
		return fmt.Errorf("resolve canonical of %s/%s: %w", targetBucket, key, err)
	}

	copyTags.SetSource(canonical)
	delete(copyTags, model.TagRefs)
	delete(copyTags, model.TagMini)
	if err := r.store.SetObjectTags(ctx, targetBucket, key, copyTags); err != nil {
		return fmt.Errorf("tag copy %s/%s: %w", targetBucket, key, err)
	}

	copyPath := model.ObjectPath{Bucket: targetBucket, Key: key}

	unlock := r.lockCanonical(canonical)
	defer unlock()

	canonicalTags, err := r.store.GetObjectTags(ctx, canonical.Bucket, canonical.Key)
	if err != nil {
		return fmt.Errorf("read tags of canonical %s: %w", canonical, err)
	}

	refs := canonicalTags.Refs()
	if !refs.Add(copyPath) {
		// Already referenced; the copy was repeated.
		return nil
	}
	canonicalTags.SetRefs(refs)

	if err := r.store.SetObjectTags(ctx, canonical.Bucket, canonical.Key, canonicalTags); err != nil {
		return fmt.Errorf("update refs of canonical %s: %w", canonical, err)
	}
	return nil
}

// Remove deletes the classified copy at bucket/key, dropping its entry from
// the canonical object's ref set. When the set empties, the canonical object
// is deleted and a cleanup task reclaims its derived variants. An object
// without a source tag is deleted directly (it never entered the scheme).
func (r *RefCounter) Remove(ctx context.Context, bucket, key string) error {
	copyTags, err := r.store.GetObjectTags(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("read tags of %s/%s: %w", bucket, key, err)
	}

	canonical, err := copyTags.Source()
	if errors.Is(err, model.ErrTagMissing) {
		return r.removeObject(ctx, bucket, key)
	}
	if err != nil {
		return fmt.Errorf("resolve canonical of %s/%s: %w", bucket, key, err)
	}

	copyPath := model.ObjectPath{Bucket: bucket, Key: key}

	if err := r.release(ctx, canonical, copyPath); err != nil {
		return err
	}

	return r.removeObject(ctx, bucket, key)
}

// release drops copyPath from canonical's ref set under the canonical lock,
// deleting the canonical object once the set is empty.
func (r *RefCounter) release(ctx context.Context, canonical, copyPath model.ObjectPath) error {
	unlock := r.lockCanonical(canonical)
	defer unlock()

	canonicalTags, err := r.store.GetObjectTags(ctx, canonical.Bucket, canonical.Key)
	if errors.Is(err, repository.ErrObjectNotFound) {
		// Canonical already reclaimed; nothing to release.
		return nil
	}
	if err != nil {
		return fmt.Errorf("read tags of canonical %s: %w", canonical, err)
	}

	refs := canonicalTags.Refs()
	if !refs.Remove(copyPath) {
		slog.Warn("copy not present in canonical ref set",
			slog.String("canonical", canonical.String()),
			slog.String("copy", copyPath.String()),
		)
	}

	if !refs.Empty() {
		canonicalTags.SetRefs(refs)
		if err := r.store.SetObjectTags(ctx, canonical.Bucket, canonical.Key, canonicalTags); err != nil {
			return fmt.Errorf("update refs of canonical %s: %w", canonical, err)
		}
		return nil
	}

	// Last reference gone: reclaim the canonical object and schedule its
	// derived variants for cleanup.
	if err := r.store.Remove(ctx, canonical.Bucket, canonical.Key); err != nil {
		return fmt.Errorf("delete canonical %s: %w", canonical, err)
	}

	basename := path.Base(canonical.Key)
	task := repository.Task{
		Stage:    repository.StageCleanup,
		Bucket:   canonical.Bucket,
		MinKey:   model.MinKey(basename),
		ThumbKey: model.ThumbKey(basename),
		Basename: basename,
	}
	if mini, ok := canonicalTags.Mini(); ok {
		task.MinKey = mini.Key
	}
	if err := r.queue.Publish(ctx, task, 0); err != nil {
		// The canonical object is already gone; orphaned variants are
		// preferable to failing the remove.
		slog.Error("failed to enqueue cleanup task",
			slog.String("canonical", canonical.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// CopyBatch applies Copy per request, collecting failures.
func (r *RefCounter) CopyBatch(ctx context.Context, requests []CopyRequest) error {
	var errs []error
	for _, req := range requests {
		if err := r.Copy(ctx, req.TargetBucket, req.Key, req.Source); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", req.TargetBucket, req.Key, err))
		}
	}
	return errors.Join(errs...)
}

// RemoveBatch applies Remove per key, collecting failures.
func (r *RefCounter) RemoveBatch(ctx context.Context, bucket string, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := r.Remove(ctx, bucket, key); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", bucket, key, err))
		}
	}
	return errors.Join(errs...)
}

func (r *RefCounter) ensureBucket(ctx context.Context, bucket string) error {
	exists, err := r.store.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := r.store.MakeBucket(ctx, bucket); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}

func (r *RefCounter) removeObject(ctx context.Context, bucket, key string) error {
	if err := r.store.Remove(ctx, bucket, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}
