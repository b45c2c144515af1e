package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/domain/repository"
	"github.com/hszk-dev/photoflow/internal/infrastructure/cache"
	"github.com/hszk-dev/photoflow/internal/infrastructure/metrics"
)

// AlbumConfig holds configuration for AlbumService.
type AlbumConfig struct {
	Buckets model.Buckets
	// CacheTTL bounds listing staleness. Zero keeps the listing until the
	// next explicit refresh.
	CacheTTL time.Duration
}

// AlbumService serves the browse surface: the cached bucket+object listing
// and the curation operations that act on it.
type AlbumService interface {
	// Listing returns the cached listing, rebuilding it on a miss.
	Listing(ctx context.Context) (*cache.Listing, error)

	// Refresh drops the cached listing and rebuilds it from storage.
	Refresh(ctx context.Context) (*cache.Listing, error)

	// Photos lists one bucket directly from storage, bypassing the cache.
	Photos(ctx context.Context, bucket string) ([]cache.Photo, error)

	// CreateBucket creates a group bucket under the configured prefix.
	CreateBucket(ctx context.Context, name string) error

	// Remove deletes one classified copy, releasing its reference.
	Remove(ctx context.Context, bucket, key string) error

	// RemoveBatch deletes classified copies with per-item failure isolation.
	RemoveBatch(ctx context.Context, bucket string, keys []string) error

	// Copy places a classified copy into a target bucket, acquiring a
	// reference on the canonical object.
	Copy(ctx context.Context, targetBucket, key string, source model.ObjectPath) error

	// ReRecognize re-enqueues recognition for every item in the
	// need-recognition bucket and returns the number of items enqueued.
	ReRecognize(ctx context.Context) (int, error)
}

type albumService struct {
	store   repository.BlobStore
	queue   repository.TaskQueue
	refs    RefCountManager
	listing cache.ListingCache
	config  AlbumConfig

	rebuild singleflight.Group
}

// NewAlbumService creates a new AlbumService.
func NewAlbumService(
	store repository.BlobStore,
	queue repository.TaskQueue,
	refs RefCountManager,
	listing cache.ListingCache,
	cfg AlbumConfig,
) AlbumService {
	return &albumService{
		store:   store,
		queue:   queue,
		refs:    refs,
		listing: listing,
		config:  cfg,
	}
}

func (s *albumService) Listing(ctx context.Context) (*cache.Listing, error) {
	cached, err := s.listing.Get(ctx)
	if err != nil {
		// A broken cache degrades to a direct rebuild.
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusError).Inc()
		slog.Warn("listing cache read failed", slog.String("error", err.Error()))
	} else if cached != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusHit).Inc()
		return cached, nil
	} else {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpGet, metrics.CacheStatusMiss).Inc()
	}

	return s.rebuildListing(ctx)
}

func (s *albumService) Refresh(ctx context.Context) (*cache.Listing, error) {
	if err := s.listing.Invalidate(ctx); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpInvalidate, metrics.CacheStatusError).Inc()
		return nil, fmt.Errorf("invalidate listing cache: %w", err)
	}
	metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpInvalidate, metrics.CacheStatusSuccess).Inc()
	return s.rebuildListing(ctx)
}

// rebuildListing scans storage and repopulates the cache. Concurrent callers
// share one scan.
func (s *albumService) rebuildListing(ctx context.Context) (*cache.Listing, error) {
	v, err, _ := s.rebuild.Do("listing", func() (any, error) {
		return s.scan(ctx)
	})
	if err != nil {
		return nil, err
	}
	listing := v.(*cache.Listing)

	if err := s.listing.Set(ctx, listing, s.config.CacheTTL); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusError).Inc()
		slog.Warn("listing cache write failed", slog.String("error", err.Error()))
	} else {
		metrics.CacheOperationsTotal.WithLabelValues(metrics.CacheOpSet, metrics.CacheStatusSuccess).Inc()
	}
	return listing, nil
}

func (s *albumService) scan(ctx context.Context) (*cache.Listing, error) {
	buckets, err := s.store.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	listing := &cache.Listing{RefreshedAt: time.Now().UTC()}
	for _, b := range buckets {
		if !s.owned(b.Name) {
			continue
		}
		album, err := s.scanBucket(ctx, b)
		if err != nil {
			return nil, fmt.Errorf("scan bucket %s: %w", b.Name, err)
		}
		listing.Albums = append(listing.Albums, album)
	}
	return listing, nil
}

func (s *albumService) scanBucket(ctx context.Context, b repository.BucketInfo) (cache.Album, error) {
	album := cache.Album{Name: b.Name, CreatedAt: b.CreatedAt}

	tags, err := s.store.GetBucketTags(ctx, b.Name)
	if err != nil {
		return cache.Album{}, fmt.Errorf("bucket tags: %w", err)
	}
	if len(tags) > 0 {
		album.Tags = tags
	}

	photos, err := s.Photos(ctx, b.Name)
	if err != nil {
		return cache.Album{}, err
	}
	album.Photos = photos
	return album, nil
}

func (s *albumService) Photos(ctx context.Context, bucket string) ([]cache.Photo, error) {
	objects, err := s.store.ListObjects(ctx, bucket, "", true)
	if err != nil {
		return nil, fmt.Errorf("list objects in %s: %w", bucket, err)
	}

	photos := make([]cache.Photo, 0, len(objects))
	for _, obj := range objects {
		photo := cache.Photo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		}
		// Only displayed variants carry tags worth fetching.
		if strings.HasPrefix(obj.Key, model.ThumbDir+"/") {
			tags, err := s.store.GetObjectTags(ctx, bucket, obj.Key)
			if err != nil {
				return nil, fmt.Errorf("object tags for %s/%s: %w", bucket, obj.Key, err)
			}
			if len(tags) > 0 {
				photo.Tags = tags
			}
		}
		photos = append(photos, photo)
	}
	return photos, nil
}

func (s *albumService) CreateBucket(ctx context.Context, name string) error {
	bucket := s.config.Buckets.Subject(name)
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

func (s *albumService) Remove(ctx context.Context, bucket, key string) error {
	return s.refs.Remove(ctx, bucket, key)
}

func (s *albumService) RemoveBatch(ctx context.Context, bucket string, keys []string) error {
	return s.refs.RemoveBatch(ctx, bucket, keys)
}

func (s *albumService) Copy(ctx context.Context, targetBucket, key string, source model.ObjectPath) error {
	return s.refs.Copy(ctx, targetBucket, key, source)
}

func (s *albumService) ReRecognize(ctx context.Context) (int, error) {
	bucket := s.config.Buckets.NeedRecognition()
	objects, err := s.store.ListObjects(ctx, bucket, model.ThumbDir+"/", true)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", bucket, err)
	}

	enqueued := 0
	for _, obj := range objects {
		basename := path.Base(obj.Key)
		task := repository.Task{
			ID:            uuid.New(),
			Stage:         repository.StageRecognize,
			Bucket:        bucket,
			ThumbKey:      obj.Key,
			MinKey:        model.MinKey(basename),
			Basename:      basename,
			ReRecognition: true,
		}
		if err := s.queue.Publish(ctx, task, 0); err != nil {
			return enqueued, fmt.Errorf("enqueue re-recognition for %s: %w", obj.Key, err)
		}
		enqueued++
	}
	return enqueued, nil
}

// owned reports whether a bucket belongs to this system's namespace.
func (s *albumService) owned(name string) bool {
	return name == model.OthersBucket || strings.HasPrefix(name, s.config.Buckets.Prefix+"-")
}
