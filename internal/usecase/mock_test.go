package usecase

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/domain/repository"
	"github.com/hszk-dev/photoflow/internal/infrastructure/cache"
	"github.com/hszk-dev/photoflow/internal/mediaproc"
)

// memStore is an in-memory BlobStore with tag-copying semantics matching the
// real store: a server-side copy carries the source object's tags along.
type memStore struct {
	mu         sync.Mutex
	buckets    map[string]time.Time
	objects    map[string]*memObject
	bucketTags map[string]model.Tags

	putErr  error
	statErr error
}

type memObject struct {
	data        []byte
	contentType string
	tags        model.Tags
	modTime     time.Time
}

var _ repository.BlobStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		buckets:    make(map[string]time.Time),
		objects:    make(map[string]*memObject),
		bucketTags: make(map[string]model.Tags),
	}
}

func objKey(bucket, key string) string { return bucket + "/" + key }

// seed stores an object directly, creating the bucket as needed.
func (m *memStore) seed(bucket, key string, data []byte, tags model.Tags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = time.Now()
	}
	if tags == nil {
		tags = model.Tags{}
	}
	m.objects[objKey(bucket, key)] = &memObject{data: data, tags: tags.Clone(), modTime: time.Now()}
}

func (m *memStore) object(bucket, key string) *memObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[objKey(bucket, key)]
}

func (m *memStore) has(bucket, key string) bool {
	return m.object(bucket, key) != nil
}

func (m *memStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buckets[bucket]
	return ok, nil
}

func (m *memStore) MakeBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucket] = time.Now()
	return nil
}

func (m *memStore) ListBuckets(_ context.Context) ([]repository.BucketInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]repository.BucketInfo, 0, len(m.buckets))
	for name, created := range m.buckets {
		out = append(out, repository.BucketInfo{Name: name, CreatedAt: created})
	}
	return out, nil
}

func (m *memStore) ListObjects(_ context.Context, bucket, prefix string, _ bool) ([]repository.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.ObjectInfo
	for k, obj := range m.objects {
		b, key, ok := splitObjKey(k)
		if !ok || b != bucket {
			continue
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, repository.ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			ContentType:  obj.contentType,
			LastModified: obj.modTime,
		})
	}
	return out, nil
}

func splitObjKey(k string) (bucket, key string, ok bool) {
	for i := 0; i < len(k); i++ {
		if k[i] == '/' {
			return k[:i], k[i+1:], true
		}
	}
	return "", "", false
}

func (m *memStore) Put(_ context.Context, bucket, key string, reader io.Reader, _ int64, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objKey(bucket, key)] = &memObject{
		data:        data,
		contentType: contentType,
		tags:        model.Tags{},
		modTime:     time.Now(),
	}
	return nil
}

func (m *memStore) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	obj := m.object(bucket, key)
	if obj == nil {
		return nil, repository.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *memStore) Stat(_ context.Context, bucket, key string) (repository.ObjectInfo, error) {
	if m.statErr != nil {
		return repository.ObjectInfo{}, m.statErr
	}
	obj := m.object(bucket, key)
	if obj == nil {
		return repository.ObjectInfo{}, repository.ErrObjectNotFound
	}
	return repository.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ContentType:  obj.contentType,
		LastModified: obj.modTime,
	}, nil
}

func (m *memStore) Copy(_ context.Context, bucket, key string, src model.ObjectPath) error {
	srcObj := m.object(src.Bucket, src.Key)
	if srcObj == nil {
		return repository.ErrObjectNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objKey(bucket, key)] = &memObject{
		data:        append([]byte(nil), srcObj.data...),
		contentType: srcObj.contentType,
		tags:        srcObj.tags.Clone(),
		modTime:     time.Now(),
	}
	return nil
}

func (m *memStore) Remove(_ context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objKey(bucket, key))
	return nil
}

func (m *memStore) GetObjectTags(_ context.Context, bucket, key string) (model.Tags, error) {
	obj := m.object(bucket, key)
	if obj == nil {
		return nil, repository.ErrObjectNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return obj.tags.Clone(), nil
}

func (m *memStore) SetObjectTags(_ context.Context, bucket, key string, tags model.Tags) error {
	obj := m.object(bucket, key)
	if obj == nil {
		return repository.ErrObjectNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj.tags = tags.Clone()
	return nil
}

func (m *memStore) GetBucketTags(_ context.Context, bucket string) (model.Tags, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tags, ok := m.bucketTags[bucket]; ok {
		return tags.Clone(), nil
	}
	return model.Tags{}, nil
}

func (m *memStore) SetBucketTags(_ context.Context, bucket string, tags model.Tags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bucketTags[bucket] = tags.Clone()
	return nil
}

// mockQueue records published tasks.
type mockQueue struct {
	mu        sync.Mutex
	published []publishedTask
	dead      []repository.DeadTask

	publishFn func(task repository.Task, delay time.Duration) error
}

type publishedTask struct {
	task  repository.Task
	delay time.Duration
}

var _ repository.TaskQueue = (*mockQueue)(nil)

func (q *mockQueue) Publish(_ context.Context, task repository.Task, delay time.Duration) error {
	if q.publishFn != nil {
		if err := q.publishFn(task, delay); err != nil {
			return err
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, publishedTask{task: task, delay: delay})
	return nil
}

func (q *mockQueue) PublishDead(_ context.Context, dead repository.DeadTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, dead)
	return nil
}

func (q *mockQueue) Consume(_ context.Context, _ func(task repository.Task) error) error {
	return nil
}

func (q *mockQueue) Close() error { return nil }

func (q *mockQueue) tasks() []publishedTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]publishedTask, len(q.published))
	copy(out, q.published)
	return out
}

// mockRecognizer is a configurable FaceRecognizer.
type mockRecognizer struct {
	recognizeFn    func(r io.Reader) ([]model.Face, error)
	addSubjectFn   func(subject string) error
	addFaceFn      func(r io.Reader, subject string) error
	listSubjectsFn func() ([]string, error)
}

var _ repository.FaceRecognizer = (*mockRecognizer)(nil)

func (m *mockRecognizer) Recognize(_ context.Context, r io.Reader) ([]model.Face, error) {
	return m.recognizeFn(r)
}

func (m *mockRecognizer) AddSubject(_ context.Context, subject string) error {
	return m.addSubjectFn(subject)
}

func (m *mockRecognizer) AddFace(_ context.Context, r io.Reader, subject string) error {
	return m.addFaceFn(r, subject)
}

func (m *mockRecognizer) ListSubjects(_ context.Context) ([]string, error) {
	return m.listSubjectsFn()
}

// mockImages is a configurable ImageProcessor.
type mockImages struct {
	compressFn  func(r io.Reader, filename string) ([]byte, error)
	thumbnailFn func(r io.Reader, size int) (mediaproc.ThumbnailResult, error)
}

var _ mediaproc.ImageProcessor = (*mockImages)(nil)

func (m *mockImages) Compress(r io.Reader, filename string) ([]byte, error) {
	return m.compressFn(r, filename)
}

func (m *mockImages) Thumbnail(r io.Reader, size int) (mediaproc.ThumbnailResult, error) {
	return m.thumbnailFn(r, size)
}

// passthroughImages returns input bytes for compression and fixed-size
// thumbnail data, enough for tests that assert on flow rather than pixels.
func passthroughImages() *mockImages {
	return &mockImages{
		compressFn: func(r io.Reader, _ string) ([]byte, error) {
			return io.ReadAll(r)
		},
		thumbnailFn: func(r io.Reader, _ int) (mediaproc.ThumbnailResult, error) {
			data, err := io.ReadAll(r)
			if err != nil {
				return mediaproc.ThumbnailResult{}, err
			}
			return mediaproc.ThumbnailResult{Data: data, Width: 320, Height: 240}, nil
		},
	}
}

// mockFrames is a configurable FrameExtractor.
type mockFrames struct {
	extractFn func(inputPath, outputDir string, count int) ([]string, error)
}

var _ mediaproc.FrameExtractor = (*mockFrames)(nil)

func (m *mockFrames) ExtractFrames(_ context.Context, inputPath, outputDir string, count int) ([]string, error) {
	return m.extractFn(inputPath, outputDir, count)
}

// memCache is an in-memory ListingCache.
type memCache struct {
	mu      sync.Mutex
	listing *cache.Listing

	getErr error
}

var _ cache.ListingCache = (*memCache)(nil)

func (c *memCache) Get(_ context.Context) (*cache.Listing, error) {
	if c.getErr != nil {
		return nil, c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listing, nil
}

func (c *memCache) Set(_ context.Context, listing *cache.Listing, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listing = listing
	return nil
}

func (c *memCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listing = nil
	return nil
}
