package repository

import (
	"context"
	"io"
	"time"

	"github.com/hszk-dev/photoflow/internal/domain/model"
)

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BucketInfo describes one bucket.
type BucketInfo struct {
	Name      string
	CreatedAt time.Time
}

// BlobStore defines the interface for bucket and object operations.
// Implementations should be provided by the infrastructure layer (e.g. MinIO).
type BlobStore interface {
	// BucketExists reports whether the named bucket exists.
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// MakeBucket creates a bucket. Creating an existing bucket is an error.
	MakeBucket(ctx context.Context, bucket string) error

	// ListBuckets returns all buckets.
	ListBuckets(ctx context.Context) ([]BucketInfo, error)

	// ListObjects returns the objects under prefix in one finite slice.
	// Each call performs a fresh listing.
	ListObjects(ctx context.Context, bucket, prefix string, recursive bool) ([]ObjectInfo, error)

	// Put stores an object.
	Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error

	// Get retrieves an object. Caller closes the returned ReadCloser.
	// Returns ErrObjectNotFound if the object does not exist.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// Stat returns object metadata without retrieving the body.
	// Returns ErrObjectNotFound if the object does not exist.
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)

	// Copy performs a server-side copy of src into bucket/key.
	Copy(ctx context.Context, bucket, key string, src model.ObjectPath) error

	// Remove deletes an object. Removing an absent object is not an error.
	Remove(ctx context.Context, bucket, key string) error

	// GetObjectTags returns the tag set attached to an object.
	GetObjectTags(ctx context.Context, bucket, key string) (model.Tags, error)

	// SetObjectTags replaces the tag set attached to an object.
	SetObjectTags(ctx context.Context, bucket, key string, tags model.Tags) error

	// GetBucketTags returns the tag set attached to a bucket. A bucket
	// without tags yields an empty set.
	GetBucketTags(ctx context.Context, bucket string) (model.Tags, error)

	// SetBucketTags replaces the tag set attached to a bucket.
	SetBucketTags(ctx context.Context, bucket string, tags model.Tags) error
}
