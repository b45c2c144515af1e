package storage

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"

	"github.com/hszk-dev/photoflow/internal/domain/model"
	"github.com/hszk-dev/photoflow/internal/domain/repository"
)

// objectReader abstracts minio.Object for testability.
// *minio.Object satisfies this interface.
type objectReader interface {
	io.ReadCloser
	Stat() (minio.ObjectInfo, error)
}

// minioClient defines the interface for MinIO operations.
// This abstraction allows for easier unit testing with mocks.
type minioClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error)
	CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObjectTagging(ctx context.Context, bucketName, objectName string, opts minio.GetObjectTaggingOptions) (*tags.Tags, error)
	PutObjectTagging(ctx context.Context, bucketName, objectName string, otags *tags.Tags, opts minio.PutObjectTaggingOptions) error
	GetBucketTagging(ctx context.Context, bucketName string) (*tags.Tags, error)
	SetBucketTagging(ctx context.Context, bucketName string, t *tags.Tags) error
}

// minioClientAdapter wraps *minio.Client to implement minioClient.
// This is necessary because *minio.Client.GetObject returns *minio.Object,
// but our interface returns objectReader for testability.
type minioClientAdapter struct {
	client *minio.Client
}

func (a *minioClientAdapter) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return a.client.BucketExists(ctx, bucketName)
}

func (a *minioClientAdapter) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return a.client.MakeBucket(ctx, bucketName, opts)
}

func (a *minioClientAdapter) ListBuckets(ctx context.Context) ([]minio.BucketInfo, error) {
	return a.client.ListBuckets(ctx)
}

func (a *minioClientAdapter) ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	return a.client.ListObjects(ctx, bucketName, opts)
}

func (a *minioClientAdapter) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return a.client.PutObject(ctx, bucketName, objectName, reader, objectSize, opts)
}

func (a *minioClientAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
	return a.client.GetObject(ctx, bucketName, objectName, opts)
}

func (a *minioClientAdapter) CopyObject(ctx context.Context, dst minio.CopyDestOptions, src minio.CopySrcOptions) (minio.UploadInfo, error) {
	return a.client.CopyObject(ctx, dst, src)
}

func (a *minioClientAdapter) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	return a.client.RemoveObject(ctx, bucketName, objectName, opts)
}

func (a *minioClientAdapter) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return a.client.StatObject(ctx, bucketName, objectName, opts)
}

func (a *minioClientAdapter) GetObjectTagging(ctx context.Context, bucketName, objectName string, opts minio.GetObjectTaggingOptions) (*tags.Tags, error) {
	return a.client.GetObjectTagging(ctx, bucketName, objectName, opts)
}

func (a *minioClientAdapter) PutObjectTagging(ctx context.Context, bucketName, objectName string, otags *tags.Tags, opts minio.PutObjectTaggingOptions) error {
	return a.client.PutObjectTagging(ctx, bucketName, objectName, otags, opts)
}

func (a *minioClientAdapter) GetBucketTagging(ctx context.Context, bucketName string) (*tags.Tags, error) {
	return a.client.GetBucketTagging(ctx, bucketName)
}

func (a *minioClientAdapter) SetBucketTagging(ctx context.Context, bucketName string, t *tags.Tags) error {
	return a.client.SetBucketTagging(ctx, bucketName, t)
}

// ClientConfig holds configuration for the MinIO client.
type ClientConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// Client wraps a MinIO client and implements repository.BlobStore.
type Client struct {
	client minioClient
	region string
}

// Compile-time verification that Client implements repository.BlobStore.
var _ repository.BlobStore = (*Client)(nil)

// NewClient creates a new MinIO client.
func NewClient(cfg ClientConfig) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return newClientWithMinioClient(&minioClientAdapter{client: client}, cfg.Region), nil
}

// newClientWithMinioClient creates a Client with a given minioClient
// implementation. This is used for dependency injection in tests.
func newClientWithMinioClient(client minioClient, region string) *Client {
	return &Client{client: client, region: region}
}

// BucketExists reports whether the named bucket exists.
func (c *Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	return exists, nil
}

// MakeBucket creates a new bucket in the configured region.
func (c *Client) MakeBucket(ctx context.Context, bucket string) error {
	err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.region})
	if err != nil {
		return fmt.Errorf("failed to make bucket %s: %w", bucket, err)
	}
	return nil
}

// ListBuckets returns all buckets.
func (c *Client) ListBuckets(ctx context.Context) ([]repository.BucketInfo, error) {
	buckets, err := c.client.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}

	infos := make([]repository.BucketInfo, 0, len(buckets))
	for _, b := range buckets {
		infos = append(infos, repository.BucketInfo{
			Name:      b.Name,
			CreatedAt: b.CreationDate,
		})
	}
	return infos, nil
}

// ListObjects drains the listing into one finite slice per call.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string, recursive bool) ([]repository.ObjectInfo, error) {
	ch := c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	})

	var infos []repository.ObjectInfo
	for obj := range ch {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects in %s: %w", bucket, obj.Err)
		}
		infos = append(infos, repository.ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			ContentType:  obj.ContentType,
			LastModified: obj.LastModified,
		})
	}
	return infos, nil
}

// Put stores an object.
func (c *Client) Put(ctx context.Context, bucket, key string, reader io.Reader, size int64, contentType string) error {
	_, err := c.client.PutObject(ctx, bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

// Get retrieves an object.
// Caller is responsible for closing the returned ReadCloser.
func (c *Client) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	// Verify the object exists by checking its stat.
	// GetObject returns a lazy reader that doesn't fail until read.
	_, err = obj.Stat()
	if err != nil {
		_ = obj.Close() // Best effort close on error path
		if isNotFound(err) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	return obj, nil
}

// Stat returns object metadata.
func (c *Client) Stat(ctx context.Context, bucket, key string) (repository.ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return repository.ObjectInfo{}, repository.ErrObjectNotFound
		}
		return repository.ObjectInfo{}, fmt.Errorf("failed to stat object: %w", err)
	}
	return repository.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// Copy performs a server-side copy of src into bucket/key.
func (c *Client) Copy(ctx context.Context, bucket, key string, src model.ObjectPath) error {
	_, err := c.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: key},
		minio.CopySrcOptions{Bucket: src.Bucket, Object: src.Key},
	)
	if err != nil {
		if isNotFound(err) {
			return repository.ErrObjectNotFound
		}
		return fmt.Errorf("failed to copy %s to %s/%s: %w", src, bucket, key, err)
	}
	return nil
}

// Remove deletes an object. MinIO treats removing an absent object as success.
func (c *Client) Remove(ctx context.Context, bucket, key string) error {
	err := c.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// S3 tag values accept only letters, digits and `+-._:/@ =` with a 256-byte
// cap per value. The refs tag's comma-separated form is rewritten into that
// alphabet on write and restored on read: "=" escapes to "=e" and "," to
// "=c", both inside the permitted set. Values past the per-tag cap spill
// into numbered continuation tags (refs2, refs3, ...); reads reassemble the
// chunks before unescaping, so a chunk boundary may fall inside an escape
// sequence.
const (
	refsValueLimit = 256
	refsMaxChunks  = 8
)

func refsChunkKey(i int) string {
	if i == 0 {
		return model.TagRefs
	}
	return model.TagRefs + strconv.Itoa(i+1)
}

func encodeRefsTag(objectTags model.Tags) (model.Tags, error) {
	v, ok := objectTags[model.TagRefs]
	if !ok {
		return objectTags, nil
	}

	encoded := strings.ReplaceAll(v, "=", "=e")
	encoded = strings.ReplaceAll(encoded, ",", "=c")

	wire := objectTags.Clone()
	delete(wire, model.TagRefs)
	for i := 0; encoded != ""; i++ {
		if i == refsMaxChunks {
			return nil, fmt.Errorf("refs tag exceeds %d bytes over %d tags", refsValueLimit*refsMaxChunks, refsMaxChunks)
		}
		n := min(len(encoded), refsValueLimit)
		wire[refsChunkKey(i)] = encoded[:n]
		encoded = encoded[n:]
	}
	return wire, nil
}

func decodeRefsTag(objectTags model.Tags) model.Tags {
	if _, ok := objectTags[model.TagRefs]; !ok {
		return objectTags
	}

	var encoded strings.Builder
	for i := 0; ; i++ {
		chunk, ok := objectTags[refsChunkKey(i)]
		if !ok {
			break
		}
		encoded.WriteString(chunk)
		delete(objectTags, refsChunkKey(i))
	}

	decoded := strings.ReplaceAll(encoded.String(), "=c", ",")
	objectTags[model.TagRefs] = strings.ReplaceAll(decoded, "=e", "=")
	return objectTags
}

// GetObjectTags returns the tag set attached to an object.
func (c *Client) GetObjectTags(ctx context.Context, bucket, key string) (model.Tags, error) {
	t, err := c.client.GetObjectTagging(ctx, bucket, key, minio.GetObjectTaggingOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object tags: %w", err)
	}
	return decodeRefsTag(model.Tags(t.ToMap())), nil
}

// SetObjectTags replaces the tag set attached to an object.
func (c *Client) SetObjectTags(ctx context.Context, bucket, key string, objectTags model.Tags) error {
	wire, err := encodeRefsTag(objectTags)
	if err != nil {
		return fmt.Errorf("failed to encode refs tag: %w", err)
	}
	t, err := tags.NewTags(wire, true)
	if err != nil {
		return fmt.Errorf("failed to build object tags: %w", err)
	}
	if err := c.client.PutObjectTagging(ctx, bucket, key, t, minio.PutObjectTaggingOptions{}); err != nil {
		if isNotFound(err) {
			return repository.ErrObjectNotFound
		}
		return fmt.Errorf("failed to set object tags: %w", err)
	}
	return nil
}

// GetBucketTags returns the tag set attached to a bucket.
// A bucket without tags yields an empty set.
func (c *Client) GetBucketTags(ctx context.Context, bucket string) (model.Tags, error) {
	t, err := c.client.GetBucketTagging(ctx, bucket)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchTagSet" {
			return model.Tags{}, nil
		}
		if resp.Code == "NoSuchBucket" {
			return nil, repository.ErrBucketNotFound
		}
		return nil, fmt.Errorf("failed to get bucket tags: %w", err)
	}
	return model.Tags(t.ToMap()), nil
}

// SetBucketTags replaces the tag set attached to a bucket.
func (c *Client) SetBucketTags(ctx context.Context, bucket string, bucketTags model.Tags) error {
	t, err := tags.NewTags(bucketTags, false)
	if err != nil {
		return fmt.Errorf("failed to build bucket tags: %w", err)
	}
	if err := c.client.SetBucketTagging(ctx, bucket, t); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchBucket" {
			return repository.ErrBucketNotFound
		}
		return fmt.Errorf("failed to set bucket tags: %w", err)
	}
	return nil
}

// Ping verifies the MinIO connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("failed to ping minio: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}
