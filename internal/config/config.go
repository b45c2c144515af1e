package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server     ServerConfig
	Worker     WorkerConfig
	MinIO      MinIOConfig
	RabbitMQ   RabbitMQConfig
	Redis      RedisConfig
	CompreFace CompreFaceConfig
	Pipeline   PipelineConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
	// MaxUploadBytes caps multipart upload size.
	MaxUploadBytes int64 `envconfig:"API_MAX_UPLOAD_BYTES" default:"102400000"`
}

type WorkerConfig struct {
	TempDir         string        `envconfig:"WORKER_TEMP_DIR" default:"/tmp/photoflow"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type MinIOConfig struct {
	Endpoint  string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	UseSSL    bool   `envconfig:"MINIO_USE_SSL" default:"false"`
	Region    string `envconfig:"MINIO_REGION" default:"cn-north-1"`
}

type RabbitMQConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"photoflow"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"photoflow"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type CompreFaceConfig struct {
	URL    string `envconfig:"COMPREFACE_URL" default:"http://localhost"`
	Port   int    `envconfig:"COMPREFACE_PORT" default:"8000"`
	APIKey string `envconfig:"COMPREFACE_KEY" default:""`
}

func (c CompreFaceConfig) BaseURL() string {
	return fmt.Sprintf("%s:%d", c.URL, c.Port)
}

type PipelineConfig struct {
	// BucketPrefix namespaces the group buckets (e.g. ms-nogroup, ms-alice).
	BucketPrefix string `envconfig:"PIPELINE_BUCKET_PREFIX" default:"ms"`
	// CompressThreshold is the minimum source size in bytes that triggers
	// real compression; smaller objects are copied as-is.
	CompressThreshold int64 `envconfig:"PIPELINE_COMPRESS_THRESHOLD" default:"1000000"`
	// ThumbnailSize is the bounding box edge for thumbnails in pixels.
	ThumbnailSize int `envconfig:"PIPELINE_THUMBNAIL_SIZE" default:"320"`
	// RecognizeDelay defers the recognize stage after thumbnailing.
	RecognizeDelay time.Duration `envconfig:"PIPELINE_RECOGNIZE_DELAY" default:"10s"`
	// DetectionProbability is the minimum box probability counted as a face.
	DetectionProbability float64 `envconfig:"PIPELINE_DETECTION_PROBABILITY" default:"0.9"`
	// ConfidenceThreshold is the minimum similarity for a confident match.
	ConfidenceThreshold float64 `envconfig:"PIPELINE_CONFIDENCE_THRESHOLD" default:"0.95"`
	// VideoFrameCount is the number of evenly spaced frames sampled per video.
	VideoFrameCount int `envconfig:"PIPELINE_VIDEO_FRAME_COUNT" default:"5"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
