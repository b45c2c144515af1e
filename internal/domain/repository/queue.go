package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Stage names one unit of pipeline work.
type Stage string

const (
	StageCompress  Stage = "compress"
	StageThumbnail Stage = "thumbnail"
	StageRecognize Stage = "recognize"
	StageVideo     Stage = "video"
	StageCleanup   Stage = "cleanup"
)

func (s Stage) String() string { return string(s) }

// Task is one pipeline job message.
type Task struct {
	ID    uuid.UUID `json:"id"`
	Stage Stage     `json:"stage"`

	// Bucket is the intake bucket holding the source variant.
	Bucket string `json:"bucket"`
	// Key is the source variant key (source/<basename>).
	Key string `json:"key"`
	// MinKey is the compressed variant key (min/<basename>).
	MinKey string `json:"min_key,omitempty"`
	// ThumbKey is the thumbnail variant key (thumb/<basename>).
	ThumbKey string `json:"thumb_key,omitempty"`
	// Basename is the canonical basename shared by all variants.
	Basename string `json:"basename"`

	// LocalPath is the filesystem path of a synced file, kept so the
	// worker can delete it when RemoveSource is set.
	LocalPath    string `json:"local_path,omitempty"`
	RemoveSource bool   `json:"remove_source,omitempty"`

	// ReRecognition marks a manual re-triage pass.
	ReRecognition bool `json:"re_recognition,omitempty"`
}

// DeadTask wraps a task that permanently failed, for operator visibility.
type DeadTask struct {
	Task     Task      `json:"task"`
	Stage    Stage     `json:"stage"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// TaskQueue defines the interface for the durable pipeline queue.
// Implementations should be provided by the infrastructure layer (e.g. RabbitMQ).
type TaskQueue interface {
	// Publish enqueues a task. A non-zero delay defers delivery by at
	// least that duration.
	Publish(ctx context.Context, task Task, delay time.Duration) error

	// PublishDead records a permanently failed task on the dead-letter
	// queue. Dead tasks are never redelivered to workers.
	PublishDead(ctx context.Context, dead DeadTask) error

	// Consume delivers tasks to handler until ctx is cancelled. A handler
	// error does not requeue the task; failure handling is the handler's
	// responsibility.
	Consume(ctx context.Context, handler func(task Task) error) error

	// Close gracefully closes the connection to the queue.
	Close() error
}
