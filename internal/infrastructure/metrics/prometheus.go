// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "photoflow"

var (
	// PipelineStageTotal tracks pipeline stage executions.
	// Labels:
	//   - stage: compress, thumbnail, recognize, video, cleanup
	//   - status: success, error
	PipelineStageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_total",
			Help:      "Total number of pipeline stage executions",
		},
		[]string{"stage", "status"},
	)

	// DeadTasksTotal tracks tasks routed to the dead-letter queue.
	DeadTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_tasks_total",
			Help:      "Total number of tasks published to the dead-letter queue",
		},
		[]string{"stage"},
	)

	// ClassificationsTotal tracks classification outcomes.
	// Labels:
	//   - outcome: subject, need_recognition, other
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of classification outcomes",
		},
		[]string{"outcome"},
	)

	// CacheOperationsTotal tracks listing cache operations.
	// Labels:
	//   - operation: get, set, invalidate
	//   - status: hit, miss, success, error
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of listing cache operations",
		},
		[]string{"operation", "status"},
	)
)

// Stage execution status constants.
const (
	StageStatusSuccess = "success"
	StageStatusError   = "error"
)

// Classification outcome constants.
const (
	OutcomeSubject         = "subject"
	OutcomeNeedRecognition = "need_recognition"
	OutcomeOther           = "other"
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet        = "get"
	CacheOpSet        = "set"
	CacheOpInvalidate = "invalidate"
)
