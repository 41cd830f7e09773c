// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil *Collector 上的所有 Record* 方法均为空操作。
type Collector struct {
	// 执行指标
	executionsTotal    *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	executionsInFlight prometheus.Gauge
	stateTransitions   *prometheus.CounterVec

	// Blob 存储指标
	blobPuts          *prometheus.CounterVec
	blobBytesStored   prometheus.Counter
	integrityFailures prometheus.Counter
	thumbnails        *prometheus.CounterVec

	// 血缘指标
	lineageEdges   *prometheus.CounterVec
	cyclesRejected prometheus.Counter

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 执行指标
	c.executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of entry executions by terminal status",
		},
		[]string{"entry_type", "status"},
	)

	c.executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Backend execution duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"entry_type"},
	)

	c.executionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Number of entries currently in the running state on this process",
		},
	)

	c.stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entry_state_transitions_total",
			Help:      "Total number of entry state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	// Blob 存储指标
	c.blobPuts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_puts_total",
			Help:      "Total number of blob store writes by result",
		},
		[]string{"result"}, // stored, deduplicated
	)

	c.blobBytesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_bytes_stored_total",
			Help:      "Total number of bytes physically written to the blob store",
		},
	)

	c.integrityFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_integrity_failures_total",
			Help:      "Total number of digest mismatches detected on read",
		},
	)

	c.thumbnails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnails_total",
			Help:      "Total number of thumbnail derivations by result",
		},
		[]string{"result"}, // created, skipped, failed
	)

	// 血缘指标
	c.lineageEdges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lineage_edges_total",
			Help:      "Total number of lineage edges recorded",
		},
		[]string{"relationship"},
	)

	c.cyclesRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lineage_cycles_rejected_total",
			Help:      "Total number of derives_from edges rejected because they would close a cycle",
		},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// ⚙️ 执行指标记录
// =============================================================================

// RecordExecution 记录一次执行的终态与耗时
func (c *Collector) RecordExecution(entryType, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.executionsTotal.WithLabelValues(entryType, status).Inc()
	c.executionDuration.WithLabelValues(entryType).Observe(duration.Seconds())
}

// ExecutionStarted 增加运行中计数
func (c *Collector) ExecutionStarted() {
	if c == nil {
		return
	}
	c.executionsInFlight.Inc()
}

// ExecutionFinished 减少运行中计数
func (c *Collector) ExecutionFinished() {
	if c == nil {
		return
	}
	c.executionsInFlight.Dec()
}

// RecordStateTransition 记录 Entry 状态转换
func (c *Collector) RecordStateTransition(fromState, toState string) {
	if c == nil {
		return
	}
	c.stateTransitions.WithLabelValues(fromState, toState).Inc()
}

// =============================================================================
// 💾 Blob 存储指标记录
// =============================================================================

// RecordBlobPut 记录一次写入；deduplicated 为 true 时不计入字节数
func (c *Collector) RecordBlobPut(deduplicated bool, size int64) {
	if c == nil {
		return
	}
	if deduplicated {
		c.blobPuts.WithLabelValues("deduplicated").Inc()
		return
	}
	c.blobPuts.WithLabelValues("stored").Inc()
	c.blobBytesStored.Add(float64(size))
}

// RecordIntegrityFailure 记录摘要校验失败
func (c *Collector) RecordIntegrityFailure() {
	if c == nil {
		return
	}
	c.integrityFailures.Inc()
}

// RecordThumbnail 记录缩略图生成结果
func (c *Collector) RecordThumbnail(result string) {
	if c == nil {
		return
	}
	c.thumbnails.WithLabelValues(result).Inc()
}

// =============================================================================
// 🧬 血缘指标记录
// =============================================================================

// RecordLineageEdge 记录新增血缘边
func (c *Collector) RecordLineageEdge(relationship string) {
	if c == nil {
		return
	}
	c.lineageEdges.WithLabelValues(relationship).Inc()
}

// RecordCycleRejected 记录被拒绝的成环边
func (c *Collector) RecordCycleRejected() {
	if c == nil {
		return
	}
	c.cyclesRejected.Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}
