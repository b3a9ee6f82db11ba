package authgate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one gateway counter.
type MetricID uint16

const (
	// MetricDispatched counts every outbound call, replays included.
	MetricDispatched MetricID = iota
	// MetricTransportFailure counts calls that produced no usable response.
	MetricTransportFailure
	// MetricUnauthorized counts 401 responses.
	MetricUnauthorized
	// MetricPassthroughFailure counts non-2xx responses other than 401.
	MetricPassthroughFailure
	// MetricExcludedUnauthorized counts 401s from excluded paths returned without a refresh.
	MetricExcludedUnauthorized
	// MetricRetryExhausted counts 401s on replayed requests.
	MetricRetryExhausted
	// MetricReplayed counts requests replayed after a refresh.
	MetricReplayed
	// MetricStaleTokenReplay counts replays that skipped a refresh because a newer token was already stored.
	MetricStaleTokenReplay
	// MetricRefreshStarted counts refresh episodes.
	MetricRefreshStarted
	// MetricRefreshJoined counts callers that joined an episode already in flight.
	MetricRefreshJoined
	// MetricRefreshSuccess counts episodes that stored a new pair.
	MetricRefreshSuccess
	// MetricRefreshFailure counts episodes that ended in termination.
	MetricRefreshFailure
	// MetricQueueRejected counts callers turned away by the wait-queue bound.
	MetricQueueRejected
	// MetricSessionTerminated counts terminations that cleared a stored session.
	MetricSessionTerminated
	// MetricLoginSuccess counts sessions adopted from login, activation, reset or redirect.
	MetricLoginSuccess
	// MetricLoginFailure counts rejected login attempts.
	MetricLoginFailure
	// MetricLogout counts explicit logouts.
	MetricLogout
	// MetricSessionRestored counts successful restores at startup.
	MetricSessionRestored
	// MetricLoginThrottled counts logins refused locally by the failed-attempt throttle.
	MetricLoginThrottled
	// MetricDispatchLatency is the only histogram: latency of each outbound call.
	MetricDispatchLatency
	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricDispatched:           "dispatched",
	MetricTransportFailure:     "transport_failure",
	MetricUnauthorized:         "unauthorized",
	MetricPassthroughFailure:   "passthrough_failure",
	MetricExcludedUnauthorized: "excluded_unauthorized",
	MetricRetryExhausted:       "retry_exhausted",
	MetricReplayed:             "replayed",
	MetricStaleTokenReplay:     "stale_token_replay",
	MetricRefreshStarted:       "refresh_started",
	MetricRefreshJoined:        "refresh_joined",
	MetricRefreshSuccess:       "refresh_success",
	MetricRefreshFailure:       "refresh_failure",
	MetricQueueRejected:        "queue_rejected",
	MetricSessionTerminated:    "session_terminated",
	MetricLoginSuccess:         "login_success",
	MetricLoginFailure:         "login_failure",
	MetricLogout:               "logout",
	MetricSessionRestored:      "session_restored",
	MetricLoginThrottled:       "login_throttled",
	MetricDispatchLatency:      "dispatch_latency",
}

// String returns the snake_case metric name.
func (id MetricID) String() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns a counter set. With cfg.Enabled false every call is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the dispatch latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the latency histogram. Only MetricDispatchLatency is accepted;
// other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricDispatchLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count for id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies the current counters. It is safe to call while requests run.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricDispatchLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricDispatchLatency].buckets[i])
		}
		s.Histograms[MetricDispatchLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
