package internaldefs

import (
	"github.com/MrEthical07/authgate"
)

// CounterDef binds a gateway counter to its exported name.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef binds a gateway histogram to its exported name.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: authgate.MetricDispatched, Name: "authgate_dispatched_total", Help: "Outbound calls, replays included."},
	{ID: authgate.MetricTransportFailure, Name: "authgate_transport_failure_total", Help: "Calls that produced no usable response."},
	{ID: authgate.MetricUnauthorized, Name: "authgate_unauthorized_total", Help: "401 responses received."},
	{ID: authgate.MetricPassthroughFailure, Name: "authgate_passthrough_failure_total", Help: "Non-2xx responses other than 401."},
	{ID: authgate.MetricExcludedUnauthorized, Name: "authgate_excluded_unauthorized_total", Help: "401s from excluded paths returned without a refresh."},
	{ID: authgate.MetricRetryExhausted, Name: "authgate_retry_exhausted_total", Help: "401s on already replayed requests."},
	{ID: authgate.MetricReplayed, Name: "authgate_replayed_total", Help: "Requests replayed after a refresh."},
	{ID: authgate.MetricStaleTokenReplay, Name: "authgate_stale_token_replay_total", Help: "Replays that found a newer token already stored."},
	{ID: authgate.MetricRefreshStarted, Name: "authgate_refresh_started_total", Help: "Refresh episodes started."},
	{ID: authgate.MetricRefreshJoined, Name: "authgate_refresh_joined_total", Help: "Callers that joined an episode in flight."},
	{ID: authgate.MetricRefreshSuccess, Name: "authgate_refresh_success_total", Help: "Refresh episodes that stored a new pair."},
	{ID: authgate.MetricRefreshFailure, Name: "authgate_refresh_failure_total", Help: "Refresh episodes that ended the session."},
	{ID: authgate.MetricQueueRejected, Name: "authgate_queue_rejected_total", Help: "Callers turned away by the wait-queue bound."},
	{ID: authgate.MetricSessionTerminated, Name: "authgate_session_terminated_total", Help: "Terminations that cleared a stored session."},
	{ID: authgate.MetricLoginSuccess, Name: "authgate_login_success_total", Help: "Sessions adopted from login, activation or redirect."},
	{ID: authgate.MetricLoginFailure, Name: "authgate_login_failure_total", Help: "Rejected login attempts."},
	{ID: authgate.MetricLogout, Name: "authgate_logout_total", Help: "Explicit logouts."},
	{ID: authgate.MetricSessionRestored, Name: "authgate_session_restored_total", Help: "Sessions restored from the backend."},
	{ID: authgate.MetricLoginThrottled, Name: "authgate_login_throttled_total", Help: "Logins refused by the local failed-attempt throttle."},
}

// HistogramDefs lists the exported histograms.
var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricDispatchLatency, Name: "authgate_dispatch_latency_seconds", Help: "Latency of each outbound call."},
}

// HistogramBounds holds the bucket upper bounds as rendered in the le label.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramUpperBounds holds the finite bucket bounds in seconds. The last bucket
// (+Inf) has no entry.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix holds name-safe forms of HistogramBounds.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding or truncating as needed.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals. The last element is
// the sample count.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
