package server

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"

	"frame-server/message"
)

// Counters for the /metrics endpoint. The sink is whatever the embedding
// process exposes via metrics.WritePrometheus; the core only counts.
var (
	connectionsAccepted = metrics.NewCounter("frame_server_connections_accepted_total")
	acceptErrors        = metrics.NewCounter("frame_server_accept_errors_total")
	framesDecoded       = metrics.NewCounter("frame_server_frames_decoded_total")
	framesMalformed     = metrics.NewCounter("frame_server_frames_malformed_total")
	workerErrors        = metrics.NewCounter("frame_server_worker_errors_total")
)

// requestsDispatched returns the per-operation dispatch counter.
func requestsDispatched(op message.Op) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`frame_server_requests_dispatched_total{op=%q}`, op.String()))
}
