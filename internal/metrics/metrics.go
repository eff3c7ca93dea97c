// Package metrics defines the simulation counters SPEC_FULL.md §4.12
// names — events processed, packets dropped, retransmits, bytes
// delivered — as prometheus client_golang metrics, served on an optional
// debug HTTP endpoint.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EventsProcessed counts events popped off any host's queue.
	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shadow_events_processed_total",
			Help: "Total number of events popped from host queues.",
		},
	)

	// PacketsDropped counts packets dropped by the router (reliability
	// roll or interface queue overflow), per spec.md §4.6.
	PacketsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadow_packets_dropped_total",
			Help: "Total number of packets dropped before delivery.",
		}, []string{"reason"})

	// Retransmits counts TCP retransmissions, by trigger.
	Retransmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadow_tcp_retransmits_total",
			Help: "Total number of TCP segment retransmissions.",
		}, []string{"trigger"})

	// BytesDelivered counts payload bytes handed to a receiving socket's
	// buffer, by protocol.
	BytesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shadow_bytes_delivered_total",
			Help: "Total payload bytes delivered to receive buffers.",
		}, []string{"proto"})

	// HostQueueDepth tracks each host's current event-queue length.
	HostQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shadow_host_queue_depth",
			Help: "Current number of pending events on a host's queue.",
		}, []string{"host"})
)

// Server serves the optional debug metrics endpoint SPEC_FULL.md's
// --metrics-addr flag wires up.
type Server struct {
	http *http.Server
}

// NewServer binds a metrics HTTP server to addr; it does not start
// listening until Serve is called.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{http: &http.Server{Addr: addr, Handler: mux}}
}

// Serve blocks until ctx is canceled or the server fails, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics: serve: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.http.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
