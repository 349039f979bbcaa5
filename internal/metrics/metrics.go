// Package metrics exposes prometheus counters for the execution pipeline.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signalExecBot/internal/ports"
)

var (
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalexec_executions_total", Help: "Terminal outcomes of execute calls"},
		[]string{"outcome"},
	)
	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalexec_gateway_requests_total", Help: "Exchange requests by endpoint and result class"},
		[]string{"endpoint", "class"},
	)
	ReconcileActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signalexec_reconcile_actions_total", Help: "Corrections applied by the position reconciler"},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(ExecutionsTotal, GatewayRequestsTotal, ReconcileActionsTotal)
}

// Serve binds addr and serves /metrics in the background. A bind failure is returned;
// a later serve failure is logged. srv.Addr holds the bound address.
func Serve(addr string, logger ports.Logger) (*http.Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required for metrics endpoint", ports.ErrConfigurationError)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s failed: %w: %w", addr, ports.ErrConfigurationError, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), err, "Metrics endpoint stopped", map[string]interface{}{"addr": srv.Addr})
		}
	}()
	return srv, nil
}
