// Package metrics exposes the Prometheus scrape endpoint on its own
// listener so operational traffic never shares a port with the API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"selfcare/internal/platform/httpserver"
)

// NewServer returns an HTTP server serving /metrics on addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return httpserver.New(addr, mux)
}
