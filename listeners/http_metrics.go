// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package listeners

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mochi-mqtt/stomp/system"
)

// HTTPMetrics is a listener serving the server stats in the prometheus exposition
// format on /metrics.
type HTTPMetrics struct {
	sync.RWMutex
	id       string               // the internal id of the listener
	address  string               // the network address to bind to
	config   *Config              // configuration values for the listener
	listen   *http.Server         // the http server
	sysInfo  *system.Info         // pointers to the server data
	registry *prometheus.Registry // the registry holding the stats collectors
	end      uint32               // ensure the close methods are only called once
}

// NewHTTPMetrics initialises and returns a new prometheus metrics listener.
func NewHTTPMetrics(config Config, sysInfo *system.Info) *HTTPMetrics {
	return &HTTPMetrics{
		id:      config.ID,
		address: config.Address,
		config:  &config,
		sysInfo: sysInfo,
	}
}

// ID returns the id of the listener.
func (l *HTTPMetrics) ID() string {
	return l.id
}

// Address returns the address of the listener.
func (l *HTTPMetrics) Address() string {
	return l.address
}

// Protocol returns the address of the listener.
func (l *HTTPMetrics) Protocol() string {
	if l.listen != nil && l.listen.TLSConfig != nil {
		return "https"
	}

	return "http"
}

// Init registers the stats collectors on a dedicated registry and prepares the server.
func (l *HTTPMetrics) Init(_ *slog.Logger) error {
	l.registry = prometheus.NewRegistry()
	l.sysInfo.RegisterPrometheusMetrics(l.registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(l.registry, promhttp.HandlerOpts{}))
	l.listen = &http.Server{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Addr:         l.address,
		Handler:      mux,
		TLSConfig:    l.config.TLSConfig,
	}

	return nil
}

// Serve starts listening for new connections and serving responses.
func (l *HTTPMetrics) Serve(establish EstablishFn) {
	if l.listen.TLSConfig != nil {
		_ = l.listen.ListenAndServeTLS("", "")
	} else {
		_ = l.listen.ListenAndServe()
	}
}

// Close closes the listener.
func (l *HTTPMetrics) Close(closeClients CloseFn) {
	l.Lock()
	defer l.Unlock()

	if atomic.CompareAndSwapUint32(&l.end, 0, 1) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.listen.Shutdown(ctx)
	}

	closeClients(l.id)
}
