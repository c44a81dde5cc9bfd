// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package system

import (
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Info contains atomic counters and values for various broker statistics
// published on the $SYS/broker destinations.
type Info struct {
	Version             string `json:"version"`              // the current version of the server
	Started             int64  `json:"started"`              // the time the server started in unix seconds
	Time                int64  `json:"time"`                 // current time on the server
	Uptime              int64  `json:"uptime"`               // the number of seconds the server has been online
	BytesReceived       int64  `json:"bytes_received"`       // total number of bytes received since the broker started
	BytesSent           int64  `json:"bytes_sent"`           // total number of bytes sent since the broker started
	ClientsConnected    int64  `json:"clients_connected"`    // number of currently connected sessions
	ClientsDisconnected int64  `json:"clients_disconnected"` // total number of sessions which have ended
	ClientsMaximum      int64  `json:"clients_maximum"`      // maximum number of sessions connected at once
	ClientsTotal        int64  `json:"clients_total"`        // total number of sessions accepted
	MessagesReceived    int64  `json:"messages_received"`    // total number of SEND frames routed
	MessagesSent        int64  `json:"messages_sent"`        // total number of MESSAGE frames delivered
	MessagesDropped     int64  `json:"messages_dropped"`     // total number of MESSAGE frames dropped to a full delivery queue
	Subscriptions       int64  `json:"subscriptions"`        // number of subscriptions active on the broker
	Transactions        int64  `json:"transactions"`         // number of open transactions
	FramesReceived      int64  `json:"frames_received"`      // total number of frames of any command received
	FramesSent          int64  `json:"frames_sent"`          // total number of frames of any command sent
	ProtocolErrors      int64  `json:"protocol_errors"`      // total number of sessions rejected with an ERROR frame
	MemoryAlloc         int64  `json:"memory_alloc"`         // memory currently allocated
	Threads             int64  `json:"threads"`              // number of active goroutines, named as threads for platform ambiguity
}

// Clone makes a copy of Info using atomic operation
func (i *Info) Clone() *Info {
	return &Info{
		Version:             i.Version,
		Started:             atomic.LoadInt64(&i.Started),
		Time:                atomic.LoadInt64(&i.Time),
		Uptime:              atomic.LoadInt64(&i.Uptime),
		BytesReceived:       atomic.LoadInt64(&i.BytesReceived),
		BytesSent:           atomic.LoadInt64(&i.BytesSent),
		ClientsConnected:    atomic.LoadInt64(&i.ClientsConnected),
		ClientsDisconnected: atomic.LoadInt64(&i.ClientsDisconnected),
		ClientsMaximum:      atomic.LoadInt64(&i.ClientsMaximum),
		ClientsTotal:        atomic.LoadInt64(&i.ClientsTotal),
		MessagesReceived:    atomic.LoadInt64(&i.MessagesReceived),
		MessagesSent:        atomic.LoadInt64(&i.MessagesSent),
		MessagesDropped:     atomic.LoadInt64(&i.MessagesDropped),
		Subscriptions:       atomic.LoadInt64(&i.Subscriptions),
		Transactions:        atomic.LoadInt64(&i.Transactions),
		FramesReceived:      atomic.LoadInt64(&i.FramesReceived),
		FramesSent:          atomic.LoadInt64(&i.FramesSent),
		ProtocolErrors:      atomic.LoadInt64(&i.ProtocolErrors),
		MemoryAlloc:         atomic.LoadInt64(&i.MemoryAlloc),
		Threads:             atomic.LoadInt64(&i.Threads),
	}
}

// RegisterPrometheusMetrics registers counter and gauge functions reading the
// values of i. A nil registry uses the prometheus default registerer.
func (i *Info) RegisterPrometheusMetrics(registry prometheus.Registerer) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	type metrics struct {
		metricType string
		name       string
		help       string
		value      *int64
	}

	metricsList := []metrics{
		{"c", "bytes_received", "A count of total number of bytes received", &i.BytesReceived},
		{"c", "bytes_sent", "A counter total number of bytes sent", &i.BytesSent},
		{"g", "clients_connected", "A gauge of number of currently connected sessions", &i.ClientsConnected},
		{"c", "clients_disconnected", "A counter of sessions which have ended", &i.ClientsDisconnected},
		{"g", "clients_maximum", "A gauge of maximum number of sessions connected at once", &i.ClientsMaximum},
		{"c", "clients_total", "A counter of sessions accepted", &i.ClientsTotal},
		{"c", "messages_received", "A counter of total number of SEND frames routed", &i.MessagesReceived},
		{"c", "messages_sent", "A counter of total number of MESSAGE frames delivered", &i.MessagesSent},
		{"c", "messages_dropped", "A counter of MESSAGE frames dropped to a full delivery queue", &i.MessagesDropped},
		{"g", "subscriptions", "A gauge of total number of subscriptions active on the broker", &i.Subscriptions},
		{"g", "transactions", "A gauge of open transactions", &i.Transactions},
		{"c", "frames_received", "A counter of the total number of frames received", &i.FramesReceived},
		{"c", "frames_sent", "A counter of the total number of frames sent", &i.FramesSent},
		{"c", "protocol_errors", "A counter of sessions rejected with an ERROR frame", &i.ProtocolErrors},
	}

	for _, m := range metricsList {
		m := m
		fn := func() float64 {
			return float64(atomic.LoadInt64(m.value))
		}

		switch m.metricType {
		case "c":
			registry.MustRegister(
				prometheus.NewCounterFunc(
					prometheus.CounterOpts{
						Namespace: "stomp",
						Name:      m.name,
						Help:      m.help,
					},
					fn,
				),
			)
		case "g":
			registry.MustRegister(
				prometheus.NewGaugeFunc(
					prometheus.GaugeOpts{
						Namespace: "stomp",
						Name:      m.name,
						Help:      m.help,
					},
					fn,
				),
			)
		}
	}

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stomp",
			Name:      "build_info",
			Help:      "Build Information",
		},
		[]string{"goversion", "version"},
	)
	registry.MustRegister(buildInfo)
	buildInfo.With(prometheus.Labels{"goversion": runtime.Version(), "version": i.Version}).Set(1)
}
