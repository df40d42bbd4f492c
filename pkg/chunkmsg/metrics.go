// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package chunkmsg

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chunkmsg"

// metrics of a single Engine.
type metrics struct {
	framesSent     *prometheus.CounterVec
	framesReceived *prometheus.CounterVec
	framesInvalid  prometheus.Counter

	messagesSent       prometheus.Counter
	messagesDelivered  prometheus.Counter
	transfersExpired   prometheus.Counter
	transfersAbandoned prometheus.Counter
	needRetries        prometheus.Counter

	haves prometheus.GaugeFunc
	needs prometheus.GaugeFunc
}

func newMetrics(e *Engine) *metrics {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}

	return &metrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_sent_total",
			Help:      "Frames handed to the transport, by frame type.",
		}, []string{"type"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Valid frames read from the transport, by frame type.",
		}, []string{"type"}),
		framesInvalid: counter("frames_invalid_total", "Unparsable frames which were dropped."),

		messagesSent:       counter("messages_sent_total", "Messages offered for transmission."),
		messagesDelivered:  counter("messages_delivered_total", "Reassembled messages delivered to the application."),
		transfersExpired:   counter("transfers_expired_total", "Outgoing messages removed after their TTL."),
		transfersAbandoned: counter("transfers_abandoned_total", "Incomplete incoming messages discarded after their TTL."),
		needRetries:        counter("need_retries_total", "NEED frames re-sent for stalled incoming messages."),

		haves: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "outgoing_messages",
			Help:      "Outgoing messages currently offered.",
		}, func() float64 { return float64(e.Stats().Haves) }),
		needs: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "incoming_messages",
			Help:      "Incoming messages currently being reassembled.",
		}, func() float64 { return float64(e.Stats().Needs) }),
	}
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.framesSent, m.framesReceived, m.framesInvalid,
		m.messagesSent, m.messagesDelivered, m.transfersExpired, m.transfersAbandoned, m.needRetries,
		m.haves, m.needs,
	}
}

// register all collectors, stopping at the first failure.
func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
