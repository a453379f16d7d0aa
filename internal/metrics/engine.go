// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/releases"
	"github.com/autobrr/grabd/internal/services/faileddownload"
)

const namespace = "grabd"

// EngineCollector counts what the decision pipeline, the grab path and the
// failed download handler did.
type EngineCollector struct {
	DecisionsTotal      *prometheus.CounterVec
	RejectionsTotal     *prometheus.CounterVec
	GrabsTotal          *prometheus.CounterVec
	DownloadFailedTotal *prometheus.CounterVec
	BlacklistedTotal    prometheus.Counter
}

func NewEngineCollector(r prometheus.Registerer) *EngineCollector {
	m := &EngineCollector{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "evaluated_total",
			Help:      "Total number of evaluated candidates by outcome",
		}, []string{"outcome"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "rejections_total",
			Help:      "Total number of rejections by the specification that failed first",
		}, []string{"specification"}),
		GrabsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "grabs_total",
			Help:      "Total number of releases sent to a download client",
		}, []string{"client", "protocol", "result"}),
		DownloadFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "failed_total",
			Help:      "Total number of downloads declared failed",
		}, []string{"client"}),
		BlacklistedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "blacklist",
			Name:      "entries_added_total",
			Help:      "Total number of releases added to the blacklist",
		}),
	}

	r.MustRegister(m.DecisionsTotal)
	r.MustRegister(m.RejectionsTotal)
	r.MustRegister(m.GrabsTotal)
	r.MustRegister(m.DownloadFailedTotal)
	r.MustRegister(m.BlacklistedTotal)
	return m
}

// ObserveDecision matches decision.Observer.
func (m *EngineCollector) ObserveDecision(_ *releases.RemoteEpisode, d decision.Decision, rejectedBy string) {
	switch {
	case d.Accepted():
		m.DecisionsTotal.WithLabelValues("accepted").Inc()
		return
	case d.TemporarilyRejected():
		m.DecisionsTotal.WithLabelValues("temporarily_rejected").Inc()
	default:
		m.DecisionsTotal.WithLabelValues("rejected").Inc()
	}
	if rejectedBy != "" {
		m.RejectionsTotal.WithLabelValues(rejectedBy).Inc()
	}
}

// ObserveGrab matches download.GrabObserver.
func (m *EngineCollector) ObserveGrab(client string, protocol releases.Protocol, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.GrabsTotal.WithLabelValues(client, string(protocol), result).Inc()
}

func (m *EngineCollector) ObserveDownloadFailed(event faileddownload.DownloadFailedEvent) {
	m.DownloadFailedTotal.WithLabelValues(event.DownloadClient).Inc()
}

func (m *EngineCollector) ObserveBlacklisted(faileddownload.DownloadFailedEvent) {
	m.BlacklistedTotal.Inc()
}
