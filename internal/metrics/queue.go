// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/autobrr/grabd/internal/services/tracking"
)

// QueueSource is satisfied by tracking.Service.
type QueueSource interface {
	List() []tracking.TrackedDownload
}

type QueueCollector struct {
	queue QueueSource

	trackedDesc *prometheus.Desc
	retriesDesc *prometheus.Desc
	errorsDesc  *prometheus.Desc
}

func NewQueueCollector(queue QueueSource) *QueueCollector {
	return &QueueCollector{
		queue: queue,

		trackedDesc: prometheus.NewDesc(
			"grabd_tracked_downloads",
			"Number of tracked downloads by client and state",
			[]string{"client", "state"},
			nil,
		),
		retriesDesc: prometheus.NewDesc(
			"grabd_tracked_download_retries",
			"Sum of retries issued for currently tracked downloads by client",
			[]string{"client"},
			nil,
		),
		errorsDesc: prometheus.NewDesc(
			"grabd_tracked_downloads_with_warnings",
			"Number of tracked downloads whose status message is a warning or error",
			[]string{"client"},
			nil,
		),
	}
}

func (c *QueueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.trackedDesc
	ch <- c.retriesDesc
	ch <- c.errorsDesc
}

func (c *QueueCollector) Collect(ch chan<- prometheus.Metric) {
	if c.queue == nil {
		return
	}

	type stateKey struct {
		client string
		state  tracking.State
	}
	states := make(map[stateKey]int)
	retries := make(map[string]int)
	warnings := make(map[string]int)

	for _, td := range c.queue.List() {
		states[stateKey{td.DownloadClient, td.State}]++
		retries[td.DownloadClient] += td.RetryCount
		if td.HasError {
			warnings[td.DownloadClient]++
		}
	}

	for key, n := range states {
		ch <- prometheus.MustNewConstMetric(c.trackedDesc, prometheus.GaugeValue, float64(n), key.client, key.state.String())
	}
	for client, n := range retries {
		ch <- prometheus.MustNewConstMetric(c.retriesDesc, prometheus.GaugeValue, float64(n), client)
		ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.GaugeValue, float64(warnings[client]), client)
	}
}
