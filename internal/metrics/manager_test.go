// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/grabd/internal/decision"
	"github.com/autobrr/grabd/internal/releases"
	"github.com/autobrr/grabd/internal/services/faileddownload"
	"github.com/autobrr/grabd/internal/services/tracking"
)

type staticQueue []tracking.TrackedDownload

func (q staticQueue) List() []tracking.TrackedDownload { return q }

func TestManager_GetRegistry(t *testing.T) {
	t.Parallel()

	manager := NewManager(nil)
	registry := manager.GetRegistry()
	require.NotNil(t, registry)
	assert.NotNil(t, manager.Engine())

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	foundGoMetrics := false
	foundProcessMetrics := false
	for _, mf := range metricFamilies {
		name := mf.GetName()
		if strings.HasPrefix(name, "go_") {
			foundGoMetrics = true
		}
		if strings.HasPrefix(name, "process_") {
			foundProcessMetrics = true
		}
	}

	assert.True(t, foundGoMetrics)
	if runtime.GOOS == "linux" {
		assert.True(t, foundProcessMetrics)
	}
}

func TestEngineCollector(t *testing.T) {
	t.Parallel()

	engine := NewEngineCollector(prometheus.NewRegistry())

	engine.ObserveDecision(nil, decision.Accept(), "")
	engine.ObserveDecision(nil, decision.Reject("Blacklisted"), "Blacklist")
	engine.ObserveDecision(nil, decision.RejectTemporarily("Already in queue"), "AlreadyInQueue")
	engine.ObserveDecision(nil, decision.Reject("Size"), "AcceptableSize")

	assert.InDelta(t, 1, testutil.ToFloat64(engine.DecisionsTotal.WithLabelValues("accepted")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(engine.DecisionsTotal.WithLabelValues("rejected")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(engine.DecisionsTotal.WithLabelValues("temporarily_rejected")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(engine.RejectionsTotal.WithLabelValues("Blacklist")), 0)

	engine.ObserveGrab("qbit", releases.ProtocolTorrent, nil)
	engine.ObserveGrab("qbit", releases.ProtocolTorrent, errors.New("boom"))
	assert.InDelta(t, 1, testutil.ToFloat64(engine.GrabsTotal.WithLabelValues("qbit", "torrent", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(engine.GrabsTotal.WithLabelValues("qbit", "torrent", "error")), 0)

	event := faileddownload.DownloadFailedEvent{DownloadClient: "sab"}
	engine.ObserveDownloadFailed(event)
	engine.ObserveBlacklisted(event)
	assert.InDelta(t, 1, testutil.ToFloat64(engine.DownloadFailedTotal.WithLabelValues("sab")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(engine.BlacklistedTotal), 0)
}

func TestQueueCollector(t *testing.T) {
	t.Parallel()

	queue := staticQueue{
		{DownloadClient: "sab", State: tracking.StateDownloading, RetryCount: 1, HasError: true},
		{DownloadClient: "sab", State: tracking.StateDownloading},
		{DownloadClient: "sab", State: tracking.StateDownloadFailed, RetryCount: 2},
		{DownloadClient: "qbit", State: tracking.StateImporting},
	}

	collector := NewQueueCollector(queue)
	// 3 state series, then retries and warnings for 2 clients
	assert.Equal(t, 7, testutil.CollectAndCount(collector))
	assert.Equal(t, 3, testutil.CollectAndCount(collector, "grabd_tracked_downloads"))

	empty := NewQueueCollector(nil)
	assert.Equal(t, 0, testutil.CollectAndCount(empty))
}
