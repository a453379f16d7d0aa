// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes engine counters and the tracked download queue to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type Manager struct {
	registry       *prometheus.Registry
	engine         *EngineCollector
	queueCollector *QueueCollector
}

// NewManager registers the runtime collectors plus the engine counters. queue
// may be nil, in which case no queue gauges are exported.
func NewManager(queue QueueSource) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	queueCollector := NewQueueCollector(queue)
	registry.MustRegister(queueCollector)

	engine := NewEngineCollector(registry)

	log.Info().Msg("Metrics manager initialized with engine and queue collectors")

	return &Manager{
		registry:       registry,
		engine:         engine,
		queueCollector: queueCollector,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) Engine() *EngineCollector {
	return m.engine
}
