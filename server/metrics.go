// Copyright 2018 The Nakama Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"io"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uber-go/tally/v4"
	"github.com/uber-go/tally/v4/prometheus"
	"go.uber.org/zap"
)

type Metrics interface {
	Stop(logger *zap.Logger)

	CountGameCreated()
	CountGameEnded(valid, rated bool)
	GaugeGames(value float64)
	CountConnection(event string)
	CountDesync()
	CountCommand(command string)
	CountRatingsWritten(delta int64)
	RatingCommitLatency(elapsed time.Duration)
	CountWebsocketOpened(delta int64)
	CountWebsocketClosed(delta int64)

	HTTPHandler() http.Handler
}

var _ Metrics = &LocalMetrics{}

type LocalMetrics struct {
	logger *zap.Logger

	registry    *promclient.Registry
	handler     http.Handler
	scope       tally.Scope
	scopeCloser io.Closer
}

func NewLocalMetrics(logger *zap.Logger, config *Config) *LocalMetrics {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reporter := prometheus.NewReporter(prometheus.Options{
		Registerer: registry,
		Gatherer:   registry,
		OnRegisterError: func(err error) {
			logger.Error("Error registering Prometheus metric", zap.Error(err))
		},
	})
	tags := map[string]string{"node_name": config.Name}
	if config.Metrics.Namespace != "" {
		tags["namespace"] = config.Metrics.Namespace
	}
	scope, scopeCloser := tally.NewRootScope(tally.ScopeOptions{
		Prefix:          config.Metrics.Prefix,
		Tags:            tags,
		CachedReporter:  reporter,
		Separator:       prometheus.DefaultSeparator,
		SanitizeOptions: &prometheus.DefaultSanitizerOpts,
	}, time.Duration(config.Metrics.ReportingFreqSec)*time.Second)

	return &LocalMetrics{
		logger:      logger,
		registry:    registry,
		handler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		scope:       scope,
		scopeCloser: scopeCloser,
	}
}

// NewScopedMetrics wraps an existing scope, such as tally.NewTestScope.
func NewScopedMetrics(logger *zap.Logger, scope tally.Scope) *LocalMetrics {
	return &LocalMetrics{
		logger:  logger,
		handler: http.NotFoundHandler(),
		scope:   scope,
	}
}

func (m *LocalMetrics) Stop(logger *zap.Logger) {
	if m.scopeCloser == nil {
		return
	}
	if err := m.scopeCloser.Close(); err != nil {
		logger.Error("Error stopping metrics", zap.Error(err))
	}
}

func (m *LocalMetrics) HTTPHandler() http.Handler {
	return m.handler
}

func (m *LocalMetrics) CountGameCreated() {
	m.scope.Counter("game_created").Inc(1)
}

func (m *LocalMetrics) CountGameEnded(valid, rated bool) {
	m.scope.Tagged(map[string]string{
		"valid": boolTag(valid),
		"rated": boolTag(rated),
	}).Counter("game_ended").Inc(1)
}

func (m *LocalMetrics) GaugeGames(value float64) {
	m.scope.Gauge("games").Update(value)
}

// CountConnection counts game connections by event: added, removed or rejected.
func (m *LocalMetrics) CountConnection(event string) {
	m.scope.Tagged(map[string]string{"event": event}).Counter("game_connection").Inc(1)
}

func (m *LocalMetrics) CountDesync() {
	m.scope.Counter("game_desync").Inc(1)
}

func (m *LocalMetrics) CountCommand(command string) {
	m.scope.Tagged(map[string]string{"command": command}).Counter("gpgnet_command").Inc(1)
}

func (m *LocalMetrics) CountRatingsWritten(delta int64) {
	m.scope.Counter("ratings_written").Inc(delta)
}

func (m *LocalMetrics) RatingCommitLatency(elapsed time.Duration) {
	m.scope.Timer("rating_commit_latency").Record(elapsed)
}

func (m *LocalMetrics) CountWebsocketOpened(delta int64) {
	m.scope.Counter("socket_ws_opened").Inc(delta)
}

func (m *LocalMetrics) CountWebsocketClosed(delta int64) {
	m.scope.Counter("socket_ws_closed").Inc(delta)
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
