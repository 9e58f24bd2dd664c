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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type ApiServer struct {
	logger     *zap.Logger
	httpServer *http.Server
}

// gameSummary is the public listing of a running game.
type gameSummary struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	HostID        int64   `json:"host_id"`
	Map           string  `json:"map"`
	State         string  `json:"state"`
	Visibility    string  `json:"visibility"`
	RatingContext string  `json:"rating_context"`
	Teams         int     `json:"teams"`
	Players       []int64 `json:"players"`
}

func NewApiRouter(logger *zap.Logger, games *GameRegistry, players *PlayerRegistry, metrics Metrics, acceptor http.HandlerFunc) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/ws", acceptor).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.HTTPHandler()).Methods(http.MethodGet)
	router.HandleFunc("/v1/games", func(w http.ResponseWriter, r *http.Request) {
		summaries := make([]gameSummary, 0, games.Count())
		for _, meta := range games.List(r.Context()) {
			if meta.Visibility != VisibilityPublic {
				continue
			}
			summaries = append(summaries, gameSummary{
				ID:            meta.ID,
				Name:          meta.Name,
				HostID:        meta.HostID,
				Map:           meta.Map,
				State:         meta.State.String(),
				Visibility:    string(meta.Visibility),
				RatingContext: meta.RatingContext.String(),
				Teams:         meta.Teams,
				Players:       meta.Players,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{"games": summaries, "online": players.Count()}); err != nil {
			logger.Debug("Could not write game list", zap.Error(err))
		}
	}).Methods(http.MethodGet)

	return handlers.ProxyHeaders(handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(router))
}

func StartApiServer(logger, startupLogger *zap.Logger, config *Config, handler http.Handler) (*ApiServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("%v:%d", config.Socket.Address, config.Socket.Port))
	if err != nil {
		return nil, fmt.Errorf("api server listen: %w", err)
	}

	s := &ApiServer{
		logger: logger,
		httpServer: &http.Server{
			ReadTimeout:    time.Duration(config.Socket.ReadTimeoutMs) * time.Millisecond,
			WriteTimeout:   time.Duration(config.Socket.WriteTimeoutMs) * time.Millisecond,
			IdleTimeout:    time.Duration(config.Socket.IdleTimeoutMs) * time.Millisecond,
			MaxHeaderBytes: 1 << 16,
			Handler:        handler,
		},
	}

	startupLogger.Info("Starting API server", zap.String("address", listener.Addr().String()))
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			startupLogger.Fatal("API server listener failed", zap.Error(err))
		}
	}()
	return s, nil
}

func (s *ApiServer) Stop(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown failed", zap.Error(err))
	}
}
