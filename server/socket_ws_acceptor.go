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
	"net"
	"net/http"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"github.com/intinig/go-openskill/types"
	"go.uber.org/zap"
)

func NewSocketWsAcceptor(logger *zap.Logger, config *Config, store GameStore, players *PlayerRegistry, metrics Metrics, pipeline *Pipeline) func(http.ResponseWriter, *http.Request) {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	// This handler will be attached to the API Gateway server.
	return func(w http.ResponseWriter, r *http.Request) {
		// Check authentication.
		var token string
		if auth := r.Header["Authorization"]; len(auth) >= 1 {
			// Attempt header based authentication.
			const prefix = "Bearer "
			if !strings.HasPrefix(auth[0], prefix) {
				http.Error(w, "Missing or invalid token", 401)
				return
			}
			token = auth[0][len(prefix):]
		} else {
			// Attempt query parameter based authentication.
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "Missing or invalid token", 401)
			return
		}

		userID, login, expiry, ok := parseToken([]byte(config.Socket.ServerKey), token)
		if !ok {
			http.Error(w, "Missing or invalid token", 401)
			return
		}

		// Load the stored ratings before upgrading so a database failure is reported over HTTP.
		ratings := make(map[RatingContext]types.Rating, 2)
		for _, rc := range []RatingContext{RatingGlobal, RatingLadder} {
			rating, found, err := store.ReadRating(r.Context(), userID, rc)
			if err != nil {
				logger.Error("Could not load player rating", zap.Int64("uid", userID), zap.String("context", rc.String()), zap.Error(err))
				http.Error(w, "Could not load player", 500)
				return
			}
			if !found {
				rating = NewRating(0, 0)
			}
			ratings[rc] = rating
		}

		// Upgrade to WebSocket.
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// http.Error is invoked automatically from within the Upgrade function.
			logger.Debug("Could not upgrade to WebSocket", zap.Error(err))
			return
		}

		clientIP, clientPort := extractClientAddressFromRequest(logger, r)
		sessionID := uuid.Must(uuid.NewV4())

		// Mark the start of the session.
		metrics.CountWebsocketOpened(1)

		// Wrap the connection for application handling.
		session := NewSessionWS(logger, config.Socket, sessionID, userID, login, expiry, clientIP, clientPort, conn, players, metrics, pipeline)

		// Add to the player registry, replacing any older session of the same player.
		players.Add(session, NewOnlinePlayer(userID, login, ratings))

		// Allow the server to begin processing incoming messages from this session.
		session.Consume()

		// Mark the end of the session.
		metrics.CountWebsocketClosed(1)
	}
}

// extractClientAddressFromRequest returns the client host and port. Proxy headers are
// applied to RemoteAddr by the router before this runs.
func extractClientAddressFromRequest(logger *zap.Logger, r *http.Request) (string, string) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		// RemoteAddr without a port, as set from X-Forwarded-For.
		logger.Debug("Could not split client address", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return strings.TrimSpace(r.RemoteAddr), ""
	}
	return host, port
}
