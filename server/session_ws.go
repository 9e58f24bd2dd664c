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
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/JeroenDeDauw/server/server/gpgnet"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Number of inbound messages between ping timer resets.
const pingBackoffThreshold = 20

var (
	ErrSessionQueueFull = errors.New("session outgoing queue full")
	ErrSessionClosed    = errors.New("session closed")
)

type sessionWS struct {
	sync.Mutex
	logger     *zap.Logger
	config     *SocketConfig
	id         uuid.UUID
	userID     int64
	login      string
	expiry     int64
	clientIP   string
	clientPort string

	ctx         context.Context
	ctxCancelFn context.CancelFunc

	pingPeriodDuration time.Duration
	pongWaitDuration   time.Duration
	writeWaitDuration  time.Duration
	limiter            *rate.Limiter

	players  *PlayerRegistry
	metrics  Metrics
	pipeline *Pipeline

	stopped                bool
	conn                   *websocket.Conn
	receivedMessageCounter int
	pingTimer              *time.Timer
	pingTimerCAS           *atomic.Uint32
	outgoingCh             chan []byte
	closeMu                sync.Mutex
}

func NewSessionWS(logger *zap.Logger, config *SocketConfig, sessionID uuid.UUID, userID int64, login string, expiry int64, clientIP, clientPort string, conn *websocket.Conn, players *PlayerRegistry, metrics Metrics, pipeline *Pipeline) Session {
	sessionLogger := logger.With(zap.Int64("uid", userID), zap.String("sid", sessionID.String()), zap.String("login", login))

	sessionLogger.Info("New WebSocket session connected")

	ctx, ctxCancelFn := context.WithCancel(context.Background())

	pingPeriod := time.Duration(config.PingPeriodMs) * time.Millisecond
	return &sessionWS{
		logger:     sessionLogger,
		config:     config,
		id:         sessionID,
		userID:     userID,
		login:      login,
		expiry:     expiry,
		clientIP:   clientIP,
		clientPort: clientPort,

		ctx:         ctx,
		ctxCancelFn: ctxCancelFn,

		pingPeriodDuration: pingPeriod,
		pongWaitDuration:   time.Duration(config.PongWaitMs) * time.Millisecond,
		writeWaitDuration:  time.Duration(config.WriteWaitMs) * time.Millisecond,
		limiter:            rate.NewLimiter(rate.Limit(config.MessagesPerSecond), config.MessageBurst),

		players:  players,
		metrics:  metrics,
		pipeline: pipeline,

		stopped:                false,
		conn:                   conn,
		receivedMessageCounter: pingBackoffThreshold,
		pingTimer:              time.NewTimer(pingPeriod),
		pingTimerCAS:           atomic.NewUint32(1),
		outgoingCh:             make(chan []byte, config.OutgoingQueueSize),
	}
}

func (s *sessionWS) Logger() *zap.Logger {
	return s.logger
}

func (s *sessionWS) ID() uuid.UUID {
	return s.id
}

func (s *sessionWS) UserID() int64 {
	return s.userID
}

func (s *sessionWS) Login() string {
	return s.login
}

func (s *sessionWS) ClientIP() string {
	return s.clientIP
}

func (s *sessionWS) ClientPort() string {
	return s.clientPort
}

func (s *sessionWS) Context() context.Context {
	return s.ctx
}

func (s *sessionWS) Expiry() int64 {
	return s.expiry
}

func (s *sessionWS) Consume() {
	s.conn.SetReadLimit(s.config.MaxMessageSizeBytes)
	if err := s.conn.SetReadDeadline(time.Now().Add(s.pongWaitDuration)); err != nil {
		s.logger.Warn("Failed to set initial read deadline", zap.Error(err))
		go s.Close("failed to set initial read deadline")
		return
	}
	s.conn.SetPongHandler(func(string) error {
		s.maybeResetPingTimer()
		return nil
	})

	// Start a routine to process outbound messages.
	go s.processOutgoing()

	var reason string

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			// Ignore "normal" WebSocket errors.
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				// Ignore underlying connection being shut down while read is waiting for data.
				var opErr *net.OpError
				if !errors.As(err, &opErr) || !errors.Is(opErr.Err, net.ErrClosed) {
					s.logger.Debug("Error reading message from client", zap.Error(err))
					reason = err.Error()
				}
			}
			break
		}
		if messageType != websocket.TextMessage {
			s.logger.Debug("Received unexpected WebSocket message type", zap.Int("expected", websocket.TextMessage), zap.Int("actual", messageType))
			reason = "received unexpected WebSocket message type"
			break
		}

		if !s.limiter.Allow() {
			s.logger.Warn("Inbound message rate exceeded")
			reason = "message rate exceeded"
			break
		}

		s.receivedMessageCounter--
		if s.receivedMessageCounter <= 0 {
			s.receivedMessageCounter = pingBackoffThreshold
			if !s.maybeResetPingTimer() {
				// Problems resetting the ping timer indicate an error so we need to close the loop.
				reason = "error updating ping timer"
				break
			}
		}

		request, err := gpgnet.Parse(data)
		if err != nil {
			if errors.Is(err, gpgnet.ErrUnknownCommand) {
				s.logger.Debug("Received unknown command", zap.Error(err))
				continue
			}
			// If the payload is malformed the client is incompatible or misbehaving, either way disconnect it now.
			s.logger.Warn("Received malformed payload", zap.Binary("data", data), zap.Error(err))
			reason = "received malformed payload"
			break
		}

		logger := s.logger.With(zap.String("command", request.Command()))
		if s.logger.Core().Enabled(zap.DebugLevel) {
			logger.Debug("Received message", zap.String("request", fmt.Sprintf("%+v", request)))
		}
		s.metrics.CountCommand(request.Command())

		if !s.pipeline.ProcessRequest(logger, s, request) {
			reason = "error processing message"
			break
		}
	}

	s.Close(reason)
}

func (s *sessionWS) maybeResetPingTimer() bool {
	// If there's already a reset in progress there's no need to wait.
	if !s.pingTimerCAS.CompareAndSwap(1, 0) {
		return true
	}
	defer s.pingTimerCAS.CompareAndSwap(0, 1)

	s.Lock()
	if s.stopped {
		s.Unlock()
		return false
	}
	// CAS ensures concurrency is not a problem here.
	if !s.pingTimer.Stop() {
		select {
		case <-s.pingTimer.C:
		default:
		}
	}
	s.pingTimer.Reset(s.pingPeriodDuration)
	err := s.conn.SetReadDeadline(time.Now().Add(s.pongWaitDuration))
	s.Unlock()
	if err != nil {
		s.logger.Warn("Failed to set read deadline", zap.Error(err))
		s.Close("failed to set read deadline")
		return false
	}
	return true
}

func (s *sessionWS) processOutgoing() {
	var reason string
OutgoingLoop:
	for {
		select {
		case <-s.ctx.Done():
			// Session is closing, close the outgoing process routine.
			break OutgoingLoop
		case <-s.pingTimer.C:
			// Periodically send pings.
			if msg, ok := s.pingNow(); !ok {
				// If ping fails the session will be stopped, clean up the loop.
				reason = msg
				break OutgoingLoop
			}
		case payload := <-s.outgoingCh:
			s.Lock()
			if s.stopped {
				// The connection may have stopped between the payload being queued on the outgoing channel and reaching here.
				s.Unlock()
				break OutgoingLoop
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWaitDuration)); err != nil {
				s.Unlock()
				s.logger.Warn("Failed to set write deadline", zap.Error(err))
				reason = err.Error()
				break OutgoingLoop
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Unlock()
				s.logger.Warn("Could not write message", zap.Error(err))
				reason = err.Error()
				break OutgoingLoop
			}
			s.Unlock()
		}
	}
	s.Close(reason)
}

func (s *sessionWS) pingNow() (string, bool) {
	s.Lock()
	if s.stopped {
		s.Unlock()
		return "", false
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWaitDuration)); err != nil {
		s.Unlock()
		s.logger.Warn("Could not set write deadline to ping", zap.Error(err))
		return err.Error(), false
	}
	err := s.conn.WriteMessage(websocket.PingMessage, []byte{})
	s.Unlock()
	if err != nil {
		s.logger.Warn("Could not send ping", zap.Error(err))
		return err.Error(), false
	}

	return "", true
}

// Send encodes and queues GPGNet messages in order.
func (s *sessionWS) Send(msgs ...gpgnet.Outbound) error {
	isDebug := s.logger.Core().Enabled(zap.DebugLevel)
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		payload, err := gpgnet.Marshal(msg)
		if err != nil {
			return fmt.Errorf("could not marshal message: %w", err)
		}
		if isDebug {
			s.logger.Debug("Sending message", zap.String("command", msg.Command()), zap.ByteString("payload", payload))
		}
		if err := s.SendBytes(payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *sessionWS) SendBytes(payload []byte) error {
	s.Lock()
	stopped := s.stopped
	s.Unlock()
	if stopped {
		return ErrSessionClosed
	}

	// Attempt to queue messages and observe failures.
	select {
	case s.outgoingCh <- payload:
		return nil
	default:
		// The outgoing queue is full, likely because the remote client can't keep up.
		// Terminate the connection immediately because the only alternative that doesn't block the server is
		// to start dropping messages, which might cause unexpected behaviour.
		s.logger.Warn("Could not write message, session outgoing queue full")
		// Close in a goroutine as the method can block
		go s.Close(ErrSessionQueueFull.Error())
		return ErrSessionQueueFull
	}
}

func (s *sessionWS) Close(msg string) {
	s.closeMu.Lock()
	// Cancel any ongoing operations tied to this session.
	s.ctxCancelFn()
	s.closeMu.Unlock()

	s.Lock()
	if s.stopped {
		s.Unlock()
		return
	}
	s.stopped = true
	s.Unlock()

	// When connection close originates internally in the session, ensure cleanup of external resources and references.
	s.pipeline.SessionClosed(s)
	s.players.Remove(s)

	// Clean up internals.
	s.pingTimer.Stop()

	if err := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason(msg)), time.Now().Add(s.writeWaitDuration)); err != nil {
		// This may not be possible if the socket was already fully closed by an error.
		s.logger.Debug("Could not send close message", zap.Error(err))
	}
	// Close WebSocket.
	if err := s.conn.Close(); err != nil {
		s.logger.Debug("Could not close", zap.Error(err))
	}

	s.logger.Info("Closed client connection", zap.String("reason", msg))
}

// closeReason shortens msg to fit a close frame, whose payload is limited to 125 bytes,
// without splitting a UTF-8 sequence.
func closeReason(msg string) string {
	const limit = 120
	if len(msg) <= limit {
		return msg
	}
	end := limit
	for end > 0 && !utf8.RuneStart(msg[end]) {
		end--
	}
	return msg[:end]
}
