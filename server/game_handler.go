package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// OutcomeSink receives the outcome of every ended game.
type OutcomeSink interface {
	Enqueue(outcome GameOutcome) error
}

// GameHandler owns a Game and applies signals to it one at a time on its own goroutine.
type GameHandler struct {
	logger   *zap.Logger
	game     *Game
	metrics  Metrics
	sink     OutcomeSink
	timeout  time.Duration
	signalCh chan *SignalEnvelope
	hostID   int64
	password string

	ctx         context.Context
	ctxCancelFn context.CancelFunc
	done        chan struct{}
	stopped     *atomic.Bool
	onStop      func(gameID int64)
}

func NewGameHandler(ctx context.Context, logger *zap.Logger, game *Game, config *GameConfig, metrics Metrics, sink OutcomeSink, onStop func(gameID int64)) *GameHandler {
	if config == nil {
		config = NewGameConfig()
	}
	if onStop == nil {
		onStop = func(int64) {}
	}
	ctx, ctxCancelFn := context.WithCancel(ctx)
	h := &GameHandler{
		logger:      logger.With(zap.Int64("game_id", game.ID())),
		game:        game,
		metrics:     metrics,
		sink:        sink,
		timeout:     config.SignalTimeout(),
		signalCh:    make(chan *SignalEnvelope, config.SignalQueueSize),
		hostID:      game.Settings().HostID,
		password:    game.Settings().Password,
		ctx:         ctx,
		ctxCancelFn: ctxCancelFn,
		done:        make(chan struct{}),
		stopped:     atomic.NewBool(false),
		onStop:      onStop,
	}
	game.OnEnd(h.handleEnd)

	go h.loop()
	return h
}

func (h *GameHandler) ID() int64 {
	return h.game.ID()
}

func (h *GameHandler) HostID() int64 {
	return h.hostID
}

// Authorize checks a join password against the one the game was created with.
func (h *GameHandler) Authorize(password string) bool {
	return h.password == "" || subtle.ConstantTimeCompare([]byte(h.password), []byte(password)) == 1
}

// Done is closed once the handler loop has exited.
func (h *GameHandler) Done() <-chan struct{} {
	return h.done
}

// Stop terminates the loop without ending the game.
func (h *GameHandler) Stop() {
	h.ctxCancelFn()
}

func (h *GameHandler) loop() {
	defer func() {
		h.stopped.Store(true)
		close(h.done)
		h.onStop(h.game.ID())
	}()

	for {
		select {
		case <-h.ctx.Done():
			h.logger.Debug("Game handler stopped", zap.String("state", h.game.State().String()))
			return
		case env := <-h.signalCh:
			env.resp <- h.process(env)
			if h.game.Ended() {
				return
			}
		}
	}
}

// Signal delivers a signal to the game and waits for its response. The response error is
// also returned as the error value.
func (h *GameHandler) Signal(ctx context.Context, op SignalOpCode, payload any) (SignalResponse, error) {
	if h.stopped.Load() {
		return SignalResponse{}, ErrGameEnded
	}

	env := NewSignalEnvelope(op, payload)
	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case h.signalCh <- env:
	case <-h.done:
		return SignalResponse{}, ErrGameEnded
	case <-ctx.Done():
		return SignalResponse{}, ctx.Err()
	case <-timer.C:
		return SignalResponse{}, fmt.Errorf("game %d signal %s: %w", h.game.ID(), op, context.DeadlineExceeded)
	}

	select {
	case resp := <-env.resp:
		return resp, resp.Err
	case <-h.done:
		// The loop may have answered just before exiting.
		select {
		case resp := <-env.resp:
			return resp, resp.Err
		default:
			return SignalResponse{}, ErrHandlerStopped
		}
	case <-ctx.Done():
		return SignalResponse{}, ctx.Err()
	case <-timer.C:
		return SignalResponse{}, fmt.Errorf("game %d signal %s: %w", h.game.ID(), op, context.DeadlineExceeded)
	}
}

func (h *GameHandler) process(env *SignalEnvelope) SignalResponse {
	invalidPayload := func() SignalResponse {
		return signalFailed(NewGameErrorf(InvalidOption, "invalid payload for %s", env.OpCode))
	}

	switch env.OpCode {
	case SignalAddConnection:
		conn, ok := env.Payload.(Connection)
		if !ok {
			return invalidPayload()
		}
		if err := h.game.AddConnection(conn); err != nil {
			h.metrics.CountConnection("rejected")
			h.logger.Debug("Connection rejected", zap.Int64("player_id", conn.Player().ID()), zap.Error(err))
			return signalFailed(err)
		}
		h.metrics.CountConnection("added")
		return signalOK(SignalConnectionResult{Connections: h.game.ConnectionCount()})

	case SignalRemoveConnection:
		conn, ok := env.Payload.(Connection)
		if !ok {
			return invalidPayload()
		}
		ended := h.game.RemoveConnection(conn)
		h.metrics.CountConnection("removed")
		return signalOK(SignalConnectionResult{Connections: h.game.ConnectionCount(), Ended: ended})

	case SignalSetLobby:
		if err := h.game.SetLobby(); err != nil {
			return signalFailed(err)
		}
		return signalOK(nil)

	case SignalLaunch:
		if err := h.game.Launch(); err != nil {
			return signalFailed(err)
		}
		return signalOK(nil)

	case SignalPlayerOption:
		p, ok := env.Payload.(SignalPlayerOptionPayload)
		if !ok {
			return invalidPayload()
		}
		if err := h.game.SetPlayerOption(p.PlayerID, p.Key, p.Value); err != nil {
			return signalFailed(err)
		}
		return signalOK(nil)

	case SignalAIOption:
		p, ok := env.Payload.(SignalAIOptionPayload)
		if !ok {
			return invalidPayload()
		}
		if err := h.game.requireSetup(); err != nil {
			return signalFailed(err)
		}
		ai := h.game.AddAI(p.Name, p.Rating)
		if p.Key != "" {
			if err := h.game.SetAIOption(p.Name, p.Key, p.Value); err != nil {
				return signalFailed(err)
			}
		}
		return signalOK(ai)

	case SignalGameOption:
		p, ok := env.Payload.(SignalGameOptionPayload)
		if !ok {
			return invalidPayload()
		}
		if err := h.game.SetGameOption(p.Key, p.Value); err != nil {
			return signalFailed(err)
		}
		return signalOK(nil)

	case SignalClearSlot:
		p, ok := env.Payload.(SignalClearSlotPayload)
		if !ok {
			return invalidPayload()
		}
		if err := h.game.ClearSlot(p.Slot); err != nil {
			return signalFailed(err)
		}
		return signalOK(nil)

	case SignalReportResult:
		p, ok := env.Payload.(SignalReportResultPayload)
		if !ok {
			return invalidPayload()
		}
		if err := h.game.ReportResult(p.Army, p.Kind, p.Score); err != nil {
			return signalFailed(err)
		}
		return signalOK(nil)

	case SignalDesync:
		h.metrics.CountDesync()
		return signalOK(h.game.AddDesync())

	case SignalMarkInvalid:
		p, ok := env.Payload.(SignalMarkInvalidPayload)
		if !ok {
			return invalidPayload()
		}
		h.game.MarkInvalid(p.Reason)
		return signalOK(nil)

	case SignalEndGame:
		return signalOK(h.game.End())

	case SignalGetMeta:
		return signalOK(h.game.Meta())

	case SignalGetPlayers:
		return signalOK(h.game.Players())
	}

	return signalFailed(NewGameErrorf(InvalidOption, "unknown signal %s", env.OpCode))
}

func (h *GameHandler) handleEnd(outcome GameOutcome) {
	h.metrics.CountGameEnded(outcome.Valid, outcome.Ratings != nil)
	if h.sink == nil {
		return
	}
	if err := h.sink.Enqueue(outcome); err != nil {
		h.logger.Error("Failed to queue game outcome", zap.Error(err))
	}
}
