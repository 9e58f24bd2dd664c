package server

import (
	"context"
	"errors"
	"slices"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var ErrGameRegistryStopped = errors.New("game registry stopped")

// GameRegistry creates games, runs a handler per game and forgets games once they end.
type GameRegistry struct {
	logger  *zap.Logger
	store   GameStore
	engine  *RatingEngine
	config  *GameConfig
	metrics Metrics
	sink    OutcomeSink

	sync.RWMutex
	stopped   bool
	games     *MapOf[int64, *GameHandler]
	gameCount *atomic.Int32

	ctx         context.Context
	ctxCancelFn context.CancelFunc
}

func NewGameRegistry(ctx context.Context, logger *zap.Logger, store GameStore, engine *RatingEngine, config *GameConfig, metrics Metrics, sink OutcomeSink) *GameRegistry {
	ctx, ctxCancelFn := context.WithCancel(ctx)
	return &GameRegistry{
		logger:  logger,
		store:   store,
		engine:  engine,
		config:  config,
		metrics: metrics,
		sink:    sink,

		games:     &MapOf[int64, *GameHandler]{},
		gameCount: atomic.NewInt32(0),

		ctx:         ctx,
		ctxCancelFn: ctxCancelFn,
	}
}

// CreateGame records a new game and starts its handler.
func (r *GameRegistry) CreateGame(ctx context.Context, settings GameSettings) (*GameHandler, error) {
	r.RLock()
	stopped := r.stopped
	r.RUnlock()
	if stopped {
		return nil, ErrGameRegistryStopped
	}

	id, err := r.store.CreateGame(ctx, settings)
	if err != nil {
		return nil, NewGameErrorf(PersistenceFailed, "create game: %v", err)
	}

	// Stop takes this lock, so it sees every handler started here.
	r.Lock()
	if r.stopped {
		r.Unlock()
		return nil, ErrGameRegistryStopped
	}
	game := NewGame(r.logger, id, settings, r.config, r.engine)
	handler := NewGameHandler(r.ctx, r.logger, game, r.config, r.metrics, r.sink, r.remove)
	r.games.Store(id, handler)
	count := r.gameCount.Inc()
	r.Unlock()

	r.metrics.CountGameCreated()
	r.metrics.GaugeGames(float64(count))

	r.logger.Info("Game created", zap.Int64("game_id", id), zap.Int64("host_id", settings.HostID), zap.String("name", settings.Name))
	return handler, nil
}

func (r *GameRegistry) Get(id int64) (*GameHandler, error) {
	h, ok := r.games.Load(id)
	if !ok {
		return nil, ErrGameNotFound
	}
	return h, nil
}

func (r *GameRegistry) remove(id int64) {
	if _, ok := r.games.LoadAndDelete(id); !ok {
		return
	}
	count := r.gameCount.Dec()
	r.metrics.GaugeGames(float64(count))
	r.logger.Debug("Game removed", zap.Int64("game_id", id))
}

func (r *GameRegistry) Count() int {
	return int(r.gameCount.Load())
}

// List returns the metadata of every running game, ordered by id.
func (r *GameRegistry) List(ctx context.Context) []GameMeta {
	handlers := make([]*GameHandler, 0, r.Count())
	r.games.Range(func(_ int64, h *GameHandler) bool {
		handlers = append(handlers, h)
		return true
	})

	metas := make([]GameMeta, 0, len(handlers))
	for _, h := range handlers {
		resp, err := h.Signal(ctx, SignalGetMeta, nil)
		if err != nil {
			continue
		}
		if meta, ok := resp.Payload.(GameMeta); ok {
			metas = append(metas, meta)
		}
	}
	slices.SortFunc(metas, func(a, b GameMeta) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return metas
}

// Stop terminates every game handler. Games that have not ended are not rated.
func (r *GameRegistry) Stop() {
	r.Lock()
	r.stopped = true
	r.Unlock()

	r.ctxCancelFn()
	r.games.Range(func(_ int64, h *GameHandler) bool {
		<-h.Done()
		return true
	})
}
