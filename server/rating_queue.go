package server

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

var ErrRatingQueueStopped = errors.New("rating queue stopped")

// OnlinePlayers resolves the in-memory rating holder of an online player.
type OnlinePlayers interface {
	OnlinePlayer(playerID int64) (RatingApplier, bool)
}

// RatingQueue persists the outcome of ended games off the game loops. Each outcome is
// written in one transaction; in-memory ratings and notices follow a successful commit only.
type RatingQueue struct {
	logger   *zap.Logger
	store    GameStore
	players  OnlinePlayers
	notifier Notifier
	metrics  Metrics
	timeout  time.Duration

	sync.RWMutex
	ch      chan GameOutcome
	stopped bool
	done    chan struct{}

	ctx         context.Context
	ctxCancelFn context.CancelFunc
}

func NewRatingQueue(ctx context.Context, logger *zap.Logger, store GameStore, players OnlinePlayers, notifier Notifier, metrics Metrics, config *DatabaseConfig) *RatingQueue {
	if config == nil {
		config = NewDatabaseConfig()
	}
	ctx, ctxCancelFn := context.WithCancel(ctx)
	q := &RatingQueue{
		logger:   logger,
		store:    store,
		players:  players,
		notifier: notifier,
		metrics:  metrics,
		timeout:  config.WriteTimeout(),

		ch:   make(chan GameOutcome, config.QueueSize),
		done: make(chan struct{}),

		ctx:         ctx,
		ctxCancelFn: ctxCancelFn,
	}

	go q.run()
	return q
}

func (q *RatingQueue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			// Nothing is sent after the flag is set; drain what was queued before it.
			q.markStopped()
			for {
				select {
				case o := <-q.ch:
					q.process(o)
				default:
					return
				}
			}
		case o := <-q.ch:
			q.process(o)
		}
	}
}

func (q *RatingQueue) process(o GameOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	if err := q.Process(ctx, o); err != nil {
		q.logger.Error("Failed to persist game outcome", zap.Int64("game_id", o.GameID), zap.Error(err))
	}
}

func (q *RatingQueue) markStopped() {
	q.Lock()
	q.stopped = true
	q.Unlock()
}

// Enqueue hands an outcome to the worker. It waits when the queue is full.
func (q *RatingQueue) Enqueue(o GameOutcome) error {
	q.RLock()
	defer q.RUnlock()
	if q.stopped {
		return ErrRatingQueueStopped
	}
	select {
	case q.ch <- o:
		q.logger.Debug("Game outcome queued", zap.Int64("game_id", o.GameID))
		return nil
	default:
	}

	q.logger.Warn("Rating queue full, waiting", zap.Int64("game_id", o.GameID), zap.Int("size", cap(q.ch)))
	select {
	case q.ch <- o:
		return nil
	case <-q.ctx.Done():
		return ErrRatingQueueStopped
	}
}

// Stop refuses new outcomes and waits for the queued ones to be written.
func (q *RatingQueue) Stop() {
	q.markStopped()
	q.ctxCancelFn()
	<-q.done
}

// Process writes one outcome: end time, validity, ratings, then the in-memory update and notices.
func (q *RatingQueue) Process(ctx context.Context, o GameOutcome) error {
	logger := q.logger.With(zap.Int64("game_id", o.GameID))

	if err := q.store.UpdateGameEndTime(ctx, o.GameID); err != nil {
		logger.Warn("Failed to record game end time", zap.Error(err))
	}
	if !o.Valid {
		if err := q.store.UpdateGameValidity(ctx, o.GameID, false, o.InvalidReason); err != nil {
			logger.Warn("Failed to record game validity", zap.Error(err))
		}
	}

	if o.Ratings == nil {
		logger.Info("Game not rated", zap.Error(o.RatingErr))
		return nil
	}

	updates := o.Ratings.Updates
	start := time.Now()
	if err := q.store.CommitRatings(ctx, o.GameID, updates); err != nil {
		return NewGameErrorf(PersistenceFailed, "commit ratings for game %d: %v", o.GameID, err)
	}
	q.metrics.RatingCommitLatency(time.Since(start))
	q.metrics.CountRatingsWritten(int64(len(updates)))

	for _, u := range updates {
		if u.IsAI() {
			continue
		}
		if p, ok := q.players.OnlinePlayer(u.PlayerID); ok {
			p.ApplyRating(u.Context, u.After)
		}
	}

	ids := lo.Keys(o.Ratings.Notices)
	slices.Sort(ids)
	for _, id := range ids {
		q.notifier.Notify(id, o.Ratings.Notices[id]...)
	}

	logger.Info("Game ratings persisted", zap.Int("updates", len(updates)), zap.Bool("ai_present", o.Ratings.AIPresent))
	return nil
}
