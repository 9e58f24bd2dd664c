package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/intinig/go-openskill/types"
	_ "github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// dbExecutor is satisfied by both *sql.DB and *sql.Tx.
type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore is the GameStore backed by PostgreSQL (driver "pgx") or SQLite (driver "sqlite").
type SQLStore struct {
	logger *zap.Logger
	db     *sql.DB
	driver string
}

func NewSQLStore(logger *zap.Logger, db *sql.DB, driver string) *SQLStore {
	return &SQLStore{
		logger: logger,
		db:     db,
		driver: driver,
	}
}

// DbConnect opens and pings the database described by the config.
func DbConnect(ctx context.Context, logger *zap.Logger, config *DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(config.Driver, config.Address)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", config.Driver, err)
	}
	if config.Driver == "sqlite" {
		// A single connection keeps in-memory databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
		db.SetConnMaxLifetime(config.ConnMaxLifetime())
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", config.Driver, err)
	}
	logger.Info("Database connected", zap.String("driver", config.Driver))
	return db, nil
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// rebind rewrites ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func ratingTable(rc RatingContext) string {
	if rc == RatingLadder {
		return "ladder1v1_rating"
	}
	return "global_rating"
}

func (s *SQLStore) CreateGame(ctx context.Context, settings GameSettings) (int64, error) {
	var id int64
	query := s.rebind(`INSERT INTO game_stats (host_id, name, map_name, victory, rating_context, visibility, ranked)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err := s.db.QueryRowContext(ctx, query,
		settings.HostID,
		settings.Name,
		settings.Map,
		int(settings.Victory),
		settings.RatingContext.String(),
		string(settings.Visibility),
		settings.Ranked,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create game: %w", err)
	}
	return id, nil
}

func (s *SQLStore) UpdateGameEndTime(ctx context.Context, gameID int64) error {
	query := s.rebind(`UPDATE game_stats SET end_time = CURRENT_TIMESTAMP WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, gameID); err != nil {
		return fmt.Errorf("update game end time: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateGameValidity(ctx context.Context, gameID int64, valid bool, reason string) error {
	query := s.rebind(`UPDATE game_stats SET valid = ?, invalid_reason = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, valid, reason, gameID); err != nil {
		return fmt.Errorf("update game validity: %w", err)
	}
	return nil
}

func (s *SQLStore) ReadRating(ctx context.Context, playerID int64, rc RatingContext) (types.Rating, bool, error) {
	var mean, deviation float64
	query := s.rebind(`SELECT mean, deviation FROM ` + ratingTable(rc) + ` WHERE player_id = ?`)
	err := s.db.QueryRowContext(ctx, query, playerID).Scan(&mean, &deviation)
	if errors.Is(err, sql.ErrNoRows) {
		return NewRating(0, 0), false, nil
	} else if err != nil {
		return types.Rating{}, false, fmt.Errorf("read %s rating: %w", rc, err)
	}
	return NewRating(mean, deviation), true, nil
}

func (s *SQLStore) ReadAIRating(ctx context.Context, name string) (types.Rating, bool, error) {
	var mean, deviation float64
	query := s.rebind(`SELECT mean, deviation FROM ai_rating WHERE name = ?`)
	err := s.db.QueryRowContext(ctx, query, AIRatingName(name)).Scan(&mean, &deviation)
	if errors.Is(err, sql.ErrNoRows) {
		return NewRating(0, 0), false, nil
	} else if err != nil {
		return types.Rating{}, false, fmt.Errorf("read ai rating: %w", err)
	}
	return NewRating(mean, deviation), true, nil
}

func (s *SQLStore) WriteRating(ctx context.Context, playerID int64, rc RatingContext, mean, deviation float64, incrementGameCount bool) error {
	return s.writeRating(ctx, s.db, playerID, rc, mean, deviation, incrementGameCount)
}

func (s *SQLStore) writeRating(ctx context.Context, db dbExecutor, playerID int64, rc RatingContext, mean, deviation float64, incrementGameCount bool) error {
	inc := 0
	if incrementGameCount {
		inc = 1
	}
	table := ratingTable(rc)
	query := s.rebind(`INSERT INTO ` + table + ` (player_id, mean, deviation, num_games) VALUES (?, ?, ?, ?)
		ON CONFLICT (player_id) DO UPDATE SET mean = excluded.mean, deviation = excluded.deviation,
		num_games = ` + table + `.num_games + excluded.num_games, updated_at = CURRENT_TIMESTAMP`)
	if _, err := db.ExecContext(ctx, query, playerID, mean, deviation, inc); err != nil {
		return fmt.Errorf("write %s rating: %w", rc, err)
	}
	return nil
}

func (s *SQLStore) WriteGamePlayerStats(ctx context.Context, gameID, playerID int64, afterMean, afterDeviation float64) error {
	return s.writeGamePlayerStats(ctx, s.db, gameID, playerID, afterMean, afterDeviation)
}

func (s *SQLStore) writeGamePlayerStats(ctx context.Context, db dbExecutor, gameID, playerID int64, afterMean, afterDeviation float64) error {
	query := s.rebind(`INSERT INTO game_player_stats (game_id, player_id, after_mean, after_deviation) VALUES (?, ?, ?, ?)
		ON CONFLICT (game_id, player_id) DO UPDATE SET after_mean = excluded.after_mean, after_deviation = excluded.after_deviation`)
	if _, err := db.ExecContext(ctx, query, gameID, playerID, afterMean, afterDeviation); err != nil {
		return fmt.Errorf("write game player stats: %w", err)
	}
	return nil
}

func (s *SQLStore) WriteAIRating(ctx context.Context, name string, mean, deviation float64) error {
	return s.writeAIRating(ctx, s.db, name, mean, deviation)
}

func (s *SQLStore) writeAIRating(ctx context.Context, db dbExecutor, name string, mean, deviation float64) error {
	query := s.rebind(`INSERT INTO ai_rating (name, mean, deviation, num_games) VALUES (?, ?, ?, 1)
		ON CONFLICT (name) DO UPDATE SET mean = excluded.mean, deviation = excluded.deviation,
		num_games = ai_rating.num_games + 1, updated_at = CURRENT_TIMESTAMP`)
	if _, err := db.ExecContext(ctx, query, AIRatingName(name), mean, deviation); err != nil {
		return fmt.Errorf("write ai rating: %w", err)
	}
	return nil
}

func (s *SQLStore) WriteAIGameStats(ctx context.Context, gameID int64, name string, afterMean, afterDeviation float64) error {
	return s.writeAIGameStats(ctx, s.db, gameID, name, afterMean, afterDeviation)
}

func (s *SQLStore) writeAIGameStats(ctx context.Context, db dbExecutor, gameID int64, name string, afterMean, afterDeviation float64) error {
	query := s.rebind(`INSERT INTO ai_game_stats (game_id, name, after_mean, after_deviation) VALUES (?, ?, ?, ?)
		ON CONFLICT (game_id, name) DO UPDATE SET after_mean = excluded.after_mean, after_deviation = excluded.after_deviation`)
	if _, err := db.ExecContext(ctx, query, gameID, AIRatingName(name), afterMean, afterDeviation); err != nil {
		return fmt.Errorf("write ai game stats: %w", err)
	}
	return nil
}

func (s *SQLStore) CommitRatings(ctx context.Context, gameID int64, updates []RatingUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rating transaction: %w", err)
	}
	for _, u := range updates {
		if u.IsAI() {
			err = s.writeAIRating(ctx, tx, u.AIName, u.After.Mu, u.After.Sigma)
			if err == nil {
				err = s.writeAIGameStats(ctx, tx, gameID, u.AIName, u.After.Mu, u.After.Sigma)
			}
		} else {
			err = s.writeRating(ctx, tx, u.PlayerID, u.Context, u.After.Mu, u.After.Sigma, true)
			if err == nil {
				err = s.writeGamePlayerStats(ctx, tx, gameID, u.PlayerID, u.After.Mu, u.After.Sigma)
			}
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Warn("Failed to roll back rating transaction", zap.Int64("game_id", gameID), zap.Error(rbErr))
			}
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rating transaction: %w", err)
	}
	return nil
}
