// Package postgres implements storage.Store on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scoreboard-engine/internal/config"
	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/storage"
)

var (
	_ storage.Store       = (*Repository)(nil)
	_ storage.BoardLocker = (*tx)(nil)
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS games (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS scores (
		id BIGSERIAL PRIMARY KEY,
		player_id BIGINT NOT NULL,
		game_id BIGINT NOT NULL,
		session_id VARCHAR(128) NOT NULL DEFAULT '',
		score_value DOUBLE PRECISION NOT NULL,
		playtime_seconds BIGINT NOT NULL DEFAULT 0,
		difficulty_level VARCHAR(16) NOT NULL DEFAULT 'medium',
		additional_metrics JSONB,
		is_valid BOOLEAN NOT NULL DEFAULT TRUE,
		validation_hash VARCHAR(64) NOT NULL DEFAULT '',
		achieved_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS validation_rules (
		id BIGSERIAL PRIMARY KEY,
		game_id BIGINT,
		min_score DOUBLE PRECISION,
		max_score DOUBLE PRECISION,
		max_playtime_seconds BIGINT,
		score_multiplier DOUBLE PRECISION NOT NULL DEFAULT 1,
		advanced_rules JSONB,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS personal_bests (
		player_id BIGINT NOT NULL,
		game_id BIGINT NOT NULL,
		best_score DOUBLE PRECISION NOT NULL,
		best_rank BIGINT NOT NULL DEFAULT 0,
		achieved_at TIMESTAMPTZ NOT NULL,
		total_plays BIGINT NOT NULL DEFAULT 0,
		average_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_played_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (player_id, game_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ranking_entries (
		game_id BIGINT NOT NULL,
		time_period VARCHAR(16) NOT NULL,
		player_id BIGINT NOT NULL,
		rank_position BIGINT NOT NULL,
		score_value DOUBLE PRECISION NOT NULL,
		score_id BIGINT NOT NULL,
		achieved_at TIMESTAMPTZ NOT NULL,
		period_start TIMESTAMPTZ NOT NULL,
		period_end TIMESTAMPTZ NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (game_id, time_period, player_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scores_player_game ON scores(player_id, game_id, achieved_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_scores_game_achieved ON scores(game_id, achieved_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_scores_session ON scores(player_id, game_id, session_id) WHERE session_id <> ''`,
	`CREATE INDEX IF NOT EXISTS idx_ranking_entries_rank ON ranking_entries(game_id, time_period, rank_position)`,
}

// View runs fn in a read-only transaction
func (r *Repository) View(ctx context.Context, fn func(tx storage.Tx) error) error {
	return r.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

// Update runs fn in a read-write transaction committed when fn succeeds
func (r *Repository) Update(ctx context.Context, fn func(tx storage.Tx) error) error {
	return r.run(ctx, pgx.TxOptions{}, fn)
}

func (r *Repository) run(ctx context.Context, opts pgx.TxOptions, fn func(tx storage.Tx) error) error {
	pgTx, err := r.pool.BeginTx(ctx, opts)
	if err != nil {
		return domain.NewStorageError("begin transaction", err)
	}
	defer func() {
		if rbErr := pgTx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Warn("rollback failed", "error", rbErr)
		}
	}()

	if err := fn(&tx{tx: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return domain.NewStorageError("commit transaction", err)
	}
	return nil
}

type tx struct {
	tx pgx.Tx
}

// resetSequence moves a serial sequence past rows inserted with explicit IDs.
func (t *tx) resetSequence(ctx context.Context, table string) error {
	query := fmt.Sprintf(
		`SELECT setval(pg_get_serial_sequence('%[1]s', 'id'), GREATEST((SELECT COALESCE(MAX(id), 0) FROM %[1]s), 1))`,
		table,
	)
	_, err := t.tx.Exec(ctx, query)
	return err
}

// boardLockKey maps (game, window) onto the 64-bit advisory lock space.
func boardLockKey(gameID int64, window domain.TimeWindow) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "ranking:%d:%s", gameID, window)
	return int64(h.Sum64())
}

// LockBoard holds a transaction-scoped advisory lock on (game, window) so
// ranking writers in other processes wait for this transaction to finish.
func (t *tx) LockBoard(ctx context.Context, gameID int64, window domain.TimeWindow) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, boardLockKey(gameID, window))
	return err
}

func notFoundOr(err error, op, kind string, id any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewNotFound(kind, id)
	}
	return domain.NewStorageError(op, err)
}

// Games

func (t *tx) PutGame(ctx context.Context, g *domain.Game) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if g.ID == 0 {
		err := t.tx.QueryRow(ctx,
			`INSERT INTO games (name, description, created_at) VALUES ($1, $2, $3) RETURNING id`,
			g.Name, g.Description, g.CreatedAt,
		).Scan(&g.ID)
		return domain.NewStorageError("put game", err)
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO games (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = $2, description = $3, created_at = $4
	`, g.ID, g.Name, g.Description, g.CreatedAt)
	if err != nil {
		return domain.NewStorageError("put game", err)
	}
	return domain.NewStorageError("put game", t.resetSequence(ctx, "games"))
}

func (t *tx) GetGame(ctx context.Context, id int64) (*domain.Game, error) {
	var g domain.Game
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, description, created_at FROM games WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		return nil, notFoundOr(err, "get game", "game", id)
	}
	return &g, nil
}

func (t *tx) ListGames(ctx context.Context) ([]domain.Game, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, name, description, created_at FROM games ORDER BY id`)
	if err != nil {
		return nil, domain.NewStorageError("list games", err)
	}
	defer rows.Close()

	var games []domain.Game
	for rows.Next() {
		var g domain.Game
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return nil, domain.NewStorageError("scan game", err)
		}
		games = append(games, g)
	}
	return games, domain.NewStorageError("list games", rows.Err())
}

func (t *tx) DeleteAllGames(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM games`)
	return domain.NewStorageError("delete games", err)
}

// Scores

const scoreColumns = `id, player_id, game_id, session_id, score_value, playtime_seconds,
	difficulty_level, additional_metrics, is_valid, validation_hash, achieved_at, created_at, updated_at`

func (t *tx) InsertScore(ctx context.Context, s *domain.Score) error {
	metrics, err := encodeJSON(s.Metrics)
	if err != nil {
		return domain.NewStorageError("insert score", err)
	}

	args := []any{
		s.PlayerID, s.GameID, s.SessionID, s.Value, s.Playtime, string(s.Difficulty),
		metrics, s.Valid, s.ValidationHash, s.AchievedAt, s.CreatedAt, s.UpdatedAt,
	}
	if s.ID == 0 {
		err := t.tx.QueryRow(ctx, `
			INSERT INTO scores (player_id, game_id, session_id, score_value, playtime_seconds,
				difficulty_level, additional_metrics, is_valid, validation_hash, achieved_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id
		`, args...).Scan(&s.ID)
		return domain.NewStorageError("insert score", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO scores (id, player_id, game_id, session_id, score_value, playtime_seconds,
			difficulty_level, additional_metrics, is_valid, validation_hash, achieved_at, created_at, updated_at)
		VALUES ($13, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, append(args, s.ID)...)
	if err != nil {
		return domain.NewStorageError("insert score", err)
	}
	return domain.NewStorageError("insert score", t.resetSequence(ctx, "scores"))
}

func scanScore(row pgx.Row) (*domain.Score, error) {
	var (
		s          domain.Score
		difficulty string
		metrics    []byte
	)
	err := row.Scan(
		&s.ID, &s.PlayerID, &s.GameID, &s.SessionID, &s.Value, &s.Playtime,
		&difficulty, &metrics, &s.Valid, &s.ValidationHash, &s.AchievedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Difficulty = domain.Difficulty(difficulty)
	if err := decodeJSON(metrics, &s.Metrics); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *tx) GetScore(ctx context.Context, id int64) (*domain.Score, error) {
	s, err := scanScore(t.tx.QueryRow(ctx, `SELECT `+scoreColumns+` FROM scores WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "get score", "score", id)
	}
	return s, nil
}

func (t *tx) SetScoreValidity(ctx context.Context, id int64, valid bool, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE scores SET is_valid = $2, updated_at = $3 WHERE id = $1`, id, valid, at)
	if err != nil {
		return domain.NewStorageError("set score validity", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFound("score", id)
	}
	return nil
}

// scoreFilterClause renders the WHERE clause and arguments for a filter.
func scoreFilterClause(filter domain.ScoreFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.PlayerID != 0 {
		add("player_id = $%d", filter.PlayerID)
	}
	if filter.GameID != 0 {
		add("game_id = $%d", filter.GameID)
	}
	if filter.ValidOnly {
		conds = append(conds, "is_valid")
	}
	if !filter.Since.IsZero() {
		add("achieved_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("achieved_at < $%d", filter.Until)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (t *tx) ListScores(ctx context.Context, filter domain.ScoreFilter) ([]domain.Score, error) {
	where, args := scoreFilterClause(filter)
	rows, err := t.tx.Query(ctx, `SELECT `+scoreColumns+` FROM scores`+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, domain.NewStorageError("list scores", err)
	}
	defer rows.Close()

	var scores []domain.Score
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, domain.NewStorageError("scan score", err)
		}
		scores = append(scores, *s)
	}
	return scores, domain.NewStorageError("list scores", rows.Err())
}

func (t *tx) DeleteAllScores(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM scores`)
	return domain.NewStorageError("delete scores", err)
}

// Rules

const ruleColumns = `id, game_id, min_score, max_score, max_playtime_seconds, score_multiplier,
	advanced_rules, is_active, created_at, updated_at`

func (t *tx) SaveRule(ctx context.Context, r *domain.ValidationRule) error {
	advanced, err := encodeJSON(r.AdvancedRules)
	if err != nil {
		return domain.NewStorageError("save rule", err)
	}

	args := []any{
		r.GameID, r.MinScore, r.MaxScore, r.MaxPlaytime, r.ScoreMultiplier,
		advanced, r.Active, r.CreatedAt, r.UpdatedAt,
	}
	if r.ID == 0 {
		err := t.tx.QueryRow(ctx, `
			INSERT INTO validation_rules (game_id, min_score, max_score, max_playtime_seconds,
				score_multiplier, advanced_rules, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, args...).Scan(&r.ID)
		return domain.NewStorageError("save rule", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO validation_rules (id, game_id, min_score, max_score, max_playtime_seconds,
			score_multiplier, advanced_rules, is_active, created_at, updated_at)
		VALUES ($10, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			game_id = $1, min_score = $2, max_score = $3, max_playtime_seconds = $4,
			score_multiplier = $5, advanced_rules = $6, is_active = $7, created_at = $8, updated_at = $9
	`, append(args, r.ID)...)
	if err != nil {
		return domain.NewStorageError("save rule", err)
	}
	return domain.NewStorageError("save rule", t.resetSequence(ctx, "validation_rules"))
}

func scanRule(row pgx.Row) (*domain.ValidationRule, error) {
	var (
		r        domain.ValidationRule
		advanced []byte
	)
	err := row.Scan(
		&r.ID, &r.GameID, &r.MinScore, &r.MaxScore, &r.MaxPlaytime, &r.ScoreMultiplier,
		&advanced, &r.Active, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(advanced, &r.AdvancedRules); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *tx) GetRule(ctx context.Context, id int64) (*domain.ValidationRule, error) {
	r, err := scanRule(t.tx.QueryRow(ctx, `SELECT `+ruleColumns+` FROM validation_rules WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "get rule", "validation rule", id)
	}
	return r, nil
}

func (t *tx) ListRules(ctx context.Context) ([]domain.ValidationRule, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+ruleColumns+` FROM validation_rules ORDER BY id`)
	if err != nil {
		return nil, domain.NewStorageError("list rules", err)
	}
	defer rows.Close()

	var rules []domain.ValidationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, domain.NewStorageError("scan rule", err)
		}
		rules = append(rules, *r)
	}
	return rules, domain.NewStorageError("list rules", rows.Err())
}

func (t *tx) DeleteAllRules(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM validation_rules`)
	return domain.NewStorageError("delete rules", err)
}

// Personal bests

const personalBestColumns = `player_id, game_id, best_score, best_rank, achieved_at,
	total_plays, average_score, last_played_at`

func scanPersonalBest(row pgx.Row) (*domain.PersonalBest, error) {
	var pb domain.PersonalBest
	err := row.Scan(
		&pb.PlayerID, &pb.GameID, &pb.BestScore, &pb.BestRank, &pb.AchievedAt,
		&pb.TotalPlays, &pb.AverageScore, &pb.LastPlayedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pb, nil
}

func (t *tx) GetPersonalBest(ctx context.Context, playerID, gameID int64) (*domain.PersonalBest, error) {
	pb, err := scanPersonalBest(t.tx.QueryRow(ctx,
		`SELECT `+personalBestColumns+` FROM personal_bests WHERE player_id = $1 AND game_id = $2`,
		playerID, gameID,
	))
	if err != nil {
		return nil, notFoundOr(err, "get personal best", "personal best", fmt.Sprintf("%d/%d", playerID, gameID))
	}
	return pb, nil
}

func (t *tx) SavePersonalBest(ctx context.Context, pb *domain.PersonalBest) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO personal_bests (player_id, game_id, best_score, best_rank, achieved_at,
			total_plays, average_score, last_played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (player_id, game_id) DO UPDATE SET
			best_score = $3, best_rank = $4, achieved_at = $5,
			total_plays = $6, average_score = $7, last_played_at = $8
	`, pb.PlayerID, pb.GameID, pb.BestScore, pb.BestRank, pb.AchievedAt,
		pb.TotalPlays, pb.AverageScore, pb.LastPlayedAt)
	return domain.NewStorageError("save personal best", err)
}

func (t *tx) DeletePersonalBest(ctx context.Context, playerID, gameID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM personal_bests WHERE player_id = $1 AND game_id = $2`, playerID, gameID)
	return domain.NewStorageError("delete personal best", err)
}

func (t *tx) ListPersonalBests(ctx context.Context, playerID int64) ([]domain.PersonalBest, error) {
	query := `SELECT ` + personalBestColumns + ` FROM personal_bests`
	var args []any
	if playerID != 0 {
		query += ` WHERE player_id = $1`
		args = append(args, playerID)
	}
	rows, err := t.tx.Query(ctx, query+` ORDER BY player_id, game_id`, args...)
	if err != nil {
		return nil, domain.NewStorageError("list personal bests", err)
	}
	defer rows.Close()

	var bests []domain.PersonalBest
	for rows.Next() {
		pb, err := scanPersonalBest(rows)
		if err != nil {
			return nil, domain.NewStorageError("scan personal best", err)
		}
		bests = append(bests, *pb)
	}
	return bests, domain.NewStorageError("list personal bests", rows.Err())
}

func (t *tx) DeleteAllPersonalBests(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM personal_bests`)
	return domain.NewStorageError("delete personal bests", err)
}

// Rankings

func (t *tx) UpsertRankingEntry(ctx context.Context, e *domain.RankingEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ranking_entries (game_id, time_period, player_id, rank_position, score_value,
			score_id, achieved_at, period_start, period_end, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (game_id, time_period, player_id) DO UPDATE SET
			rank_position = $4, score_value = $5, score_id = $6, achieved_at = $7,
			period_start = $8, period_end = $9, last_updated = $10
	`, e.GameID, string(e.Window), e.PlayerID, e.Rank, e.Score,
		e.ScoreID, e.AchievedAt, e.PeriodStart, e.PeriodEnd, e.LastUpdated)
	return domain.NewStorageError("upsert ranking entry", err)
}

func (t *tx) ListRankingEntries(ctx context.Context, gameID int64, window domain.TimeWindow) ([]domain.RankingEntry, error) {
	query := `SELECT game_id, time_period, player_id, rank_position, score_value, score_id,
		achieved_at, period_start, period_end, last_updated FROM ranking_entries`
	var (
		conds []string
		args  []any
	)
	if gameID != 0 {
		args = append(args, gameID)
		conds = append(conds, fmt.Sprintf("game_id = $%d", len(args)))
	}
	if window != "" {
		args = append(args, string(window))
		conds = append(conds, fmt.Sprintf("time_period = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY game_id, time_period, rank_position, player_id"

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, domain.NewStorageError("list ranking entries", err)
	}
	defer rows.Close()

	var entries []domain.RankingEntry
	for rows.Next() {
		var (
			e      domain.RankingEntry
			period string
		)
		err := rows.Scan(&e.GameID, &period, &e.PlayerID, &e.Rank, &e.Score, &e.ScoreID,
			&e.AchievedAt, &e.PeriodStart, &e.PeriodEnd, &e.LastUpdated)
		if err != nil {
			return nil, domain.NewStorageError("scan ranking entry", err)
		}
		e.Window = domain.TimeWindow(period)
		entries = append(entries, e)
	}
	return entries, domain.NewStorageError("list ranking entries", rows.Err())
}

func (t *tx) DeleteRankingEntries(ctx context.Context, gameID int64, window domain.TimeWindow, before time.Time) error {
	var err error
	if before.IsZero() {
		_, err = t.tx.Exec(ctx,
			`DELETE FROM ranking_entries WHERE game_id = $1 AND time_period = $2`,
			gameID, string(window))
	} else {
		_, err = t.tx.Exec(ctx,
			`DELETE FROM ranking_entries WHERE game_id = $1 AND time_period = $2 AND period_start < $3`,
			gameID, string(window), before)
	}
	return domain.NewStorageError("delete ranking entries", err)
}

func (t *tx) DeleteAllRankingEntries(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM ranking_entries`)
	return domain.NewStorageError("delete ranking entries", err)
}

// encodeJSON marshals v for a JSONB column, storing NULL for empty maps.
func encodeJSON[M ~map[K]V, K comparable, V any](v M) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
