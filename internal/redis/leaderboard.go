package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/scoreboard-engine/internal/config"
	"github.com/scoreboard-engine/internal/domain"
	"github.com/scoreboard-engine/internal/ranking"
)

// RankingCache mirrors ranked boards into Redis. Each (game, window, period)
// board is a sorted set ordering players by board position plus a hash with
// the row payload per player. Daily and weekly boards expire at period end.
type RankingCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRankingCache connects to Redis and creates the cache
func NewRankingCache(cfg *config.RedisConfig, logger *slog.Logger) (*RankingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRankingCacheFromClient(client, cfg.KeyPrefix, logger), nil
}

// NewRankingCacheFromClient wraps an existing client
func NewRankingCacheFromClient(client *redis.Client, prefix string, logger *slog.Logger) *RankingCache {
	return &RankingCache{client: client, prefix: prefix, logger: logger}
}

// Close closes the Redis connection
func (c *RankingCache) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *RankingCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// boardKey returns the Redis key for a board's sorted set
func (c *RankingCache) boardKey(gameID int64, period domain.Period) string {
	return fmt.Sprintf("%s:leaderboard:%d:%s:%d", c.prefix, gameID, period.Window, period.Start.Unix())
}

// rowsKey returns the Redis key for a board's row payloads
func (c *RankingCache) rowsKey(gameID int64, period domain.Period) string {
	return c.boardKey(gameID, period) + ":rows"
}

// ReplaceBoard swaps the stored board for rows in one transaction
func (c *RankingCache) ReplaceBoard(ctx context.Context, gameID int64, period domain.Period, rows []domain.LeaderboardRow) error {
	key := c.boardKey(gameID, period)
	rowsKey := c.rowsKey(gameID, period)

	members := make([]redis.Z, 0, len(rows))
	payload := make([]any, 0, 2*len(rows))
	for i, row := range rows {
		member := strconv.FormatInt(row.PlayerID, 10)
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encoding row: %w", err)
		}
		members = append(members, redis.Z{Score: float64(i), Member: member})
		payload = append(payload, member, data)
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key, rowsKey)
	if len(rows) > 0 {
		pipe.ZAdd(ctx, key, members...)
		pipe.HSet(ctx, rowsKey, payload...)
		if period.Window != domain.WindowAllTime {
			pipe.ExpireAt(ctx, key, period.End)
			pipe.ExpireAt(ctx, rowsKey, period.End)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replacing board: %w", err)
	}

	c.logger.Debug("board mirrored", "game_id", gameID, "window", period.Window, "rows", len(rows))
	return nil
}

// Top returns the first limit rows of the board, or all rows when limit <= 0.
// A board that is not cached yields ranking.ErrCacheMiss.
func (c *RankingCache) Top(ctx context.Context, gameID int64, period domain.Period, limit int) ([]domain.LeaderboardRow, error) {
	key := c.boardKey(gameID, period)
	stop := int64(limit - 1)
	if limit <= 0 {
		stop = -1
	}

	members, err := c.client.ZRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	if len(members) == 0 {
		return nil, ranking.ErrCacheMiss
	}

	values, err := c.client.HMGet(ctx, c.rowsKey(gameID, period), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting rows: %w", err)
	}

	rows := make([]domain.LeaderboardRow, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Partially expired board.
			return nil, fmt.Errorf("%w: missing row for player %s", ranking.ErrCacheMiss, members[i])
		}
		var row domain.LeaderboardRow
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("decoding row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Count returns the number of players on the board
func (c *RankingCache) Count(ctx context.Context, gameID int64, period domain.Period) (int64, error) {
	count, err := c.client.ZCard(ctx, c.boardKey(gameID, period)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// Flush removes every board under the cache prefix
func (c *RankingCache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":leaderboard:*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning boards: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting boards: %w", err)
	}
	return nil
}
