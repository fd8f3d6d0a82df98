package state

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// StateManager checkpoints the order crawl of the product map stage so an
// interrupted crawl can resume. The order codes collected so far are
// persisted together with the page number; a resumed run must start with
// everything the interrupted run already paid for, otherwise the map it
// writes would silently miss those pages. The catalog fetch deliberately
// has no checkpoint: a failed catalog run restarts from page 1.
type StateManager interface {
	// GetOrderCheckpoint returns the last fully processed order page and
	// the order codes collected up to and including it. Page 0 means no
	// checkpoint exists.
	GetOrderCheckpoint(ctx context.Context) (int, []string, error)

	// SaveOrderCheckpoint marks pageNumber as processed and appends its
	// order codes to the durable set.
	SaveOrderCheckpoint(ctx context.Context, pageNumber int, codes []string) error

	ClearOrderCheckpoint(ctx context.Context) error
}

type redisStateManager struct {
	redisClient *redis.Client
	pageKey     string
	codesKey    string
}

func NewRedisStateManager(redisClient *redis.Client) StateManager {
	return &redisStateManager{
		redisClient: redisClient,
		pageKey:     "imagefetch:progress:order_page",
		codesKey:    "imagefetch:progress:order_codes",
	}
}

func (s *redisStateManager) GetOrderCheckpoint(ctx context.Context) (int, []string, error) {
	val, err := s.redisClient.Get(ctx, s.pageKey).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, nil, nil // No progress saved yet
		}
		return 0, nil, fmt.Errorf("failed to get last processed order page: %w", err)
	}

	page, err := strconv.Atoi(val)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to parse order page checkpoint: %w", err)
	}

	codes, err := s.redisClient.LRange(ctx, s.codesKey, 0, -1).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to get checkpointed order codes: %w", err)
	}

	return page, codes, nil
}

func (s *redisStateManager) SaveOrderCheckpoint(ctx context.Context, pageNumber int, codes []string) error {
	pipe := s.redisClient.TxPipeline()
	pipe.Set(ctx, s.pageKey, pageNumber, 0)
	if len(codes) > 0 {
		vals := make([]interface{}, len(codes))
		for i, code := range codes {
			vals[i] = code
		}
		pipe.RPush(ctx, s.codesKey, vals...)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to checkpoint order page %d: %w", pageNumber, err)
	}
	return nil
}

func (s *redisStateManager) ClearOrderCheckpoint(ctx context.Context) error {
	if err := s.redisClient.Del(ctx, s.pageKey, s.codesKey).Err(); err != nil {
		return fmt.Errorf("failed to clear order crawl checkpoint: %w", err)
	}
	return nil
}
