// Package usage records cumulative lead and query counts.
package usage

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lexleads/internal/config"
	"github.com/sells-group/lexleads/internal/model"
)

// Sink receives usage deltas after a completed run.
type Sink interface {
	IncrementStats(ctx context.Context, leadsDelta, queriesDelta int) error
}

// Reader exposes the current totals.
type Reader interface {
	GetStats(ctx context.Context) (*model.UsageStats, error)
}

// Noop discards usage.
type Noop struct{}

func (Noop) IncrementStats(context.Context, int, int) error { return nil }

// StoreSink forwards usage to the run store.
type StoreSink struct {
	store interface {
		Sink
		Reader
	}
}

// NewStoreSink wraps a store that keeps usage counters.
func NewStoreSink(st interface {
	Sink
	Reader
}) *StoreSink {
	return &StoreSink{store: st}
}

func (s *StoreSink) IncrementStats(ctx context.Context, leadsDelta, queriesDelta int) error {
	return eris.Wrap(s.store.IncrementStats(ctx, leadsDelta, queriesDelta), "usage: store")
}

func (s *StoreSink) GetStats(ctx context.Context) (*model.UsageStats, error) {
	return s.store.GetStats(ctx)
}

const (
	fieldLeads     = "leads_total"
	fieldQueries   = "queries_total"
	fieldUpdatedAt = "updated_at"
)

// RedisSink keeps counters in a Redis hash so several processes share them.
type RedisSink struct {
	client *redis.Client
	key    string
}

// NewRedisSink creates a RedisSink on an existing client.
func NewRedisSink(client *redis.Client, key string) *RedisSink {
	if key == "" {
		key = "lexleads:usage"
	}
	return &RedisSink{client: client, key: key}
}

// NewRedisClient creates a go-redis client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})
}

func (s *RedisSink) IncrementStats(ctx context.Context, leadsDelta, queriesDelta int) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, s.key, fieldLeads, int64(leadsDelta))
		p.HIncrBy(ctx, s.key, fieldQueries, int64(queriesDelta))
		p.HSet(ctx, s.key, fieldUpdatedAt, time.Now().UTC().Format(time.RFC3339))
		return nil
	})
	return eris.Wrap(err, "usage: redis increment")
}

func (s *RedisSink) GetStats(ctx context.Context) (*model.UsageStats, error) {
	var out model.UsageStats

	vals, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, eris.Wrap(err, "usage: redis read")
	}
	if v, ok := vals[fieldLeads]; ok {
		if out.LeadsTotal, err = parseInt(v); err != nil {
			return nil, err
		}
	}
	if v, ok := vals[fieldQueries]; ok {
		if out.QueriesTotal, err = parseInt(v); err != nil {
			return nil, err
		}
	}
	if v, ok := vals[fieldUpdatedAt]; ok {
		if t, perr := time.Parse(time.RFC3339, v); perr == nil {
			out.UpdatedAt = t
		}
	}
	return &out, nil
}

// Ping checks the Redis connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return eris.Wrap(s.client.Ping(ctx).Err(), "usage: redis ping")
}

// Multi fans deltas out to every sink. All sinks are attempted; the first
// error is returned.
type Multi []Sink

func (m Multi) IncrementStats(ctx context.Context, leadsDelta, queriesDelta int) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.IncrementStats(ctx, leadsDelta, queriesDelta); err != nil {
			zap.L().Warn("usage sink failed", zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func parseInt(v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	return n, eris.Wrapf(err, "usage: parse counter %q", v)
}
