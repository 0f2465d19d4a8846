package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "likebot/pkg/logx"
)

const (
	redisSessionPrefix = "likebot:session:"
	redisRunsKey       = "likebot:runs"
	redisRunsCap       = 1000
)

type redisStore struct {
	rdb *redis.Client
	log logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("storage.redis_addr is required for redis driver")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	log.Debug("redis store opened", logx.String("addr", addr), logx.Int("db", cfg.RedisDB))
	return &redisStore{rdb: rdb, log: log}, nil
}

func sessionKey(id int64) string { return redisSessionPrefix + strconv.FormatInt(id, 10) }

func (s *redisStore) LoadSession(ctx context.Context, id int64) ([]byte, error) {
	b, err := s.rdb.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *redisStore) SaveSession(ctx context.Context, id int64, blob []byte) error {
	return s.rdb.Set(ctx, sessionKey(id), blob, 0).Err()
}

func (s *redisStore) ClearSession(ctx context.Context, id int64) error {
	return s.rdb.Del(ctx, sessionKey(id)).Err()
}

func (s *redisStore) AppendRun(ctx context.Context, r RunRecord) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, redisRunsKey, b)
		p.LTrim(ctx, redisRunsKey, 0, redisRunsCap-1)
		return nil
	})
	return err
}

func (s *redisStore) Close() error { return s.rdb.Close() }
