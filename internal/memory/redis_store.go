package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentFlows/internal/errors"
)

// RedisStore 把会话记忆保存在 Redis List 中，供多实例部署共享。
// 每个会话一个键，窗口之外的旧条目被自动裁剪。
type RedisStore struct {
	client     *redis.Client
	keyPrefix  string
	maxEntries int
	ttl        time.Duration
}

// RedisConfig 描述 Redis 记忆存储的连接参数。
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	KeyPrefix  string
	MaxEntries int
	TTL        time.Duration
}

// NewRedisStore 创建 Redis 记忆存储并验证连通性。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis 地址不能为空")
	}
	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "agentflows:memory:"
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 200
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return &RedisStore{
		client:     client,
		keyPrefix:  keyPrefix,
		maxEntries: maxEntries,
		ttl:        ttl,
	}, nil
}

// Close 关闭底层连接。
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

// Append 实现 Store 接口。
func (s *RedisStore) Append(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化记忆条目失败")
	}
	key := s.key(entry.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, int64(-s.maxEntries), -1)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 记忆失败")
	}
	return nil
}

// Recent 实现 Store 接口。
func (s *RedisStore) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, s.key(sessionID), start, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 记忆失败")
	}
	return decodeEntries(raw)
}

// Search 实现 Store 接口。检索在进程内完成，窗口由 maxEntries 限定。
func (s *RedisStore) Search(ctx context.Context, sessionID, query string, limit int) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 记忆失败")
	}
	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, err
	}
	return rank(entries, query, limit), nil
}

// Clear 实现 Store 接口。
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空 Redis 记忆失败")
	}
	return nil
}

func decodeEntries(raw []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(raw))
	for i, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err,
				fmt.Sprintf("解析第 %d 条记忆失败", i))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

var _ Store = (*RedisStore)(nil)
