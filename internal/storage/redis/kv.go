package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	xerrors "CoinKeep/internal/errors"

	"github.com/redis/go-redis/v9"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	// Prefix 会拼接在每个键之前，例如 coinkeep:coinkeep_agents。
	Prefix string
}

// KV 使用 Redis 字符串保存键值。
type KV struct {
	client *redis.Client
	prefix string
}

// Open 建立连接并校验可用性。
func Open(ctx context.Context, cfg Config) (*KV, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return NewKV(client, cfg.Prefix), nil
}

// NewKV wraps an existing client.
func NewKV(client *redis.Client, prefix string) *KV {
	return &KV{client: client, prefix: prefix}
}

func (s *KV) key(k string) string {
	return s.prefix + k
}

// Get 读取键值，键不存在时返回 false。
func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 键失败", xerrors.WithMetadata("key", key))
	}
	return value, true, nil
}

// Set 写入键值，不设置过期时间。
func (s *KV) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 键失败", xerrors.WithMetadata("key", key))
	}
	return nil
}

// Delete 删除键。
func (s *KV) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除 Redis 键失败", xerrors.WithMetadata("key", key))
	}
	return nil
}

// Close 关闭客户端。
func (s *KV) Close() error {
	return s.client.Close()
}
