package storage

import (
	"context"
	"fmt"
	"strings"

	"CoinKeep/internal/config"
	xerrors "CoinKeep/internal/errors"
	"CoinKeep/internal/storage/mysql"
	"CoinKeep/internal/storage/redis"
)

// KV is a string key-value store.
type KV interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

var (
	_ KV = (*MemoryKV)(nil)
	_ KV = (*FileKV)(nil)
	_ KV = (*mysql.KV)(nil)
	_ KV = (*redis.KV)(nil)
)

// Open builds the KV backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (KV, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "memory":
		return NewMemoryKV(), nil
	case "", "file":
		kv, err := OpenFileKV(cfg.File.Path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "打开本地存储失败")
		}
		return kv, nil
	case "mysql":
		kv, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.MySQL.DSN,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime(),
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 MySQL 存储失败")
		}
		return kv, nil
	case "redis":
		kv, err := redis.Open(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化 Redis 存储失败")
		}
		return kv, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的存储驱动: %s", cfg.Driver))
	}
}
