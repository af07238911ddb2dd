package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"time"

	xerrors "CoinKeep/internal/errors"

	"github.com/go-sql-driver/mysql"
)

// errDataTooLong is MySQL error 1406.
const errDataTooLong = 1406

// KV stores one row per key in kv_entries.
type KV struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects, applies migrations and returns the store.
func Open(ctx context.Context, cfg Config) (*KV, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	kv := newKV(db)
	if err := kv.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return kv, nil
}

func newKV(db *sql.DB) *KV {
	return &KV{db: db, now: time.Now}
}

// Get 读取指定键。
func (s *KV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv_entries WHERE k = ?`, key).Scan(&value)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取键值失败", xerrors.WithMetadata("key", key))
	}
	return value, true, nil
}

// Set 以 upsert 的方式写入。
func (s *KV) Set(ctx context.Context, key, value string) error {
	const stmt = `INSERT INTO kv_entries (k, v, updated_at) VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE v = VALUES(v), updated_at = VALUES(updated_at)`

	if _, err := s.db.ExecContext(ctx, stmt, key, value, s.now().UnixMilli()); err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == errDataTooLong {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "键值超出列长度", xerrors.WithMetadata("key", key))
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入键值失败", xerrors.WithMetadata("key", key))
	}
	return nil
}

// Delete 删除指定键，不存在时忽略。
func (s *KV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE k = ?`, key); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除键值失败", xerrors.WithMetadata("key", key))
	}
	return nil
}

// Close 关闭连接池。
func (s *KV) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
