package mysql

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	xerrors "CoinKeep/internal/errors"
	"CoinKeep/pkg/logger"
)

// schemaFS 收录 kv_entries 的建表脚本，文件名形如 0001_name.sql。
//
//go:embed schema/*.sql
var schemaFS embed.FS

const createVersionTable = `CREATE TABLE IF NOT EXISTS kv_schema_versions (
        version INT NOT NULL PRIMARY KEY,
        name VARCHAR(255) NOT NULL,
        applied_at BIGINT NOT NULL
)`

// schemaStep is one numbered schema script.
type schemaStep struct {
	version    int
	name       string
	statements []string
}

// runMigrations 按版本号顺序执行尚未应用的脚本，每个脚本一个事务。
func (s *KV) runMigrations(ctx context.Context) error {
	steps, err := loadSchema(schemaFS)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载建表脚本失败")
	}
	if _, err := s.db.ExecContext(ctx, createVersionTable); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建版本表失败")
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}

	log := logger.Named("storage.mysql")
	for _, step := range steps {
		if applied[step.version] {
			continue
		}
		if err := s.apply(ctx, step); err != nil {
			return err
		}
		log.Info("已应用建表脚本", "version", step.version, "name", step.name)
	}
	return nil
}

func (s *KV) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM kv_schema_versions`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "查询版本表失败")
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析版本号失败")
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "遍历版本表失败")
	}
	return applied, nil
}

func (s *KV) apply(ctx context.Context, step schemaStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "开启事务失败")
	}
	fail := func(err error, msg string) error {
		_ = tx.Rollback()
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, msg,
			xerrors.WithMetadata("script", step.name))
	}

	for _, stmt := range step.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fail(err, "执行建表脚本失败")
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv_schema_versions (version, name, applied_at) VALUES (?, ?, ?)`,
		step.version, step.name, s.now().UnixMilli()); err != nil {
		return fail(err, "记录版本失败")
	}
	if err := tx.Commit(); err != nil {
		return fail(err, "提交事务失败")
	}
	return nil
}

// loadSchema 读取 schema 目录并按版本排序。版本号取文件名下划线前的数字。
func loadSchema(fsys fs.FS) ([]schemaStep, error) {
	names, err := fs.Glob(fsys, "schema/*.sql")
	if err != nil {
		return nil, err
	}

	steps := make([]schemaStep, 0, len(names))
	seen := make(map[int]string, len(names))
	for _, name := range names {
		base := path.Base(name)
		prefix, _, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("脚本 %s 缺少版本前缀", base)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("脚本 %s 版本号无效: %w", base, err)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("脚本 %s 与 %s 版本号重复", base, other)
		}
		seen[version] = base

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		statements := splitStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		steps = append(steps, schemaStep{version: version, name: base, statements: statements})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func splitStatements(content string) []string {
	var out []string
	for _, stmt := range strings.Split(content, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
