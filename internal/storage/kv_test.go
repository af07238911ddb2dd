package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"CoinKeep/internal/config"
	xerrors "CoinKeep/internal/errors"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := kv.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := kv.Set(ctx, "coinkeep_agents", `[]`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := kv.Set(ctx, "coinkeep_agents", `[{"id":"1"}]`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	v, ok, err := kv.Get(ctx, "coinkeep_agents")
	if err != nil || !ok || v != `[{"id":"1"}]` {
		t.Fatalf("unexpected value %q ok=%v err=%v", v, ok, err)
	}
	if err := kv.Delete(ctx, "coinkeep_agents"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := kv.Delete(ctx, "coinkeep_agents"); err != nil {
		t.Fatalf("delete twice: %v", err)
	}
	if _, ok, _ := kv.Get(ctx, "coinkeep_agents"); ok {
		t.Fatal("expected key to be gone")
	}
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemoryKV())
}

func TestFileKVPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "local_storage.json")
	kv, err := OpenFileKV(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseKV(t, kv)

	if err := kv.Set(context.Background(), "ck_user", `{"email":"a@b.c"}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	reopened, err := OpenFileKV(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	v, ok, err := reopened.Get(context.Background(), "ck_user")
	if err != nil || !ok || v != `{"email":"a@b.c"}` {
		t.Fatalf("value not persisted: %q ok=%v err=%v", v, ok, err)
	}
}

func TestFileKVRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local_storage.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := OpenFileKV(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	kv, err := Open(ctx, config.StorageConfig{Driver: "memory"})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := kv.(*MemoryKV); !ok {
		t.Fatalf("unexpected kv %T", kv)
	}

	kv, err = Open(ctx, config.StorageConfig{Driver: "file", File: config.FileConfig{Path: filepath.Join(t.TempDir(), "s.json")}})
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	if _, ok := kv.(*FileKV); !ok {
		t.Fatalf("unexpected kv %T", kv)
	}

	_, err = Open(ctx, config.StorageConfig{Driver: "etcd"})
	if !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	_, err = Open(ctx, config.StorageConfig{Driver: "mysql"})
	if !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure for empty dsn, got %v", err)
	}
}
