package redis

import (
	"context"
	"testing"
	"time"

	xerrors "CoinKeep/internal/errors"

	"github.com/redis/go-redis/v9"
)

func TestOpenValidatesAddress(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}

func TestOpenFailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Open(ctx, Config{Address: "127.0.0.1:1"}); err == nil {
		t.Fatal("expected ping failure")
	}
}

func TestKeyPrefixAndErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	kv := NewKV(client, "coinkeep:")
	defer kv.Close()

	if got := kv.key("ck_user"); got != "coinkeep:ck_user" {
		t.Fatalf("unexpected key %s", got)
	}
	_, _, err := kv.Get(context.Background(), "ck_user")
	if !xerrors.HasCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}
