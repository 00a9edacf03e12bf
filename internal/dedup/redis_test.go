package dedup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisStoreCompareAndSwap(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	store := NewRedisStore(client, time.Hour)
	ev := listing("redis-test", "3.50", true)
	client.Del(ctx, recordKeyPrefix+ev.IdentityKey)

	ok, err := store.CompareAndSwap(ctx, nil, Record{IdentityKey: ev.IdentityKey, LastFingerprint: ev.Fingerprint, LastSeenAt: t0})
	if err != nil || !ok {
		t.Fatalf("insert: ok=%v err=%v", ok, err)
	}

	// A second insert-if-absent must lose.
	ok, _ = store.CompareAndSwap(ctx, nil, Record{IdentityKey: ev.IdentityKey})
	if ok {
		t.Fatal("expected second insert to fail")
	}

	rec, err := store.Get(ctx, ev.IdentityKey)
	if err != nil || rec == nil {
		t.Fatalf("get: %v %v", rec, err)
	}
	if rec.Version != 1 || rec.LastFingerprint != ev.Fingerprint {
		t.Fatalf("unexpected record %+v", rec)
	}

	stale := *rec
	next := *rec
	next.LastSeenAt = t0.Add(time.Minute)
	if ok, _ := store.CompareAndSwap(ctx, rec, next); !ok {
		t.Fatal("expected update to succeed")
	}
	if ok, _ := store.CompareAndSwap(ctx, &stale, next); ok {
		t.Fatal("expected stale update to fail")
	}
}

func TestRedisStoreWithDeduplicator(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	ev := listing("redis-dedup", "59.99", true)
	client.Del(ctx, recordKeyPrefix+ev.IdentityKey)

	d := New(NewRedisStore(client, 0), Options{})
	if adm, err := d.Admit(ctx, ev, t0); err != nil || adm.Outcome != Admitted {
		t.Fatalf("first admit: %v %v", adm.Outcome, err)
	}
	if adm, err := d.Admit(ctx, ev, t0.Add(time.Minute)); err != nil || adm.Outcome != Suppressed {
		t.Fatalf("repeat admit: %v %v", adm.Outcome, err)
	}
}
