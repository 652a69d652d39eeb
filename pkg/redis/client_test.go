package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestGetDelIsSingleUse(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	key := client.OAuthStateKey("nonce-1")
	if err := client.Set(ctx, key, "biz-1", 10*time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	value, err := client.GetDel(ctx, key)
	if err != nil {
		t.Fatalf("getdel failed: %v", err)
	}
	if value != "biz-1" {
		t.Fatalf("expected stored value, got %q", value)
	}
	if _, err := client.GetDel(ctx, key); !IsNil(err) {
		t.Fatalf("expected redis.Nil on second read, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "rf:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.OAuthStateKey("abc"); got != "rf:oauth_state:abc" {
		t.Fatalf("unexpected state key %s", got)
	}
	if got := client.LockKey("dispatch", "biz", "+15555550100"); got != "rf:lock:dispatch:biz:+15555550100" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.LockKey("refresh", "", "int-1"); got != "rf:lock:refresh:int-1" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestLockAcquireRelease(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	first, err := NewLock(client, "rf:lock:test", time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}

	second, _ := NewLock(client, "rf:lock:test", time.Minute)
	ok, err = second.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("expected contended acquire to fail, ok=%v err=%v", ok, err)
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release of unowned lock should be a no-op: %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestTryWithLock(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}
	key := client.LockKey("dispatch", "biz", "phone")

	var inner error
	err := TryWithLock(ctx, client, key, time.Minute, func(ctx context.Context) error {
		inner = TryWithLock(ctx, client, key, time.Minute, func(context.Context) error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(inner, ErrLockHeld) {
		t.Fatalf("expected nested attempt to see ErrLockHeld, got %v", inner)
	}

	boom := errors.New("boom")
	if err := TryWithLock(ctx, client, key, time.Minute, func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}
	if _, err := client.Get(ctx, key); !IsNil(err) {
		t.Fatalf("lock should be released after fn, got %v", err)
	}
}

type mockCmdable struct {
	data map[string]string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{data: make(map[string]string)}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) GetDel(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	delete(m.data, key)
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
