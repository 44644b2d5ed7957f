package lock

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

// 需要本地Redis，没有时跳过
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return rdb
}

func TestAcquireMutualExclusion(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	key := "quantflow:test:leader"
	rdb.Del(ctx, key)

	a := NewLeaderLock(rdb, key, 10*time.Second)
	b := NewLeaderLock(rdb, key, 10*time.Second)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("instance A should acquire: ok=%v err=%v", ok, err)
	}
	if !a.IsLeader() {
		t.Fatal("A must observe is_leader=true")
	}

	// A的TTL未过期时B抢不到
	ok, err = b.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok || b.IsLeader() {
		t.Fatal("instance B must not acquire while A holds the lock")
	}

	// A释放后B能抢到
	if !a.Release(ctx) {
		t.Fatal("A release should succeed")
	}
	ok, err = b.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("instance B should acquire after release: ok=%v err=%v", ok, err)
	}
	b.Release(ctx)
}

func TestAcquireIdempotentWhileLeader(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	key := "quantflow:test:leader:idem"
	rdb.Del(ctx, key)

	a := NewLeaderLock(rdb, key, 10*time.Second)
	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("first acquire failed")
	}
	// 重复调用是空操作，仍然是leader
	if ok, err := a.Acquire(ctx); !ok || err != nil {
		t.Fatalf("repeated acquire must be a no-op success: ok=%v err=%v", ok, err)
	}
	a.Release(ctx)
}

func TestRefreshOnlyByOwner(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	key := "quantflow:test:leader:refresh"
	rdb.Del(ctx, key)

	a := NewLeaderLock(rdb, key, 10*time.Second)
	b := NewLeaderLock(rdb, key, 10*time.Second)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	if !a.Refresh(ctx) {
		t.Fatal("owner refresh should succeed")
	}
	// 非持有者续期必须失败，且本地is_leader翻为false
	if b.Refresh(ctx) {
		t.Fatal("non-owner refresh must fail")
	}
	if b.IsLeader() {
		t.Fatal("non-owner must not believe it is leader")
	}

	// 模拟被接管：直接覆盖token
	rdb.Set(ctx, key, "someone-else", 10*time.Second)
	if a.Refresh(ctx) {
		t.Fatal("refresh must fail after takeover")
	}
	if a.IsLeader() {
		t.Fatal("A must flip is_leader to false after takeover")
	}
	rdb.Del(ctx, key)
}

func TestReleaseWhenNotLeaderIsNoop(t *testing.T) {
	rdb := testClient(t)
	ctx := context.Background()
	key := "quantflow:test:leader:release"
	rdb.Del(ctx, key)

	a := NewLeaderLock(rdb, key, 10*time.Second)
	// 未持有时释放不报错
	if a.Release(ctx) {
		t.Fatal("release without holding should return false")
	}
	if a.IsLeader() {
		t.Fatal("is_leader must stay false")
	}
}
