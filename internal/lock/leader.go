package lock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"quantflow/pkg/logger"
)

// 基于Redis的领导锁，多实例部署时保证只有一个进程在下单。
// check-then-extend和check-then-delete都必须是原子的，
// 用Lua脚本在Redis侧一步完成，避免两个实例间的竞态

// 仅持有者可续期
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
else
    return 0
end`)

// 仅持有者可释放
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end`)

type LeaderLock struct {
	rdb   *redis.Client
	key   string
	token string // 进程级随机token，标识锁的持有者
	ttl   time.Duration

	leader atomic.Bool
}

func NewLeaderLock(rdb *redis.Client, key string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{
		rdb:   rdb,
		key:   key,
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// IsLeader 本进程当前是否持有领导权
func (l *LeaderLock) IsLeader() bool {
	return l.leader.Load()
}

// Token 持有者token，只读，诊断用
func (l *LeaderLock) Token() string {
	return l.token
}

// Acquire 尝试抢锁。key不存在（或已过期）时原子创建并带TTL。
// 已经是leader时为幂等空操作
func (l *LeaderLock) Acquire(ctx context.Context) (bool, error) {
	if l.leader.Load() {
		return true, nil
	}
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		l.leader.Store(true)
		logger.Info("leader lock acquired",
			logger.Pair("key", l.key),
			logger.Pair("ttl", l.ttl.String()))
	}
	return ok, nil
}

// Refresh 续期TTL，仅当本进程仍是记录的持有者。
// 任何失败（包括Redis连不上）都按丢失领导权处理——宁可停下来，
// 也不能冒两个实例同时下单的风险
func (l *LeaderLock) Refresh(ctx context.Context) bool {
	res, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		logger.Error("leader lock refresh failed, treating as leadership loss",
			logger.Pair("key", l.key),
			logger.Pair("err", err.Error()))
		l.leader.Store(false)
		return false
	}
	if res == 0 {
		// token不匹配，锁已被其他实例接管
		if l.leader.Load() {
			logger.Warn("leader lock taken over by another instance", logger.Pair("key", l.key))
		}
		l.leader.Store(false)
		return false
	}
	l.leader.Store(true)
	return true
}

// Release 仅当仍持有时原子删除锁。任何时候调用都安全，
// 不是leader时为空操作
func (l *LeaderLock) Release(ctx context.Context) bool {
	res, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	l.leader.Store(false)
	if err != nil {
		logger.Error("leader lock release failed", logger.Pair("err", err.Error()))
		return false
	}
	return res == 1
}
