package agents

import (
	"context"
	"time"

	"collections-orchestrator/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// ClaimGuard makes agent claims exclusive across dialer replicas.
type ClaimGuard interface {
	Acquire(ctx context.Context, agentID, owner string) (bool, error)
	Release(ctx context.Context, agentID, owner string) error
}

// RedisClaimGuard holds one expiring lease per agent.
type RedisClaimGuard struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisClaimGuard(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisClaimGuard {
	if prefix == "" {
		prefix = "dialer:agent-claim:"
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisClaimGuard{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (g *RedisClaimGuard) Acquire(ctx context.Context, agentID, owner string) (bool, error) {
	return utils.AcquireLease(ctx, g.rdb, g.prefix+agentID, owner, g.ttl)
}

func (g *RedisClaimGuard) Release(ctx context.Context, agentID, owner string) error {
	_, err := utils.ReleaseLease(ctx, g.rdb, g.prefix+agentID, owner)
	return err
}
