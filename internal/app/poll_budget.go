/**
 * @description
 * This file implements the shared per-network poll budget: a distributed
 * counting semaphore over Redis that caps how many reconciliation polls may be
 * outstanding against one network at a time, so the engine respects adapter
 * rate limits across all server instances.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Atomic acquire/release via a Lua script.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
)

// PollBudgeter caps concurrent outstanding receipt polls per network.
type PollBudgeter interface {
	Acquire(ctx context.Context, network domain.Network) (bool, error)
	Release(ctx context.Context, network domain.Network)
}

var pollBudgetAcquireScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  redis.call("DECR", KEYS[1])
  return 0
end
return 1
`)

// RedisPollBudgeter is the production implementation backed by Redis. The key
// carries a TTL so a crashed instance cannot leak permits forever.
type RedisPollBudgeter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	ttl    time.Duration
}

func NewRedisPollBudgeter(client redis.UniversalClient, prefix string, limit int) *RedisPollBudgeter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "engine:poll_budget"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if limit <= 0 {
		limit = 10
	}

	return &RedisPollBudgeter{
		client: client,
		prefix: trimmedPrefix,
		limit:  limit,
		ttl:    10 * time.Minute,
	}
}

// Acquire takes one poll permit for the network. It returns false when the
// budget is exhausted; callers back off and retry on their next tick.
func (b *RedisPollBudgeter) Acquire(ctx context.Context, network domain.Network) (bool, error) {
	if b == nil || b.client == nil {
		return true, nil
	}

	key := fmt.Sprintf("%s:%s", b.prefix, network)
	rawResult, err := pollBudgetAcquireScript.Run(ctx, b.client, []string{key}, b.limit, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}

	granted, ok := rawResult.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected redis budget response shape: %T", rawResult)
	}
	return granted == 1, nil
}

// Release returns a permit. Failures are swallowed; the key TTL reclaims the
// permit eventually.
func (b *RedisPollBudgeter) Release(ctx context.Context, network domain.Network) {
	if b == nil || b.client == nil {
		return
	}
	key := fmt.Sprintf("%s:%s", b.prefix, network)
	b.client.Decr(ctx, key)
}

// NoopPollBudgeter grants every permit. Used when Redis is not configured.
type NoopPollBudgeter struct{}

func (NoopPollBudgeter) Acquire(ctx context.Context, network domain.Network) (bool, error) {
	return true, nil
}

func (NoopPollBudgeter) Release(ctx context.Context, network domain.Network) {}
