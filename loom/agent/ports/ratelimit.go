package agentports

import "context"

// RateLimiter bounds per-user request throughput.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
