package agentports

import "context"

// Cache provides small-value memoization: response caching and idempotency
// records for retried creates.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
