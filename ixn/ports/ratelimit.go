package ixnports

import "context"

// RateLimiter bounds outbound turn creation. Keys are conversation ids so
// one busy conversation cannot starve the rest.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
