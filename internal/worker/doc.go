// Package worker binds job types to processing functions through a pool of
// bounded concurrent consumers. Each job type carries a static profile
// (concurrency, lock duration, stall detection, retry/backoff, optional
// rate limit) compiled into an immutable registry at startup.
package worker
