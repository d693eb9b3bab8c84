// Package job defines the durable job queue abstraction: job records,
// the Store interface with atomic claim-and-lock semantics, and an
// in-memory Store implementation used by tests and local development.
package job
