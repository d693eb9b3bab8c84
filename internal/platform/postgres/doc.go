// Package postgres provides PostgreSQL-backed implementations of the
// application's store interfaces, including the durable job queue and the
// dead letter store. All implementations accept a store.DBTX so they work
// identically over a connection pool or inside a transaction.
package postgres
