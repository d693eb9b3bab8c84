// Package store provides abstractions and interfaces for data persistence:
// the DBTX database abstraction, transaction helpers, shared store errors,
// and the per-entity store interfaces implemented by the postgres package.
package store
