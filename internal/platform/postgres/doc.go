// Package postgres provides the PostgreSQL implementation of store.JobStore,
// the embedded goose migrations that create its schema, and the mapping of
// PostgreSQL error codes to store sentinels.
package postgres
