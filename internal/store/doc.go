// Package store defines the persistence contract for generation jobs and
// their choices, along with the error sentinels and transaction helper shared
// by store implementations. Business code depends on JobStore only, never on
// a specific database.
package store
