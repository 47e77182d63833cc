// Package integration provides integration tests that verify submission
// history and idempotency state after relay requests. These tests use real
// PostgreSQL, MongoDB and Redis instances via testcontainers.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration
