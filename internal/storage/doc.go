// Package storage persists the remote session blob per chat user and an
// append-only log of finished jobs.
//
// Drivers:
//   - file: one JSON document per user plus runs.jsonl
//   - sqlite: modernc.org/sqlite, tables sessions and runs
//   - redis: go-redis, one key per user plus a capped run list
package storage
