// Package cache provides a TTL-based, size-limited cache for conversation
// details and per-user thread lists, cutting repeated fetches against the
// conversation API.
package cache
