// Package store persists conversations, messages, pending title retries,
// and promotion stamps locally in SQLite. The coordinator writes here after
// every remote save so a conversation survives an offline backend, and
// rekeys provisional ids to server ids in a single transaction.
package store
