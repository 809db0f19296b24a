// ABOUTME: Package convo coordinates hybrid local/remote conversation persistence.
// ABOUTME: Conversations start optimistically under provisional ids and migrate to server ids.

// Package convo implements the persistence coordinator at the center of the
// client. It creates conversations optimistically under provisional ids,
// promotes them to server ids atomically, generates titles asynchronously
// with timeout and fallback, commits exchanges remote-then-local, and
// absorbs backend failures so the chat never blocks on a flaky network.
package convo
