// Package api is the client for the remote conversation store. It wraps the
// REST endpoints with retries for idempotent calls, a circuit breaker so a
// struggling backend is not hammered, and an error taxonomy the coordinator
// uses to decide between retrying, queuing, and giving up. The streaming
// chat endpoint hands its raw body to the stream engine untouched.
package api
