// ABOUTME: Package stream reassembles chunked chat responses into revealed text.
// ABOUTME: Detects the live-agent hand-off marker even when split across chunk boundaries.

// Package stream implements the ingestion engine for chunked chat responses.
// It reveals text word by word for incremental display, strips metadata
// lines, and classifies how the stream ended: normal completion, hand-off
// to a live agent, or error. Text that could still turn into the hand-off
// marker, an incomplete metadata line, or a partial word is withheld until
// the next chunk disambiguates it, so the revealed text is identical no
// matter how the transport splits the response.
package stream
