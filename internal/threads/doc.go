// Package threads builds the categorized thread list for the side panel.
// It merges API conversations with locally-held placeholder threads,
// deduplicates them, and buckets them by recency against local-calendar-day
// boundaries. A promotion registry lets recent user interaction override
// lagging server timestamps so the touched conversation sorts first.
package threads
