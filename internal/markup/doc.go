// ABOUTME: Package markup cleans streamed assistant text and extracts structured tokens.
// ABOUTME: Handles control markers, metadata lines, case flags, the addendum block, and links.

// Package markup provides text post-processing for streamed assistant
// replies: removal of in-band control tokens and metadata lines, extraction
// of case-creation flags, construction of the case-links addendum, and
// reference-link extraction from raw message text.
package markup
