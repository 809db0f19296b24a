// ABOUTME: Stream text cleaning: strips control markers, flag tokens, and metadata lines.
// ABOUTME: The cleaned form is what gets rendered; the raw form is kept for link extraction.

package markup

import (
	"regexp"
	"strings"
)

// HandoffMarker is the in-band token that signals hand-off to a live agent.
const HandoffMarker = "<<LiveAgent>>"

// EmptyResponsePlaceholder is rendered when a completed stream carried no text.
const EmptyResponsePlaceholder = "Empty response received from API"

var (
	markerRe      = regexp.MustCompile(`<<\s*LiveAgent\s*>>`)
	compactFlagRe = regexp.MustCompile(`<(?:00|10|01|11)>\s*`)
	warningTagRe  = regexp.MustCompile(`(?i)<<\s*warning\s*>\s*[01]\s*<\s*/\s*warning\s*>`)
	termTagRe     = regexp.MustCompile(`(?i)<\s*termination\s*>\s*[01]\s*<\s*/\s*termination\s*>\s*>?`)
	idLineRe      = regexp.MustCompile(`(?m)^id:[^\n]*\n?`)
	inlineIDRe    = regexp.MustCompile(`(?i)\s*id:\s*[A-Za-z0-9_-]+\s*`)
	dataPrefixRe  = regexp.MustCompile(`(?i)data:\s*`)
	manyNewlines  = regexp.MustCompile(`\n{3,}`)
	runsOfBlank   = regexp.MustCompile(`[ \t]+`)
	trailBullets  = regexp.MustCompile(`(?:\r?\n)?(?:[\x{2022}\x{25CF}\x{25E6}\x{25AA}\x{25AB}]\s*)+(?:\r?\n)*$`)
)

// StripMetaLines removes complete "id:"-prefixed metadata lines. Incomplete
// trailing lines are the caller's problem (the stream engine withholds them
// until the next chunk arrives).
func StripMetaLines(s string) string {
	return idLineRe.ReplaceAllString(s, "")
}

// CleanStreamText normalizes raw streamed text for display. It removes the
// hand-off marker, case-flag tokens (compact and verbose), metadata lines,
// "data:" prefixes, and zero-width characters, then tidies whitespace.
func CleanStreamText(msg string) string {
	if msg == "" {
		return ""
	}

	msg = markerRe.ReplaceAllString(msg, "")
	msg = compactFlagRe.ReplaceAllString(msg, "")
	msg = warningTagRe.ReplaceAllString(msg, "")
	msg = termTagRe.ReplaceAllString(msg, "")

	msg = idLineRe.ReplaceAllString(msg, "")
	msg = inlineIDRe.ReplaceAllString(msg, " ")
	msg = dataPrefixRe.ReplaceAllString(msg, "")

	msg = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff':
			return -1
		}
		return r
	}, msg)

	// Literal "\n" sequences arrive from some backends instead of newlines.
	msg = strings.ReplaceAll(msg, `\n`, "\n")

	// Markdown-style list dashes to bullets, keeping ** bold intact.
	msg = strings.ReplaceAll(msg, "- **", "• **")
	msg = strings.ReplaceAll(msg, "   - ", "   • ")

	msg = manyNewlines.ReplaceAllString(msg, "\n\n")
	msg = runsOfBlank.ReplaceAllString(msg, " ")
	msg = trailBullets.ReplaceAllString(msg, "")

	return strings.TrimSpace(msg)
}
