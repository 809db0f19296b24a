// ABOUTME: Case-creation flag extraction and addendum block construction.
// ABOUTME: Flags arrive as compact (<10>) or verbose (<<warning>1</warning>) tokens in raw text.

package markup

import (
	"regexp"
	"strings"
)

// CaseFlags are the structured signals a completed reply can carry. They
// drive the case-creation addendum appended after the reply body.
type CaseFlags struct {
	Warning     bool
	Termination bool
}

// caseBlockHeading marks an addendum that is already present; the extraction
// pass must never append a second block.
const caseBlockHeading = "Case Creation Links:"

// Catalog URLs for the case-creation items surfaced in the addendum.
const (
	initialWarningURL = "https://servicedesk.example.com/esc?id=sc_cat_item&item=initial_warning"
	writtenWarningURL = "https://servicedesk.example.com/esc?id=sc_cat_item&item=written_warning"
	terminationURL    = "https://servicedesk.example.com/esc?id=sc_cat_item&item=termination"
)

var (
	warningSetRe = regexp.MustCompile(`(?i)<<\s*warning\s*>\s*1\s*<\s*/\s*warning\s*>`)
	termSetRe    = regexp.MustCompile(`(?i)<\s*termination\s*>\s*1\s*<\s*/\s*termination\s*>`)
)

// ParseCaseFlags reads warning/termination flags from raw text, supporting
// both the legacy compact tokens and the verbose tag form.
func ParseCaseFlags(text string) CaseFlags {
	if text == "" {
		return CaseFlags{}
	}

	var f CaseFlags
	if warningSetRe.MatchString(text) {
		f.Warning = true
	}
	if termSetRe.MatchString(text) {
		f.Termination = true
	}
	if strings.Contains(text, "<10>") || strings.Contains(text, "<11>") {
		f.Warning = true
	}
	if strings.Contains(text, "<01>") || strings.Contains(text, "<11>") {
		f.Termination = true
	}
	return f
}

// CaseCreationBlock renders the addendum for the given flags. Returns the
// empty string when no flag is set.
func CaseCreationBlock(f CaseFlags) string {
	if !f.Warning && !f.Termination {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n")
	b.WriteString(caseBlockHeading)
	if f.Warning {
		b.WriteString("\n• Initial Warning: " + initialWarningURL)
		b.WriteString("\n• Written Warning: " + writtenWarningURL)
	}
	if f.Termination {
		b.WriteString("\n• Termination: " + terminationURL)
	}
	return b.String()
}

// HasCaseBlock reports whether text already carries the addendum.
func HasCaseBlock(text string) bool {
	return strings.Contains(text, caseBlockHeading)
}

// FinalizeText runs the full completion pass over an accumulated raw reply:
// clean it, extract flags from the raw form, and append the addendum exactly
// once. Running it again over its own output changes nothing.
func FinalizeText(raw string) string {
	cleaned := CleanStreamText(raw)
	if cleaned == "" {
		return EmptyResponsePlaceholder
	}
	if HasCaseBlock(cleaned) {
		return cleaned
	}
	block := CaseCreationBlock(ParseCaseFlags(raw))
	if block == "" {
		return cleaned
	}
	return strings.TrimSpace(cleaned + block)
}
