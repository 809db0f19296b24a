// ABOUTME: Tests for reference-link extraction from raw message text.
// ABOUTME: Covers markdown links, autolinks, HTML anchors, and empty anchor text.

package markup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLinks_MarkdownLink(t *testing.T) {
	links := ExtractLinks("See [PTO Policy](https://hr.example.com/pto) for details.")
	require.Len(t, links, 1)
	assert.Equal(t, "https://hr.example.com/pto", links[0].URL)
	assert.Equal(t, "PTO Policy", links[0].Title)
}

func TestExtractLinks_HTMLAnchor(t *testing.T) {
	links := ExtractLinks(`Before <a href="https://kb.example.com/article/42">Leave Guide</a> after`)
	require.Len(t, links, 1)
	assert.Equal(t, "https://kb.example.com/article/42", links[0].URL)
	assert.Equal(t, "Leave Guide", links[0].Title)
}

func TestExtractLinks_EmptyAnchorTextFallsBackToHost(t *testing.T) {
	links := ExtractLinks(`<a href="https://www.kb.example.com/article/42"></a>`)
	require.Len(t, links, 1)
	assert.Equal(t, "kb.example.com", links[0].Title)
}

func TestExtractLinks_Deduplicates(t *testing.T) {
	raw := `[a](https://example.com/x) and <a href="https://example.com/x">a</a>`
	links := ExtractLinks(raw)
	assert.Len(t, links, 1)
}

func TestExtractLinks_NoLinks(t *testing.T) {
	assert.Empty(t, ExtractLinks("no links in here"))
	assert.Empty(t, ExtractLinks(""))
}
