// ABOUTME: Reference-link extraction from raw (pre-cleaning) message text.
// ABOUTME: Walks the goldmark AST for markdown links and falls back to HTML anchors.

package markup

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Link is a reference link surfaced in the sources panel.
type Link struct {
	URL   string
	Title string
}

var anchorRe = regexp.MustCompile(`(?is)<a[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)

// ExtractLinks pulls reference links out of raw message text. Markdown links
// and autolinks are read from the goldmark AST; HTML anchors emitted by the
// backend are matched directly since the cleaner may have emptied their text.
func ExtractLinks(raw string) []Link {
	if raw == "" {
		return nil
	}

	var links []Link
	seen := make(map[string]bool)
	add := func(u, title string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		title = strings.TrimSpace(title)
		if title == "" {
			title = hostLabel(u)
		}
		links = append(links, Link{URL: u, Title: title})
	}

	source := []byte(raw)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Link:
			add(string(node.Destination), nodeText(node, source))
		case *ast.AutoLink:
			u := string(node.URL(source))
			add(u, "")
		}
		return ast.WalkContinue, nil
	})

	for _, m := range anchorRe.FindAllStringSubmatch(raw, -1) {
		add(m[1], strings.TrimSpace(m[2]))
	}

	return links
}

func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
	}
	return b.String()
}

// hostLabel labels a link whose anchor text was stripped by the cleaner.
func hostLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(u.Host, "www.")
}
