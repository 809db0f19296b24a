// ABOUTME: Predefined prompt catalog loaded from a TOML file.
// ABOUTME: Prompts are grouped by assistant domain and referenced by id.

package prompts

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Prompt is one predefined question the user can send verbatim.
type Prompt struct {
	ID     string `toml:"id"`
	Domain string `toml:"domain"`
	Label  string `toml:"label"`
	Text   string `toml:"text"`
}

// Catalog holds the predefined prompts.
type Catalog struct {
	Prompts []Prompt `toml:"prompt"`
}

// Load reads a prompt catalog. Every prompt needs an id and text; ids must
// be unique across the file.
func Load(path string) (*Catalog, error) {
	var cat Catalog
	if _, err := toml.DecodeFile(path, &cat); err != nil {
		return nil, fmt.Errorf("loading prompt catalog: %w", err)
	}

	seen := make(map[string]bool, len(cat.Prompts))
	for i, p := range cat.Prompts {
		if p.ID == "" {
			return nil, fmt.Errorf("prompt %d: missing id", i)
		}
		if p.Text == "" {
			return nil, fmt.Errorf("prompt %q: missing text", p.ID)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("prompt %q: duplicate id", p.ID)
		}
		seen[p.ID] = true
	}
	return &cat, nil
}

// ForDomain returns the prompts for a domain, in file order. Prompts with no
// domain apply to all domains.
func (c *Catalog) ForDomain(domain string) []Prompt {
	var out []Prompt
	for _, p := range c.Prompts {
		if p.Domain == "" || p.Domain == domain {
			out = append(out, p)
		}
	}
	return out
}

// Find returns the prompt with the given id.
func (c *Catalog) Find(id string) (Prompt, bool) {
	for _, p := range c.Prompts {
		if p.ID == id {
			return p, true
		}
	}
	return Prompt{}, false
}
