// Package glossary protects do-not-translate terms across machine
// translation. Terms are loaded once at process start from a TSV list and
// shared read-only across all sessions.
package glossary

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Glossary holds the protected term list. Safe for concurrent use once
// constructed.
type Glossary struct {
	terms   []string       // longest-first
	matcher *regexp.Regexp // nil when the glossary is empty
}

// New builds a glossary from a term list. Terms are deduplicated and
// ordered longest-first so overlapping terms match on the longest form.
func New(terms []string) *Glossary {
	seen := make(map[string]struct{}, len(terms))
	cleaned := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cleaned = append(cleaned, t)
	}

	sort.SliceStable(cleaned, func(i, j int) bool {
		return len(cleaned[i]) > len(cleaned[j])
	})

	g := &Glossary{terms: cleaned}
	if len(cleaned) > 0 {
		quoted := make([]string, len(cleaned))
		for i, t := range cleaned {
			quoted[i] = regexp.QuoteMeta(t)
		}
		// Alternatives are tried in order, so the longest-first ordering
		// above gives longest-match-first at any position.
		g.matcher = regexp.MustCompile("(?i)" + strings.Join(quoted, "|"))
	}
	return g
}

// Load reads a glossary from a TSV file. The first column of each
// non-empty line is the protected term; remaining columns are ignored.
func Load(path string) (*Glossary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open glossary %s: %w", path, err)
	}
	defer f.Close()

	var terms []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, strings.SplitN(line, "\t", 2)[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read glossary %s: %w", path, err)
	}

	return New(terms), nil
}

// Empty returns an empty glossary that protects nothing.
func Empty() *Glossary {
	return New(nil)
}

// Terms returns the protected terms, longest-first. The returned slice is
// shared and must not be mutated; it doubles as the phrase-hint list for
// the speech recognizer.
func (g *Glossary) Terms() []string {
	return g.terms
}

// Len returns the number of protected terms.
func (g *Glossary) Len() int {
	return len(g.terms)
}
