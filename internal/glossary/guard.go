package glossary

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderFormat must survive machine translation untouched. Numbered
// tokens of ASCII letters and underscores are left alone by the engines we
// have observed; Restore copes when they are not.
const placeholderFormat = "__GLOSSARY_%d__"

var placeholderIndex = regexp.MustCompile(`__GLOSSARY_(\d+)__`)

// PlaceholderMap maps placeholder token to the exact source text it
// replaced, preserving the original casing of each occurrence.
type PlaceholderMap map[string]string

// Protect replaces each occurrence of a glossary term in text with a unique
// placeholder. Matching is case-insensitive and longest-match-first. The
// returned map is what Restore needs to reverse the substitution.
func (g *Glossary) Protect(text string) (string, PlaceholderMap) {
	placeholders := make(PlaceholderMap)
	if g.matcher == nil || text == "" {
		return text, placeholders
	}

	n := 0
	guarded := g.matcher.ReplaceAllStringFunc(text, func(match string) string {
		ph := fmt.Sprintf(placeholderFormat, n)
		placeholders[ph] = match
		n++
		return ph
	})
	return guarded, placeholders
}

// Restore reverses Protect after translation. Placeholders found intact are
// substituted exactly. A placeholder the translation engine altered is
// matched case-insensitively with relaxed separators; if it cannot be found
// at all, the original term is reinserted at the nearest token boundary
// (the end of the text) and a warning is returned. Restore never fails.
func Restore(text string, placeholders PlaceholderMap) (string, []string) {
	if len(placeholders) == 0 {
		return text, nil
	}

	// Deterministic order: by placeholder index.
	keys := make([]string, 0, len(placeholders))
	for ph := range placeholders {
		keys = append(keys, ph)
	}
	sort.Slice(keys, func(i, j int) bool {
		return placeholderNumber(keys[i]) < placeholderNumber(keys[j])
	})

	var warnings []string
	for _, ph := range keys {
		term := placeholders[ph]

		if strings.Contains(text, ph) {
			text = strings.ReplaceAll(text, ph, term)
			continue
		}

		// The engine translated inside the placeholder: tolerate case
		// changes and dropped or spaced-out underscores. The submatch is
		// the boundary character after the number, kept in place.
		relaxed := relaxedPlaceholderPattern(ph)
		if loc := relaxed.FindStringSubmatchIndex(text); loc != nil {
			text = text[:loc[0]] + term + text[loc[2]:]
			warnings = append(warnings, fmt.Sprintf("placeholder %s mangled, matched loosely for %q", ph, term))
			continue
		}

		// Placeholder lost entirely; reinsert the term at a token boundary.
		if text != "" && !strings.HasSuffix(text, " ") {
			text += " "
		}
		text += term
		warnings = append(warnings, fmt.Sprintf("placeholder %s lost in translation, reinserted %q", ph, term))
	}

	return text, warnings
}

func placeholderNumber(ph string) int {
	m := placeholderIndex.FindStringSubmatch(ph)
	if len(m) != 2 {
		return -1
	}
	n := 0
	for _, c := range m[1] {
		n = n*10 + int(c-'0')
	}
	return n
}

func relaxedPlaceholderPattern(ph string) *regexp.Regexp {
	inner := strings.Trim(ph, "_")
	// "GLOSSARY_7" -> match "__glossary_7__", "glossary 7", "GLOSSARY-7" etc.
	parts := strings.Split(inner, "_")
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = regexp.QuoteMeta(p)
	}
	// The captured boundary rejects a longer number: the relaxed form of
	// placeholder 1 must not swallow the prefix of placeholder 12.
	return regexp.MustCompile(`(?i)_{0,2}` + strings.Join(escaped, `[\s_-]*`) + `_{0,2}([^0-9]|$)`)
}
