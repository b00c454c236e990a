// Package naming detects near-duplicate team and project names.
package naming

import (
	"strings"
	"unicode"
)

// abbreviations pairs a short form with its expansion.
var abbreviations = [][2]string{
	{"dev", "development"},
	{"admin", "administration"},
	{"mgr", "manager"},
	{"mgt", "management"},
	{"ops", "operations"},
	{"eng", "engineering"},
	{"tech", "technology"},
}

// Normalize lowercases name, turns '-', '_' and '.' into spaces, drops any
// other punctuation and collapses whitespace.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(' ')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// AreSimilar reports whether a and b would confuse a user picking between
// them.
func AreSimilar(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return na == nb
	}
	if na == nb {
		return true
	}
	wa, wb := strings.Fields(na), strings.Fields(nb)
	if isWordOf(na, wa, wb) || isWordOf(nb, wb, wa) {
		return true
	}
	for _, ab := range abbreviations {
		if (contains(wa, ab[0]) && contains(wb, ab[1])) || (contains(wb, ab[0]) && contains(wa, ab[1])) {
			return true
		}
	}
	return false
}

// isWordOf is true when the single-word name n (longer than two characters)
// is one of the words of a multi-word name.
func isWordOf(n string, nWords, otherWords []string) bool {
	if len(nWords) != 1 || len(otherWords) < 2 || len([]rune(n)) <= 2 {
		return false
	}
	return contains(otherWords, n)
}

func contains(words []string, w string) bool {
	for _, x := range words {
		if x == w {
			return true
		}
	}
	return false
}

// FindDuplicate returns the first existing name that collides with newName.
// Exact normalized matches win over fuzzy ones regardless of position.
func FindDuplicate(newName string, existing []string) (string, bool) {
	n := Normalize(newName)
	for _, e := range existing {
		if Normalize(e) == n {
			return e, true
		}
	}
	for _, e := range existing {
		if AreSimilar(newName, e) {
			return e, true
		}
	}
	return "", false
}

// Candidate is an existing name considered by FindConflict.
type Candidate struct {
	ID     int64  `db:"id"`
	Name   string `db:"name"`
	Active bool   `db:"is_active"`
}

// FindConflict checks name against stored rows, skipping excludeID (the row
// being renamed). Exact normalized matches are checked against every row,
// soft-deleted ones included, since they still hold the unique index. Fuzzy
// matches only consider active rows.
func FindConflict(name string, existing []Candidate, excludeID int64) (string, bool) {
	n := Normalize(name)
	active := make([]string, 0, len(existing))
	for _, c := range existing {
		if c.ID == excludeID {
			continue
		}
		if Normalize(c.Name) == n {
			return c.Name, true
		}
		if c.Active {
			active = append(active, c.Name)
		}
	}
	return FindDuplicate(name, active)
}
