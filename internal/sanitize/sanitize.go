// Package sanitize degrades untrusted input into something safe to store and
// echo back. Nothing here returns an error for ordinary strings; callers get
// a cleaned value instead.
//
// The pattern checks are a deny list. Queries in this repository are always
// parameterized and clients are expected to encode output when rendering, so
// these functions are an extra layer rather than the boundary itself.
package sanitize

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"aquavo-api/internal/domain"
)

const (
	maxStringLen      = 1000
	maxHTMLLen        = 5000
	maxFileNameLen    = 255
	maxSearchQueryLen = 100
)

// ErrSuspiciousInput is returned by SearchQuery when the input looks like SQL.
var ErrSuspiciousInput = errors.New("suspicious input")

var (
	angleBrackets = strings.NewReplacer("<", "", ">", "")
	jsScheme      = regexp.MustCompile(`(?i)javascript:`)
	eventHandler  = regexp.MustCompile(`(?i)on\w+\s*=`)

	htmlTag     = regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)\b[^<>]*>`)
	allowedTags = map[string]bool{"b": true, "i": true, "em": true, "strong": true, "p": true, "br": true}

	unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	dotRuns         = regexp.MustCompile(`\.{2,}`)

	sqlPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|EXEC|EXECUTE)\b`),
		regexp.MustCompile(`(?i)UNION.*SELECT`),
		regexp.MustCompile(`--|;|/\*|\*/`),
		regexp.MustCompile(`(?i)\bOR\b.*=`),
		regexp.MustCompile(`(?i)\bAND\b.*=`),
	}

	pollutingKeys = []string{"__proto__", "constructor", "prototype"}
)

// String trims s, removes angle brackets, javascript: schemes and inline
// event handler assignments, and caps the result at 1000 characters.
func String(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	s = angleBrackets.Replace(s)
	// Removal can splice a new match together ("javajavascript:script:"),
	// so repeat until nothing changes.
	for {
		next := jsScheme.ReplaceAllString(s, "")
		next = eventHandler.ReplaceAllString(next, "")
		if next == s {
			break
		}
		s = next
	}
	return truncateRunes(s, maxStringLen)
}

// HTML keeps b, i, em, strong, p and br tags (stripped of attributes) and
// drops every other tag. Text content is left alone apart from stray angle
// brackets, which are removed.
func HTML(s string) string {
	// Dropping a tag can join its neighbours into a new one, as in
	// "<scr<script>ipt>", so filter until the output is stable.
	for {
		next := htmlTag.ReplaceAllStringFunc(s, keepAllowedTag)
		if next == s {
			break
		}
		s = next
	}

	var b strings.Builder
	last := 0
	for _, loc := range htmlTag.FindAllStringIndex(s, -1) {
		b.WriteString(angleBrackets.Replace(s[last:loc[0]]))
		b.WriteString(s[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(angleBrackets.Replace(s[last:]))
	return truncateRunes(b.String(), maxHTMLLen)
}

func keepAllowedTag(tok string) string {
	m := htmlTag.FindStringSubmatch(tok)
	name := strings.ToLower(m[1])
	if !allowedTags[name] {
		return ""
	}
	if strings.HasPrefix(tok, "</") {
		return "</" + name + ">"
	}
	return "<" + name + ">"
}

// FileName maps name onto [a-zA-Z0-9._-], collapses dot runs so "../" cannot
// survive, and caps the length at 255.
func FileName(name string) string {
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = dotRuns.ReplaceAllString(name, ".")
	if len(name) > maxFileNameLen {
		name = name[:maxFileNameLen]
	}
	return name
}

// Object removes prototype pollution keys from every nested JSON object in v.
// Maps and slices are modified in place; other values pass through.
func Object(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for _, k := range pollutingKeys {
			delete(t, k)
		}
		for k, child := range t {
			t[k] = Object(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = Object(child)
		}
		return t
	default:
		return v
	}
}

// ContainsSQLInjection reports whether s matches a common SQL injection shape.
func ContainsSQLInjection(s string) bool {
	for _, p := range sqlPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// SearchQuery cleans a catalog search term, rejecting SQL-looking input.
func SearchQuery(q string) (string, error) {
	if ContainsSQLInjection(q) {
		return "", ErrSuspiciousInput
	}
	return truncateRunes(String(q), maxSearchQueryLen), nil
}

// CustomerInfo applies String to every free-text field of c.
func CustomerInfo(c domain.CustomerInfo) domain.CustomerInfo {
	return domain.CustomerInfo{
		Name:    String(c.Name),
		Phone:   String(c.Phone),
		Address: String(c.Address),
		Email:   String(c.Email),
		Notes:   String(c.Notes),
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
