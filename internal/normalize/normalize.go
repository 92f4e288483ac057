// Package normalize canonicalizes user-supplied identity fields.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization trims surrounding whitespace
// and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// DisplayName returns the trimmed name, or the local part of email when
// the name is blank.
func DisplayName(name, email string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	e := Email(email)
	if i := strings.IndexByte(e, '@'); i > 0 {
		return e[:i]
	}
	return e
}

// Text trims a message body. An empty result means the body carried no
// content worth storing.
func Text(s string) string {
	return strings.TrimSpace(s)
}
