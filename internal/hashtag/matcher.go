// Package hashtag decides whether free-form post text belongs to a hashtag
// scope.
package hashtag

import "strings"

// Matches reports whether some whitespace/punctuation-delimited token of
// text equals hashtag case-insensitively. Substring containment is not
// enough: "#zib2" must not match inside "#zib2x".
func Matches(text, hashtag string) bool {
	if hashtag == "" {
		return false
	}
	for _, token := range strings.FieldsFunc(text, isDelimiter) {
		if strings.EqualFold(token, hashtag) {
			return true
		}
	}
	return false
}

func isDelimiter(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n', '.', ',', ';', '!', '?', '\'', '"':
		return true
	}
	return false
}
