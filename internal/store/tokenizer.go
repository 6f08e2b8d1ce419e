package store

import (
	"strings"
	"unicode"
)

// DefaultCodeStopWords are tokens too common in code to carry signal.
var DefaultCodeStopWords = []string{
	"the", "and", "for", "with", "that", "this", "from", "are", "was",
	"def", "end", "class", "module", "self", "nil", "true", "false",
	"do", "if", "else", "elsif", "unless", "return", "new", "not",
}

// TokenizeCode splits text into search tokens: identifiers are split on
// camelCase and snake_case boundaries, punctuation is dropped, and the
// original compound token is kept alongside its parts.
func TokenizeCode(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	tokens := make([]string, 0, len(fields)*2)
	for _, field := range fields {
		parts := SplitCodeToken(field)
		if len(parts) > 1 {
			tokens = append(tokens, field)
		}
		tokens = append(tokens, parts...)
	}
	return tokens
}

// SplitCodeToken splits one identifier on underscores and case boundaries.
func SplitCodeToken(token string) []string {
	var parts []string
	for _, piece := range strings.Split(token, "_") {
		if piece == "" {
			continue
		}
		parts = append(parts, SplitCamelCase(piece)...)
	}
	return parts
}

// SplitCamelCase splits getUserByID into [get, User, By, ID].
func SplitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var parts []string
	runes := []rune(s)
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := (unicode.IsLower(prev) || unicode.IsDigit(prev)) && unicode.IsUpper(cur)
		// ID followed by lowercase: "APIClient" -> API | Client.
		if !boundary && unicode.IsUpper(prev) && unicode.IsUpper(cur) &&
			i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	parts = append(parts, string(runes[start:]))
	return parts
}

// BuildStopWordMap converts a stop word list into a lookup set.
func BuildStopWordMap(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}
