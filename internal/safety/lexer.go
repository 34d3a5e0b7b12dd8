package safety

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
}

// scrub blanks out comments and string literals so keyword and identifier
// scanning cannot be fooled by quoted content. Quoted identifiers survive
// as word tokens. Dollar quoting and nested block comments follow the
// PostgreSQL lexical rules.
func scrub(input string) (string, error) {
	var out strings.Builder
	out.Grow(len(input))
	runes := []rune(input)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				out.WriteByte(' ')
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			depth := 1
			out.WriteString("  ")
			i += 2
			for i < len(runes) && depth > 0 {
				if runes[i] == '/' && i+1 < len(runes) && runes[i+1] == '*' {
					depth++
					out.WriteString("  ")
					i += 2
					continue
				}
				if runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/' {
					depth--
					out.WriteString("  ")
					i += 2
					continue
				}
				out.WriteByte(' ')
				i++
			}
			if depth > 0 {
				return "", fmt.Errorf("unterminated block comment")
			}
		case r == '\'':
			// Backslash is an escape only in E'...' strings. In plain
			// literals a quote ends the string unconditionally
			// (standard_conforming_strings, the server default).
			escapeString := i > 0 && (runes[i-1] == 'e' || runes[i-1] == 'E') &&
				(i == 1 || !isIdentRune(runes[i-2]))
			out.WriteByte(' ')
			i++
			closed := false
			for i < len(runes) {
				if escapeString && runes[i] == '\\' && i+1 < len(runes) {
					out.WriteString("  ")
					i += 2
					continue
				}
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						out.WriteString("  ")
						i += 2
						continue
					}
					out.WriteByte(' ')
					i++
					closed = true
					break
				}
				out.WriteByte(' ')
				i++
			}
			if !closed {
				return "", fmt.Errorf("unterminated string literal")
			}
		case r == '$':
			tag, tagLen := dollarTag(runes[i:])
			if tagLen == 0 {
				out.WriteRune(r)
				i++
				continue
			}
			end := runeIndex(runes[i+tagLen:], []rune(tag))
			if end < 0 {
				return "", fmt.Errorf("unterminated dollar-quoted string")
			}
			total := tagLen + end + len([]rune(tag))
			for j := 0; j < total; j++ {
				out.WriteByte(' ')
			}
			i += total
		default:
			out.WriteRune(r)
			i++
		}
	}
	return out.String(), nil
}

// dollarTag returns the $tag$ opener at the start of runes, or zero length
// when the dollar sign does not open a quoted string.
func dollarTag(runes []rune) (string, int) {
	if len(runes) < 2 || runes[0] != '$' {
		return "", 0
	}
	for i := 1; i < len(runes); i++ {
		if runes[i] == '$' {
			return string(runes[:i+1]), i + 1
		}
		if !unicode.IsLetter(runes[i]) && runes[i] != '_' && !unicode.IsDigit(runes[i]) {
			return "", 0
		}
	}
	return "", 0
}

// runeIndex returns the rune offset of the first occurrence of needle in
// haystack, or -1.
func runeIndex(haystack, needle []rune) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
}

// tokenize splits scrubbed SQL into lowercase word tokens and single-rune
// punctuation tokens. Double-quoted identifiers become word tokens with
// the quotes removed.
func tokenize(scrubbed string) []token {
	var tokens []token
	runes := []rune(scrubbed)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '"':
			i++
			var ident strings.Builder
			for i < len(runes) {
				if runes[i] == '"' {
					if i+1 < len(runes) && runes[i+1] == '"' {
						ident.WriteRune('"')
						i += 2
						continue
					}
					i++
					break
				}
				ident.WriteRune(runes[i])
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: strings.ToLower(ident.String())})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_' || runes[i] == '$') {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: strings.ToLower(string(runes[start:i]))})
		case unicode.IsDigit(r):
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == 'e' || runes[i] == '+' || runes[i] == '-') {
				if (runes[i] == '+' || runes[i] == '-') && runes[i-1] != 'e' {
					break
				}
				i++
			}
		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			i++
		}
	}
	return tokens
}
