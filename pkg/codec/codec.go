package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// safe reports whether r may appear unescaped in a DNS label under this codec.
func safe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == '-':
		return true
	default:
		return false
	}
}

// escapePattern matches one ".eNNN." escape sequence during decode. NNN is
// not fixed-width: encode always emits at least 3 digits, but any run of
// decimal digits is accepted so codepoints above 999 still round-trip.
var escapePattern = regexp.MustCompile(`\.e(\d+)\.`)

// Encode replaces every character of s outside [A-Za-z0-9_.-] with the
// self-delimiting escape ".eNNN.", NNN being its decimal codepoint
// zero-padded to 3 digits (wider if the codepoint itself needs more).
// Strings already safe for a DNS label are returned unchanged.
func Encode(s string) string {
	var b strings.Builder
	for _, r := range s {
		if safe(r) {
			b.WriteRune(r)
			continue
		}
		fmt.Fprintf(&b, ".e%03d.", r)
	}
	return b.String()
}

// Decode reverses Encode, replacing every ".e<digits>." escape with the
// character of that decimal codepoint. Decode(Encode(s)) == s for valid
// UTF-8 s that does not itself contain a ".e<digits>." run: Encode leaves
// such text unchanged (every character in it is safe), and Decode then
// reads it as an escape.
func Decode(s string) string {
	return escapePattern.ReplaceAllStringFunc(s, func(m string) string {
		digits := escapePattern.FindStringSubmatch(m)[1]
		code, err := strconv.Atoi(digits)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
}
