// Package code generates and normalizes session join codes: short, uppercase,
// human-typeable strings students enter to find a session. Uniqueness among
// non-ended sessions is the store's constraint, not validated here.
package code

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

// Length is the join code length. Ambiguous characters (0, O, 1, I, L) are
// excluded so codes survive being read aloud or copied from a projector.
const (
	Length   = 6
	alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

var codePattern = regexp.MustCompile(fmt.Sprintf("[%s]{%d}", alphabet, Length))

// Generate returns a random join code.
func Generate() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("code: read random: %w", err)
	}

	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}

	return string(buf), nil
}

// Normalize uppercases and trims a student-entered code.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// Valid reports whether a normalized code has the expected format.
func Valid(c string) bool {
	if len(c) != Length {
		return false
	}
	return codePattern.MatchString(c)
}

// Extract pulls a join code out of free-form input, e.g. a pasted join URL or
// "Join code: AB23CD". Returns "" when no code-shaped substring exists.
func Extract(input string) string {
	normalized := strings.ToUpper(strings.Join(strings.Fields(input), ""))
	return codePattern.FindString(normalized)
}
