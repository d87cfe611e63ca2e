package code_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/liveclass/internal/code"
)

func TestGenerate(t *testing.T) {
	seen := make(map[string]bool)

	for i := 0; i < 100; i++ {
		c, err := code.Generate()
		require.NoError(t, err)
		require.Len(t, c, code.Length)
		require.True(t, code.Valid(c), "generated code %q must be valid", c)

		for _, ambiguous := range "0O1IL" {
			require.NotContains(t, c, string(ambiguous))
		}

		seen[c] = true
	}

	// Not a uniqueness guarantee, but 100 draws from ~887M combinations
	// colliding down to a handful would mean broken randomness.
	assert.Greater(t, len(seen), 90)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "AB23CD", code.Normalize("ab23cd"))
	assert.Equal(t, "AB23CD", code.Normalize("  Ab23Cd  "))
}

func TestValid(t *testing.T) {
	tests := map[string]struct {
		in   string
		want bool
	}{
		"valid":               {"AB23CD", true},
		"too short":           {"AB23", false},
		"too long":            {"AB23CDE", false},
		"lowercase":           {"ab23cd", false},
		"ambiguous zero":      {"AB230D", false},
		"ambiguous letter oh": {"AB23OD", false},
		"punctuation":         {"AB-3CD", false},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, code.Valid(tt.in))
		})
	}
}

func TestExtract(t *testing.T) {
	tests := map[string]struct {
		in   string
		want string
	}{
		"bare code":        {"AB23CD", "AB23CD"},
		"lowercase code":   {"ab23cd", "AB23CD"},
		"join url":         {"https://class.example/join/AB23CD", "AB23CD"},
		"spoken sentence":  {"Join code: AB23CD", "AB23CD"},
		"nothing in there": {"no luck", ""},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, code.Extract(tt.in))
		})
	}
}
