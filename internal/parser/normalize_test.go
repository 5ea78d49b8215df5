package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "empty input",
			input:    "",
			expected: nil,
		},
		{
			name:     "concatenated objects",
			input:    `{"a":1}{"b":2}`,
			expected: []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name:     "braces inside strings",
			input:    `{"a":"}{"}`,
			expected: []string{`{"a":"}{"}`},
		},
		{
			name:     "nested objects",
			input:    `{"a":{"b":{"c":1}}}{"d":[{"e":2}]}`,
			expected: []string{`{"a":{"b":{"c":1}}}`, `{"d":[{"e":2}]}`},
		},
		{
			name:     "escaped quote inside string",
			input:    `{"a":"say \"}{\" now"}{"b":1}`,
			expected: []string{`{"a":"say \"}{\" now"}`, `{"b":1}`},
		},
		{
			name:     "stray characters between objects are dropped",
			input:    "  junk {\"a\":1} ,\n\t{\"b\":2}  trailing",
			expected: []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name:     "truncated trailing object is dropped",
			input:    `{"a":1}{"b":{"c":`,
			expected: []string{`{"a":1}`},
		},
		{
			name:     "unterminated string swallows the rest",
			input:    `{"a":"oops}{"b":2}`,
			expected: nil,
		},
		{
			name:     "multibyte text is preserved",
			input:    `{"a":"héllo {ü}"}{"b":"日本"}`,
			expected: []string{`{"a":"héllo {ü}"}`, `{"b":"日本"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalizeStringRepairsConcatenation(t *testing.T) {
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}", NormalizeString(`{"a":1}{"b":2}`))
}

func TestNormalizeStringIdempotentOnCleanInput(t *testing.T) {
	clean := strings.Join([]string{
		`{"type":"session","timestamp":"2025-01-02T03:04:05Z"}`,
		`{"message":{"model":"m","usage":{"cost":{"total":0.5}}}}`,
		`{"message":{"content":"a { b } c"}}`,
	}, "\n")

	once := NormalizeString(clean + "\n")
	assert.Equal(t, clean, once)
	assert.Equal(t, once, NormalizeString(once))
}

func TestNormalizeEscapedBackslashBeforeQuote(t *testing.T) {
	// `\\"` closes the string in JSON, but the scanner sees a backslash
	// before the quote and stays inside it, so the closing brace is missed.
	got := Normalize(`{"a":"x\\"}{"b":1}`)
	assert.Empty(t, got)
}
