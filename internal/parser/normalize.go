package parser

import "strings"

// scanState is the position of the normalizer relative to the JSON text
type scanState int

const (
	outsideObject scanState = iota
	insideObject
	insideString
)

// Normalize splits raw log content into top-level JSON object literals.
//
// Session logs are supposed to hold one object per line, but writers
// sometimes append an object directly after the previous one with no
// newline. Normalize tracks brace depth, ignoring braces inside string
// literals, and emits every complete object in order. Bytes between objects
// are dropped, as is a trailing object that never closes.
//
// A quote ends a string unless the byte before it is a backslash. An escaped
// backslash right before the closing quote (`\\"`) is not recognized.
func Normalize(raw string) []string {
	var (
		objects []string
		state   = outsideObject
		depth   int
		start   int
	)

	for i := 0; i < len(raw); i++ {
		c := raw[i]

		switch state {
		case outsideObject:
			if c == '{' {
				state = insideObject
				depth = 1
				start = i
			}

		case insideObject:
			switch c {
			case '"':
				state = insideString
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					objects = append(objects, raw[start:i+1])
					state = outsideObject
				}
			}

		case insideString:
			if c == '"' && raw[i-1] != '\\' {
				state = insideObject
			}
		}
	}

	return objects
}

// NormalizeString returns the objects found by Normalize, one per line
func NormalizeString(raw string) string {
	return strings.Join(Normalize(raw), "\n")
}
