package attachment

import (
	"errors"
	"strings"
)

// ErrMissingTestName is returned when no test identity can be derived from
// an identifier.
var ErrMissingTestName = errors.New("missing test name")

// BaseName derives the stable test name from a fully qualified test
// identifier by splitting, never by pattern matching:
//
//	"pkg/path::TestParse/empty_input (call)" -> "TestParse"
//	"TestParse/empty_input#01"               -> "TestParse"
//	"test_parametrized[3]"                   -> "test_parametrized"
//
// It returns an empty string when the identifier carries no name.
func BaseName(id string) string {
	name, _ := split(id)

	return name
}

// SubtestPath returns the part of id that distinguishes one variant of a test
// from another: the Go subtest path or the bracketed parametrization. It is
// empty for a plain top-level test.
func SubtestPath(id string) string {
	_, variant := split(id)

	return variant
}

// RequireBaseName is BaseName that reports a missing identity as an error.
func RequireBaseName(id string) (string, error) {
	name := BaseName(id)
	if name == "" {
		return "", ErrMissingTestName
	}

	return name, nil
}

func split(id string) (name, variant string) {
	name = id

	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}

	// Invocation phase suffix, e.g. " (call)" or " (setup)".
	if i := strings.LastIndex(name, " ("); i >= 0 && strings.HasSuffix(name, ")") {
		name = name[:i]
	}

	name = strings.TrimSpace(name)

	if i := strings.IndexAny(name, "/["); i >= 0 {
		variant = name[i:]
		name = name[:i]

		if variant[0] == '/' {
			variant = variant[1:]
		} else {
			variant = strings.TrimSuffix(variant[1:], "]")
		}
	}

	return name, variant
}
