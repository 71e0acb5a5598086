// Package expect checks captured probe output against expectations.
//
// Every check is a pure function of its inputs. A failed check returns a
// *MismatchError carrying both the actual and the expected value.
//
// Pattern checks are anchored at the start of the text and succeed on a
// prefix match: trailing unmatched text is not a failure. All pattern
// assertions in this module share that rule.
package expect

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies the type of an expectation.
type Kind string

const (
	// KindExact requires byte-for-byte equality.
	KindExact Kind = "exact"
	// KindPattern requires a regular expression match starting at offset 0.
	KindPattern Kind = "pattern"
	// KindContains requires a case-sensitive substring.
	KindContains Kind = "contains"
	// KindFormat is used for output that violates the probe line grammar.
	KindFormat Kind = "format"
)

// MismatchError reports a failed expectation.
type MismatchError struct {
	Kind     Kind
	Actual   string
	Expected string
	Reason   string // optional detail, e.g. the offending line
}

func (e *MismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s mismatch", e.Kind)
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	fmt.Fprintf(&b, "\n  actual:   %q\n  expected: %q", e.Actual, e.Expected)
	return b.String()
}

// Exact fails unless actual equals expected byte for byte.
func Exact(actual, expected string) error {
	if actual == expected {
		return nil
	}
	return &MismatchError{Kind: KindExact, Actual: actual, Expected: expected, Reason: firstDifference(actual, expected)}
}

// Pattern fails unless pattern matches a prefix of actual.
func Pattern(actual, pattern string) error {
	re, err := regexp.Compile(`\A(?:` + pattern + `)`)
	if err != nil {
		return &MismatchError{Kind: KindPattern, Actual: actual, Expected: pattern, Reason: fmt.Sprintf("invalid pattern: %v", err)}
	}
	if re.MatchString(actual) {
		return nil
	}
	return &MismatchError{Kind: KindPattern, Actual: actual, Expected: pattern}
}

// Contains fails unless substring occurs in actual.
func Contains(actual, substring string) error {
	if strings.Contains(actual, substring) {
		return nil
	}
	return &MismatchError{Kind: KindContains, Actual: actual, Expected: substring}
}

// Expectation is a check bound to its expected value.
type Expectation struct {
	Kind Kind
	Want string
}

// Equals returns an exact-text expectation.
func Equals(want string) Expectation { return Expectation{Kind: KindExact, Want: want} }

// Matches returns an anchored-pattern expectation.
func Matches(pattern string) Expectation { return Expectation{Kind: KindPattern, Want: pattern} }

// Includes returns a substring expectation.
func Includes(substring string) Expectation { return Expectation{Kind: KindContains, Want: substring} }

// Check applies the expectation to actual.
func (e Expectation) Check(actual string) error {
	switch e.Kind {
	case KindExact:
		return Exact(actual, e.Want)
	case KindPattern:
		return Pattern(actual, e.Want)
	case KindContains:
		return Contains(actual, e.Want)
	default:
		return fmt.Errorf("unknown expectation kind %q", e.Kind)
	}
}

func (e Expectation) String() string {
	return fmt.Sprintf("%s %q", e.Kind, e.Want)
}

// firstDifference describes where two strings first diverge, by line.
func firstDifference(actual, expected string) string {
	a := strings.SplitAfter(actual, "\n")
	b := strings.SplitAfter(expected, "\n")
	for i := 0; i < len(a) || i < len(b); i++ {
		var la, lb string
		if i < len(a) {
			la = a[i]
		}
		if i < len(b) {
			lb = b[i]
		}
		if la != lb {
			return fmt.Sprintf("line %d: got %q, want %q", i+1, la, lb)
		}
	}
	return ""
}
