// Package objpath normalises and validates object-path identifiers.
//
// Grammar: a leading "/", one or more "/"-separated segments, each segment
// matching [a-z][a-z0-9-]*, total length capped at 255 bytes. Paths are
// lower-cased before validation.
package objpath

import (
	"fmt"
	"strings"
)

type Error struct {
	Reason  string
	Segment string
}

func (e *Error) Error() string {
	if e.Segment != "" {
		return fmt.Sprintf("%s: %q", e.Reason, e.Segment)
	}
	return e.Reason
}

const maxLen = 255

var (
	ErrEmpty              = &Error{Reason: "empty path"}
	ErrMissingLeadingSlash = &Error{Reason: "missing leading slash"}
	ErrTooLong            = &Error{Reason: "path too long"}
)

func errEmptySegment() *Error {
	return &Error{Reason: "empty segment"}
}

func errInvalidSegment(seg string) *Error {
	return &Error{Reason: "invalid segment", Segment: seg}
}

func errSegmentStartsWithNonLetter(seg string) *Error {
	return &Error{Reason: "segment starts with non-letter", Segment: seg}
}

// Validate normalises p to lowercase and checks it against the path grammar,
// returning the normalised form.
func Validate(p string) (string, error) {
	if p == "" {
		return "", ErrEmpty
	}
	norm := strings.ToLower(p)
	if len(norm) > maxLen {
		return "", ErrTooLong
	}
	if norm[0] != '/' {
		return "", ErrMissingLeadingSlash
	}
	segments := strings.Split(norm[1:], "/")
	for _, seg := range segments {
		if seg == "" {
			return "", errEmptySegment()
		}
		if err := validateSegment(seg); err != nil {
			return "", err
		}
	}
	return norm, nil
}

func validateSegment(seg string) error {
	first := seg[0]
	if first < 'a' || first > 'z' {
		return errSegmentStartsWithNonLetter(seg)
	}
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		ok := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-'
		if !ok {
			return errInvalidSegment(seg)
		}
	}
	return nil
}

// Parent returns p with its last segment removed, and false if p has depth 1.
func Parent(p string) (string, bool) {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "", false
	}
	return p[:idx], true
}

// Name returns the last segment of p.
func Name(p string) string {
	idx := strings.LastIndex(p, "/")
	return p[idx+1:]
}
