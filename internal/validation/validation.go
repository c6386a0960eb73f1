package validation

import (
	"errors"
	"strings"
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalid is returned when location is not a path slug like "uk/london".
var ErrLocationInvalid = errors.New("location must be a slug like uk/london")

// ErrDatasetKeyEmpty is returned when a dataset key is empty.
var ErrDatasetKeyEmpty = errors.New("dataset key is required")

// ErrDatasetKeyInvalid is returned when a dataset key has disallowed characters or length.
var ErrDatasetKeyInvalid = errors.New("dataset key may only contain letters, digits, '-' and '_' (max 64)")

const (
	maxLocationLen   = 100
	maxLocationParts = 3
	maxDatasetKeyLen = 64
)

// ValidateLocation trims and lowercases the input and checks it is a site
// path slug: one to three segments of [a-z0-9-] joined by '/'.
func ValidateLocation(input string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.Trim(s, "/")
	if s == "" {
		return "", ErrLocationEmpty
	}
	if len(s) > maxLocationLen {
		return "", ErrLocationTooLong
	}
	parts := strings.Split(s, "/")
	if len(parts) > maxLocationParts {
		return "", ErrLocationInvalid
	}
	for _, p := range parts {
		if p == "" || strings.HasPrefix(p, "-") {
			return "", ErrLocationInvalid
		}
		for _, c := range p {
			if !isSlugRune(c) {
				return "", ErrLocationInvalid
			}
		}
	}
	return s, nil
}

// ValidateDatasetKey checks a dataset key used as a file stem and table key.
func ValidateDatasetKey(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrDatasetKeyEmpty
	}
	if len(s) > maxDatasetKeyLen {
		return "", ErrDatasetKeyInvalid
	}
	for _, c := range s {
		if !isSlugRune(c) && c != '_' && !(c >= 'A' && c <= 'Z') {
			return "", ErrDatasetKeyInvalid
		}
	}
	return s, nil
}

func isSlugRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
}
