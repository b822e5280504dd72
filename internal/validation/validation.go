package validation

import (
	"errors"
	"strings"
)

// ErrZipEmpty is returned when the ZIP is empty or whitespace-only after trim.
var ErrZipEmpty = errors.New("zip is required")

// ErrZipFormat is returned when the ZIP is not exactly five ASCII digits.
var ErrZipFormat = errors.New("zip must be a 5-digit string")

// ValidateZip trims the input and enforces the fixed 5-digit US ZIP format.
// Returns the trimmed ZIP or an error suitable for 400 INVALID_ZIP responses.
func ValidateZip(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrZipEmpty
	}
	if len(s) != 5 {
		return "", ErrZipFormat
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return "", ErrZipFormat
		}
	}
	return s, nil
}
