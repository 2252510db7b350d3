// Package phone provides phone number utilities.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

const DefaultRegion = "BR"

// ErrInvalidNumber is returned when a number cannot be parsed as a valid phone number.
var ErrInvalidNumber = errors.New("invalid phone number")

// NormalizeE164 formats a phone number to E.164 using region for numbers without
// a country code. If parsing fails, it returns the trimmed input.
func NormalizeE164(input, region string) string {
	normalized, err := ParseE164(input, region)
	if err != nil {
		return strings.TrimSpace(input)
	}
	return normalized
}

// ParseE164 is the strict form of NormalizeE164.
func ParseE164(input, region string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", ErrInvalidNumber
	}
	if region == "" {
		region = DefaultRegion
	}

	number, err := phonenumbers.Parse(trimmed, strings.ToUpper(region))
	if err != nil {
		return "", ErrInvalidNumber
	}
	if !phonenumbers.IsValidNumber(number) {
		return "", ErrInvalidNumber
	}
	return phonenumbers.Format(number, phonenumbers.E164), nil
}

// IsPossible reports whether input parses as a number of plausible length for
// its region. It is looser than ParseE164 and suits input validation.
func IsPossible(input, region string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}
	if region == "" {
		region = DefaultRegion
	}
	number, err := phonenumbers.Parse(trimmed, strings.ToUpper(region))
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(number)
}
