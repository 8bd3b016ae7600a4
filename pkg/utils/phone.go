package utils

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizeE164 formats a phone number to E.164 using defaultRegion for numbers
// without a country prefix. If parsing fails, it returns the trimmed input and false.
func NormalizeE164(input, defaultRegion string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed, false
	}
	number, err := phonenumbers.Parse(trimmed, strings.ToUpper(defaultRegion))
	if err != nil || !phonenumbers.IsValidNumber(number) {
		return trimmed, false
	}
	return phonenumbers.Format(number, phonenumbers.E164), true
}
