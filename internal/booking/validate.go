package booking

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const maxProblemLength = 4000

// ErrValidation wraps all request validation failures.
var ErrValidation = errors.New("booking: validation failed")

// normalizePhone strips spaces, dashes, and parentheses from a phone number
// and validates the Uzbek +998XXXXXXXXX format.
func normalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r == '+' || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: phone contains invalid character %q", ErrValidation, r)
		}
	}
	phone := b.String()
	if strings.HasPrefix(phone, "998") && len(phone) == 12 {
		phone = "+" + phone
	}
	if !strings.HasPrefix(phone, "+998") || len(phone) != 13 {
		return "", fmt.Errorf("%w: phone must be +998 followed by 9 digits", ErrValidation)
	}
	for _, r := range phone[1:] {
		if !unicode.IsDigit(r) {
			return "", fmt.Errorf("%w: phone must be +998 followed by 9 digits", ErrValidation)
		}
	}
	return phone, nil
}

func validateProblem(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "", fmt.Errorf("%w: problem description is required", ErrValidation)
	}
	if len(desc) > maxProblemLength {
		return "", fmt.Errorf("%w: problem description longer than %d characters", ErrValidation, maxProblemLength)
	}
	return desc, nil
}
