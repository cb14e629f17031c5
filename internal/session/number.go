package session

import (
	"fmt"
	"strings"
)

// FormatNumber strips everything except digits and a leading plus, and
// prepends the plus if the caller omitted it.
func FormatNumber(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out != "" && !strings.HasPrefix(out, "+") {
		out = "+" + out
	}
	return out
}

// ValidateNumber checks E.164 shape: leading plus, 10 to 15 digits.
func ValidateNumber(number string) error {
	if !strings.HasPrefix(number, "+") {
		return fmt.Errorf("%w: %q must start with +", ErrInvalidDestination, number)
	}
	digits := number[1:]
	if len(digits) < 10 || len(digits) > 15 {
		return fmt.Errorf("%w: %q must have 10-15 digits", ErrInvalidDestination, number)
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q contains non-digit characters", ErrInvalidDestination, number)
		}
	}
	return nil
}
