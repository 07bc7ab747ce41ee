package logger

import "strings"

// RedactEmail masks an email address for safe logging:
// "john.doe@example.com" becomes "jo***@example.com". Local parts of two
// characters or fewer are fully masked.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "***@***"
	}
	name := parts[0]
	if len(name) > 2 {
		return name[:2] + "***@" + parts[1]
	}
	return "***@" + parts[1]
}

// RedactPhone masks a phone number, keeping the last four digits:
// "+15551234567" becomes "***4567". Numbers with fewer than four digits are
// fully masked.
func RedactPhone(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, phone)
	if len(digits) < 4 {
		return "***"
	}
	return "***" + digits[len(digits)-4:]
}
