package validation

import "regexp"

var specialChars = regexp.MustCompile(`[!@#$%^&*(),.?":{}|<>]`)

// HasSpecialChar checks if a string contains at least one special character
func HasSpecialChar(s string) bool {
	return specialChars.MatchString(s)
}

// IsPhone reports whether s looks like a phone number (digits, optional +).
func IsPhone(s string) bool {
	return phoneRegex.MatchString(s)
}
