package config

import (
	"fmt"
	"net/mail"
	"regexp"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil && emailRegex.MatchString(email)
}

// validateRecipients rejects malformed and repeated addresses.
func validateRecipients(recipients []string) []error {
	var errs []error
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		switch {
		case !isValidEmail(r):
			errs = append(errs, fmt.Errorf("recipient %q is not a valid email address", r))
		case seen[r]:
			errs = append(errs, fmt.Errorf("recipient %q given twice", r))
		}
		seen[r] = true
	}
	return errs
}
