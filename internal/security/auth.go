package security

import (
	"log"
	"strings"
)

// IsAuthorized checks if an issue author is in the allowed authors list.
// If the allowed list is empty, all authors are authorized.
func IsAuthorized(allowedAuthors []string, author string, logger *log.Logger) bool {
	if len(allowedAuthors) == 0 {
		return true
	}

	for _, a := range allowedAuthors {
		if strings.EqualFold(a, author) {
			return true
		}
	}

	if logger != nil {
		logger.Printf("Skipping issue from %s: not in allowed_authors", author)
	}
	return false
}
