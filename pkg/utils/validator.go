package utils

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)

// ValidateRunID checks that id is a canonical run UUID
func ValidateRunID(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil || parsed.String() != id {
		return fmt.Errorf("invalid run id: %q", SanitizeString(id))
	}
	return nil
}

// SanitizeString removes control characters
func SanitizeString(s string) string {
	return controlChars.ReplaceAllString(s, "")
}
