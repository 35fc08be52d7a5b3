package chat

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// userIDPattern keeps user ids safe to embed in Redis keys and NATS subjects.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const (
	MaxContentBytes = 8192 // hard byte cap on a single message
	MaxContentChars = 2000 // max character count
)

// ValidateContent checks that message content meets the bounded-length
// requirements before it is accepted for moderation.
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("message content is empty")
	}
	if len(content) > MaxContentBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxContentBytes)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("message exceeds %d character limit", MaxContentChars)
	}
	return nil
}

// ValidUserID reports whether id is an acceptable sender or viewer id.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}
