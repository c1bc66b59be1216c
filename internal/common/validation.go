package common

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxBodyLength  = 4000
	MaxEmojiLength = 32
)

var roomIDRegex = regexp.MustCompile(`^(user|folder|group):[A-Za-z0-9_\-]{1,64}$`)

// ValidateBody rejects empty, whitespace-only and oversized message bodies.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("message body cannot be empty: %w", ErrInvalidInput)
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return fmt.Errorf("message body exceeds %d characters: %w", MaxBodyLength, ErrInvalidInput)
	}
	return nil
}

func ValidateEmoji(emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > MaxEmojiLength {
		return fmt.Errorf("invalid emoji %q: %w", emoji, ErrInvalidInput)
	}
	return nil
}

func ValidateRoomID(roomID string) error {
	if !roomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room id %q: %w", roomID, ErrInvalidInput)
	}
	return nil
}
