package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// RoomIDRegex validates room ID format
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// MemberIDRegex validates member ID format
	MemberIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

const (
	MaxRoomIDLength   = 64
	MaxMemberIDLength = 64
)

// ValidateRoomID validates a room identifier
func ValidateRoomID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("room id is required")
	}
	if utf8.RuneCountInString(id) > MaxRoomIDLength {
		return fmt.Errorf("room id is too long (max %d characters)", MaxRoomIDLength)
	}
	if !RoomIDRegex.MatchString(id) {
		return fmt.Errorf("room id contains invalid characters (allowed: a-z, A-Z, 0-9, _, -)")
	}
	return nil
}

// ValidateMemberID validates a member identifier
func ValidateMemberID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("member id is required")
	}
	if utf8.RuneCountInString(id) > MaxMemberIDLength {
		return fmt.Errorf("member id is too long (max %d characters)", MaxMemberIDLength)
	}
	if !MemberIDRegex.MatchString(id) {
		return fmt.Errorf("member id contains invalid characters (allowed: a-z, A-Z, 0-9, ., _, -)")
	}
	return nil
}
