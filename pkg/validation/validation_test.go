package validation

import (
	"strings"
	"testing"
)

func TestValidateRoomID(t *testing.T) {
	valid := []string{"lobby", "room-1", "Room_2", "a", strings.Repeat("x", 64)}
	for _, id := range valid {
		if err := ValidateRoomID(id); err != nil {
			t.Errorf("Expected %q to be valid, got: %v", id, err)
		}
	}

	invalid := []string{"", "   ", "room 1", "room/1", "room#1", strings.Repeat("x", 65)}
	for _, id := range invalid {
		if err := ValidateRoomID(id); err == nil {
			t.Errorf("Expected %q to be invalid", id)
		}
	}
}

func TestValidateMemberID(t *testing.T) {
	valid := []string{"alice", "bob.laptop", "peer_7", "host-01"}
	for _, id := range valid {
		if err := ValidateMemberID(id); err != nil {
			t.Errorf("Expected %q to be valid, got: %v", id, err)
		}
	}

	invalid := []string{"", "alice bob", "b@d", strings.Repeat("x", 65)}
	for _, id := range invalid {
		if err := ValidateMemberID(id); err == nil {
			t.Errorf("Expected %q to be invalid", id)
		}
	}
}
