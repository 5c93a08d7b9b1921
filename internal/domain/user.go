package domain

import (
	"fmt"
	"strings"
	"time"
)

// User is an authenticated actor. Tenant memberships and role ids are resolved
// per request and are not stored on the struct.
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// ValidateUser validates a User instance
func ValidateUser(u *User) error {
	if u == nil {
		return fmt.Errorf("user cannot be nil")
	}
	if u.ID == "" {
		return fmt.Errorf("user ID is required")
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("user Email is invalid")
	}
	return nil
}
