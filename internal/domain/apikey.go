package domain

import (
	"fmt"
	"time"
)

// APIKey authenticates requests on behalf of a user
type APIKey struct {
	ID        string
	UserID    string
	Name      string
	KeyHash   string // Never store plaintext keys
	CreatedAt time.Time
	RevokedAt *time.Time
}

// IsRevoked returns true if the API key has been revoked
func (a *APIKey) IsRevoked() bool {
	return a.RevokedAt != nil
}

// ValidateAPIKey validates an APIKey instance
func ValidateAPIKey(a *APIKey) error {
	if a == nil {
		return fmt.Errorf("api key cannot be nil")
	}

	if a.ID == "" {
		return fmt.Errorf("api key ID is required")
	}

	if a.UserID == "" {
		return fmt.Errorf("api key UserID is required")
	}

	if a.Name == "" {
		return fmt.Errorf("api key Name is required")
	}

	if a.KeyHash == "" {
		return fmt.Errorf("api key KeyHash is required")
	}

	return nil
}
