package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAPIKey(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		apiKey  *APIKey
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid api key",
			apiKey: &APIKey{ID: "key1", UserID: "user1", Name: "Test Key", KeyHash: "hash123", CreatedAt: now},
		},
		{
			name:    "missing user",
			apiKey:  &APIKey{ID: "key1", Name: "Test Key", KeyHash: "hash123", CreatedAt: now},
			wantErr: true,
			errMsg:  "UserID",
		},
		{
			name:    "missing hash",
			apiKey:  &APIKey{ID: "key1", UserID: "user1", Name: "Test Key", CreatedAt: now},
			wantErr: true,
			errMsg:  "KeyHash",
		},
		{
			name:    "nil",
			apiKey:  nil,
			wantErr: true,
			errMsg:  "nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.apiKey)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAPIKey_IsRevoked(t *testing.T) {
	key := &APIKey{ID: "key1"}
	assert.False(t, key.IsRevoked())

	now := time.Now()
	key.RevokedAt = &now
	assert.True(t, key.IsRevoked())
}

func TestValidateIngestionJob(t *testing.T) {
	job := NewIngestionJob("job1", "doc1", time.Now())
	assert.NoError(t, ValidateIngestionJob(job))

	job.Status = "queued"
	assert.ErrorIs(t, ValidateIngestionJob(job), ErrInvalidIngestionStatus)

	job = NewIngestionJob("job1", "", time.Now())
	assert.Error(t, ValidateIngestionJob(job))
}
