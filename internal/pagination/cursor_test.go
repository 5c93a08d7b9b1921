package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 0, 123456000, time.UTC)

	encoded := EncodeCursor("doc-1", ts)
	assert.NotContains(t, encoded, "=")

	cursor, err := DecodeCursor(encoded)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", cursor.LastID)
	assert.True(t, ts.Equal(cursor.Timestamp))
}

func TestEncodeCursor_EmptyID(t *testing.T) {
	assert.Empty(t, EncodeCursor("", time.Now()))
}

func TestDecodeCursor_Empty(t *testing.T) {
	cursor, err := DecodeCursor("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	tests := map[string]string{
		"not base64":    "%%%",
		"no separator":  base64.RawURLEncoding.EncodeToString([]byte("doc-1")),
		"bad timestamp": base64.RawURLEncoding.EncodeToString([]byte("doc-1|yesterday")),
		"missing id":    base64.RawURLEncoding.EncodeToString([]byte("|2026-01-01T00:00:00Z")),
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeCursor(in)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-5))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxLimit, ClampLimit(1000))
}
