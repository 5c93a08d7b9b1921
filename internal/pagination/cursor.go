package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Cursor represents a decoded keyset pagination position
type Cursor struct {
	LastID    string
	Timestamp time.Time
}

// PageResult is the wire shape of a paginated listing
type PageResult[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

var (
	ErrInvalidCursor = errors.New("invalid cursor format")
)

// EncodeCursor creates a URL-safe cursor from the last item ID and timestamp
func EncodeCursor(lastID string, timestamp time.Time) string {
	if lastID == "" {
		return ""
	}
	raw := lastID + "|" + timestamp.UTC().Format(time.RFC3339Nano)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor produced by EncodeCursor. An empty cursor
// decodes to nil, meaning the first page.
func DecodeCursor(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	lastID, ts, ok := strings.Cut(string(decoded), "|")
	if !ok || lastID == "" {
		return nil, ErrInvalidCursor
	}

	timestamp, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{
		LastID:    lastID,
		Timestamp: timestamp,
	}, nil
}

// ClampLimit maps a requested page size into [1, MaxLimit], using
// DefaultLimit when none was requested.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}
