package accounting

import (
	"encoding/base64"
	"encoding/json"
)

// CursorVersion is the current cursor schema version.
const CursorVersion = 1

// Cursor identifies the next page of one entity listing.
type Cursor struct {
	// Version is the schema version for future migrations.
	Version int `json:"v"`

	// Entity guards against a cursor being replayed against another listing.
	Entity string `json:"e"`

	// Page is the 1-based page number to request next.
	Page int `json:"p"`
}

// NewCursor creates a cursor positioned at page.
func NewCursor(entity string, page int) *Cursor {
	return &Cursor{Version: CursorVersion, Entity: entity, Page: page}
}

// Encode serializes the cursor to a base64-encoded JSON string.
func (c *Cursor) Encode() string {
	if c == nil {
		return ""
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor deserializes a cursor for entity.
// An empty input yields a cursor at the first page.
func DecodeCursor(entity, s string) (*Cursor, error) {
	if s == "" {
		return NewCursor(entity, 1), nil
	}

	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, ErrInvalidCursor
	}
	if cursor.Version != CursorVersion || cursor.Entity != entity || cursor.Page < 1 {
		return nil, ErrInvalidCursor
	}

	return &cursor, nil
}

// Next returns the cursor of the following page.
func (c *Cursor) Next() *Cursor {
	return NewCursor(c.Entity, c.Page+1)
}
