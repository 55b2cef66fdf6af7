package domain

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Cursor marks the last record of a page; the next page starts strictly after it.
type Cursor struct {
	CreatedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

// CursorAfter returns the cursor positioned on rec.
func CursorAfter(rec *BeamRecord) *Cursor {
	return &Cursor{CreatedAt: rec.CreatedAt, ID: rec.ID}
}

// Encode renders the cursor as an opaque token for API clients.
func (c *Cursor) Encode() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a token produced by Encode. An empty token yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, BadRequestf("malformed cursor")
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" {
		return nil, BadRequestf("malformed cursor")
	}
	return &c, nil
}
