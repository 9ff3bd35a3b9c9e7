package storage

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Cursor is a keyset position: the ordering timestamp plus a tiebreaking id
type Cursor struct {
	At time.Time
	ID string
}

// DecodeCursor parses an opaque page token; an empty token means the first page
func DecodeCursor(cursorStr string) (*Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var at int64
	if _, err := fmt.Sscanf(decodedParts[0], "%d", &at); err != nil {
		return nil, fmt.Errorf("invalid timestamp in cursor: %w", err)
	}

	return &Cursor{
		At: time.Unix(0, at),
		ID: decodedParts[1],
	}, nil
}

// EncodeCursor renders a cursor as an opaque page token
func EncodeCursor(cursor *Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.At.UnixNano(), cursor.ID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
