// Package pagination implements the opaque cursor tokens handed to
// clients as next_page_token values. A token is the base64url-encoded
// JSON of the Firestore cursor position, so repositories can resume a
// query exactly where the previous page ended.
package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPageToken marks tokens that cannot be decoded. Callers
// surface it as a bad-request condition rather than a server fault.
var ErrInvalidPageToken = errors.New("pagination: invalid page token")

// Cursor holds the Firestore query position a token round-trips.
// StartAfter resumes past the last document of the previous page;
// StartAt is inclusive and only used when re-serving a page boundary.
type Cursor struct {
	StartAfter []any `json:"startAfter,omitempty"`
	StartAt    []any `json:"startAt,omitempty"`
}

// Empty reports whether the cursor carries no position at all.
func (c Cursor) Empty() bool {
	return len(c.StartAfter) == 0 && len(c.StartAt) == 0
}

// EncodeToken serialises a cursor into a URL-safe page token. An empty
// cursor encodes to the empty string, meaning no further pages.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.Empty() {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken. The empty string
// decodes to an empty cursor, which starts the query from the top.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
