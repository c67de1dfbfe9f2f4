package pagination

import (
	"errors"
	"testing"
)

func TestTokenRoundTripsCursorPosition(t *testing.T) {
	token, err := EncodeToken(Cursor{StartAfter: []any{"2026-08-01T00:00:00Z", "order-42"}})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token for a positioned cursor")
	}

	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if len(cursor.StartAfter) != 2 {
		t.Fatalf("StartAfter length = %d, want 2", len(cursor.StartAfter))
	}
	if cursor.StartAfter[1] != "order-42" {
		t.Fatalf("StartAfter[1] = %v, want order-42", cursor.StartAfter[1])
	}
}

func TestEncodeTokenEmptyCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token != "" {
		t.Fatalf("token = %q, want empty for empty cursor", token)
	}
}

func TestDecodeTokenBlankStartsFromTop(t *testing.T) {
	cursor, err := DecodeToken("  ")
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !cursor.Empty() {
		t.Fatal("expected empty cursor for blank token")
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	for _, token := range []string{"не-base64", "AAAA"} {
		if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
			t.Fatalf("DecodeToken(%q) error = %v, want ErrInvalidPageToken", token, err)
		}
	}
}
