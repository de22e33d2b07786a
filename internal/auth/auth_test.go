package auth

import (
	"context"
	"errors"
	"testing"
)

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier()
	v.Add("tok-1", Identity{UserID: "u1", Name: "Ada", DocumentID: "doc1"})

	id, err := v.Verify(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if id.UserID != "u1" || id.Name != "Ada" || id.DocumentID != "doc1" {
		t.Errorf("Unexpected identity: %+v", id)
	}
}

func TestStaticVerifierUnknownToken(t *testing.T) {
	v := NewStaticVerifier()

	for _, token := range []string{"", "missing"} {
		if _, err := v.Verify(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("Token %q: expected ErrUnauthenticated, got %v", token, err)
		}
	}
}

func TestStaticVerifierRevoke(t *testing.T) {
	v := NewStaticVerifier()
	v.Add("tok-1", Identity{UserID: "u1", Name: "Ada"})
	v.Revoke("tok-1")

	if _, err := v.Verify(context.Background(), "tok-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated after revoke, got %v", err)
	}
}
