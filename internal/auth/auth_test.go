package auth

import (
	"testing"
	"time"
)

func TestMintParseRoundTrip(t *testing.T) {
	tok, err := Mint("topsecret", Identity{UserID: "u1", Username: "Alice", Role: RolePlayer}, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	id, err := Parse("topsecret", tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.UserID != "u1" || id.Username != "Alice" || id.Role != RolePlayer {
		t.Errorf("identity = %+v", id)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, _ := Mint("topsecret", Identity{UserID: "u1"}, time.Hour)
	if _, err := Parse("othersecret", tok); err != ErrInvalidToken {
		t.Errorf("err = %v; want ErrInvalidToken", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	tok, _ := Mint("topsecret", Identity{UserID: "u1"}, -time.Minute)
	if _, err := Parse("topsecret", tok); err != ErrInvalidToken {
		t.Errorf("err = %v; want ErrInvalidToken", err)
	}
}

func TestParseRejectsGarbageAndEmptySubject(t *testing.T) {
	if _, err := Parse("topsecret", "not-a-token"); err != ErrInvalidToken {
		t.Errorf("garbage err = %v; want ErrInvalidToken", err)
	}

	tok, _ := Mint("topsecret", Identity{}, time.Hour)
	if _, err := Parse("topsecret", tok); err != ErrInvalidToken {
		t.Errorf("empty subject err = %v; want ErrInvalidToken", err)
	}
}

func TestParseDefaultsRoleToPlayer(t *testing.T) {
	tok, _ := Mint("topsecret", Identity{UserID: "u1"}, time.Hour)
	id, err := Parse("topsecret", tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Role != RolePlayer {
		t.Errorf("role = %q; want %q", id.Role, RolePlayer)
	}
}
