package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" || hash == "s3cret" {
		t.Fatalf("expected opaque hash, got %q", hash)
	}
	if !CheckPassword("s3cret", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
	if CheckPassword("s3cret", "") {
		t.Fatalf("expected empty hash to fail")
	}
}

func TestValidatePassword(t *testing.T) {
	valid := "Str0ng#Password!"
	if err := ValidatePassword(valid); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	cases := map[string]string{
		"short":             "Sh0rt!A",
		"too long":          "Aa1!" + strings.Repeat("x", 61),
		"missing uppercase": "alllowercase123!",
		"missing lowercase": "ALLUPPERCASE123!",
		"missing digits":    "NoDigitsHere!!!",
		"missing specials":  "NoSpecials1234",
	}
	for name, pw := range cases {
		err := ValidatePassword(pw)
		if err == nil {
			t.Fatalf("%s: expected failure", name)
		}
		if !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("%s: expected ErrWeakPassword, got %v", name, err)
		}
	}
}
