package validate

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"spoolhub/pkg/domain"
)

func TestCheckerCollectsFields(t *testing.T) {
	err := Check(func(c *Checker) {
		c.Required("name", " ")
		c.ColorHex("colorHex", "red")
		c.ColorHex("colorHex", "#zz0000")
		c.NonNegative("actualWeight", -1)
		c.IntBetween("rating", 11, 1, 10)
		c.MaxLen("phoneNumber", "1234567890", 9)
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	de := domain.AsError(err)
	want := []string{"name", "colorHex", "actualWeight", "rating", "phoneNumber"}
	if !slices.Equal(de.Issues, want) {
		t.Fatalf("issues = %v, want %v", de.Issues, want)
	}
	if !strings.HasPrefix(de.Message, "name should not be empty, colorHex must be a hexadecimal color") {
		t.Fatalf("unexpected message %q", de.Message)
	}
}

func TestCheckerAcceptsValidInput(t *testing.T) {
	err := Check(func(c *Checker) {
		c.Required("name", "PLA")
		c.ColorHex("colorHex", "#A1b2C3")
		c.ColorHex("colorHex", "")
		c.Email("email", "a@x.com")
		c.Positive("price", 0.5)
		c.LenBetween("password", "Secret1!", 8, 64)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCheckerEmail(t *testing.T) {
	for _, bad := range []string{"", "alice", "Alice <a@x.com>"} {
		var c Checker
		c.Email("email", bad)
		if len(c.Errors()) == 0 {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestCheckerURL(t *testing.T) {
	cases := map[string]bool{
		"":                           true,
		"https://example.com/roll":   true,
		"http://shop.example/p?id=1": true,
		"example.com":                false,
		"ftp://example.com":          false,
		"https://":                   false,
	}
	for raw, ok := range cases {
		err := Check(func(c *Checker) { c.URL("url", raw) })
		if (err == nil) != ok {
			t.Fatalf("URL(%q): err=%v, want ok=%v", raw, err, ok)
		}
	}
}
