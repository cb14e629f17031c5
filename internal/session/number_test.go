package session

import (
	"errors"
	"testing"
)

func TestFormatNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+1 (555) 000-0001", "+15550000001"},
		{"919911062767", "+919911062767"},
		{"+44 20 7946 0958", "+442079460958"},
		{"", ""},
	}
	for _, c := range cases {
		if got := FormatNumber(c.in); got != c.want {
			t.Fatalf("FormatNumber(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValidateNumber_Valid(t *testing.T) {
	for _, n := range []string{"+15550000001", "+919911062767", "+442079460958"} {
		if err := ValidateNumber(n); err != nil {
			t.Fatalf("expected %q valid, got %v", n, err)
		}
	}
}

func TestValidateNumber_Invalid(t *testing.T) {
	for _, n := range []string{"15550000001", "+1555", "+1555000000155501", "+1555abc0001", ""} {
		err := ValidateNumber(n)
		if err == nil {
			t.Fatalf("expected %q invalid", n)
		}
		if !errors.Is(err, ErrInvalidDestination) {
			t.Fatalf("expected ErrInvalidDestination for %q, got %v", n, err)
		}
	}
}
