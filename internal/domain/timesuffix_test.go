package domain

import (
	"testing"
	"time"
)

func TestParseTimeSuffix(t *testing.T) {
	cases := map[string]time.Duration{
		"30":  30 * time.Second,
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		"1h":  time.Hour,
		"2d":  48 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, err := ParseTimeSuffix(in)
		if err != nil {
			t.Errorf("ParseTimeSuffix(%q) returned error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseTimeSuffix(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseTimeSuffixRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "x", "-5s", "0s", "5x"} {
		if _, err := ParseTimeSuffix(in); err == nil {
			t.Errorf("ParseTimeSuffix(%q) expected an error", in)
		}
	}
}

func TestFormatTimeSuffixRoundTrip(t *testing.T) {
	d := 42 * time.Second
	s := FormatTimeSuffix(d)
	got, err := ParseTimeSuffix(s)
	if err != nil {
		t.Fatalf("round trip parse failed: %v", err)
	}
	if got != d {
		t.Fatalf("round trip mismatch: got %v want %v", got, d)
	}
}
