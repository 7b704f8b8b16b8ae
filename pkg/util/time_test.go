package util

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00.000"},
		{1500 * time.Millisecond, "00:00:01.500"},
		{61 * time.Second, "00:01:01.000"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03.000"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"45.5", 45500 * time.Millisecond, false},
		{"1:05", 65 * time.Second, false},
		{"01:00:10", time.Hour + 10*time.Second, false},
		{"00:00:01,250", 1250 * time.Millisecond, false},
		{"abc", 0, true},
		{"-5", 0, true},
		{"1:2:3:4", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseTimestamp(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseFrameRate(t *testing.T) {
	if got := ParseFrameRate("30000/1001"); got < 29.97 || got > 29.98 {
		t.Errorf("ParseFrameRate(30000/1001) = %f", got)
	}
	if got := ParseFrameRate("25/0"); got != 0 {
		t.Errorf("ParseFrameRate(25/0) = %f, want 0", got)
	}
	if got := ParseFrameRate("bogus"); got != 0 {
		t.Errorf("ParseFrameRate(bogus) = %f, want 0", got)
	}
}

func TestSeconds(t *testing.T) {
	if got := Seconds(2.25); got != 2250*time.Millisecond {
		t.Errorf("Seconds(2.25) = %v", got)
	}
}
