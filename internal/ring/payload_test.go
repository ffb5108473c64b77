package ring

import (
	"testing"
	"time"
)

func TestPayload(t *testing.T) {
	if got := Payload(); got != "ms=3000" {
		t.Errorf("Payload() = %q, want ms=3000", got)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    time.Duration
	}{
		{name: "standard", payload: "ms=3000", want: 3 * time.Second},
		{name: "minimum", payload: "ms=1", want: time.Millisecond},
		{name: "maximum", payload: "ms=10000", want: 10 * time.Second},
		{name: "bare integer", payload: "500", want: 500 * time.Millisecond},
		{name: "whitespace", payload: "  ms=250  ", want: 250 * time.Millisecond},
		{name: "zero falls back", payload: "ms=0", want: 3 * time.Second},
		{name: "over max falls back", payload: "ms=10001", want: 3 * time.Second},
		{name: "negative falls back", payload: "ms=-5", want: 3 * time.Second},
		{name: "garbage falls back", payload: "ring please", want: 3 * time.Second},
		{name: "empty falls back", payload: "", want: 3 * time.Second},
		{name: "non-numeric suffix falls back", payload: "ms=3s", want: 3 * time.Second},
		{name: "bare out of range falls back", payload: "99999", want: 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseDuration(tt.payload); got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.payload, got, tt.want)
			}
		})
	}
}
