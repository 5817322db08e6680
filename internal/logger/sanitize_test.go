package logger

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		maxLength int
		want      string
	}{
		{name: "empty", input: "", maxLength: 10, want: ""},
		{name: "plain", input: "0xabc", maxLength: 10, want: "0xabc"},
		{name: "strips control characters", input: "a\x00b\x1bc", maxLength: 10, want: "abc"},
		{name: "truncates", input: "abcdefghij", maxLength: 4, want: "abcd..."},
		{name: "invalid utf8 dropped", input: "ok\xffok", maxLength: 10, want: "okok"},
		{name: "non-positive max uses general bound", input: "short", maxLength: 0, want: "short"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SanitizeString(tt.input, tt.maxLength); got != tt.want {
				t.Errorf("SanitizeString(%q, %d) = %q, want %q", tt.input, tt.maxLength, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("f", 300)
	got := SanitizeIdentifier(long)
	if len(got) != MaxIdentifierLength+len("...") {
		t.Errorf("expected identifier truncated to %d chars plus ellipsis, got %d", MaxIdentifierLength, len(got))
	}
}

func TestSanitizePath(t *testing.T) {
	t.Parallel()

	if got := SanitizePath("/api/faucet\x07"); got != "/api/faucet" {
		t.Errorf("SanitizePath() = %q", got)
	}
	if got := SanitizePath(strings.Repeat("a", MaxPathLength+5)); len(got) != MaxPathLength+3 {
		t.Errorf("expected truncated path, got length %d", len(got))
	}
}

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	if SanitizeError(nil) != "" {
		t.Error("expected empty string for nil error")
	}
	if got := SanitizeError(errors.New("boom\x00")); got != "boom" {
		t.Errorf("SanitizeError() = %q", got)
	}
}
