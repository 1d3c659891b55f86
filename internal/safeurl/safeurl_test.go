package safeurl

import "testing"

func TestIsHTTPOrHTTPS(t *testing.T) {
	tests := []struct {
		url   string
		allow bool
	}{
		{"http://example.com/", true},
		{"https://example.com/path", true},
		{"HTTP://x.test", true},
		{"HTTPS://x.test", true},
		{"file:///etc/passwd", false},
		{"ftp://example.com", false},
		{"", false},
		{"not-a-url", false},
		{"javascript:alert(1)", false},
		{"http://", false},
	}
	for _, tt := range tests {
		got := IsHTTPOrHTTPS(tt.url)
		if got != tt.allow {
			t.Errorf("IsHTTPOrHTTPS(%q) = %v, want %v", tt.url, got, tt.allow)
		}
	}
}

func TestParseAbsolute(t *testing.T) {
	if _, err := ParseAbsolute("https://example.com/watch?v=abc"); err != nil {
		t.Fatalf("valid URL rejected: %v", err)
	}
	for _, bad := range []string{"", "/relative/path", "file:///etc/passwd", "example.com/no-scheme"} {
		if _, err := ParseAbsolute(bad); err == nil {
			t.Errorf("ParseAbsolute(%q) should fail", bad)
		}
	}
}

func TestRedact(t *testing.T) {
	got := Redact("https://cdn.test/v.mp4?token=secret")
	want := "https://cdn.test/v.mp4?[redacted]"
	if got != want {
		t.Errorf("Redact = %q, want %q", got, want)
	}
	if Redact("https://cdn.test/v.mp4") != "https://cdn.test/v.mp4" {
		t.Error("Redact should pass through URLs without query")
	}
}
