package util

import "testing"

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"shorter than max", "short", 10, "short"},
		{"equal to max", "exactly8", 8, "exactly8"},
		{"longer than max", "very-long-token-abc123", 8, "very-lon"},
		{"empty", "", 5, ""},
		{"zero", "abc", 0, ""},
		{"negative", "abc", -1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SafeTruncate(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("SafeTruncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"https://example.com/":     "https://example.com",
		"https://example.com":      "https://example.com",
		"https://example.com///":   "https://example.com",
		"https://example.com/api/": "https://example.com/api",
		"":                         "",
	}
	for in, want := range tests {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsLoopbackHostname(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"127.10.0.1", true},
		{"::1", true},
		{"[::1]", true},
		{"0.0.0.0", false},
		{"example.com", false},
		{"10.0.0.1", false},
	}
	for _, tt := range tests {
		if got := IsLoopbackHostname(tt.host); got != tt.want {
			t.Errorf("IsLoopbackHostname(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestIsSecureURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://auth.example.com", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1/cb", true},
		{"http://auth.example.com", false},
		{"ftp://example.com", false},
		{"/relative", false},
		{"::not a url", false},
	}
	for _, tt := range tests {
		if got := IsSecureURL(tt.url); got != tt.want {
			t.Errorf("IsSecureURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestIsDangerousScheme(t *testing.T) {
	for _, s := range []string{"javascript", "JavaScript", "data", "file"} {
		if !IsDangerousScheme(s) {
			t.Errorf("IsDangerousScheme(%q) = false", s)
		}
	}
	for _, s := range []string{"https", "http", "com.example.app"} {
		if IsDangerousScheme(s) {
			t.Errorf("IsDangerousScheme(%q) = true", s)
		}
	}
}
