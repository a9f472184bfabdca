package session

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestDeriveDevice(t *testing.T) {
	tests := []struct {
		name        string
		userAgent   string
		wantClass   string
		wantBrowser string
		wantOS      string
	}{
		{name: "desktop chrome", userAgent: chromeWindows, wantClass: DeviceDesktop, wantBrowser: "Chrome", wantOS: "Windows"},
		{name: "iphone safari", userAgent: safariIPhone, wantClass: DeviceMobile, wantBrowser: "Safari", wantOS: "iOS"},
		{name: "empty", userAgent: "", wantClass: DeviceUnknown, wantBrowser: "Unknown Browser", wantOS: "Unknown OS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DeriveDevice("192.0.2.1", tt.userAgent)
			assert.Equal(t, tt.wantClass, d.DeviceClass)
			assert.Equal(t, tt.wantBrowser, d.Browser)
			assert.Equal(t, tt.wantOS, d.OS)
			assert.Equal(t, "192.0.2.1", d.IPAddress)
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := DeriveDevice("192.0.2.1", chromeWindows)
	b := DeriveDevice("192.0.2.1", chromeWindows)
	c := DeriveDevice("192.0.2.2", chromeWindows)

	assert.Len(t, Fingerprint(a), 16)
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))

	upgraded := a
	upgraded.BrowserVersion = "121.0.0.0"
	assert.Equal(t, Fingerprint(a), Fingerprint(upgraded), "version bumps keep the fingerprint")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "curl/8.4", n: 500, want: "curl/8.4"},
		{name: "ascii cut", in: "abcdef", n: 3, want: "abc"},
		{name: "two byte rune at the edge", in: "abé", n: 3, want: "ab"},
		{name: "three byte rune at the edge", in: "a日本", n: 5, want: "a日"},
		{name: "four byte rune", in: "😀x", n: 2, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.n)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tt.n)
		})
	}
}
