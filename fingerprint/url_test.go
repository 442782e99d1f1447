package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURLKey(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{"simple", "https://example.com/path", "example.com/path"},
		{"utm and fragment", "https://example.com/path?utm_source=feed#section", "example.com/path"},
		{"bare utm", "https://x.com/a?utm=1", "x.com/a"},
		{"uppercase host", "HTTP://Example.COM/", "example.com"},
		{"tracking params", "https://example.com/?fbclid=XYZ&gclid=ABC&utm_medium=1", "example.com"},
		{"default https port", "https://example.com:443/a/", "example.com/a"},
		{"default http port", "http://example.com:80/a", "example.com/a"},
		{"custom port kept", "https://example.com:8443/a", "example.com:8443/a"},
		{"query sorted", "https://example.com/a?b=2&a=1", "example.com/a?a=1&b=2"},
		{"anchor dropped", "https://example.com/a#comments", "example.com/a"},
		{"route fragment kept", "https://example.com/#/news/42", "example.com#/news/42"},
		{"hashbang kept", "https://example.com/app#!item=7", "example.com/app#!item=7"},
		{"empty", "  ", ""},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, URLKey(c.url))
		})
	}
}

func TestURLKeySchemeVariantsCollide(t *testing.T) {
	assert.Equal(t, URLKey("http://x.com/a"), URLKey("https://x.com/a/?utm_campaign=z"))
}

func TestURLKeyDistinctRouteFragments(t *testing.T) {
	assert.NotEqual(t, URLKey("https://example.com/#/flash/1"), URLKey("https://example.com/#/flash/2"))
}
