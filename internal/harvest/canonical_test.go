package harvest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "full normalization",
			in:   "http://WWW.Example.com/Path/?utm_source=x&b=2&a=1#frag",
			want: "https://example.com/path?a=1&b=2",
		},
		{
			name: "already canonical",
			in:   "https://example.com/path?a=1&b=2",
			want: "https://example.com/path?a=1&b=2",
		},
		{
			name: "root path keeps slash",
			in:   "https://example.com/",
			want: "https://example.com/",
		},
		{
			name: "tracking params dropped",
			in:   "https://shop.example.com/item?gclid=abc&fbclid=def&id=9",
			want: "https://shop.example.com/item?id=9",
		},
		{
			name: "utm family dropped by prefix",
			in:   "https://example.com/a?utm_campaign=x&utm_content=y&q=go",
			want: "https://example.com/a?q=go",
		},
		{
			name: "ref and source dropped",
			in:   "https://example.com/post?ref=twitter&source=rss&page=2",
			want: "https://example.com/post?page=2",
		},
		{
			name: "scheme forced to https",
			in:   "http://example.com/secure",
			want: "https://example.com/secure",
		},
		{
			name: "fragment dropped",
			in:   "https://example.com/doc#section-3",
			want: "https://example.com/doc",
		},
		{
			name: "scheme-less input",
			in:   "example.com/Path",
			want: "https://example.com/path",
		},
		{
			name: "params sorted",
			in:   "https://example.com/s?z=1&m=2&a=3",
			want: "https://example.com/s?a=3&m=2&z=1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, CanonicalizeURL(tc.in))
		})
	}
}

func TestCanonicalizeURLIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"http://WWW.Example.com/Path/?utm_source=x&b=2&a=1#frag",
		"https://example.com/",
		"https://example.com/a?z=1&a=2",
		"HTTP://EXAMPLE.COM/UPPER/CASE/",
		"https://example.com/search?q=site%3Aexample.org",
	}
	for _, in := range inputs {
		once := CanonicalizeURL(in)
		require.Equal(t, once, CanonicalizeURL(once), "input %q", in)
	}
}

func TestCanonicalizeURLUnparseable(t *testing.T) {
	t.Parallel()

	in := "http://%zz-not-a-url"
	require.Equal(t, in, CanonicalizeURL(in))
}
