package harvest

import (
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped before deduplication. Names are
// matched lowercased; the utm_ family is matched by prefix.
var trackingParams = map[string]struct{}{
	"fbclid":      {},
	"gclid":       {},
	"dclid":       {},
	"gbraid":      {},
	"wbraid":      {},
	"msclkid":     {},
	"yclid":       {},
	"igshid":      {},
	"mc_cid":      {},
	"mc_eid":      {},
	"ref":         {},
	"ref_src":     {},
	"source":      {},
	"spm":         {},
	"_ga":         {},
	"_gl":         {},
	"oly_enc_id":  {},
	"oly_anon_id": {},
}

// CanonicalizeURL converts a raw result URL into a stable deduplication key.
// The original URL is kept verbatim for display; this form is only compared.
//
// The transform forces https, lowercases host and path, strips a leading www.
// and a single trailing slash, drops tracking parameters and the fragment, and
// sorts the remaining query parameters. Applying it twice yields the same key.
// Unparseable input is returned unchanged; this function never fails.
func CanonicalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Host == "" {
		// Scheme-less input like "example.com/path".
		u, err = url.Parse("https://" + raw)
		if err != nil || u.Host == "" {
			return raw
		}
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimPrefix(u.Host, "www.")

	u.Path = strings.ToLower(u.Path)
	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	u.RawPath = ""

	q := u.Query()
	for name := range q {
		lower := strings.ToLower(name)
		if _, denied := trackingParams[lower]; denied || strings.HasPrefix(lower, "utm_") {
			q.Del(name)
		}
	}
	u.RawQuery = q.Encode() // Encode sorts by key

	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}
