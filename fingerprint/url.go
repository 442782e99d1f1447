package fingerprint

import (
	"net"
	"net/url"
	"strings"
)

// trackingParams are query keys removed regardless of value. Keys starting
// with "utm" are removed as well.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"mc_cid":  {},
	"mc_eid":  {},
	"spm":     {},
	"igshid":  {},
	"ref_src": {},
	"cmpid":   {},
}

// URLKey canonicalizes a URL into the identity used for exact-URL dedup.
// The scheme is dropped so http and https variants collide; host is
// lowercased, default ports, tracking parameters and trailing slashes are
// removed, and remaining query parameters are sorted. Anchor fragments are
// dropped; route fragments ("#/..." or "#!...") identify a page on
// single-page sites and are kept.
func URLKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(raw), "/")
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = net.JoinHostPort(host, port)
	}

	q := u.Query()
	for k := range q {
		if isTrackingParam(k) {
			q.Del(k)
		}
	}

	path := strings.TrimRight(u.EscapedPath(), "/")
	out := host + path
	if enc := q.Encode(); enc != "" {
		out += "?" + enc
	}
	if isRouteFragment(u.Fragment) {
		out += "#" + u.Fragment
	}
	return out
}

func isRouteFragment(f string) bool {
	return strings.HasPrefix(f, "/") || strings.HasPrefix(f, "!")
}

func isTrackingParam(k string) bool {
	lk := strings.ToLower(k)
	if strings.HasPrefix(lk, "utm") {
		return true
	}
	_, ok := trackingParams[lk]
	return ok
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http":
		return port == "80"
	case "https":
		return port == "443"
	}
	return false
}
