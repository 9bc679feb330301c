// Package redirect validates caller-supplied post-login redirect targets
// against a provider's origin allow-list.
package redirect

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/giantswarm/identity-adapter/apierror"
)

// Errors returned by Resolve
var (
	ErrInvalidRedirect    = apierror.BadRequest("Invalid redirect target provided.", "INVALID_REDIRECT")
	ErrInsecureScheme     = apierror.BadRequest("Redirect target must use HTTP or HTTPS.", "INVALID_REDIRECT")
	ErrRedirectNotAllowed = apierror.BadRequest("Redirect target is not in the allowed list.", "REDIRECT_NOT_ALLOWED")
	ErrNoRedirectBase     = apierror.BadRequest("Redirect target is not allowed for this OAuth provider.", "REDIRECT_NOT_ALLOWED")
)

// Policy is the redirect configuration of a single provider.
type Policy struct {
	// BaseURL resolves relative targets. It is the first of the provider's
	// default redirect, success redirect and the API base URL.
	BaseURL string

	// AllowedOrigins lists the origins ("scheme://host[:port]") a target may
	// point to. When empty, only the origin of BaseURL is accepted.
	AllowedOrigins []string
}

// Resolve validates raw against p and returns the absolute target URL.
//
// A blank raw value returns "" and no error, meaning the provider default
// applies. raw is first parsed as an absolute URL and otherwise resolved
// relative to p.BaseURL.
func Resolve(raw string, p Policy) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	if p.BaseURL == "" {
		return "", ErrNoRedirectBase
	}

	target, err := parseTarget(raw, p.BaseURL)
	if err != nil {
		return "", err
	}

	if target.Scheme != "http" && target.Scheme != "https" {
		return "", ErrInsecureScheme
	}

	allowed := p.AllowedOrigins
	if len(allowed) == 0 {
		if base, ok := Origin(p.BaseURL); ok {
			allowed = []string{base}
		}
	}
	if !containsOrigin(allowed, originOf(target)) {
		return "", ErrRedirectNotAllowed
	}

	return target.String(), nil
}

// FromQuery returns the first "redirect" query parameter of q.
func FromQuery(q url.Values) string {
	values := q["redirect"]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

func parseTarget(raw, base string) (*url.URL, error) {
	if schemePattern.MatchString(raw) {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, ErrInvalidRedirect.Wrap(err)
		}
		// Opaque URLs such as "javascript:alert(1)" carry no host.
		if u.Host == "" && (u.Scheme == "http" || u.Scheme == "https") {
			return nil, ErrInvalidRedirect
		}
		return u, nil
	}

	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return nil, ErrInvalidRedirect
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, ErrInvalidRedirect.Wrap(err)
	}
	return baseURL.ResolveReference(ref), nil
}

// Origin returns the "scheme://host[:port]" origin of raw. Values without a
// scheme, like "app.example.com", are treated as https.
func Origin(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	return originOf(u), true
}

// ParseOriginList splits a comma or space separated list and returns the
// unique valid origins in input order.
func ParseOriginList(values ...string) []string {
	var origins []string
	seen := make(map[string]bool)
	for _, v := range values {
		for _, entry := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
			origin, ok := Origin(entry)
			if !ok || seen[origin] {
				continue
			}
			seen[origin] = true
			origins = append(origins, origin)
		}
	}
	return origins
}

func originOf(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	// Default ports are not part of an origin.
	if (scheme == "https" && strings.HasSuffix(host, ":443")) || (scheme == "http" && strings.HasSuffix(host, ":80")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	return scheme + "://" + host
}

func containsOrigin(origins []string, origin string) bool {
	for _, o := range origins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
