package token

import (
	"net/http"
	"time"
)

// CookieConfig describes a credential cookie. A config without a Name sets
// no cookie.
type CookieConfig struct {
	Name   string
	Domain string
	Path   string
	MaxAge time.Duration
	Secure bool
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// Set writes value as an HttpOnly, SameSite=Lax cookie.
func (c CookieConfig) Set(w http.ResponseWriter, value string) {
	if c.Name == "" {
		return
	}
	cookie := &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Domain:   c.Domain,
		Path:     c.path(),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if c.MaxAge > 0 {
		cookie.MaxAge = int(c.MaxAge / time.Second)
		cookie.Expires = time.Now().Add(c.MaxAge)
	}
	http.SetCookie(w, cookie)
}

// Clear expires the cookie.
func (c CookieConfig) Clear(w http.ResponseWriter) {
	if c.Name == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Domain:   c.Domain,
		Path:     c.path(),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// Value returns the cookie's value from r, or "".
func (c CookieConfig) Value(r *http.Request) string {
	if c.Name == "" {
		return ""
	}
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
