// Package identity attributes an incoming request to a display name.
//
// The name travels in a cookie set at registration. Without a secret the
// cookie holds the URL-escaped name; with a secret it holds an HS256 token
// whose subject is the name. Identity is a label for attribution, not an
// access-control credential.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCookieName is the cookie carrying the identity.
const DefaultCookieName = "X-Authorization"

// ErrIdentityMissing is returned when a request cannot be attributed.
var ErrIdentityMissing = errors.New("identity: missing or invalid")

// Cookie resolves and issues identity cookies.
type Cookie struct {
	name   string
	secret []byte
	now    func() time.Time
}

// NewCookie returns a cookie codec. An empty secret selects plain cookies.
func NewCookie(name, secret string) *Cookie {
	if name == "" {
		name = DefaultCookieName
	}
	c := &Cookie{name: name, now: time.Now}
	if secret != "" {
		c.secret = []byte(secret)
	}
	return c
}

// Name returns the cookie name.
func (c *Cookie) Name() string { return c.name }

// Signed reports whether cookies carry a signed token.
func (c *Cookie) Signed() bool { return c.secret != nil }

func (c *Cookie) Resolve(r *http.Request) (string, error) {
	ck, err := r.Cookie(c.name)
	if err != nil || ck.Value == "" {
		return "", ErrIdentityMissing
	}
	if c.Signed() {
		return c.parseToken(ck.Value)
	}
	name, err := url.PathUnescape(ck.Value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityMissing, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrIdentityMissing
	}
	return name, nil
}

// Issue sets the identity cookie for name on w.
func (c *Cookie) Issue(w http.ResponseWriter, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrIdentityMissing
	}
	value := url.PathEscape(name)
	if c.Signed() {
		token, err := c.signToken(name)
		if err != nil {
			return err
		}
		value = token
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (c *Cookie) signToken(name string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  name,
		IssuedAt: jwt.NewNumericDate(c.now()),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign identity token: %w", err)
	}
	return signed, nil
}

func (c *Cookie) parseToken(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityMissing, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrIdentityMissing
	}
	return claims.Subject, nil
}
