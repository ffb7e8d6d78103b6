// Package auth verifies the credentials carried by gateway handshakes and REST calls.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/xiaot623/prism/internal/domain"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
}

// Credentials are the raw values presented by a client.
type Credentials struct {
	Token     string
	APIKey    string
	SessionID string
}

// CredentialsFromRequest reads token, apiKey and uuid from the query string,
// falling back to the Authorization bearer and X-API-Key headers.
func CredentialsFromRequest(r *http.Request) Credentials {
	q := r.URL.Query()
	creds := Credentials{
		Token:     q.Get("token"),
		APIKey:    q.Get("apiKey"),
		SessionID: q.Get("uuid"),
	}
	if creds.Token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			creds.Token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if creds.APIKey == "" {
		creds.APIKey = r.Header.Get("X-API-Key")
	}
	return creds
}

// Verifier checks API keys and HS256 tokens whose subject is the user id.
type Verifier struct {
	secret []byte
	apiKey string
	ttl    time.Duration
	now    func() time.Time
}

// NewVerifier creates a verifier. An empty apiKey accepts any non-empty key.
func NewVerifier(secret, apiKey string, ttl time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), apiKey: apiKey, ttl: ttl, now: time.Now}, nil
}

// Authenticate validates token and API key and returns the caller identity.
// Every failure wraps domain.ErrAuthentication.
func (v *Verifier) Authenticate(creds Credentials) (Identity, error) {
	if creds.Token == "" || creds.APIKey == "" {
		return Identity{}, domain.ErrAuthentication
	}
	if v.apiKey != "" && subtle.ConstantTimeCompare([]byte(creds.APIKey), []byte(v.apiKey)) != 1 {
		return Identity{}, fmt.Errorf("%w: invalid api key", domain.ErrAuthentication)
	}

	tok, err := jwt.Parse([]byte(creds.Token),
		jwt.WithKey(jwa.HS256(), v.secret),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	sub, ok := tok.Subject()
	if !ok || sub == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrAuthentication)
	}
	return Identity{UserID: sub}, nil
}

// Issue mints a token for userID valid for the configured TTL.
func (v *Verifier) Issue(userID string) (string, error) {
	now := v.now()
	tok, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(v.ttl)).
		Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), v.secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}
