package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const defaultTokenLifetime = 24 * time.Hour

var (
	errInvalidToken = errors.New("invalid token")
	errNoSecret     = errors.New("token secret not configured")
)

// Claims is the decoded identity a verified token yields: who the caller is
// and when the token was minted. Signature mechanics stay inside this
// package.
type Claims struct {
	UserID   string
	IssuedAt time.Time
}

// TokenManager issues and verifies HS256 tokens for locally managed accounts.
type TokenManager struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	parser   *jwt.Parser
	now      func() time.Time
}

func NewTokenManager(secret []byte, issuer string) *TokenManager {
	return &TokenManager{
		secret:   secret,
		issuer:   issuer,
		lifetime: defaultTokenLifetime,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
		now:      time.Now,
	}
}

// Issue mints a token for the user. The issued-at claim is the clock the
// session oracle compares against the credential-change watermark.
func (m *TokenManager) Issue(userID string) (string, error) {
	// An empty HMAC key would sign tokens anyone can forge.
	if len(m.secret) == 0 {
		return "", errNoSecret
	}
	now := m.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify checks the signature and registered claims and returns the decoded
// identity.
func (m *TokenManager) Verify(token string) (Claims, error) {
	if len(m.secret) == 0 {
		return Claims{}, errNoSecret
	}
	parsed, err := m.parser.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" || claims.IssuedAt == nil {
		return Claims{}, errInvalidToken
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return Claims{}, errInvalidToken
	}
	return Claims{UserID: claims.Subject, IssuedAt: claims.IssuedAt.Time}, nil
}
