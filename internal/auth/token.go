package auth

import (
	"errors"
	"fmt"
	"time"

	pkgerrors "judgehub/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenType = "access"

// Principal is the authenticated caller of the user and admin API.
type Principal struct {
	UserID string
	OrgID  string
	// Caps is the capability mask carried by the token. The Checker decides
	// what it means for a given target.
	Caps Capability
}

// TokenService validates bearer tokens issued by the account service.
type TokenService struct {
	secret []byte
	issuer string
}

func NewTokenService(secret, issuer string) *TokenService {
	return &TokenService{secret: []byte(secret), issuer: issuer}
}

type tokenClaims struct {
	OrgID     string     `json:"org"`
	Caps      Capability `json:"caps"`
	TokenType string     `json:"typ"`
	jwt.RegisteredClaims
}

// Issue signs an access token for p. Used by tooling and tests; production
// tokens come from the account service with the same secret.
func (s *TokenService) Issue(p Principal, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := tokenClaims{
		OrgID:     p.OrgID,
		Caps:      p.Caps,
		TokenType: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Authenticate parses raw and returns the principal it carries.
func (s *TokenService) Authenticate(raw string) (Principal, error) {
	if raw == "" || len(s.secret) == 0 {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, pkgerrors.New(pkgerrors.TokenExpired)
		}
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	if claims.TokenType != accessTokenType || claims.Subject == "" || claims.OrgID == "" {
		return Principal{}, pkgerrors.New(pkgerrors.TokenInvalid)
	}
	return Principal{UserID: claims.Subject, OrgID: claims.OrgID, Caps: claims.Caps}, nil
}
