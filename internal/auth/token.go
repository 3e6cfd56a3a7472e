package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// Issuer and Audience are fixed for every token this service signs.
	Issuer   = "fastify-react-app"
	Audience = "fastify-react-app-users"

	// TokenTypeRefresh marks refresh tokens. Access tokens carry no type.
	TokenTypeRefresh = "refresh"
	tokenTypeAccess  = "access"

	DefaultAccessTTL = 7 * 24 * time.Hour
	// RefreshTTL does not follow the access token configuration.
	RefreshTTL = 7 * 24 * time.Hour

	// issuedAtSkew tolerates issuer clocks running slightly ahead. Expiry gets
	// no tolerance.
	issuedAtSkew = 5 * time.Second
)

// Claims is the signed payload of access and refresh tokens.
type Claims struct {
	UserID    int64            `json:"userId"`
	Email     string           `json:"email"`
	Name      string           `json:"name"`
	Type      string           `json:"type,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat"`
	ExpiresAt *jwt.NumericDate `json:"exp"`
	Issuer    string           `json:"iss"`
	Audience  string           `json:"aud"`
	ID        string           `json:"jti,omitempty"`
}

func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c *Claims) GetIssuer() (string, error)                   { return c.Issuer, nil }
func (c *Claims) GetSubject() (string, error)                  { return "", nil }

func (c *Claims) GetAudience() (jwt.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwt.ClaimStrings{c.Audience}, nil
}

// Validate is invoked by the jwt parser after the registered claims pass.
func (c *Claims) Validate() error {
	if c.UserID <= 0 {
		return errors.New("userId missing")
	}
	return nil
}

// IsRefresh reports whether the claims belong to a refresh token.
func (c *Claims) IsRefresh() bool {
	return c.Type == TokenTypeRefresh
}

// Subject returns the identity carried by the claims.
func (c *Claims) Subject() Subject {
	return Subject{UserID: c.UserID, Email: c.Email, Name: c.Name}
}

// Token is a signed credential.
type Token struct {
	Raw       string
	ExpiresAt time.Time
}

// TokenConfig configures a TokenCodec.
type TokenConfig struct {
	Secret    string
	AccessTTL time.Duration
	Clock     func() time.Time
}

// TokenCodec issues and verifies HS256 session tokens.
type TokenCodec struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
	parser    *jwt.Parser
}

// NewTokenCodec fails with ErrSigningKeyUnavailable when no secret is configured.
func NewTokenCodec(cfg TokenConfig) (*TokenCodec, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, ErrSigningKeyUnavailable
	}
	c := &TokenCodec{
		secret:    []byte(secret),
		accessTTL: cfg.AccessTTL,
		now:       cfg.Clock,
	}
	if c.accessTTL <= 0 {
		c.accessTTL = DefaultAccessTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	return c, nil
}

// AccessTTL is the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// IssueAccessToken signs an access token for the subject.
func (c *TokenCodec) IssueAccessToken(sub Subject) (Token, error) {
	return c.issue(sub, "", c.accessTTL)
}

// IssueRefreshToken signs a refresh token for the subject. Its lifetime is always RefreshTTL.
func (c *TokenCodec) IssueRefreshToken(sub Subject) (Token, error) {
	return c.issue(sub, TokenTypeRefresh, RefreshTTL)
}

func (c *TokenCodec) issue(sub Subject, typ string, ttl time.Duration) (Token, error) {
	if sub.UserID <= 0 {
		return Token{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := &Claims{
		UserID:    sub.UserID,
		Email:     sub.Email,
		Name:      sub.Name,
		Type:      typ,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		Issuer:    Issuer,
		Audience:  Audience,
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	// NumericDate truncates to seconds; report what the token actually says.
	return Token{Raw: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// VerifyAccessToken validates signature, expiry, issuer and audience.
// Refresh tokens are rejected with ErrInvalidTokenType.
func (c *TokenCodec) VerifyAccessToken(raw string) (*Claims, error) {
	claims, err := c.verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != "" && claims.Type != tokenTypeAccess {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

// VerifyRefreshToken validates the token and requires type=refresh.
func (c *TokenCodec) VerifyRefreshToken(raw string) (*Claims, error) {
	claims, err := c.verify(raw)
	if err != nil {
		return nil, err
	}
	if !claims.IsRefresh() {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

func (c *TokenCodec) verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenMalformed
	}
	claims := &Claims{}
	_, err := c.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil {
		return nil, classifyTokenError(err)
	}
	if claims.IssuedAt != nil && claims.IssuedAt.After(c.now().Add(issuedAtSkew)) {
		return nil, fmt.Errorf("%w: issued in the future", ErrTokenMalformed)
	}
	return claims, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenInvalidClaims):
		return ErrTokenMalformed
	default:
		return fmt.Errorf("verify token: %w", err)
	}
}
