// Package auth issues and parses the credentials handed to clients: signed
// JWT access tokens and opaque refresh tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HMAC key accepted, in bytes.
const MinSecretLength = 32

// refreshTokenBytes gives 256 bits of entropy, 64 hex chars.
const refreshTokenBytes = 32

// Claims carried by an access token. Subject holds the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// Issuer signs access tokens with HS256 and mints refresh tokens.
type Issuer struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	now       func() time.Time
}

// NewIssuer fails with common.ErrMisconfigured when the secret is shorter
// than MinSecretLength or the TTL is not positive.
func NewIssuer(secret []byte, issuer, audience string, accessTTL time.Duration, clock func() time.Time) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("secret key must be at least %d bytes: %w", MinSecretLength, common.ErrMisconfigured)
	}
	if accessTTL <= 0 {
		return nil, fmt.Errorf("access token lifetime must be positive: %w", common.ErrMisconfigured)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Issuer{
		secret:    append([]byte(nil), secret...),
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		now:       clock,
	}, nil
}

// IssueAccessToken signs a token for user and returns it with its expiry.
func (i *Issuer) IssueAccessToken(user *models.User) (string, time.Time, error) {
	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.accessTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Email: user.Email,
		Roles: user.Roles(),
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return s, exp, nil
}

// ParseAccessToken verifies signature, algorithm, issuer, audience and
// lifetime. Expired tokens yield common.ErrTokenExpired, every other failure
// common.ErrInvalidToken.
func (i *Issuer) ParseAccessToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}

// IssueRefreshToken mints an un-persisted refresh token valid for ttl.
func (i *Issuer) IssueRefreshToken(userID string, ttl time.Duration) (*models.RefreshToken, error) {
	tok, err := common.MakeRandHexString(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := i.now().UTC()
	return models.NewRefreshToken(userID, tok, now.Add(ttl), now)
}
