package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mahaj/guildchat/pkg/model"
)

type Claims struct {
	ProfileID string `json:"profile_id"`
	Name      string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens with a shared HMAC secret.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{key: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateToken creates a token for the given profile.
func (i *Issuer) GenerateToken(profile model.Profile) (string, error) {
	if profile.ID == "" {
		return "", fmt.Errorf("profile id missing: %w", model.ErrValidation)
	}
	now := i.now()
	claims := &Claims{
		ProfileID: profile.ID,
		Name:      profile.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   profile.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.key)
}

// ValidateToken parses a token and returns its profile. Every failure is
// reported as model.ErrUnauthorized.
func (i *Issuer) ValidateToken(tokenString string) (model.Profile, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return model.Profile{}, fmt.Errorf("%w: %v", model.ErrUnauthorized, err)
	}
	if !token.Valid || claims.ProfileID == "" {
		return model.Profile{}, fmt.Errorf("%w: %v", model.ErrUnauthorized, errors.New("invalid token"))
	}

	return model.Profile{ID: claims.ProfileID, Name: claims.Name}, nil
}
