package rest

import (
	"time"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
)

type TokenClaims struct {
	UserID string     `json:"sub"`
	Name   string     `json:"name"`
	Role   model.Role `json:"role"`
	Type   string     `json:"typ"`
	Exp    int64      `json:"exp"`
}

// IssueToken signs an access token for id. Users are managed elsewhere; this
// is how operators mint tokens for clients and tests.
func IssueToken(secret string, id model.Identity, ttl time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("jwt secret is not configured")
	}
	if id.Role == "" {
		id.Role = model.RoleCitizen
	}
	expiresAt := time.Now().Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  id.ActorID, // subject (user ID)
		"name": id.DisplayName,
		"role": string(id.Role),
		"exp":  expiresAt.Unix(),
		"iat":  time.Now().Unix(),
		"typ":  "access",
	})

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

func (api *API) createToken(id model.Identity) (string, time.Time, error) {
	ttl, err := time.ParseDuration(api.Config.JwtExpires)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "parse JWT_EXPIRES")
	}
	return IssueToken(api.Config.JwtSecret, id, ttl)
}
