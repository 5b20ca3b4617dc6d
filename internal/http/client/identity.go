package client

import (
	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
)

// ParseIdentity reads the actor out of an access token. The signature is not
// checked here; the server does that on every request.
func ParseIdentity(token string) (model.Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(token, claims); err != nil {
		return model.Identity{}, errors.Wrap(err, "parse access token")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return model.Identity{}, errors.New("access token has no subject")
	}
	name, _ := claims["name"].(string)
	role, _ := claims["role"].(string)

	id := model.Identity{ActorID: sub, DisplayName: name, Role: model.Role(role)}
	switch id.Role {
	case model.RoleCitizen, model.RolePatrol, model.RoleAdmin:
	default:
		id.Role = model.RoleCitizen
	}
	return id, nil
}
