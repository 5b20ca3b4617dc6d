package util

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/bwise1/civic_patrol/util/tracing"
	"github.com/bwise1/civic_patrol/util/values"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// StatusCode returns the status code represented
// by the specified status. Note that this function
// returns a status code of 200 by default
func StatusCode(status string) int {
	switch status {
	case values.Error:
		return http.StatusInternalServerError
	case values.Created:
		return http.StatusCreated
	case values.BadRequestBody:
		return http.StatusBadRequest
	case values.Unprocessable:
		return http.StatusUnprocessableEntity
	case values.NotAllowed:
		return http.StatusForbidden
	case values.Conflict:
		return http.StatusConflict
	case values.NotFound:
		return http.StatusNotFound
	case values.NotAuthorised, values.TokenExpired:
		return http.StatusUnauthorized
	default:
		return http.StatusOK
	}
}

// DecodeJSONBody ...
func DecodeJSONBody(tc *tracing.Context, body io.ReadCloser, target interface{}) error {
	if body == nil {
		return fmt.Errorf("missing request body for request: %v", tc)
	}
	defer func() {
		_ = body.Close()
	}()

	if err := json.NewDecoder(body).Decode(target); err != nil {
		return errors.Wrapf(err, "Error parsing json body for request: %v", tc)
	}

	return nil
}

func GenerateUUID() uuid.UUID {
	return uuid.New()
}

// NormalizeID keeps a client supplied id when it is a UUID and mints a new
// one otherwise.
func NormalizeID(id string) string {
	if parsed, err := uuid.Parse(id); err == nil {
		return parsed.String()
	}
	return GenerateUUID().String()
}

// GetUserIDFromContext extracts the user ID from the context.
func GetUserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(values.ContextUserKey).(string)
	if !ok || userID == "" {
		return "", errors.New("user ID not found in context")
	}
	return userID, nil
}

// GetIdentityFromContext returns the authenticated actor stored by the
// login middleware.
func GetIdentityFromContext(ctx context.Context) (model.Identity, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return model.Identity{}, err
	}
	role, _ := ctx.Value(values.ContextRoleKey).(model.Role)
	if role == "" {
		role = model.RoleCitizen
	}
	name, _ := ctx.Value(values.ContextNameKey).(string)
	return model.Identity{ActorID: userID, DisplayName: name, Role: role}, nil
}
