package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwise1/civic_patrol/internal/model"
	"github.com/bwise1/civic_patrol/util/logger"
	"github.com/bwise1/civic_patrol/util/tracing"
	"github.com/bwise1/civic_patrol/util/values"
	"github.com/golang-jwt/jwt"
	"github.com/lucsky/cuid"
	"go.uber.org/zap"
)

var errTokenExpired = errors.New("token expired")

// RequestTracing handles the request tracing context
func RequestTracing(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestSource := r.Header.Get(values.HeaderRequestSource)
		if requestSource == "" {
			errM := errors.New("X-Request-Source is empty")

			writeErrorResponse(w, errM, values.BadRequestBody, errM.Error())
			return
		}

		requestID := r.Header.Get(values.HeaderRequestID)
		if requestID == "" {
			requestID = cuid.New()
		}
		w.Header().Set(values.HeaderRequestID, requestID)

		tracingContext := tracing.Context{
			RequestID:     requestID,
			RequestSource: requestSource,
			RequestPath:   r.URL.Path,
		}

		ctx = context.WithValue(ctx, values.ContextTracingKey, tracingContext)
		next.ServeHTTP(w, r.WithContext(ctx))
	}

	return http.HandlerFunc(fn)
}

// RequireLogin accepts a bearer token, or an access_token query parameter
// for websocket clients that cannot set headers.
func (api *API) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("access_token")
		if token == "" {
			authorization := strings.Split(r.Header.Get("Authorization"), " ")
			if len(authorization) != 2 || authorization[0] != "Bearer" {
				writeErrorResponse(w, errors.New(values.NotAuthorised), values.NotAuthorised, "not-authorized")
				return
			}
			token = authorization[1]
		}

		claims, err := api.verifyToken(token)
		if err != nil {
			if errors.Is(err, errTokenExpired) {
				writeErrorResponse(w, err, values.TokenExpired, "token-expired")
				return
			}
			writeErrorResponse(w, err, values.NotAuthorised, "invalid-token")
			return
		}

		ctx := r.Context()
		ctx = context.WithValue(ctx, values.ContextUserKey, claims.UserID)
		ctx = context.WithValue(ctx, values.ContextRoleKey, claims.Role)
		ctx = context.WithValue(ctx, values.ContextNameKey, claims.Name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (api *API) verifyToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(api.Config.JwtSecret), nil
	})

	if ve, ok := err.(*jwt.ValidationError); ok {
		if ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, errTokenExpired
		}
	}

	if err != nil || !token.Valid {
		logger.Log.Debug("error verifying token", zap.Error(err))
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}

	// "typ" rather than "type"
	tokenType, _ := claims["typ"].(string)
	if tokenType != "access" {
		return nil, fmt.Errorf("invalid token type %q", tokenType)
	}

	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return nil, fmt.Errorf("invalid user id")
	}

	role := model.Role(fmt.Sprint(claims["role"]))
	switch role {
	case model.RoleCitizen, model.RolePatrol, model.RoleAdmin:
	default:
		role = model.RoleCitizen
	}
	name, _ := claims["name"].(string)
	exp, _ := claims["exp"].(float64)

	return &TokenClaims{
		UserID: userID,
		Name:   name,
		Role:   role,
		Type:   tokenType,
		Exp:    int64(exp),
	}, nil
}
