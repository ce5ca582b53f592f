package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"wellvault/internal/model"
	"wellvault/internal/service"
)

type ctxKey string

const callerKey ctxKey = "caller"

// tokenClaims is the identity asserted by the platform's auth service. The
// vault only consumes it; issuing tokens is out of scope here.
type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity verifies the bearer token and puts the Caller into the request
// context. Every route behind it requires a valid token.
func Identity(signKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := callerFromToken(bearerToken(r.Header.Get("Authorization")), signKey)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), callerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFrom returns the authenticated caller stored by Identity.
func CallerFrom(ctx context.Context) (service.Caller, bool) {
	c, ok := ctx.Value(callerKey).(service.Caller)
	return c, ok
}

func callerFromToken(tok string, signKey []byte) (service.Caller, error) {
	if tok == "" {
		return service.Caller{}, errors.New("no bearer token")
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return signKey, nil
	})
	if err != nil || !parsed.Valid {
		return service.Caller{}, errors.New("invalid token")
	}

	v := jwt.NewValidator(jwt.WithLeeway(30 * time.Second))
	if err := v.Validate(&claims); err != nil {
		return service.Caller{}, errors.New("token expired or not valid yet")
	}

	id, err := uuid.FromString(claims.Subject)
	if err != nil {
		return service.Caller{}, errors.New("bad subject")
	}
	role := model.Role(claims.Role)
	if role != model.RoleAdmin {
		role = model.RolePractitioner
	}
	return service.Caller{ID: id, Role: role}, nil
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
