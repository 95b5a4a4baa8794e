package auth

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	PrincipalKey contextKey = "facility_principal"

	// FacilityIDKey is the echo context key holding the caller's facility id.
	FacilityIDKey = "facility_id"
)

// Principal is an authenticated, enabled facility.
type Principal struct {
	FacilityID int
	Name       string
}

// Authenticator checks a facility's name and password. Unknown names,
// disabled facilities and wrong passwords all return false.
type Authenticator interface {
	Authenticate(ctx context.Context, name, password string) (Principal, bool)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, name, password string) (Principal, bool)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, name, password string) (Principal, bool) {
	return f(ctx, name, password)
}

// FacilityBasicAuth authenticates every request with HTTP Basic credentials
// (facility name and password) and stores the Principal on the request
// context.
func FacilityBasicAuth(authn Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			name, password, ok := c.Request().BasicAuth()
			if !ok {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Basic realm="integrator"`)
				return echo.NewHTTPError(http.StatusUnauthorized, "missing facility credentials")
			}

			p, ok := authn.Authenticate(c.Request().Context(), name, password)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "facility authentication failed")
			}

			ctx := context.WithValue(c.Request().Context(), PrincipalKey, p)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(FacilityIDKey, p.FacilityID)
			return next(c)
		}
	}
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}

// CallerFacility returns the authenticated facility for c or a 401.
func CallerFacility(c echo.Context) (Principal, error) {
	p, ok := PrincipalFromContext(c.Request().Context())
	if !ok {
		return Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "facility not authenticated")
	}
	return p, nil
}
