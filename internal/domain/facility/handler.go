package facility

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/integrator/internal/platform/auth"
)

// Authenticator adapts the service to the facility Basic-auth middleware.
func (s *Service) Authenticator() auth.Authenticator {
	return auth.AuthenticatorFunc(func(ctx context.Context, name, password string) (auth.Principal, bool) {
		f, ok := s.Authenticate(ctx, name, password)
		if !ok {
			return auth.Principal{}, false
		}
		return auth.Principal{FacilityID: f.ID, Name: f.Name}, true
	})
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/handshake", h.Handshake)
}

type handshakeResponse struct {
	FacilityID int    `json:"facility_id"`
	Name       string `json:"name"`
	Scheme     Scheme `json:"credential_scheme"`
	Credential string `json:"credential"`
}

// Handshake confirms the caller's identity and returns its credential in
// transport encoding.
func (h *Handler) Handshake(c echo.Context) error {
	caller, err := auth.CallerFacility(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()

	f, err := h.svc.Get(ctx, caller.FacilityID)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "facility not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	enc, err := h.svc.TransportCredential(ctx, f.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, handshakeResponse{
		FacilityID: f.ID,
		Name:       f.Name,
		Scheme:     f.CredentialScheme(),
		Credential: enc,
	})
}
