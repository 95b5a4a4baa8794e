package consent

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/platform/auth"
	"github.com/ehr/integrator/internal/platform/middleware"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts consent endpoints. A facility only manages consent
// for its own patients.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/consents/:demographic_id", h.Get)
	api.PUT("/consents/:demographic_id", h.Put)
}

type preferenceRequest struct {
	Status                  Status       `json:"status"`
	Expiry                  *time.Time   `json:"expiry,omitempty"`
	ExcludeMentalHealthData bool         `json:"exclude_mental_health_data"`
	ShareOverrides          map[int]bool `json:"share_overrides,omitempty"`
}

func (h *Handler) Get(c echo.Context) error {
	caller, err := auth.CallerFacility(c)
	if err != nil {
		return err
	}
	demographicID, err := strconv.Atoi(c.Param("demographic_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid demographic id")
	}

	rec, err := h.svc.Get(c.Request().Context(), caller.FacilityID, demographicID)
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "no consent recorded")
	case errors.Is(err, cachekey.ErrInvalidKey):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Put(c echo.Context) error {
	caller, err := auth.CallerFacility(c)
	if err != nil {
		return err
	}
	demographicID, err := strconv.Atoi(c.Param("demographic_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid demographic id")
	}
	var req preferenceRequest
	if err := c.Bind(&req); err != nil {
		if errors.Is(err, middleware.ErrBodyTooLarge) {
			return middleware.ErrBodyTooLarge
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := h.svc.SetPreference(c.Request().Context(), Preference{
		FacilityID:              caller.FacilityID,
		DemographicID:           demographicID,
		Status:                  req.Status,
		Expiry:                  req.Expiry,
		ExcludeMentalHealthData: req.ExcludeMentalHealthData,
		ShareOverrides:          req.ShareOverrides,
	})
	switch {
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, cachekey.ErrInvalidKey):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}
