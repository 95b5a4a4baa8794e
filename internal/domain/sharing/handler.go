package sharing

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/domain/catalog"
	"github.com/ehr/integrator/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/facilities/:facility_id/patients/:demographic_id/records", h.Fetch)
}

// Fetch returns a patient's records to the calling facility. The kind query
// parameter may repeat or hold a comma-separated list.
func (h *Handler) Fetch(c echo.Context) error {
	caller, err := auth.CallerFacility(c)
	if err != nil {
		return err
	}
	facilityID, err := strconv.Atoi(c.Param("facility_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid facility id")
	}
	demographicID, err := strconv.Atoi(c.Param("demographic_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid demographic id")
	}

	var kinds []catalog.Kind
	for _, v := range c.QueryParams()["kind"] {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, catalog.Kind(k))
			}
		}
	}

	res, err := h.svc.Fetch(c.Request().Context(), Request{
		Requester:        caller.FacilityID,
		SourceFacilityID: facilityID,
		DemographicID:    demographicID,
		Kinds:            kinds,
	})
	switch {
	case errors.Is(err, cachekey.ErrInvalidKey), errors.Is(err, catalog.ErrUnknownKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "fetch failed")
	}
	return c.JSON(http.StatusOK, res)
}
