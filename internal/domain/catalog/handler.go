package catalog

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/integrator/internal/domain/cachekey"
	"github.com/ehr/integrator/internal/platform/auth"
	"github.com/ehr/integrator/internal/platform/middleware"
	"github.com/ehr/integrator/internal/platform/validate"
	"github.com/ehr/integrator/pkg/pagination"
)

// maxBatch bounds the records accepted by one replace call.
const maxBatch = 5000

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the ingestion endpoints on a facility-authenticated
// group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/records/:kind", h.ListOwn)
	api.PUT("/records/:kind", h.Ingest)
	api.PUT("/records/:kind/patients/:demographic_id", h.ReplacePatient)
	api.DELETE("/records/:kind/:key", h.Delete)
}

type savedResponse struct {
	Kind Kind   `json:"kind"`
	Key  string `json:"key"`
}

func (h *Handler) Ingest(c echo.Context) error {
	caller, err := auth.CallerFacility(c)
	if err != nil {
		return err
	}
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return bodyError(err, "unreadable body")
	}
	rec, err := Decode(kind, body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.svc.Ingest(c.Request().Context(), caller.FacilityID, rec); err != nil {
		return ingestError(err)
	}
	return c.JSON(http.StatusOK, savedResponse{Kind: kind, Key: rec.CacheKey().String()})
}

func (h *Handler) ReplacePatient(c echo.Context) error {
	caller, err := auth.CallerFacility(c)
	if err != nil {
		return err
	}
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	demographicID, err := strconv.Atoi(c.Param("demographic_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid demographic id")
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(c.Request().Body).Decode(&raw); err != nil {
		return bodyError(err, "body must be a JSON array of records")
	}
	if len(raw) > maxBatch {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too many records in one replace")
	}
	recs := make([]Record, 0, len(raw))
	for _, r := range raw {
		rec, err := Decode(kind, r)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		recs = append(recs, rec)
	}

	if err := h.svc.Replace(c.Request().Context(), caller.FacilityID, kind, demographicID, recs); err != nil {
		return ingestError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"replaced": len(recs)})
}

func (h *Handler) Delete(c echo.Context) error {
	caller, err := auth.CallerFacility(c)
	if err != nil {
		return err
	}
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	raw, err := url.PathUnescape(c.Param("key"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid key")
	}
	key, err := kind.ParseKey(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := h.svc.Delete(c.Request().Context(), caller.FacilityID, kind, key); err != nil {
		return ingestError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListOwn pages through the caller's own records of one kind.
func (h *Handler) ListOwn(c echo.Context) error {
	caller, err := auth.CallerFacility(c)
	if err != nil {
		return err
	}
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	recs, err := h.svc.FacilityRecords(c.Request().Context(), kind, caller.FacilityID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	p := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(recs, p), len(recs), p.Limit, p.Offset))
}

// bodyError keeps the body limit's 413 and reports anything else as a bad
// request.
func bodyError(err error, msg string) error {
	if errors.Is(err, middleware.ErrBodyTooLarge) {
		return middleware.ErrBodyTooLarge
	}
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func ingestError(err error) error {
	switch {
	case errors.Is(err, ErrFacilityMismatch):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, cachekey.ErrInvalidKey),
		errors.Is(err, validate.ErrInvalid),
		errors.Is(err, ErrPatientMismatch),
		errors.Is(err, ErrNotPerPatient),
		errors.Is(err, ErrUnknownKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
