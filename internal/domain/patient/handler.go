package patient

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trialflow/trialflow/internal/platform/auth"
	"github.com/trialflow/trialflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type patientResponse struct {
	*Patient
	TrialPhaseLabel string `json:"trial_phase_label"`
}

func toResponse(p *Patient) patientResponse {
	return patientResponse{Patient: p, TrialPhaseLabel: p.TrialPhase.Label()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Patients may read their own record
	readGroup := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RolePatient))
	readGroup.GET("/patients/:id", h.GetPatient)

	// Roster management – clinicians
	staffGroup := api.Group("", auth.RequireRole(auth.RoleClinician))
	staffGroup.GET("/patients", h.ListPatients)
	staffGroup.POST("/patients", h.CreatePatient)
	staffGroup.PUT("/patients/:id", h.UpdatePatient)
	staffGroup.DELETE("/patients/:id", h.DeletePatient)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, toResponse(&p))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if !auth.CanAccessPatient(c.Request().Context(), id.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot access another patient's record")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toResponse(p))
}

// ListPatients supports phase, name and sort query parameters.
func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := SearchParams{
		Phase: TrialPhase(c.QueryParam("phase")),
		Name:  c.QueryParam("name"),
		Sort:  c.QueryParam("sort"),
	}
	patients, total, err := h.svc.SearchPatients(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	items := make([]patientResponse, len(patients))
	for i, p := range patients {
		items[i] = toResponse(p)
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset).
		WithLinks(c.Request().URL.Path, c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.ID = id
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, toResponse(&p))
}

func (h *Handler) DeletePatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeletePatient(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
