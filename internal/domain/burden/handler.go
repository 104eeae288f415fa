package burden

import (
	"errors"
	"math"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/trialflow/trialflow/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type calculateRequest struct {
	Visits []VisitInput `json:"visits"`
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/burden-score/categories", h.Categories)
	api.GET("/burden-score/sample", h.Sample)

	scored := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RolePatient))
	scored.POST("/burden-score/calculate", h.Calculate)
	scored.GET("/patients/:id/burden-score", h.GetPatientScore)
}

func (h *Handler) Calculate(c echo.Context) error {
	var req calculateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	score, err := h.svc.Calculate(c.Request().Context(), req.Visits)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Data: score})
}

func (h *Handler) GetPatientScore(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if !auth.CanAccessPatient(ctx, id.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot access another patient's burden score")
	}

	opts, err := scoreOptions(c)
	if err != nil {
		return err
	}

	result, err := h.svc.ScorePatient(ctx, id, opts)
	switch {
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrInvalidVisit):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to calculate burden score")
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Data: result})
}

func (h *Handler) Categories(c echo.Context) error {
	out := make([]CategoryDetails, 0, len(Categories()))
	for _, cat := range Categories() {
		d, _ := CategoryInfo(cat)
		out = append(out, d)
	}
	return c.JSON(http.StatusOK, envelope{Success: true, Data: out})
}

func (h *Handler) Sample(c echo.Context) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Data: h.svc.Sample(c.Request().Context())})
}

// scoreOptions reads the optional per-request overrides. Absent parameters
// stay nil so the service defaults apply.
func scoreOptions(c echo.Context) (Options, error) {
	var travel, window float64
	if err := echo.QueryParamsBinder(c).
		Float64("travel_minutes", &travel).
		Float64("window_days", &window).
		BindError(); err != nil {
		var be *echo.BindingError
		if errors.As(err, &be) {
			return Options{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+be.Field)
		}
		return Options{}, echo.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}

	var opts Options
	for _, p := range []struct {
		name string
		v    float64
		dst  **float64
	}{
		{"travel_minutes", travel, &opts.TravelMinutes},
		{"window_days", window, &opts.WindowDays},
	} {
		if c.QueryParam(p.name) == "" {
			continue
		}
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			return Options{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+p.name)
		}
		v := p.v
		*p.dst = &v
	}
	return opts, nil
}
