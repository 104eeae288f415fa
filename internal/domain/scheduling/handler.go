package scheduling

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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – clinicians and patients
	readGroup := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RolePatient))
	readGroup.GET("/procedures", h.ListProcedures)
	readGroup.GET("/procedures/:id", h.GetProcedure)
	readGroup.GET("/time-windows", h.ListTimeWindows)
	readGroup.GET("/time-windows/:id", h.GetTimeWindow)
	readGroup.GET("/time-windows/:id/ranges", h.GetTimeWindowRanges)
	readGroup.GET("/appointments/:id", h.GetAppointment)
	readGroup.GET("/patients/:id/appointments", h.ListPatientAppointments)
	readGroup.GET("/patients/:id/appointments/conflicts", h.GetPatientConflicts)

	// Booking – patients for themselves, clinicians for anyone
	bookGroup := api.Group("", auth.RequireRole(auth.RoleClinician, auth.RolePatient))
	bookGroup.POST("/appointments", h.BookAppointment)
	bookGroup.POST("/appointments/:id/cancel", h.CancelAppointment)

	// Clinician writes
	writeGroup := api.Group("", auth.RequireRole(auth.RoleClinician))
	writeGroup.POST("/procedures", h.CreateProcedure)
	writeGroup.DELETE("/procedures/:id", h.DeleteProcedure)
	writeGroup.POST("/time-windows", h.CreateTimeWindow)
	writeGroup.POST("/time-windows/:id/close", h.CloseTimeWindow)
	writeGroup.POST("/appointments/:id/complete", h.CompleteAppointment)
	writeGroup.POST("/appointments/:id/no-show", h.MarkNoShow)
}

// httpError maps service errors onto HTTP status codes.
func httpError(err error) error {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":   ErrConflict.Error(),
			"conflicts": conflict.Conflicts,
		})
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWindowUnavailable), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func forbidPatient(c echo.Context, patientID uuid.UUID) error {
	if !auth.CanAccessPatient(c.Request().Context(), patientID.String()) {
		return echo.NewHTTPError(http.StatusForbidden, "cannot access another patient's appointments")
	}
	return nil
}

// -- Procedure Handlers --

func (h *Handler) CreateProcedure(c echo.Context) error {
	var p Procedure
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateProcedure(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetProcedure(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetProcedure(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListProcedures(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListProcedures(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteProcedure(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteProcedure(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Time Window Handlers --

func (h *Handler) CreateTimeWindow(c echo.Context) error {
	var w TimeWindow
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if w.ClinicianID == uuid.Nil {
		if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
			w.ClinicianID = uid
		}
	}
	if err := h.svc.CreateTimeWindow(c.Request().Context(), &w); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetTimeWindow(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.GetTimeWindow(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if w.PatientID != nil {
		if err := forbidPatient(c, *w.PatientID); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) GetTimeWindowRanges(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.GetTimeWindow(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if w.PatientID != nil {
		if err := forbidPatient(c, *w.PatientID); err != nil {
			return err
		}
	}
	ranges := Ranges(w)
	if ranges == nil {
		ranges = []TimeRange{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"time_window_id": w.ID,
		"ranges":         ranges,
	})
}

// ListTimeWindows filters by clinician_id, patient_id and status. Patients
// only ever see windows offered to them.
func (h *Handler) ListTimeWindows(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)

	var f WindowFilter
	if v := c.QueryParam("clinician_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid clinician_id")
		}
		f.ClinicianID = &id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if !auth.HasRole(ctx, auth.RoleClinician) {
		id, err := uuid.Parse(auth.PatientIDFromContext(ctx))
		if err != nil {
			return echo.NewHTTPError(http.StatusForbidden, "no patient bound to this account")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		f.Status = WindowStatus(v)
	}

	items, total, err := h.svc.ListTimeWindows(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CloseTimeWindow(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.CloseTimeWindow(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w)
}

// -- Appointment Handlers --

func (h *Handler) BookAppointment(c echo.Context) error {
	var a Appointment
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if a.PatientID == uuid.Nil {
		if pid, err := uuid.Parse(auth.PatientIDFromContext(ctx)); err == nil {
			a.PatientID = pid
		}
	}
	if a.PatientID != uuid.Nil {
		if err := forbidPatient(c, a.PatientID); err != nil {
			return err
		}
	}
	if err := h.svc.BookAppointment(ctx, &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if err := forbidPatient(c, a.PatientID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListPatientAppointments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := forbidPatient(c, id); err != nil {
		return err
	}
	appts, err := h.svc.ListPatientAppointments(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, appts)
}

func (h *Handler) GetPatientConflicts(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := forbidPatient(c, id); err != nil {
		return err
	}
	conflicts, err := h.svc.PatientConflicts(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conflicts)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	a, err := h.svc.GetAppointment(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if err := forbidPatient(c, a.PatientID); err != nil {
		return err
	}
	a, err = h.svc.CancelAppointment(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CompleteAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) MarkNoShow(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.MarkNoShow(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}
