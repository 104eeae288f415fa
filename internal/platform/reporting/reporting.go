package reporting

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trialflow/trialflow/internal/platform/auth"
	"github.com/trialflow/trialflow/internal/platform/db"
)

// Parameter is an integer query parameter of a measure, bound in order as
// $1, $2, ...
type Parameter struct {
	Name    string `json:"name"`
	Default int    `json:"default"`
	Min     int    `json:"min"`
	Max     int    `json:"max"`
}

// MeasureDefinition defines a site report with its SQL query.
type MeasureDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	SQL         string      `json:"-"`
	Parameters  []Parameter `json:"parameters"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string                   `json:"measure_id"`
	MeasureName string                   `json:"measure_name"`
	SiteID      string                   `json:"site_id"`
	GeneratedAt time.Time                `json:"generated_at"`
	Results     []map[string]interface{} `json:"results"`
	Parameters  map[string]int           `json:"parameters,omitempty"`
}

// PredefinedMeasures is the list of available site reports.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patients-by-phase",
		Name:        "Patients by Trial Phase",
		Description: "Enrolled patients per trial phase with their average completion",
		SQL: `SELECT trial_phase, COUNT(*) AS total, COALESCE(ROUND(AVG(completion_percentage)), 0)::int AS avg_completion
			FROM patient GROUP BY trial_phase ORDER BY trial_phase`,
		Parameters: []Parameter{},
	},
	{
		ID:          "appointments-by-status",
		Name:        "Appointments by Status",
		Description: "Number of appointments in each status",
		SQL:         `SELECT status, COUNT(*) AS total FROM appointment GROUP BY status ORDER BY total DESC`,
		Parameters:  []Parameter{},
	},
	{
		ID:          "time-window-utilization",
		Name:        "Time Window Utilization",
		Description: "Booked and offered slots per time window status",
		SQL: `SELECT status, COUNT(*) AS windows, COALESCE(SUM(booked), 0)::int AS booked,
			COALESCE(SUM(capacity), 0)::int AS capacity FROM time_window GROUP BY status ORDER BY status`,
		Parameters: []Parameter{},
	},
	{
		ID:          "upcoming-visits",
		Name:        "Upcoming Visits",
		Description: "Scheduled appointments per day over the next days",
		SQL: `SELECT scheduled_at::date AS day, COUNT(*) AS total FROM appointment
			WHERE status = 'scheduled' AND scheduled_at >= NOW() AND scheduled_at < NOW() + make_interval(days => $1)
			GROUP BY day ORDER BY day`,
		Parameters: []Parameter{{Name: "days", Default: 14, Min: 1, Max: 365}},
	},
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	pool db.Querier
	now  func() time.Time
}

// NewHandler creates a new reporting handler. Queries run on the site
// connection of the request when there is one.
func NewHandler(pool db.Querier) *Handler {
	return &Handler{pool: pool, now: time.Now}
}

// RegisterRoutes registers the reporting API routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	reportGroup := api.Group("/reports", auth.RequireRole(auth.RoleClinician))
	reportGroup.GET("/measures", h.ListMeasures)
	reportGroup.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

// ListMeasures returns all available measure definitions.
func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

// EvaluateMeasure executes a measure's SQL and returns the results.
func (h *Handler) EvaluateMeasure(c echo.Context) error {
	measure := FindMeasure(c.Param("id"))
	if measure == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}

	params, args, err := bindParameters(measure.Parameters, c.QueryParam)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	results, err := h.executeSQL(ctx, measure.SQL, args...)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "report query failed")
	}

	return c.JSON(http.StatusOK, MeasureReport{
		MeasureID:   measure.ID,
		MeasureName: measure.Name,
		SiteID:      db.SiteFromContext(ctx),
		GeneratedAt: h.now().UTC(),
		Results:     results,
		Parameters:  params,
	})
}

func bindParameters(defs []Parameter, lookup func(string) string) (map[string]int, []interface{}, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	params := make(map[string]int, len(defs))
	args := make([]interface{}, len(defs))
	for i, p := range defs {
		v := p.Default
		if raw := lookup(p.Name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, nil, fmt.Errorf("%s must be an integer", p.Name)
			}
			v = n
		}
		if v < p.Min || v > p.Max {
			return nil, nil, fmt.Errorf("%s must be between %d and %d", p.Name, p.Min, p.Max)
		}
		params[p.Name] = v
		args[i] = v
	}
	return params, args, nil
}

// executeSQL runs a SQL query and returns results as a slice of maps.
func (h *Handler) executeSQL(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := db.Resolve(ctx, h.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	results := []map[string]interface{}{}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(fieldDescs))
		for i, fd := range fieldDescs {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}
