package burden

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/trialflow/trialflow/internal/platform/db"
)

var ErrPatientNotFound = errors.New("patient not found")

// VisitSource loads the appointments of a patient that still count towards
// their burden, i.e. everything that is not cancelled.
type VisitSource interface {
	ScheduledVisits(ctx context.Context, patientID uuid.UUID) ([]ScheduledVisit, error)
}

// Alert is raised when a patient's schedule scores in the high category.
type Alert struct {
	SiteID     string
	PatientID  uuid.UUID
	Score      int
	Category   Category
	VisitCount int
}

type AlertSink interface {
	HighBurden(ctx context.Context, alert Alert) error
}

// ScoreObserver records computed scores, labelled by where the request came
// from ("calculate", "sample" or "patient").
type ScoreObserver interface {
	ObserveScore(source string, category string, score int)
}

// Options override the configured travel and window assumptions for a
// single request. Values stored on an appointment still win.
type Options struct {
	TravelMinutes *float64
	WindowDays    *float64
}

// PatientBurden is the score of a patient's booked schedule.
type PatientBurden struct {
	PatientID uuid.UUID `json:"patient_id"`
	PatientScore
	ComputedAt time.Time `json:"computed_at"`
}

type Service struct {
	visits   VisitSource
	defaults VisitDefaults
	cache    Cache
	alerts   AlertSink
	observer ScoreObserver
	logger   zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Service)

func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

func WithAlertSink(a AlertSink) Option { return func(s *Service) { s.alerts = a } }

func WithObserver(o ScoreObserver) Option { return func(s *Service) { s.observer = o } }

// NewService builds a scoring service. visits may be nil when only
// Calculate and Sample are used.
func NewService(visits VisitSource, defaults VisitDefaults, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		visits:   visits,
		defaults: defaults,
		logger:   logger.With().Str("component", "burden").Logger(),
		tracer:   otel.Tracer("trialflow.internal.burden"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calculate validates and scores a client-supplied schedule.
func (s *Service) Calculate(ctx context.Context, visits []VisitInput) (PatientScore, error) {
	return s.calculate(ctx, "calculate", visits)
}

// Sample scores the built-in demonstration schedule.
func (s *Service) Sample(ctx context.Context) PatientScore {
	score, _ := s.calculate(ctx, "sample", SampleVisits())
	return score
}

func (s *Service) calculate(ctx context.Context, source string, visits []VisitInput) (PatientScore, error) {
	_, span := s.tracer.Start(ctx, "burden.calculate")
	defer span.End()

	if err := ValidateVisits(visits); err != nil {
		span.RecordError(err)
		return PatientScore{}, err
	}

	score := CalculatePatientBurdenScore(visits)
	span.SetAttributes(attribute.Int("burden.visits", len(visits)), attribute.Int("burden.score", score.OverallScore))
	s.observe(source, score)
	return score, nil
}

// ScorePatient scores the booked schedule of a patient. Results are cached
// per site, patient and assumption set until InvalidatePatient is called or
// the TTL runs out. A freshly computed high score raises an alert.
func (s *Service) ScorePatient(ctx context.Context, patientID uuid.UUID, opts Options) (*PatientBurden, error) {
	ctx, span := s.tracer.Start(ctx, "burden.score_patient",
		trace.WithAttributes(attribute.String("patient.id", patientID.String())))
	defer span.End()

	if s.visits == nil {
		return nil, errors.New("burden: no visit source configured")
	}

	defaults, err := s.resolveDefaults(opts)
	if err != nil {
		return nil, err
	}

	site := db.SiteFromContext(ctx)
	key := cacheKey(site, patientID, defaults)

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("burden cache read failed")
		} else if cached != nil {
			span.SetAttributes(attribute.Bool("burden.cache_hit", true))
			return cached, nil
		}
	}

	scheduled, err := s.visits.ScheduledVisits(ctx, patientID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load schedule for patient %s: %w", patientID, err)
	}

	score := CalculatePatientBurdenScore(InferVisits(scheduled, defaults))
	out := &PatientBurden{
		PatientID:    patientID,
		PatientScore: score,
		ComputedAt:   s.now().UTC(),
	}
	span.SetAttributes(attribute.Int("burden.score", score.OverallScore))
	s.observe("patient", score)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, *out); err != nil {
			s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("burden cache write failed")
		}
	}

	if score.Category == CategoryHigh && s.alerts != nil {
		alert := Alert{
			SiteID:     site,
			PatientID:  patientID,
			Score:      score.OverallScore,
			Category:   score.Category,
			VisitCount: len(score.Visits),
		}
		if err := s.alerts.HighBurden(ctx, alert); err != nil {
			s.logger.Error().Err(err).Str("patient_id", patientID.String()).Msg("high burden alert failed")
		}
	}

	return out, nil
}

// InvalidatePatient drops every cached score of a patient in the current site.
func (s *Service) InvalidatePatient(ctx context.Context, patientID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeletePrefix(ctx, patientPrefix(db.SiteFromContext(ctx), patientID))
}

func (s *Service) resolveDefaults(opts Options) (VisitDefaults, error) {
	d := s.defaults
	if opts.TravelMinutes != nil {
		if *opts.TravelMinutes < 0 {
			return d, fmt.Errorf("%w: travel_minutes must not be negative", ErrInvalidVisit)
		}
		d.TravelMinutes = *opts.TravelMinutes
	}
	if opts.WindowDays != nil {
		if *opts.WindowDays < 0 {
			return d, fmt.Errorf("%w: window_days must not be negative", ErrInvalidVisit)
		}
		d.WindowDays = *opts.WindowDays
	}
	return d, nil
}

func (s *Service) observe(source string, score PatientScore) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveScore(source, string(score.Category), score.OverallScore)
}

func patientPrefix(site string, patientID uuid.UUID) string {
	if site == "" {
		site = "_"
	}
	return fmt.Sprintf("burden:%s:%s:", site, patientID)
}

func cacheKey(site string, patientID uuid.UUID, d VisitDefaults) string {
	return fmt.Sprintf("%s%g:%g", patientPrefix(site, patientID), d.TravelMinutes, d.WindowDays)
}
