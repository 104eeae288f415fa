package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trialflow/trialflow/internal/domain/burden"
	"github.com/trialflow/trialflow/internal/domain/patient"
	"github.com/trialflow/trialflow/internal/domain/scheduling"
	"github.com/trialflow/trialflow/internal/platform/db"
	"github.com/trialflow/trialflow/internal/platform/notification"
)

// visitSource feeds a patient's booked schedule to the burden service.
type visitSource struct {
	patients     *patient.Service
	appointments func(ctx context.Context, patientID uuid.UUID) ([]*scheduling.Appointment, error)
}

func (s *visitSource) ScheduledVisits(ctx context.Context, patientID uuid.UUID) ([]burden.ScheduledVisit, error) {
	if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			return nil, burden.ErrPatientNotFound
		}
		return nil, err
	}
	appts, err := s.appointments(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return scheduledVisits(appts), nil
}

// scheduledVisits keeps every appointment that still counts towards the
// burden, which is anything not cancelled.
func scheduledVisits(appts []*scheduling.Appointment) []burden.ScheduledVisit {
	visits := make([]burden.ScheduledVisit, 0, len(appts))
	for _, a := range appts {
		if a.Status == scheduling.StatusCancelled {
			continue
		}
		v := burden.ScheduledVisit{
			DurationMinutes: a.DurationMinutes,
			TravelMinutes:   a.TravelMinutes,
			WindowDays:      a.WindowDays,
			Procedures:      make([]burden.ScheduledProcedure, 0, len(a.Procedures)),
		}
		for _, p := range a.Procedures {
			sp := burden.ScheduledProcedure{
				Name:          p.Name,
				BloodVolumeML: p.BloodVolumeML,
				InfusionHours: p.InfusionHours,
			}
			if p.BurdenType != nil {
				sp.Type = burden.ProcedureType(*p.BurdenType)
			}
			v.Procedures = append(v.Procedures, sp)
		}
		visits = append(visits, v)
	}
	return visits
}

// burdenAlerts forwards high burden scores to the trial coordinator.
type burdenAlerts struct {
	notifier *notification.Notifier
	patients *patient.Service
	to       string
}

func (a *burdenAlerts) HighBurden(ctx context.Context, alert burden.Alert) error {
	if a.to == "" {
		return nil
	}
	notice := notification.BurdenNotice{
		PatientID:  alert.PatientID.String(),
		SiteID:     alert.SiteID,
		Score:      alert.Score,
		Category:   string(alert.Category),
		VisitCount: alert.VisitCount,
	}
	if a.patients != nil {
		if p, err := a.patients.GetPatient(ctx, alert.PatientID); err == nil {
			notice.PatientName = p.FullName()
		}
	}
	return a.notifier.HighBurdenAlert(ctx, a.to, notice)
}

// windowNotifier emails patients about newly created time windows.
// Recipients are resolved while the request still holds its site
// connection; delivery happens after the response.
type windowNotifier struct {
	patients    *patient.Service
	notifier    *notification.Notifier
	scheduleURL string
	logger      zerolog.Logger
	dispatch    func(func())
}

func newWindowNotifier(patients *patient.Service, notifier *notification.Notifier, scheduleURL string, logger zerolog.Logger) *windowNotifier {
	return &windowNotifier{
		patients:    patients,
		notifier:    notifier,
		scheduleURL: scheduleURL,
		logger:      logger,
		dispatch:    func(f func()) { go f() },
	}
}

func (n *windowNotifier) WindowCreated(ctx context.Context, w *scheduling.TimeWindow, procs []*scheduling.Procedure) {
	patients, err := n.patients.Recipients(ctx, w.PatientID)
	if err != nil {
		n.logger.Error().Err(err).Str("time_window_id", w.ID.String()).Msg("resolve notification recipients failed")
		return
	}
	if len(patients) == 0 {
		return
	}

	recipients := make([]notification.Recipient, len(patients))
	for i, p := range patients {
		recipients[i] = notification.Recipient{Email: p.Email, Name: p.FullName()}
	}
	names := make([]string, len(procs))
	for i, p := range procs {
		names[i] = p.Name
	}
	notice := notification.WindowNotice{
		Procedures:  names,
		StartDate:   w.StartDate,
		EndDate:     w.EndDate,
		TimeBlocks:  formatBlocks(w.TimeBlocks, w.TimeZone),
		ScheduleURL: n.scheduleURL,
	}

	site := db.SiteFromContext(ctx)
	sendCtx := context.WithoutCancel(ctx)
	n.dispatch(func() {
		report := n.notifier.TimeWindowAvailable(sendCtx, recipients, notice)
		n.logger.Info().Str("site", site).Str("time_window_id", w.ID.String()).
			Int("sent", report.Sent).Int("failed", report.Failed).Msg("time window announced")
	})
}

func formatBlocks(blocks []scheduling.TimeBlock, zone string) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		day := b.DayOfWeek
		if day == "" {
			day = "daily"
		}
		out[i] = fmt.Sprintf("%s %s-%s", day, b.StartTime, b.EndTime)
		if zone != "" {
			out[i] += " " + zone
		}
	}
	return out
}
