package notification

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxParallelSends = 5

type Recipient struct {
	Email string
	Name  string
}

// WindowNotice describes a newly opened time window. TimeBlocks are already
// formatted, e.g. "monday 09:00-12:00".
type WindowNotice struct {
	Procedures  []string
	StartDate   time.Time
	EndDate     time.Time
	TimeBlocks  []string
	ScheduleURL string
}

type BurdenNotice struct {
	PatientID   string
	PatientName string
	SiteID      string
	Score       int
	Category    string
	VisitCount  int
}

// DeliveryObserver is told about every delivery attempt.
type DeliveryObserver interface {
	ObserveEmail(template, status string)
}

// Report summarises a fan-out send.
type Report struct {
	Sent   int
	Failed int
}

type Notifier struct {
	sender    EmailSender
	templates *TemplateEngine
	observer  DeliveryObserver
	logger    zerolog.Logger
}

func NewNotifier(sender EmailSender, observer DeliveryObserver, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		templates: NewTemplateEngine(),
		observer:  observer,
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

// TimeWindowAvailable emails every recipient about a new time window. A
// failed delivery is logged and counted; it never stops the others.
func (n *Notifier) TimeWindowAvailable(ctx context.Context, recipients []Recipient, notice WindowNotice) Report {
	base := map[string]string{
		"procedures":   strings.Join(notice.Procedures, ", "),
		"start_date":   notice.StartDate.Format("2006-01-02"),
		"end_date":     notice.EndDate.Format("2006-01-02"),
		"time_blocks":  strings.Join(notice.TimeBlocks, ", "),
		"schedule_url": notice.ScheduleURL,
	}

	var (
		mu     sync.Mutex
		report Report
		wg     sync.WaitGroup
		sem    = make(chan struct{}, maxParallelSends)
	)
	for _, r := range recipients {
		if r.Email == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(r Recipient) {
			defer wg.Done()
			defer func() { <-sem }()

			data := make(map[string]string, len(base)+1)
			for k, v := range base {
				data[k] = v
			}
			data["name"] = r.Name
			if data["name"] == "" {
				data["name"] = "Patient"
			}

			err := n.send(ctx, TemplateTimeWindowAvailable, r, data)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				return
			}
			report.Sent++
		}(r)
	}
	wg.Wait()

	n.logger.Info().Int("sent", report.Sent).Int("failed", report.Failed).Msg("time window notifications delivered")
	return report
}

// HighBurdenAlert tells a trial coordinator that a patient's schedule scores
// in the high category.
func (n *Notifier) HighBurdenAlert(ctx context.Context, to string, notice BurdenNotice) error {
	if to == "" {
		return errors.New("notification: no alert recipient configured")
	}
	patient := notice.PatientName
	if patient == "" {
		patient = notice.PatientID
	}
	return n.send(ctx, TemplateHighBurdenAlert, Recipient{Email: to}, map[string]string{
		"patient":  patient,
		"site":     notice.SiteID,
		"score":    strconv.Itoa(notice.Score),
		"category": notice.Category,
		"visits":   strconv.Itoa(notice.VisitCount),
	})
}

func (n *Notifier) send(ctx context.Context, templateID string, to Recipient, data map[string]string) error {
	msg, err := n.templates.Render(templateID, data)
	if err != nil {
		return err
	}
	msg.To = to.Email
	msg.ToName = to.Name

	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Error().Err(err).Str("template", templateID).Str("to", to.Email).Msg("email delivery failed")
		n.observe(templateID, "failed")
		return err
	}
	n.observe(templateID, "sent")
	return nil
}

func (n *Notifier) observe(templateID, status string) {
	if n.observer != nil {
		n.observer.ObserveEmail(templateID, status)
	}
}
