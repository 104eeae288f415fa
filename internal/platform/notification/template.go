package notification

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
)

const (
	TemplateTimeWindowAvailable = "time-window-available"
	TemplateHighBurdenAlert     = "high-burden-alert"
)

// Template is an email with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Text    string
	HTML    string
}

// TemplateEngine holds the email templates by ID.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range builtInTemplates {
		e.templates[t.ID] = t
	}
	return e
}

var builtInTemplates = []Template{
	{
		ID:      TemplateTimeWindowAvailable,
		Subject: "New Appointment Time Window Available",
		Text: "Dear {{name}},\n\n" +
			"A new appointment time window has been created for the following procedures:\n\n" +
			"Procedures: {{procedures}}\n" +
			"Available Period: {{start_date}} to {{end_date}}\n" +
			"Available Time Blocks: {{time_blocks}}\n\n" +
			"Please log in to your patient dashboard to schedule your appointment: {{schedule_url}}\n\n" +
			"Best regards,\nClinical Trial Team",
		HTML: "<h2>New Appointment Time Window Available</h2>" +
			"<p>Dear {{name}},</p>" +
			"<p>A new appointment time window has been created for the following procedures:</p>" +
			"<ul>" +
			"<li><strong>Procedures:</strong> {{procedures}}</li>" +
			"<li><strong>Available Period:</strong> {{start_date}} to {{end_date}}</li>" +
			"<li><strong>Available Time Blocks:</strong> {{time_blocks}}</li>" +
			"</ul>" +
			"<p>Please log in to your patient dashboard to schedule your appointment:</p>" +
			`<p><a href="{{schedule_url}}">Schedule Appointment</a></p>` +
			"<p>Best regards,<br>Clinical Trial Team</p>",
	},
	{
		ID:      TemplateHighBurdenAlert,
		Subject: "High burden score for patient {{patient}}",
		Text: "Patient {{patient}} at site {{site}} now scores {{score}} ({{category}}) " +
			"across {{visits}} scheduled visits.\n\n" +
			"Consider reviewing the schedule for travel, preparation and window tightness.",
		HTML: "<p>Patient <strong>{{patient}}</strong> at site {{site}} now scores " +
			"<strong>{{score}}</strong> ({{category}}) across {{visits}} scheduled visits.</p>" +
			"<p>Consider reviewing the schedule for travel, preparation and window tightness.</p>",
	},
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render fills a template. Values are HTML-escaped in the HTML part only.
// Placeholders without a value are left as they are.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (EmailMessage, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return EmailMessage{}, fmt.Errorf("template %q not found", templateID)
	}

	plain, escaped := replacers(data)
	return EmailMessage{
		Subject: plain.Replace(t.Subject),
		Text:    plain.Replace(t.Text),
		HTML:    escaped.Replace(t.HTML),
	}, nil
}

// replacers substitute every placeholder in a single pass, so a value that
// itself looks like a placeholder is never expanded.
func replacers(data map[string]string) (plain, escaped *strings.Replacer) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := make([]string, 0, 2*len(keys))
	e := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		placeholder := "{{" + k + "}}"
		p = append(p, placeholder, data[k])
		e = append(e, placeholder, html.EscapeString(data[k]))
	}
	return strings.NewReplacer(p...), strings.NewReplacer(e...)
}
