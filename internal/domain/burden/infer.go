package burden

import "strings"

const (
	DefaultVisitMinutes  = 60
	DefaultTravelMinutes = 60
	DefaultWindowDays    = 3
	assumedBloodVolumeML = 30.0
	assumedInfusionHours = 1.0
)

// ScheduledProcedure is a procedure as stored on a booked appointment.
// Type is optional; when empty it is inferred from the name.
type ScheduledProcedure struct {
	Name          string
	Type          ProcedureType
	BloodVolumeML *float64
	InfusionHours *float64
}

// ScheduledVisit is a booked appointment reduced to what scoring needs.
// Nil travel or window values fall back to VisitDefaults.
type ScheduledVisit struct {
	DurationMinutes int
	Procedures      []ScheduledProcedure
	TravelMinutes   *float64
	WindowDays      *float64
}

// VisitDefaults supplies the assumptions used when a visit does not carry
// its own travel time or window width.
type VisitDefaults struct {
	TravelMinutes float64
	WindowDays    float64
}

// DefaultVisitDefaults returns a 60 minute round trip and a 3 day window.
func DefaultVisitDefaults() VisitDefaults {
	return VisitDefaults{TravelMinutes: DefaultTravelMinutes, WindowDays: DefaultWindowDays}
}

// keyword rules are checked in order; the first match wins.
var procedureKeywords = []struct {
	typ      ProcedureType
	keywords []string
}{
	{ProcedureVitals, []string{"vital"}},
	{ProcedureECG, []string{"ecg", "ekg"}},
	{ProcedureBloodDraw, []string{"blood"}},
	{ProcedureInfusion, []string{"infusion", "iv"}},
	{ProcedureCTScan, []string{"ct", "cat scan"}},
	{ProcedureMRI, []string{"mri"}},
	{ProcedureBiopsy, []string{"biopsy"}},
}

var preparationKeywords = []struct {
	prep     PreparationType
	keywords []string
}{
	{PrepFasting, []string{"fast"}},
	{PrepSedation, []string{"sedat", "anesthesia"}},
	{PrepContrastDye, []string{"contrast"}},
	{PrepBowelPrep, []string{"bowel", "colonoscopy"}},
}

// ClassifyProcedure maps a free-text procedure name to a ProcedureType.
func ClassifyProcedure(name string) ProcedureType {
	lower := strings.ToLower(name)
	for _, rule := range procedureKeywords {
		if containsAny(lower, rule.keywords) {
			return rule.typ
		}
	}
	return ProcedureOther
}

// InferVisit converts a booked appointment into a VisitInput.
func InferVisit(v ScheduledVisit, defaults VisitDefaults) VisitInput {
	procs := make([]ProcedureInput, 0, len(v.Procedures))
	names := make([]string, 0, len(v.Procedures))
	for _, sp := range v.Procedures {
		typ := sp.Type
		if _, known := ProcedureWeights[typ]; !known {
			typ = ClassifyProcedure(sp.Name)
		}
		p := ProcedureInput{Type: typ, Name: sp.Name}
		switch typ {
		case ProcedureBloodDraw:
			p.BloodVolumeML = sp.BloodVolumeML
			if p.BloodVolumeML == nil {
				p.BloodVolumeML = ptr(assumedBloodVolumeML)
			}
		case ProcedureInfusion:
			p.InfusionHours = sp.InfusionHours
			if p.InfusionHours == nil {
				p.InfusionHours = ptr(assumedInfusionHours)
			}
		}
		procs = append(procs, p)
		names = append(names, strings.ToLower(sp.Name))
	}

	joined := strings.Join(names, " ")
	preps := []PreparationType{}
	for _, rule := range preparationKeywords {
		if containsAny(joined, rule.keywords) {
			preps = append(preps, rule.prep)
		}
	}

	duration := float64(v.DurationMinutes)
	if v.DurationMinutes == 0 {
		duration = DefaultVisitMinutes
	}
	travel := defaults.TravelMinutes
	if v.TravelMinutes != nil {
		travel = *v.TravelMinutes
	}
	window := defaults.WindowDays
	if v.WindowDays != nil {
		window = *v.WindowDays
	}

	return VisitInput{
		DurationMinutes: duration,
		Procedures:      procs,
		Preparations:    preps,
		TravelMinutes:   travel,
		WindowDays:      window,
	}
}

// InferVisits converts a schedule, keeping its order.
func InferVisits(visits []ScheduledVisit, defaults VisitDefaults) []VisitInput {
	out := make([]VisitInput, len(visits))
	for i, v := range visits {
		out[i] = InferVisit(v, defaults)
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
