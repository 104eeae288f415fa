package burden

import "math"

// CalculateVisitBurden computes the burden of one visit. visitNumber is the
// 1-based position of the visit in the schedule being scored.
func CalculateVisitBurden(in VisitInput, visitNumber int) VisitResult {
	b := Breakdown{
		TimeOnSite:  (in.DurationMinutes / 30) * Alpha,
		Procedures:  procedureTotal(in.Procedures) * Beta,
		Preparation: preparationTotal(in.Preparations) * Gamma,
		Travel:      (in.TravelMinutes / 15) * Delta,
	}
	if in.WindowDays < WindowTightnessThresholdDays {
		b.WindowTightness = (WindowTightnessThresholdDays - in.WindowDays) * Epsilon
	}

	return VisitResult{
		VisitNumber: visitNumber,
		TotalBurden: b.Total(),
		Breakdown:   b,
	}
}

func procedureTotal(procs []ProcedureInput) float64 {
	var total float64
	for _, p := range procs {
		total += procedureWeight(p)
	}
	return total
}

func procedureWeight(p ProcedureInput) float64 {
	w, ok := ProcedureWeights[p.Type]
	if !ok {
		w = ProcedureWeights[ProcedureOther]
	}

	switch p.Type {
	case ProcedureBloodDraw:
		if p.BloodVolumeML != nil && *p.BloodVolumeML > BloodDrawLargeThresholdML {
			w += BloodDrawLargeSurcharge
		}
	case ProcedureInfusion:
		hours := DefaultInfusionHours
		if p.InfusionHours != nil && *p.InfusionHours != 0 {
			hours = *p.InfusionHours
		}
		w *= hours
	}
	return w
}

// preparationTotal sums tag weights as given. Duplicate tags are counted
// every time they appear; ValidateVisits rejects them at the API boundary.
func preparationTotal(preps []PreparationType) float64 {
	var total float64
	for _, prep := range preps {
		total += PreparationWeights[prep]
	}
	return total
}

// CalculatePatientBurdenScore scores an ordered list of visits. The result
// keeps the order and length of the input.
func CalculatePatientBurdenScore(visits []VisitInput) PatientScore {
	if len(visits) == 0 {
		return PatientScore{
			OverallScore: 0,
			Category:     CategoryLow,
			Visits:       []VisitResult{},
		}
	}

	results := make([]VisitResult, len(visits))
	var raw float64
	for i, v := range visits {
		results[i] = CalculateVisitBurden(v, i+1)
		raw += results[i].TotalBurden
	}

	maxPossible := MaxBurdenPerVisit * float64(len(visits))
	score := normalize(raw, maxPossible)

	return PatientScore{
		OverallScore:      score,
		Category:          CategoryForScore(score),
		TotalRawBurden:    raw,
		MaxPossibleBurden: maxPossible,
		Visits:            results,
	}
}

// normalize maps raw burden onto 0-100. Clamping happens on the float so
// that NaN and infinities never reach the integer conversion.
func normalize(raw, maxPossible float64) int {
	if maxPossible <= 0 {
		return 0
	}
	pct := math.Round(raw / maxPossible * 100)
	switch {
	case math.IsNaN(pct):
		return 0
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return int(pct)
}

// CategoryForScore buckets an overall score. Boundary values belong to the
// lower category.
func CategoryForScore(score int) Category {
	switch {
	case score <= LowMaxScore:
		return CategoryLow
	case score <= MediumMaxScore:
		return CategoryMedium
	default:
		return CategoryHigh
	}
}
