package burden

// ProcedureType classifies a procedure for invasiveness weighting.
type ProcedureType string

const (
	ProcedureVitals    ProcedureType = "vitals"
	ProcedureECG       ProcedureType = "ecg"
	ProcedureBloodDraw ProcedureType = "blood_draw"
	ProcedureInfusion  ProcedureType = "infusion"
	ProcedureCTScan    ProcedureType = "ct_scan"
	ProcedureMRI       ProcedureType = "mri"
	ProcedureBiopsy    ProcedureType = "biopsy"
	ProcedureOther     ProcedureType = "other"
)

// PreparationType is a preparation requirement a patient must follow before a visit.
type PreparationType string

const (
	PrepFasting        PreparationType = "fasting"
	PrepSedation       PreparationType = "sedation"
	PrepBowelPrep      PreparationType = "bowel_prep"
	PrepContrastDye    PreparationType = "contrast_dye"
	PrepMedicationHold PreparationType = "medication_hold"
)

// Category buckets the overall score.
type Category string

const (
	CategoryLow    Category = "low"
	CategoryMedium Category = "medium"
	CategoryHigh   Category = "high"
)

// Scaling factors for the five burden components.
const (
	Alpha   = 0.5 // time on site, per 30 minutes
	Beta    = 1.0 // procedures
	Gamma   = 1.0 // preparation
	Delta   = 0.5 // travel, per 15 minutes
	Epsilon = 1.5 // window tightness, per day under the threshold

	// MaxBurdenPerVisit is the per-visit normalization cap.
	MaxBurdenPerVisit = 25.0
)

const (
	// BloodDrawLargeWeight is the effective weight of a draw above
	// BloodDrawLargeThresholdML. It is applied as a flat surcharge on top of
	// the regular blood_draw weight.
	BloodDrawLargeWeight      = 3.0
	BloodDrawLargeThresholdML = 30.0
	BloodDrawLargeSurcharge   = BloodDrawLargeWeight - 2.0

	// DefaultInfusionHours stands in for an infusion with no recorded duration.
	DefaultInfusionHours = 1.0

	WindowTightnessThresholdDays = 3.0

	LowMaxScore    = 33
	MediumMaxScore = 66
)

// ProcedureWeights holds invasiveness weights per procedure type. Infusion is per hour.
var ProcedureWeights = map[ProcedureType]float64{
	ProcedureVitals:    0.5,
	ProcedureECG:       1.0,
	ProcedureBloodDraw: 2.0,
	ProcedureInfusion:  3.0,
	ProcedureCTScan:    4.0,
	ProcedureMRI:       5.0,
	ProcedureBiopsy:    7.0,
	ProcedureOther:     1.0,
}

// PreparationWeights holds the weight of each preparation requirement.
var PreparationWeights = map[PreparationType]float64{
	PrepFasting:        2.0,
	PrepSedation:       4.0,
	PrepBowelPrep:      6.0,
	PrepContrastDye:    2.0,
	PrepMedicationHold: 1.0,
}

// ProcedureInput describes one procedure performed during a visit.
type ProcedureInput struct {
	Type          ProcedureType `json:"type"`
	Name          string        `json:"name"`
	BloodVolumeML *float64      `json:"blood_volume_ml,omitempty"`
	InfusionHours *float64      `json:"infusion_hours,omitempty"`
}

// VisitInput holds the burden-relevant facts of a single scheduled visit.
type VisitInput struct {
	DurationMinutes float64           `json:"duration_minutes"`
	Procedures      []ProcedureInput  `json:"procedures"`
	Preparations    []PreparationType `json:"preparations"`
	TravelMinutes   float64           `json:"travel_minutes"`
	WindowDays      float64           `json:"window_days"`
}

// Breakdown is the per-component burden of one visit.
type Breakdown struct {
	TimeOnSite      float64 `json:"time_on_site"`
	Procedures      float64 `json:"procedures"`
	Preparation     float64 `json:"preparation"`
	Travel          float64 `json:"travel"`
	WindowTightness float64 `json:"window_tightness"`
}

// Total sums the five components.
func (b Breakdown) Total() float64 {
	return b.TimeOnSite + b.Procedures + b.Preparation + b.Travel + b.WindowTightness
}

// VisitResult is the computed burden of one visit.
type VisitResult struct {
	VisitNumber int       `json:"visit_number"`
	TotalBurden float64   `json:"total_burden"`
	Breakdown   Breakdown `json:"breakdown"`
}

// PatientScore aggregates the burden of all visits of a patient.
type PatientScore struct {
	OverallScore      int           `json:"overall_score"`
	Category          Category      `json:"category"`
	TotalRawBurden    float64       `json:"total_raw_burden"`
	MaxPossibleBurden float64       `json:"max_possible_burden"`
	Visits            []VisitResult `json:"visits"`
}

func ptr(f float64) *float64 { return &f }
