package burden

// SampleVisits returns a four-visit schedule (screening, week 4, week 8,
// week 12) used for demos and the sample endpoint.
func SampleVisits() []VisitInput {
	return []VisitInput{
		{
			DurationMinutes: 90,
			Procedures: []ProcedureInput{
				{Type: ProcedureBloodDraw, Name: "Blood Draw", BloodVolumeML: ptr(25)},
				{Type: ProcedureECG, Name: "ECG"},
				{Type: ProcedureVitals, Name: "Vital Signs"},
			},
			Preparations:  []PreparationType{PrepFasting},
			TravelMinutes: 60,
			WindowDays:    3,
		},
		{
			DurationMinutes: 120,
			Procedures: []ProcedureInput{
				{Type: ProcedureMRI, Name: "MRI Scan"},
				{Type: ProcedureVitals, Name: "Vital Signs"},
			},
			Preparations:  []PreparationType{PrepContrastDye},
			TravelMinutes: 90,
			WindowDays:    2,
		},
		{
			DurationMinutes: 60,
			Procedures: []ProcedureInput{
				{Type: ProcedureInfusion, Name: "IV Infusion", InfusionHours: ptr(1)},
			},
			Preparations:  []PreparationType{},
			TravelMinutes: 90,
			WindowDays:    3,
		},
		{
			DurationMinutes: 45,
			Procedures: []ProcedureInput{
				{Type: ProcedureCTScan, Name: "CT Scan"},
				{Type: ProcedureBloodDraw, Name: "Blood Draw", BloodVolumeML: ptr(20)},
			},
			Preparations:  []PreparationType{PrepMedicationHold},
			TravelMinutes: 30,
			WindowDays:    3,
		},
	}
}
