package clinical

import "strings"

// VitalStatus is the qualitative band of a vital-sign reading.
type VitalStatus string

const (
	StatusNormal   VitalStatus = "normal"
	StatusLow      VitalStatus = "low"
	StatusElevated VitalStatus = "elevated"
	StatusHigh     VitalStatus = "high"
	StatusCritical VitalStatus = "critical"
)

// ParseVitalStatus normalizes a status string. Unknown values return "" so
// the field is omitted instead of carrying a made-up band.
func ParseVitalStatus(s string) VitalStatus {
	switch v := VitalStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case StatusNormal, StatusLow, StatusElevated, StatusHigh, StatusCritical:
		return v
	}
	return ""
}

// LabStatus is the model-reported flag on a lab value.
type LabStatus string

const (
	LabNormal   LabStatus = "normal"
	LabAbnormal LabStatus = "abnormal"
	LabCritical LabStatus = "critical"
)

// ParseLabStatus normalizes s; common synonyms for out-of-range collapse to
// LabAbnormal. Unknown values return "".
func ParseLabStatus(s string) LabStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal", "within normal limits", "wnl":
		return LabNormal
	case "abnormal", "high", "low", "elevated", "borderline":
		return LabAbnormal
	case "critical", "panic":
		return LabCritical
	}
	return ""
}

// VitalReading is one extracted vital sign. Value keeps the display form the
// note used ("190/120", "98.6").
type VitalReading struct {
	Value  string      `json:"value"`
	Unit   string      `json:"unit,omitempty"`
	Status VitalStatus `json:"status,omitempty"`
}

// ExtractedVitals holds only the vitals the note mentions.
type ExtractedVitals struct {
	BloodPressure    *VitalReading `json:"bloodPressure,omitempty"`
	HeartRate        *VitalReading `json:"heartRate,omitempty"`
	Temperature      *VitalReading `json:"temperature,omitempty"`
	RespiratoryRate  *VitalReading `json:"respiratoryRate,omitempty"`
	OxygenSaturation *VitalReading `json:"oxygenSaturation,omitempty"`
	Weight           *VitalReading `json:"weight,omitempty"`
	Height           *VitalReading `json:"height,omitempty"`
}

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Route     string `json:"route,omitempty"`
}

type LabValue struct {
	Name   string    `json:"name"`
	Value  string    `json:"value"`
	Unit   string    `json:"unit,omitempty"`
	Status LabStatus `json:"status,omitempty"`
}

// ClinicalInfo is the non-vital clinical content of a note.
type ClinicalInfo struct {
	ChiefComplaint string       `json:"chiefComplaint,omitempty"`
	Diagnoses      []string     `json:"diagnoses,omitempty"`
	Medications    []Medication `json:"medications,omitempty"`
	LabValues      []LabValue   `json:"labValues,omitempty"`
	Allergies      []string     `json:"allergies,omitempty"`
}

// Severity of a reported symptom.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// ParseSeverity normalizes s; unknown values return "".
func ParseSeverity(s string) Severity {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return v
	}
	return ""
}

type Symptom struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity,omitempty"`
	Duration string   `json:"duration,omitempty"`
}

// StructuredData is the output of structured-data extraction. Nothing here is
// fabricated: a field is present only when the source note mentions it.
type StructuredData struct {
	Vitals       ExtractedVitals `json:"vitals"`
	ClinicalInfo ClinicalInfo    `json:"clinicalInfo"`
	Symptoms     []Symptom       `json:"symptoms"`
}

// EmptyStructuredData is the extraction fallback. It marshals to
// {"vitals":{},"clinicalInfo":{},"symptoms":[]}.
func EmptyStructuredData() StructuredData {
	return StructuredData{Symptoms: []Symptom{}}
}
