// Package clinical holds the value types shared by the risk pipeline, the
// worker, the store and the HTTP layer. It imports nothing from internal/ and
// has no I/O, so every other package can depend on it without cycles.
package clinical

import "strings"

// ─── INPUTS ──────────────────────────────────────────────────────────────────

// Vitals is the vital-sign block recorded on a visit. Every reading is
// optional; nil means "not recorded" and is omitted from prompts.
type Vitals struct {
	BloodPressure    string   `json:"bloodPressure,omitempty"` // "systolic/diastolic", e.g. "128/82"
	HeartRate        *float64 `json:"heartRate,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	Weight           *float64 `json:"weight,omitempty"`
	OxygenSaturation *float64 `json:"oxygenSaturation,omitempty"`
}

// IsZero reports whether no vital sign was recorded.
func (v Vitals) IsZero() bool {
	return strings.TrimSpace(v.BloodPressure) == "" &&
		v.HeartRate == nil &&
		v.Temperature == nil &&
		v.Weight == nil &&
		v.OxygenSaturation == nil
}

// VisitData is assembled per call from whatever the caller has on hand. It has
// no identity of its own.
type VisitData struct {
	VisitDate      string            `json:"visitDate,omitempty"`
	ChiefComplaint string            `json:"chiefComplaint,omitempty"`
	Diagnosis      string            `json:"diagnosis,omitempty"`
	Vitals         Vitals            `json:"vitals"`
	Summary        string            `json:"summary,omitempty"`
	TreatmentPlan  string            `json:"treatmentPlan,omitempty"`
	NoteSections   map[string]string `json:"noteSections,omitempty"` // section title → text
	Transcription  string            `json:"transcription,omitempty"`
}

// PatientData is the patient context handed to the pipeline. The pipeline
// treats it as read-only.
type PatientData struct {
	Name        string   `json:"name,omitempty"`
	Age         *int     `json:"age,omitempty"`
	Gender      string   `json:"gender,omitempty"`
	Diagnoses   []string `json:"diagnoses,omitempty"`
	Medications []string `json:"medications,omitempty"`
	Allergies   []string `json:"allergies,omitempty"`
}

// ─── RISK ASSESSMENT ─────────────────────────────────────────────────────────

// RiskLevel is the four-bucket classification returned by the model. String
// values match the risk_level column so they can be stored without conversion.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ParseRiskLevel matches s case-insensitively against the known levels.
// Anything unrecognised collapses to RiskLow.
func ParseRiskLevel(s string) RiskLevel {
	switch l := RiskLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case RiskLow, RiskModerate, RiskHigh, RiskCritical:
		return l
	default:
		return RiskLow
	}
}

// Valid reports whether l is one of the four known levels.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskModerate, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// FollowUpUrgency is how soon the patient should be seen again.
type FollowUpUrgency string

const (
	UrgencyRoutine   FollowUpUrgency = "routine"
	UrgencySoon      FollowUpUrgency = "soon"
	UrgencyUrgent    FollowUpUrgency = "urgent"
	UrgencyImmediate FollowUpUrgency = "immediate"
)

// ParseFollowUpUrgency matches s case-insensitively. Unrecognised values map
// to UrgencyRoutine.
func ParseFollowUpUrgency(s string) FollowUpUrgency {
	switch u := FollowUpUrgency(strings.ToLower(strings.TrimSpace(s))); u {
	case UrgencyRoutine, UrgencySoon, UrgencyUrgent, UrgencyImmediate:
		return u
	default:
		return UrgencyRoutine
	}
}

// AssessmentQuality separates a genuine model answer from the fallback.
// A degraded assessment is shaped exactly like a low-risk one, so callers
// must check this field before showing it as a real result.
type AssessmentQuality string

const (
	QualityOK       AssessmentQuality = "ok"
	QualityDegraded AssessmentQuality = "degraded"
)

// Fallback texts used when the pipeline cannot produce an assessment.
const (
	FallbackSummary        = "Unable to perform risk assessment"
	FallbackRecommendation = "Manual review recommended"
)

// RiskAssessment is the normalized output of the risk pipeline. Slices are
// never nil so the JSON form always carries [] rather than null.
type RiskAssessment struct {
	RiskLevel       RiskLevel         `json:"riskLevel"`
	RiskScore       int               `json:"riskScore"`
	RiskFactors     []string          `json:"riskFactors"`
	Summary         string            `json:"summary"`
	Concerns        []string          `json:"concerns"`
	Recommendations []string          `json:"recommendations"`
	FollowUpUrgency FollowUpUrgency   `json:"followUpUrgency"`
	Quality         AssessmentQuality `json:"assessmentQuality"`
}

// FallbackAssessment returns the conservative default used whenever the
// pipeline fails. It nudges toward human review.
func FallbackAssessment() RiskAssessment {
	return RiskAssessment{
		RiskLevel:       RiskLow,
		RiskScore:       0,
		RiskFactors:     []string{},
		Summary:         FallbackSummary,
		Concerns:        []string{},
		Recommendations: []string{FallbackRecommendation},
		FollowUpUrgency: UrgencyRoutine,
		Quality:         QualityDegraded,
	}
}

// Degraded reports whether a is the fallback rather than a model answer.
func (a RiskAssessment) Degraded() bool {
	return a.Quality == QualityDegraded
}

// ClampScore constrains a score to [0, 100].
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
