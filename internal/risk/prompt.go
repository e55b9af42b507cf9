package risk

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
)

// Prompt-size bounds.
const (
	MaxPreviousVisits     = 3
	MaxTranscriptionChars = 1000
	MaxSectionChars       = 500
	truncationMarker      = "..."
)

// SystemPrompt is the fixed instruction sent with every risk assessment.
const SystemPrompt = `You are a clinical decision-support assistant. Review the patient context and the current visit, compare with any previous visits, and assess the patient's clinical risk.

Respond with ONLY a JSON object in exactly this shape, with no prose before or after it:
{
  "riskLevel": "low" | "moderate" | "high" | "critical",
  "riskScore": <integer 0-100>,
  "riskFactors": ["<short risk factor>", ...],
  "summary": "<one or two sentence summary of the patient's risk>",
  "concerns": ["<specific clinical concern>", ...],
  "recommendations": ["<actionable recommendation>", ...],
  "followUpUrgency": "routine" | "soon" | "urgent" | "immediate"
}

Score guidance:
- 0-25: low risk, stable, routine follow-up
- 26-50: moderate risk, monitor, follow up soon
- 51-75: high risk, needs prompt attention
- 76-100: critical risk, immediate intervention

Base the assessment only on the information provided. Do not invent findings. Use empty arrays when there is nothing to list.`

// BuildContext renders the user message for a risk assessment. Fields that
// are absent are left out entirely. previous is ordered most recent first;
// only the first MaxPreviousVisits entries are included.
func BuildContext(visit clinical.VisitData, patient clinical.PatientData, previous []clinical.VisitData) string {
	var b strings.Builder

	b.WriteString("PATIENT\n")
	writePatient(&b, patient)

	b.WriteString("\nCURRENT VISIT\n")
	writeVisit(&b, visit, true)

	if len(previous) > MaxPreviousVisits {
		previous = previous[:MaxPreviousVisits]
	}
	if len(previous) > 0 {
		b.WriteString("\nPREVIOUS VISITS (most recent first)\n")
		for i, pv := range previous {
			fmt.Fprintf(&b, "\nVisit %d:\n", i+1)
			writeVisit(&b, pv, false)
		}
	}

	b.WriteString("\nAssess this patient's risk and respond with the JSON object only.")
	return b.String()
}

func writePatient(b *strings.Builder, p clinical.PatientData) {
	line(b, "Name", p.Name)
	if p.Age != nil {
		line(b, "Age", strconv.Itoa(*p.Age))
	}
	line(b, "Gender", p.Gender)
	list(b, "Known diagnoses", p.Diagnoses)
	list(b, "Current medications", p.Medications)
	list(b, "Allergies", p.Allergies)
}

// writeVisit renders one visit. The transcription is only included for the
// current visit; history entries carry their summaries instead.
func writeVisit(b *strings.Builder, v clinical.VisitData, current bool) {
	line(b, "Date", v.VisitDate)
	line(b, "Chief complaint", v.ChiefComplaint)
	line(b, "Diagnosis", v.Diagnosis)
	if vitals := formatVitals(v.Vitals); vitals != "" {
		line(b, "Vitals", vitals)
	}
	line(b, "Summary", v.Summary)
	line(b, "Treatment plan", v.TreatmentPlan)

	if current && len(v.NoteSections) > 0 {
		keys := make([]string, 0, len(v.NoteSections))
		for k, text := range v.NoteSections {
			if strings.TrimSpace(text) != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		if len(keys) > 0 {
			b.WriteString("Clinical notes:\n")
			for _, k := range keys {
				fmt.Fprintf(b, "  %s: %s\n", k, strings.TrimSpace(Truncate(v.NoteSections[k], MaxSectionChars)))
			}
		}
	}

	if current {
		// The cap counts the raw text, surrounding whitespace included.
		if strings.TrimSpace(v.Transcription) != "" {
			line(b, "Transcription", Truncate(v.Transcription, MaxTranscriptionChars))
		}
	}
}

func formatVitals(v clinical.Vitals) string {
	var parts []string
	if bp := strings.TrimSpace(v.BloodPressure); bp != "" {
		parts = append(parts, "BP "+bp+" mmHg")
	}
	if v.HeartRate != nil {
		parts = append(parts, "HR "+num(*v.HeartRate)+" bpm")
	}
	if v.Temperature != nil {
		parts = append(parts, "Temp "+num(*v.Temperature))
	}
	if v.Weight != nil {
		parts = append(parts, "Weight "+num(*v.Weight))
	}
	if v.OxygenSaturation != nil {
		parts = append(parts, "SpO2 "+num(*v.OxygenSaturation)+"%")
	}
	return strings.Join(parts, ", ")
}

// ─── HELPERS ─────────────────────────────────────────────────────────────────

// Truncate returns s unchanged if it has at most max runes, otherwise its
// first max runes followed by "...".
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + truncationMarker
		}
		n++
	}
	return s
}

func line(b *strings.Builder, label, value string) {
	if value = strings.TrimSpace(value); value == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, value)
}

func list(b *strings.Builder, label string, items []string) {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) == 0 {
		return
	}
	line(b, label, strings.Join(kept, ", "))
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
