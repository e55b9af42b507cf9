package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nyashahama/clinical-risk-backend/internal/ai"
	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
	"github.com/nyashahama/clinical-risk-backend/internal/jsonscan"
)

// ExtractionSystemPrompt instructs the model to pull structured data out of a
// clinical note without inventing anything.
const ExtractionSystemPrompt = `You extract structured clinical data from clinical notes. Only report what the note explicitly states; never infer or invent values. Omit any field the note does not mention.

Respond with ONLY a JSON object in exactly this shape:
{
  "vitals": {
    "bloodPressure":    {"value": "120/80", "unit": "mmHg", "status": "normal"},
    "heartRate":        {"value": "72", "unit": "bpm", "status": "normal"},
    "temperature":      {"value": "98.6", "unit": "F", "status": "normal"},
    "respiratoryRate":  {"value": "16", "unit": "breaths/min", "status": "normal"},
    "oxygenSaturation": {"value": "98", "unit": "%", "status": "normal"},
    "weight":           {"value": "70", "unit": "kg"},
    "height":           {"value": "175", "unit": "cm"}
  },
  "clinicalInfo": {
    "chiefComplaint": "<text>",
    "diagnoses": ["<diagnosis>"],
    "medications": [{"name": "<drug>", "dosage": "<dose>", "frequency": "<frequency>", "route": "<route>"}],
    "labValues": [{"name": "<test>", "value": "<value>", "unit": "<unit>", "status": "normal" | "abnormal" | "critical"}],
    "allergies": ["<allergen>"]
  },
  "symptoms": [{"name": "<symptom>", "severity": "mild" | "moderate" | "severe", "duration": "<duration>"}]
}

` + clinical.BandingGuide

// sectionOrder is the order note sections are presented in. Keys not listed
// here follow alphabetically.
var sectionOrder = []string{
	"subjective", "objective", "assessment", "plan",
	"chiefcomplaint", "historyofpresentillness", "pastmedicalhistory",
	"medications", "allergies", "reviewofsystems", "physicalexam",
	"reasonforconsultation", "findings", "recommendations",
	"progress",
}

// ExtractStructuredData pulls vitals, clinical info and symptoms out of a
// note. It never fails: on any error the result is
// clinical.EmptyStructuredData. Vital statuses are recomputed from the
// numbers wherever a number can be read.
func (e *Engine) ExtractStructuredData(ctx context.Context, noteContent map[string]string) (out clinical.StructuredData) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("risk: extraction panicked", "panic", fmt.Sprint(p))
			out = clinical.EmptyStructuredData()
		}
	}()

	text, err := e.gen.GenerateText(ctx,
		[]ai.Message{{Role: ai.RoleUser, Content: BuildNoteText(noteContent)}},
		ai.Options{
			SystemPrompt: ExtractionSystemPrompt,
			Temperature:  ExtractTemperature,
			MaxTokens:    ExtractMaxTokens,
		},
	)
	if err != nil {
		e.logger.Error("risk: extraction model call failed", "error", err)
		return clinical.EmptyStructuredData()
	}

	obj, err := jsonscan.Decode(text)
	if err != nil {
		e.logger.Error("risk: could not parse extraction response", "error", err)
		return clinical.EmptyStructuredData()
	}

	return normalizeStructured(obj)
}

// BuildNoteText renders note sections in clinical order, one heading per
// section. Empty sections are skipped.
func BuildNoteText(noteContent map[string]string) string {
	rank := make(map[string]int, len(sectionOrder))
	for i, k := range sectionOrder {
		rank[k] = i
	}
	keyRank := func(k string) int {
		if r, ok := rank[normalizeKey(k)]; ok {
			return r
		}
		return len(sectionOrder)
	}

	keys := make([]string, 0, len(noteContent))
	for k, v := range noteContent {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, rj := keyRank(keys[i]), keyRank(keys[j])
		if ri != rj {
			return ri < rj
		}
		return keys[i] < keys[j]
	})

	var b strings.Builder
	b.WriteString("Extract structured data from this clinical note.\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "\n## %s\n%s\n", k, strings.TrimSpace(noteContent[k]))
	}
	return b.String()
}

// normalizeKey folds "Chief Complaint", "chief_complaint" and "chiefComplaint"
// to one form.
func normalizeKey(k string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(k) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ─── NORMALIZATION ───────────────────────────────────────────────────────────

func normalizeStructured(m map[string]any) clinical.StructuredData {
	out := clinical.EmptyStructuredData()

	if v, ok := m["vitals"].(map[string]any); ok {
		out.Vitals = normalizeVitals(v)
	}
	if c, ok := m["clinicalInfo"].(map[string]any); ok {
		out.ClinicalInfo = normalizeClinicalInfo(c)
	}
	if arr, ok := m["symptoms"].([]any); ok {
		for _, el := range arr {
			s, ok := el.(map[string]any)
			if !ok {
				continue
			}
			name := strings.TrimSpace(scalar(s["name"]))
			if name == "" {
				continue
			}
			out.Symptoms = append(out.Symptoms, clinical.Symptom{
				Name:     name,
				Severity: clinical.ParseSeverity(str(s["severity"])),
				Duration: strings.TrimSpace(scalar(s["duration"])),
			})
		}
	}
	return out
}

func normalizeVitals(m map[string]any) clinical.ExtractedVitals {
	v := clinical.ExtractedVitals{
		BloodPressure:    reading(m["bloodPressure"]),
		HeartRate:        reading(m["heartRate"]),
		Temperature:      reading(m["temperature"]),
		RespiratoryRate:  reading(m["respiratoryRate"]),
		OxygenSaturation: reading(m["oxygenSaturation"]),
		Weight:           reading(m["weight"]),
		Height:           reading(m["height"]),
	}

	if r := v.BloodPressure; r != nil {
		if sys, dia, ok := clinical.ParseBloodPressure(r.Value); ok {
			r.Status = clinical.ClassifyBloodPressure(sys, dia)
		}
	}
	rebandReading(v.HeartRate, clinical.ClassifyHeartRate)
	rebandReading(v.Temperature, clinical.ClassifyTemperature)
	rebandReading(v.RespiratoryRate, clinical.ClassifyRespiratoryRate)
	rebandReading(v.OxygenSaturation, clinical.ClassifyOxygenSaturation)
	return v
}

// rebandReading replaces r's status with the banded value of its number.
// Readings without a leading number keep the model's (normalized) status.
func rebandReading(r *clinical.VitalReading, classify func(float64) clinical.VitalStatus) {
	if r == nil {
		return
	}
	if f, ok := clinical.ParseReading(r.Value); ok {
		r.Status = classify(f)
	}
}

// reading accepts either {"value":..,"unit":..,"status":..} or a bare scalar.
func reading(v any) *clinical.VitalReading {
	var r clinical.VitalReading
	if obj, ok := v.(map[string]any); ok {
		r.Value = strings.TrimSpace(scalar(obj["value"]))
		r.Unit = strings.TrimSpace(str(obj["unit"]))
		r.Status = clinical.ParseVitalStatus(str(obj["status"]))
	} else {
		r.Value = strings.TrimSpace(scalar(v))
	}
	if r.Value == "" {
		return nil
	}
	return &r
}

func normalizeClinicalInfo(m map[string]any) clinical.ClinicalInfo {
	info := clinical.ClinicalInfo{
		ChiefComplaint: strings.TrimSpace(str(m["chiefComplaint"])),
		Diagnoses:      nonEmpty(strList(m["diagnoses"])),
		Allergies:      nonEmpty(strList(m["allergies"])),
	}

	if arr, ok := m["medications"].([]any); ok {
		for _, el := range arr {
			switch t := el.(type) {
			case string:
				if name := strings.TrimSpace(t); name != "" {
					info.Medications = append(info.Medications, clinical.Medication{Name: name})
				}
			case map[string]any:
				name := strings.TrimSpace(str(t["name"]))
				if name == "" {
					continue
				}
				info.Medications = append(info.Medications, clinical.Medication{
					Name:      name,
					Dosage:    strings.TrimSpace(scalar(t["dosage"])),
					Frequency: strings.TrimSpace(scalar(t["frequency"])),
					Route:     strings.TrimSpace(str(t["route"])),
				})
			}
		}
	}

	if arr, ok := m["labValues"].([]any); ok {
		for _, el := range arr {
			l, ok := el.(map[string]any)
			if !ok {
				continue
			}
			name := strings.TrimSpace(str(l["name"]))
			value := strings.TrimSpace(scalar(l["value"]))
			if name == "" || value == "" {
				continue
			}
			info.LabValues = append(info.LabValues, clinical.LabValue{
				Name:   name,
				Value:  value,
				Unit:   strings.TrimSpace(str(l["unit"])),
				Status: clinical.ParseLabStatus(str(l["status"])),
			})
		}
	}
	return info
}

// scalar renders a JSON string or number as text. Other types yield "".
func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return num(t)
	}
	return ""
}

// nonEmpty returns nil for an empty slice so omitempty drops the field.
func nonEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
