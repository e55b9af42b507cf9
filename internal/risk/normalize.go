package risk

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/nyashahama/clinical-risk-backend/internal/clinical"
)

// normalizeAssessment turns a decoded model object into a RiskAssessment.
// Every field is defaulted on its own, so one bad value never discards the
// rest of the answer.
func normalizeAssessment(m map[string]any) clinical.RiskAssessment {
	return clinical.RiskAssessment{
		RiskLevel:       clinical.ParseRiskLevel(str(m["riskLevel"])),
		RiskScore:       score(m["riskScore"]),
		RiskFactors:     strList(m["riskFactors"]),
		Summary:         strings.TrimSpace(str(m["summary"])),
		Concerns:        strList(m["concerns"]),
		Recommendations: strList(m["recommendations"]),
		FollowUpUrgency: clinical.ParseFollowUpUrgency(str(m["followUpUrgency"])),
		Quality:         clinical.QualityOK,
	}
}

// score coerces the model's riskScore into [0, 100]. Numeric strings are
// accepted and fractions round to the nearest integer. Out-of-range values,
// infinities included, clamp to the nearest bound. NaN and non-numbers
// become 0.
func score(v any) int {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := parseFloat(string(t))
		if err != nil {
			return 0
		}
		f = parsed
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		parsed, err := parseFloat(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	switch {
	case math.IsNaN(f):
		return 0
	case f <= 0:
		return 0
	case f >= 100:
		return 100
	}
	return clinical.ClampScore(int(math.Round(f)))
}

// parseFloat is strconv.ParseFloat except that out-of-range input yields
// the ±Inf it saturates to, so the score clamps apply.
func parseFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if errors.Is(err, strconv.ErrRange) {
		return f, nil
	}
	return f, err
}

// str returns v if it is a string, else "".
func str(v any) string {
	s, _ := v.(string)
	return s
}

// strList keeps the non-empty string elements of a JSON array. A missing or
// non-array value yields an empty, non-nil slice.
func strList(v any) []string {
	out := []string{}
	arr, ok := v.([]any)
	if !ok {
		return out
	}
	for _, el := range arr {
		s, ok := el.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
