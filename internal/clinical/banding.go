package clinical

import (
	"strconv"
	"strings"
)

// ─── THRESHOLDS ──────────────────────────────────────────────────────────────
// The same table is printed into the extraction prompt (BandingGuide) so the
// model and the recomputation below agree on every boundary.

const (
	bpCriticalSystolic  = 180
	bpCriticalDiastolic = 120
	bpHighSystolic      = 140
	bpHighDiastolic     = 90
	bpElevatedSystolic  = 120
	bpElevatedDiastolic = 80
	bpLowSystolic       = 90
	bpLowDiastolic      = 60

	hrCriticalLow  = 40
	hrCriticalHigh = 130
	hrLow          = 60
	hrHigh         = 100

	tempCriticalHighF = 104.0
	tempCriticalLowF  = 95.0
	tempHighF         = 100.4
	tempLowF          = 97.0
	// Readings above this are taken as Fahrenheit, below as Celsius.
	celsiusCeiling = 50.0

	spo2Critical = 90
	spo2Low      = 95

	rrCriticalLow  = 8
	rrCriticalHigh = 30
	rrLow          = 12
	rrHigh         = 20
)

// BandingGuide is the human-readable form of the thresholds above.
const BandingGuide = `Vital sign status bands (use exactly these status words: normal, low, elevated, high, critical):
- Blood pressure: critical if systolic >= 180 or diastolic >= 120; high if systolic >= 140 or diastolic >= 90; elevated if systolic >= 120 or diastolic >= 80; low if systolic < 90 or diastolic < 60; otherwise normal.
- Heart rate (bpm): critical if < 40 or > 130; low if < 60; high if > 100; otherwise normal.
- Temperature (F): critical if >= 104 or < 95; high if >= 100.4; low if < 97; otherwise normal.
- Oxygen saturation (%): critical if < 90; low if < 95; otherwise normal.
- Respiratory rate (breaths/min): critical if < 8 or > 30; low if < 12; high if > 20; otherwise normal.`

// ─── CLASSIFIERS ─────────────────────────────────────────────────────────────

// ClassifyBloodPressure bands a systolic/diastolic pair. The most severe band
// either number reaches wins.
func ClassifyBloodPressure(systolic, diastolic float64) VitalStatus {
	switch {
	case systolic >= bpCriticalSystolic || diastolic >= bpCriticalDiastolic:
		return StatusCritical
	case systolic >= bpHighSystolic || diastolic >= bpHighDiastolic:
		return StatusHigh
	case systolic >= bpElevatedSystolic || diastolic >= bpElevatedDiastolic:
		return StatusElevated
	case systolic < bpLowSystolic || diastolic < bpLowDiastolic:
		return StatusLow
	default:
		return StatusNormal
	}
}

func ClassifyHeartRate(bpm float64) VitalStatus {
	switch {
	case bpm < hrCriticalLow || bpm > hrCriticalHigh:
		return StatusCritical
	case bpm < hrLow:
		return StatusLow
	case bpm > hrHigh:
		return StatusHigh
	default:
		return StatusNormal
	}
}

// ClassifyTemperature accepts Fahrenheit or Celsius; see celsiusCeiling.
func ClassifyTemperature(t float64) VitalStatus {
	f := t
	if t <= celsiusCeiling {
		f = t*9/5 + 32
	}
	switch {
	case f >= tempCriticalHighF || f < tempCriticalLowF:
		return StatusCritical
	case f >= tempHighF:
		return StatusHigh
	case f < tempLowF:
		return StatusLow
	default:
		return StatusNormal
	}
}

func ClassifyOxygenSaturation(pct float64) VitalStatus {
	switch {
	case pct < spo2Critical:
		return StatusCritical
	case pct < spo2Low:
		return StatusLow
	default:
		return StatusNormal
	}
}

func ClassifyRespiratoryRate(rpm float64) VitalStatus {
	switch {
	case rpm < rrCriticalLow || rpm > rrCriticalHigh:
		return StatusCritical
	case rpm < rrLow:
		return StatusLow
	case rpm > rrHigh:
		return StatusHigh
	default:
		return StatusNormal
	}
}

// ─── PARSERS ─────────────────────────────────────────────────────────────────

// ParseBloodPressure reads "190/120", "190 / 120 mmHg" and similar.
func ParseBloodPressure(s string) (systolic, diastolic float64, ok bool) {
	sys, dia, found := strings.Cut(s, "/")
	if !found {
		return 0, 0, false
	}
	systolic, ok1 := ParseReading(sys)
	diastolic, ok2 := ParseReading(dia)
	if !ok1 || !ok2 || systolic <= 0 || diastolic <= 0 {
		return 0, 0, false
	}
	return systolic, diastolic, true
}

// ParseReading pulls the leading number out of a value such as "98.6 F",
// "72bpm" or " 95% ". It returns false when s does not start with a number.
func ParseReading(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
