package scale

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"weigh-station-backend/config"
)

// Unit is the weight unit a frame declared, if any.
type Unit string

const (
	UnitGrams       Unit = "g"
	UnitKilograms   Unit = "kg"
	UnitPounds      Unit = "lb"
	UnitOunces      Unit = "oz"
	UnitUnspecified Unit = ""
)

const (
	gramsPerPound = 453.59237
	gramsPerOunce = 28.349523125
)

// Reading is a decoded frame. Grams is the value converted to grams before
// calibration; RawCounts carries the transducer counts the calibration store
// transforms. StableHint is the device's own settled flag when the frame
// declares one (ST/US tokens), nil otherwise.
type Reading struct {
	Grams      float64
	Unit       Unit
	RawCounts  *int64
	StableHint *bool
	At         time.Time
}

const numberPattern = `[-+]?(?:[0-9]+(?:\.[0-9]+)?|\.[0-9]+)`

var (
	lineSplitRe      = regexp.MustCompile(`[,\s]+`)
	numberRe         = regexp.MustCompile(numberPattern)
	numberWithUnitRe = regexp.MustCompile(`(?i)(` + numberPattern + `)\s*(KG|KGS?|KILOGRAMS?|LB|LBS?|POUNDS?|OZ|OZS?|OUNCES?|G|GRAMS?)`)
	netValueRe       = regexp.MustCompile(`(?i)\bNET(?:\s+WEIGHT)?\b[:=\s]*(` + numberPattern + `)(?:\s*(KG|KGS?|KILOGRAMS?|LB|LBS?|POUNDS?|OZ|OZS?|OUNCES?|G|GRAMS?))?`)
	verboseFieldRe   = regexp.MustCompile(`(?i)\b(DATE|TIME|GROSS|TARE|MERCHANDISE|PIECE|TOTAL|COUNT|ITEM)\b`)
)

// Decoder turns raw frames into readings. Indicator-style scales stream
// pre-converted weight text; the decoder derives synthetic transducer counts
// from the configured counts-per-gram so the calibration transform applies
// uniformly.
type Decoder struct {
	countsPerGram float64
	kgMultiplier  float64
	defaultUnit   Unit
}

// NewDecoder builds a decoder from the scale configuration.
func NewDecoder(cfg *config.ScaleConfig) *Decoder {
	unit := UnitUnspecified
	switch strings.ToLower(cfg.DefaultNetUnit) {
	case "g":
		unit = UnitGrams
	case "kg":
		unit = UnitKilograms
	case "lb":
		unit = UnitPounds
	case "oz":
		unit = UnitOunces
	}
	return &Decoder{
		countsPerGram: cfg.CountsPerGram,
		kgMultiplier:  cfg.KgMultiplier,
		defaultUnit:   unit,
	}
}

// Decode parses a frame. ok is false for unparsed frames, which must not
// reach the filter; the caller surfaces them in diagnostics instead.
func (d *Decoder) Decode(frame RawFrame) (Reading, bool) {
	text := strings.TrimSpace(string(frame.Payload))
	if text == "" {
		return Reading{}, false
	}

	tokens := splitTokens(text)
	if len(tokens) == 0 {
		return Reading{}, false
	}

	hint := stableHint(tokens)

	grams, unit, found := d.extractGrams(text, tokens)
	if !found {
		return Reading{}, false
	}

	counts := int64(math.Round(grams * d.countsPerGram))
	return Reading{
		Grams:      grams,
		Unit:       unit,
		RawCounts:  &counts,
		StableHint: hint,
		At:         frame.At,
	}, true
}

func splitTokens(text string) []string {
	var tokens []string
	for _, tok := range lineSplitRe.Split(text, -1) {
		if tok = strings.TrimSpace(tok); tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// stableHint reads the device's ST/US style settled markers. An unstable
// marker wins over a stable one when both appear.
func stableHint(tokens []string) *bool {
	var hint *bool
	for _, tok := range tokens {
		switch strings.ToUpper(tok) {
		case "US", "UN", "UNSTABLE":
			f := false
			return &f
		case "ST", "STABLE":
			t := true
			hint = &t
		}
	}
	return hint
}

// extractGrams attempts to pull a weight out of the raw text, trying the
// device's frame shapes from most to least specific.
func (d *Decoder) extractGrams(text string, tokens []string) (float64, Unit, bool) {
	// A "Net" line from the verbose ticket printout: only its value counts.
	if m := netValueRe.FindStringSubmatch(text); m != nil {
		if value, err := strconv.ParseFloat(m[1], 64); err == nil {
			if m[2] != "" {
				unit := normalizeUnit(m[2])
				return d.applyUnit(value, unit), unit, true
			}
			// Net lines without a unit use the configured default;
			// the ticket printouts default to kilograms.
			unit := d.defaultUnit
			if unit == UnitUnspecified {
				unit = UnitKilograms
			}
			return d.applyUnit(value, unit), unit, true
		}
	}

	// Other verbose ticket fields (Gross, Tare, ...) without a usable Net
	// value are not live weights; ignore the frame entirely.
	if verboseFieldRe.MatchString(text) {
		return 0, UnitUnspecified, false
	}

	// Explicit number+unit pair anywhere in the text.
	if m := numberWithUnitRe.FindStringSubmatch(text); m != nil {
		if value, err := strconv.ParseFloat(m[1], 64); err == nil {
			unit := normalizeUnit(m[2])
			return d.applyUnit(value, unit), unit, true
		}
	}

	// Tokens that embed a unit, e.g. "1.23Kg" or "2lb".
	if value, unit, ok := d.embeddedUnitToken(tokens); ok {
		return value, unit, true
	}

	// A unit in its own token next to a numeric token.
	if value, unit, ok := d.neighbourUnitToken(tokens); ok {
		return value, unit, true
	}

	// Fall back to the first reasonable numeric token, taken as grams.
	for _, tok := range tokens {
		m := numberRe.FindString(tok)
		if m == "" {
			continue
		}
		value, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		// Skip obviously non-weight numbers (timestamps etc.).
		if math.Abs(value) > 1e6 {
			continue
		}
		return value, UnitUnspecified, true
	}

	return 0, UnitUnspecified, false
}

func (d *Decoder) embeddedUnitToken(tokens []string) (float64, Unit, bool) {
	units := []string{"kg", "kilogram", "lb", "pound", "oz", "ounce", "g", "gram"}
	for _, token := range tokens {
		lower := strings.ToLower(token)
		for _, unit := range units {
			idx := strings.Index(lower, unit)
			if idx == -1 {
				continue
			}
			var numberPart string
			if idx > 0 {
				numberPart = token[:idx]
			} else {
				numberPart = token[idx+len(unit):]
			}
			m := numberRe.FindString(numberPart)
			if m == "" {
				continue
			}
			value, err := strconv.ParseFloat(m, 64)
			if err != nil {
				continue
			}
			u := normalizeUnit(unit)
			return d.applyUnit(value, u), u, true
		}
	}
	return 0, UnitUnspecified, false
}

func (d *Decoder) neighbourUnitToken(tokens []string) (float64, Unit, bool) {
	for idx, tok := range tokens {
		unit := normalizeUnit(tok)
		if unit == UnitUnspecified || !isUnitToken(tok) {
			continue
		}
		var neighbours []string
		if idx > 0 {
			neighbours = append(neighbours, tokens[idx-1])
		}
		if idx+1 < len(tokens) {
			neighbours = append(neighbours, tokens[idx+1])
		}
		for _, neighbour := range neighbours {
			m := numberRe.FindString(neighbour)
			if m == "" {
				continue
			}
			value, err := strconv.ParseFloat(m, 64)
			if err != nil {
				continue
			}
			return d.applyUnit(value, unit), unit, true
		}
	}
	return 0, UnitUnspecified, false
}

func isUnitToken(tok string) bool {
	switch strings.ToUpper(tok) {
	case "KG", "KGS", "KILOGRAM", "KILOGRAMS",
		"LB", "LBS", "POUND", "POUNDS",
		"OZ", "OZS", "OUNCE", "OUNCES",
		"G", "GRAM", "GRAMS":
		return true
	}
	return false
}

func normalizeUnit(raw string) Unit {
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(lower, "kg"), strings.Contains(lower, "kilogram"):
		return UnitKilograms
	case strings.HasPrefix(lower, "lb"), strings.Contains(lower, "pound"):
		return UnitPounds
	case strings.HasPrefix(lower, "oz"), strings.Contains(lower, "ounce"):
		return UnitOunces
	case lower == "g", strings.HasPrefix(lower, "gram"):
		return UnitGrams
	}
	return UnitUnspecified
}

// applyUnit converts a value in the given unit to grams. The kilogram
// multiplier is configurable to absorb non-ideal indicator scaling.
func (d *Decoder) applyUnit(value float64, unit Unit) float64 {
	switch unit {
	case UnitKilograms:
		return value * d.kgMultiplier
	case UnitPounds:
		return value * gramsPerPound
	case UnitOunces:
		return value * gramsPerOunce
	}
	return value
}
