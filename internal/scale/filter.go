package scale

import (
	"math"
	"sort"
	"time"

	"weigh-station-backend/config"
)

// FilteredReading is one smoothed, calibrated sample. The most recent
// instance is the station's "current" weight for both broadcast and commit.
type FilteredReading struct {
	G      float64   `json:"g"`
	Stable bool      `json:"stable"`
	Raw    int64     `json:"raw"`
	At     time.Time `json:"-"`
}

// filterState is the stability detector state.
type filterState int

const (
	stateSettling filterState = iota
	stateStable
)

// Filter smooths calibrated gram samples with a median window followed by an
// exponential moving average, and tracks a settle/idle state machine.
//
// It is not safe for concurrent use; the acquisition goroutine is its only
// caller.
type Filter struct {
	cfg config.FilterConfig

	window []float64 // median window, oldest first
	ema    float64
	hasEMA bool

	state     filterState
	stableRef float64 // value the STABLE state locked onto
	runLen    int     // consecutive samples within epsilon of each other
	lastOut   float64

	// Drift zeroing: a slow offset walked toward small near-zero readings.
	recent     []float64
	recentCap  int
	zeroOffset float64

	// Auto-tare idle tracking. zeroSince is the wall time the filtered
	// value entered the near-zero band while stable; zero while outside it.
	zeroSince time.Time
}

// NewFilter builds a filter from configuration.
func NewFilter(cfg config.FilterConfig) *Filter {
	if cfg.MedianWindow <= 0 {
		cfg.MedianWindow = 10
	}
	if cfg.EMAAlpha <= 0 || cfg.EMAAlpha > 1 {
		cfg.EMAAlpha = 0.2
	}
	if cfg.StableSamples <= 0 {
		cfg.StableSamples = 5
	}
	if cfg.StableEpsilonG <= 0 {
		cfg.StableEpsilonG = 0.05
	}
	if cfg.DisplayPrecision <= 0 {
		cfg.DisplayPrecision = 0.1
	}
	recentCap := cfg.SampleHz * 3 / 2
	if recentCap < 10 {
		recentCap = 10
	}
	return &Filter{
		cfg:       cfg,
		recentCap: recentCap,
	}
}

// Update consumes one calibrated sample and returns the filtered reading.
// hint, when non-nil, is the device's own settled flag and overrides the
// computed stability for the output (the state machine still advances on the
// filtered values so auto-tare behaves consistently).
func (f *Filter) Update(grams float64, raw int64, hint *bool, at time.Time) FilteredReading {
	g := grams - f.zeroOffset

	f.window = append(f.window, g)
	if len(f.window) > f.cfg.MedianWindow {
		f.window = f.window[1:]
	}
	med := median(f.window)

	if !f.hasEMA {
		f.ema = med
		f.hasEMA = true
	} else {
		f.ema = f.cfg.EMAAlpha*med + (1-f.cfg.EMAAlpha)*f.ema
	}
	y := f.ema

	y = f.driftZero(y)
	f.advance(y, at)

	stable := f.state == stateStable
	if hint != nil {
		stable = *hint
	}

	precision := f.cfg.DisplayPrecision
	display := math.Round(math.Round(y/precision)*precision*1000) / 1000

	f.lastOut = y
	return FilteredReading{G: display, Stable: stable, Raw: raw, At: at}
}

// advance runs the SETTLING/STABLE state machine on the filtered value.
func (f *Filter) advance(y float64, at time.Time) {
	eps := f.cfg.StableEpsilonG

	switch f.state {
	case stateSettling:
		if f.runLen == 0 || math.Abs(y-f.lastOut) <= eps {
			f.runLen++
		} else {
			f.runLen = 1
		}
		if f.runLen >= f.cfg.StableSamples {
			f.state = stateStable
			f.stableRef = y
		}
	case stateStable:
		if math.Abs(y-f.stableRef) > eps {
			f.state = stateSettling
			f.runLen = 1
		}
	}

	// Track how long the stable value has sat at zero.
	if f.state == stateStable && math.Abs(y) <= eps {
		if f.zeroSince.IsZero() {
			f.zeroSince = at
		}
	} else {
		f.zeroSince = time.Time{}
	}
}

// driftZero walks a zero offset toward sustained small near-zero readings so
// slow thermal drift does not accumulate on the display.
func (f *Filter) driftZero(y float64) float64 {
	f.recent = append(f.recent, y)
	if len(f.recent) > f.recentCap {
		f.recent = f.recent[1:]
	}
	if len(f.recent) < f.recentCap {
		return y
	}

	lo, hi := f.recent[0], f.recent[0]
	for _, v := range f.recent[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if math.Abs(y) < f.cfg.ZeroGateG && hi-lo < f.cfg.ZeroSpanG {
		var step float64
		switch {
		case y > 0:
			step = f.cfg.ZeroRateGPS
		case y < 0:
			step = -f.cfg.ZeroRateGPS
		}
		f.zeroOffset += step
		y -= step
	}
	return y
}

// AutoTareDue reports whether the filtered value has been stable at zero for
// at least the configured idle duration. The caller is responsible for
// suppressing it while an operator interaction is in flight.
func (f *Filter) AutoTareDue(now time.Time) bool {
	if !f.cfg.AutoTare || f.zeroSince.IsZero() {
		return false
	}
	return now.Sub(f.zeroSince) >= time.Duration(f.cfg.AutoTareIdleSec)*time.Second
}

// Reset clears all filter state, e.g. after a tare.
func (f *Filter) Reset() {
	f.window = f.window[:0]
	f.hasEMA = false
	f.state = stateSettling
	f.runLen = 0
	f.recent = f.recent[:0]
	f.zeroOffset = 0
	f.zeroSince = time.Time{}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
