package scale

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrInvalidKnownMass is returned when calibrate-with-known receives a
// non-positive mass.
var ErrInvalidKnownMass = errors.New("known mass must be greater than zero")

// ErrNoLoad is returned when calibrate-with-known sees no counts above the
// tare offset, i.e. nothing is on the platform.
var ErrNoLoad = errors.New("place the known mass on the platform before calibrating")

// ErrPersistCalibration wraps a persistence failure. The in-memory
// calibration has already been applied and stays authoritative for this
// process; only the restart durability is in doubt.
var ErrPersistCalibration = errors.New("calibration not persisted; it will not survive a restart")

// CalibrationPersister is the slice of the store the calibration needs.
type CalibrationPersister interface {
	SaveCalibration(ctx context.Context, zeroOffset int64, scaleFactor float64, notes string) error
}

// Calibration holds the tare offset and scale factor converting raw
// transducer counts to grams. Mutations (Tare, CalibrateWithKnown) are
// serialized against each other; ToGrams readers always see one consistent
// offset/factor pair, old or new, never a partial update.
type Calibration struct {
	persist CalibrationPersister

	mutate sync.Mutex // serializes Tare / CalibrateWithKnown

	mu          sync.RWMutex
	zeroOffset  int64
	scaleFactor float64 // always > 0; sign carried separately
	sign        float64
	updatedAt   time.Time
}

// NewCalibration creates an uncalibrated store using the configured default
// counts-per-gram as its scale factor.
func NewCalibration(persist CalibrationPersister, defaultCountsPerGram float64) *Calibration {
	c := &Calibration{persist: persist}
	c.Set(0, defaultCountsPerGram)
	return c
}

// Set installs a persisted calibration, e.g. the newest row at startup.
func (c *Calibration) Set(zeroOffset int64, scaleFactor float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zeroOffset = zeroOffset
	c.sign = 1
	if scaleFactor < 0 {
		c.sign = -1
	}
	abs := math.Abs(scaleFactor)
	if abs < 1e-9 {
		abs = 1.0
	}
	c.scaleFactor = abs
	c.updatedAt = time.Now()
}

// Snapshot returns the current offset and signed scale factor.
func (c *Calibration) Snapshot() (zeroOffset int64, scaleFactor float64, updatedAt time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.zeroOffset, c.sign * c.scaleFactor, c.updatedAt
}

// ToGrams converts raw transducer counts to grams.
func (c *Calibration) ToGrams(raw int64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sign * float64(raw-c.zeroOffset) / c.scaleFactor
}

// Tare redefines the given raw counts as zero grams and persists the new
// offset. On persistence failure the in-memory offset is kept and
// ErrPersistCalibration is returned.
func (c *Calibration) Tare(ctx context.Context, raw int64) error {
	c.mutate.Lock()
	defer c.mutate.Unlock()

	c.mu.Lock()
	c.zeroOffset = raw
	c.updatedAt = time.Now()
	factor := c.sign * c.scaleFactor
	c.mu.Unlock()

	if err := c.persist.SaveCalibration(ctx, raw, factor, "tare"); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistCalibration, err)
	}
	return nil
}

// CalibrateWithKnown derives a new scale factor from the raw counts observed
// with a known mass (in grams) on the platform. It returns the new
// counts-per-gram factor.
func (c *Calibration) CalibrateWithKnown(ctx context.Context, raw int64, knownG float64) (float64, error) {
	if knownG <= 0 {
		return 0, ErrInvalidKnownMass
	}

	c.mutate.Lock()
	defer c.mutate.Unlock()

	c.mu.RLock()
	offset := c.zeroOffset
	c.mu.RUnlock()

	counts := raw - offset
	if counts == 0 {
		return 0, ErrNoLoad
	}

	factor := float64(counts) / knownG

	c.mu.Lock()
	c.sign = 1
	if factor < 0 {
		c.sign = -1
	}
	c.scaleFactor = math.Abs(factor)
	c.updatedAt = time.Now()
	c.mu.Unlock()

	if err := c.persist.SaveCalibration(ctx, offset, factor, fmt.Sprintf("M=%gg", knownG)); err != nil {
		return factor, fmt.Errorf("%w: %v", ErrPersistCalibration, err)
	}
	return factor, nil
}
