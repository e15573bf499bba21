package scale

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"weigh-station-backend/config"
)

// ErrNoFreshData is returned by ReadRawFresh when the scale has not produced
// a parsed reading recently enough to trust for calibration.
var ErrNoFreshData = errors.New("scale did not provide fresh data")

const (
	backoffInitial = time.Second
	backoffMax     = 10 * time.Second
	rawFreshness   = time.Second
)

// Publisher receives every filtered reading as it is produced. The hub
// implements it; publishing must never block.
type Publisher interface {
	Publish(r FilteredReading)
}

// ConnectivitySink is notified when the serial link is lost or restored.
type ConnectivitySink interface {
	ScaleOffline(reason string)
	ScaleOnline()
}

// Service owns the serial port and drives the acquisition pipeline: frame
// assembly, decoding, calibration transform, filtering, fan-out. One
// long-lived goroutine runs the whole sequence so filter and calibration
// state see no parallel mutation.
type Service struct {
	cfg    *config.Config
	calib  *Calibration
	filter *Filter
	pub    Publisher
	alerts ConnectivitySink // may be nil
	diag   *diagLog

	// interactions counts in-flight operator commits; auto-tare is
	// suppressed while any are outstanding.
	interactions atomic.Int64
	connected    atomic.Bool
	resetPending atomic.Bool

	mu         sync.RWMutex
	latest     FilteredReading
	hasLatest  bool
	lastRaw    int64
	lastRawAt  time.Time
	lastDataAt time.Time
}

// NewService wires the acquisition service. alerts may be nil.
func NewService(cfg *config.Config, calib *Calibration, pub Publisher, alerts ConnectivitySink) *Service {
	return &Service{
		cfg:    cfg,
		calib:  calib,
		filter: NewFilter(cfg.Filter),
		pub:    pub,
		alerts: alerts,
		diag:   newDiagLog(cfg.Scale.DiagLogCapacity),
	}
}

// Run drives the acquisition loop until ctx is cancelled, reopening the
// port with bounded exponential backoff after failures.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Scale.Enabled {
		log.Println("Scale acquisition is disabled. Not starting.")
		return
	}
	log.Println("Starting scale acquisition...")

	backoff := backoffInitial
	for ctx.Err() == nil {
		port, err := openPort(&s.cfg.Scale)
		if err != nil {
			s.noteDisconnected(fmt.Sprintf("Serial open failed: %v", err))
			log.Printf("scale: %v (retrying in %s)", err, backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			backoff = minDuration(backoff*2, backoffMax)
			continue
		}

		s.noteConnected()
		backoff = backoffInitial

		err = s.readLoop(ctx, port)
		port.Close()
		if ctx.Err() != nil {
			return
		}
		s.noteDisconnected(fmt.Sprintf("Serial connection lost: %v", err))
		log.Printf("scale: connection lost: %v (reopening in %s)", err, backoff)
		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = minDuration(backoff*2, backoffMax)
	}
}

// readLoop consumes frames from an open port until a read error or
// cancellation. It returns the error that broke the connection.
func (s *Service) readLoop(ctx context.Context, port serial.Port) error {
	asm := NewAssembler(port, s.cfg.Scale.Terminator(), s.cfg.Scale.FrameMaxBytes)
	decoder := NewDecoder(&s.cfg.Scale)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		frame, ok, err := asm.Next()
		if err != nil {
			return err
		}
		if !ok {
			s.noteIdle()
			continue
		}

		s.handleFrame(ctx, frame, decoder)
	}
}

func (s *Service) handleFrame(ctx context.Context, frame RawFrame, decoder *Decoder) {
	raw := string(frame.Payload)

	s.mu.Lock()
	s.lastDataAt = time.Now()
	s.mu.Unlock()

	if frame.Truncated {
		s.diag.append(DiagEntry{Raw: raw, Event: "Frame truncated (no terminator within max bytes)"})
		return
	}

	reading, parsed := decoder.Decode(frame)
	if !parsed {
		s.diag.append(DiagEntry{Raw: raw, Parsed: false})
		return
	}

	grams := reading.Grams
	var counts int64
	if reading.RawCounts != nil {
		counts = *reading.RawCounts
		grams = s.calib.ToGrams(counts)
	}

	if s.resetPending.Swap(false) {
		s.filter.Reset()
	}
	filtered := s.filter.Update(grams, counts, reading.StableHint, reading.At)

	s.mu.Lock()
	s.latest = filtered
	s.hasLatest = true
	s.lastRaw = counts
	s.lastRawAt = time.Now()
	s.mu.Unlock()

	s.diag.append(DiagEntry{
		Raw:        raw,
		Parsed:     true,
		Grams:      &filtered.G,
		RawCounts:  reading.RawCounts,
		StableHint: reading.StableHint,
	})

	s.pub.Publish(filtered)
	s.maybeAutoTare(ctx)
}

// maybeAutoTare tares the scale after a prolonged stable idle at zero,
// unless an operator commit is in flight.
func (s *Service) maybeAutoTare(ctx context.Context) {
	if !s.filter.AutoTareDue(time.Now()) || s.interactions.Load() > 0 {
		return
	}

	s.mu.RLock()
	raw := s.lastRaw
	s.mu.RUnlock()

	if err := s.calib.Tare(ctx, raw); err != nil {
		s.diag.append(DiagEntry{Event: fmt.Sprintf("Auto-tare persistence failed: %v", err)})
	} else {
		s.diag.append(DiagEntry{Event: fmt.Sprintf("Auto-tare applied at %d counts", raw)})
	}
	s.filter.Reset()
}

// noteIdle records a no-data gap once per timeout window.
func (s *Service) noteIdle() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastDataAt.IsZero() {
		s.lastDataAt = now
		return
	}
	gap := now.Sub(s.lastDataAt)
	if gap < maxDuration(s.cfg.Scale.ReadTimeout(), 500*time.Millisecond) {
		return
	}
	s.diag.append(DiagEntry{Event: fmt.Sprintf("No serial data for %.1fs", gap.Seconds())})
	s.lastDataAt = now
}

func (s *Service) noteConnected() {
	s.diag.append(DiagEntry{Event: fmt.Sprintf("Opened %s @ %d baud", s.cfg.Scale.Device, s.cfg.Scale.Baud)})
	if !s.connected.Swap(true) && s.alerts != nil {
		s.alerts.ScaleOnline()
	}
}

func (s *Service) noteDisconnected(event string) {
	s.diag.append(DiagEntry{Event: event})
	if s.connected.Swap(false) && s.alerts != nil {
		s.alerts.ScaleOffline(event)
	}
}

// Latest returns the most recent filtered reading.
func (s *Service) Latest() (FilteredReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// ReadRawFresh returns the latest raw counts if they are recent enough for a
// calibration operation.
func (s *Service) ReadRawFresh() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRawAt.IsZero() || time.Since(s.lastRawAt) > rawFreshness {
		return 0, ErrNoFreshData
	}
	return s.lastRaw, nil
}

// DiagLog returns up to limit newest diagnostic entries, oldest first.
func (s *Service) DiagLog(limit int) []DiagEntry {
	return s.diag.tail(limit)
}

// Calibration exposes the calibration store for the tare/calibrate
// endpoints.
func (s *Service) Calibration() *Calibration {
	return s.calib
}

// Connected reports whether the serial link is currently up.
func (s *Service) Connected() bool {
	return s.connected.Load()
}

// BeginInteraction marks an operator commit in flight, suppressing
// auto-tare until the matching EndInteraction.
func (s *Service) BeginInteraction() {
	s.interactions.Add(1)
}

// EndInteraction releases a BeginInteraction.
func (s *Service) EndInteraction() {
	s.interactions.Add(-1)
}

// ResetFilter asks the acquisition goroutine to clear the smoothing state
// before its next sample, used after an explicit tare so the display
// converges on the new zero immediately.
func (s *Service) ResetFilter() {
	s.resetPending.Store(true)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
