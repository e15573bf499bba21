// Package weigh implements the commit path: validate, check for serial
// conflicts, evaluate the latest stable reading against the variant's
// acceptance range, and persist the outcome.
package weigh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"weigh-station-backend/internal/model"
	"weigh-station-backend/internal/scale"
	"weigh-station-backend/internal/store"
)

// ErrBlankSerial rejects commits whose serial is empty after trimming.
var ErrBlankSerial = errors.New("serial cannot be blank")

// ErrNoReading is returned when the scale has not produced a reading yet.
var ErrNoReading = errors.New("no weight reading available")

// ConflictError reports a duplicate serial, carrying the prior record so the
// caller can re-prompt the operator.
type ConflictError struct {
	Prior model.WeighEvent
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("serial %q already used by weigh event %d", e.Prior.Serial, e.Prior.ID)
}

// ReadingSource is the slice of the acquisition service the commit path
// needs: the current reading plus auto-tare suppression around the commit.
type ReadingSource interface {
	Latest() (scale.FilteredReading, bool)
	BeginInteraction()
	EndInteraction()
}

// ResultSink observes commit outcomes, e.g. for fail-streak alerts.
type ResultSink interface {
	WeighResult(variant model.Variant, inRange bool)
}

// Request is one operator commit.
type Request struct {
	VariantID int64  `json:"variant_id" binding:"required"`
	Serial    string `json:"serial"`
	Operator  string `json:"operator"`
	Overwrite bool   `json:"overwrite"`
	Colour    string `json:"colour"`
	Contract  string `json:"contract"`
	OrderNo   string `json:"order_no"`
	Serial2   string `json:"serial2"`
	Notes     string `json:"notes"`
}

// Service commits weighings. Safe for concurrent use: commits for the same
// serial are serialized in-process on top of the store's transactional
// check-and-write.
type Service struct {
	store   store.Store
	source  ReadingSource
	results ResultSink // may be nil

	mu    sync.Mutex
	locks map[string]*serialLock
}

type serialLock struct {
	sync.Mutex
	refs int
}

// NewService creates the commit service. results may be nil.
func NewService(st store.Store, source ReadingSource, results ResultSink) *Service {
	return &Service{
		store:   st,
		source:  source,
		results: results,
		locks:   make(map[string]*serialLock),
	}
}

// Commit runs the full commit sequence and returns the persisted record.
// Error cases: ErrBlankSerial, store.ErrVariantNotFound, ErrNoReading, and
// *ConflictError for duplicate serials without overwrite.
func (s *Service) Commit(ctx context.Context, req Request) (model.WeighEvent, error) {
	serial := strings.TrimSpace(req.Serial)
	if serial == "" {
		return model.WeighEvent{}, ErrBlankSerial
	}

	// Suppress auto-tare while the operator's commit is in flight.
	s.source.BeginInteraction()
	defer s.source.EndInteraction()

	variant, err := s.store.GetVariant(ctx, req.VariantID)
	if err != nil {
		return model.WeighEvent{}, err
	}

	reading, ok := s.source.Latest()
	if !ok {
		return model.WeighEvent{}, ErrNoReading
	}

	inRange := variant.MinG <= reading.G && reading.G <= variant.MaxG
	evt := model.WeighEvent{
		TS:        time.Now().UTC(),
		VariantID: variant.ID,
		Serial:    serial,
		Operator:  strings.TrimSpace(req.Operator),
		GrossG:    reading.G,
		NetG:      reading.G,
		InRange:   inRange,
		RawAvg:    reading.Raw,
		Colour:    req.Colour,
		Contract:  req.Contract,
		OrderNo:   req.OrderNo,
		Serial2:   req.Serial2,
		Notes:     req.Notes,
	}

	unlock := s.lockSerial(serial)
	defer unlock()

	persisted, prior, err := s.store.CommitWeighEvent(ctx, evt, req.Overwrite)
	if errors.Is(err, store.ErrDuplicateSerial) && prior != nil {
		return model.WeighEvent{}, &ConflictError{Prior: *prior}
	}
	if err != nil {
		return model.WeighEvent{}, fmt.Errorf("failed to persist weigh event: %w", err)
	}

	if s.results != nil {
		s.results.WeighResult(variant, inRange)
	}
	return persisted, nil
}

// lockSerial takes the per-serial mutex, creating it on first use and
// dropping it once no commit holds or waits on it.
func (s *Service) lockSerial(serial string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[serial]
	if !ok {
		l = &serialLock{}
		s.locks[serial] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, serial)
		}
		s.mu.Unlock()
	}
}
