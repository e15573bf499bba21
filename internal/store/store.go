package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"weigh-station-backend/internal/model"
)

// ErrDuplicateSerial is returned by CommitWeighEvent when a record with the
// same serial already exists and overwrite was not requested. The prior
// record is returned alongside so the caller can surface it.
var ErrDuplicateSerial = errors.New("serial already used")

// ErrVariantNotFound is returned when a variant id does not resolve.
var ErrVariantNotFound = errors.New("variant not found")

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	ListVariants(ctx context.Context) ([]model.Variant, error)
	GetVariant(ctx context.Context, id int64) (model.Variant, error)

	LatestCalibration(ctx context.Context) (*model.Calibration, error)
	SaveCalibration(ctx context.Context, zeroOffset int64, scaleFactor float64, notes string) error

	// CommitWeighEvent persists evt, atomically checking for a prior record
	// with the same serial inside one transaction. On conflict without
	// overwrite it returns the prior record and ErrDuplicateSerial; with
	// overwrite it replaces the prior record's value set and returns the
	// updated row.
	CommitWeighEvent(ctx context.Context, evt model.WeighEvent, overwrite bool) (model.WeighEvent, *model.WeighEvent, error)

	// Tally returns the running pass/fail counters, optionally scoped to a
	// variant.
	Tally(ctx context.Context, variantID *int64) (pass, fail int64, err error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) ListVariants(ctx context.Context) ([]model.Variant, error) {
	var variants []model.Variant
	if err := s.db.WithContext(ctx).Order("id asc").Find(&variants).Error; err != nil {
		return nil, fmt.Errorf("failed to list variants: %w", err)
	}
	return variants, nil
}

func (s *gormStore) GetVariant(ctx context.Context, id int64) (model.Variant, error) {
	var v model.Variant
	err := s.db.WithContext(ctx).First(&v, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Variant{}, ErrVariantNotFound
	}
	if err != nil {
		return model.Variant{}, fmt.Errorf("failed to fetch variant %d: %w", id, err)
	}
	return v, nil
}

func (s *gormStore) LatestCalibration(ctx context.Context) (*model.Calibration, error) {
	var c model.Calibration
	err := s.db.WithContext(ctx).Order("id desc").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest calibration: %w", err)
	}
	return &c, nil
}

func (s *gormStore) SaveCalibration(ctx context.Context, zeroOffset int64, scaleFactor float64, notes string) error {
	row := model.Calibration{
		CreatedAt:   time.Now().UTC(),
		ZeroOffset:  zeroOffset,
		ScaleFactor: scaleFactor,
		Notes:       notes,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to persist calibration: %w", err)
	}
	return nil
}

func (s *gormStore) CommitWeighEvent(ctx context.Context, evt model.WeighEvent, overwrite bool) (model.WeighEvent, *model.WeighEvent, error) {
	var prior *model.WeighEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.WeighEvent
		err := tx.Where("serial = ?", evt.Serial).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&evt).Error
		case err != nil:
			return fmt.Errorf("serial lookup failed: %w", err)
		}

		snapshot := existing
		prior = &snapshot
		if !overwrite {
			return ErrDuplicateSerial
		}

		// Replace the mutable value set of the prior row in place; the row
		// identity (id, serial) is preserved.
		updates := map[string]any{
			"ts":         evt.TS,
			"variant_id": evt.VariantID,
			"operator":   evt.Operator,
			"gross_g":    evt.GrossG,
			"net_g":      evt.NetG,
			"in_range":   evt.InRange,
			"raw_avg":    evt.RawAvg,
			"colour":     evt.Colour,
			"contract":   evt.Contract,
			"order_no":   evt.OrderNo,
			"serial2":    evt.Serial2,
			"notes":      evt.Notes,
		}
		if err := tx.Model(&model.WeighEvent{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to overwrite weigh event %d: %w", existing.ID, err)
		}
		evt.ID = existing.ID
		return nil
	})
	if err != nil {
		return model.WeighEvent{}, prior, err
	}
	return evt, prior, nil
}

func (s *gormStore) Tally(ctx context.Context, variantID *int64) (int64, int64, error) {
	var pass, fail int64

	q := s.db.WithContext(ctx).Model(&model.WeighEvent{})
	if variantID != nil {
		q = q.Where("variant_id = ?", *variantID)
	}

	if err := q.Session(&gorm.Session{}).Where("in_range = ?", true).Count(&pass).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count passes: %w", err)
	}
	if err := q.Session(&gorm.Session{}).Where("in_range = ?", false).Count(&fail).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to count fails: %w", err)
	}
	return pass, fail, nil
}
