package db

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"weigh-station-backend/config"
	"weigh-station-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
// The driver is selected from the DSN: postgres for "postgres://" or
// key=value DSNs, sqlite otherwise (the station default is a local file).
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(openDialector(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	}

	log.Println("Running database migrations...")
	if err := db.AutoMigrate(
		&model.Variant{},
		&model.Calibration{},
		&model.WeighEvent{},
		&model.PushSubscription{},
	); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}

	if err := seedVariants(db); err != nil {
		return nil, err
	}

	log.Println("Database initialization complete.")
	return db, nil
}

func openDialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// seedVariants inserts placeholder variants on a fresh database so the UI
// has something to select. They are expected to be adjusted afterwards.
func seedVariants(db *gorm.DB) error {
	var count int64
	if err := db.Model(&model.Variant{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count variants: %w", err)
	}
	if count > 0 {
		return nil
	}

	log.Println("Seeding placeholder variants...")
	seeds := []model.Variant{
		{Name: "Variant A", MinG: 95.0, MaxG: 105.0, Unit: "g", Enabled: true},
		{Name: "Variant B", MinG: 145.0, MaxG: 155.0, Unit: "g", Enabled: true},
		{Name: "Variant C", MinG: 48.0, MaxG: 52.0, Unit: "g", Enabled: true},
		{Name: "Variant D", MinG: 10.0, MaxG: 12.0, Unit: "g", Enabled: true},
	}
	if err := db.Create(&seeds).Error; err != nil {
		return fmt.Errorf("failed to seed variants: %w", err)
	}
	return nil
}
