package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mpuview/mpuview/internal/domain"
)

const defaultJournalListLimit = 50

// AppliedConfig is one journal row: a device config the device accepted.
type AppliedConfig struct {
	ID        int64
	Config    domain.DeviceConfig
	AppliedAt time.Time
}

// ConfigJournal stores applied device configurations. Samples are never stored.
type ConfigJournal struct {
	db *sql.DB
}

func NewConfigJournal(db *sql.DB) *ConfigJournal {
	return &ConfigJournal{db: db}
}

func (j *ConfigJournal) Record(ctx context.Context, cfg domain.DeviceConfig, appliedAt time.Time) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("record device config: %w", err)
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO device_configs(accel_range, gyro_range, filter_band, delay_samples, applied_at)
		VALUES(?, ?, ?, ?, ?)
	`, string(cfg.AccelerometerRange), string(cfg.GyroRange), string(cfg.FilterBand), cfg.DelaySamples, toUnixMillis(appliedAt))
	if err != nil {
		return 0, fmt.Errorf("insert device config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read device config id: %w", err)
	}

	return id, nil
}

// Latest returns the most recently applied config; ok is false on an empty journal.
func (j *ConfigJournal) Latest(ctx context.Context) (AppliedConfig, bool, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, accel_range, gyro_range, filter_band, delay_samples, applied_at
		FROM device_configs
		ORDER BY applied_at DESC, id DESC
		LIMIT 1
	`)
	entry, err := scanAppliedConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AppliedConfig{}, false, nil
	}
	if err != nil {
		return AppliedConfig{}, false, fmt.Errorf("latest device config: %w", err)
	}

	return entry, true, nil
}

// List returns up to limit entries, newest first.
func (j *ConfigJournal) List(ctx context.Context, limit int) ([]AppliedConfig, error) {
	if limit <= 0 {
		limit = defaultJournalListLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, accel_range, gyro_range, filter_band, delay_samples, applied_at
		FROM device_configs
		ORDER BY applied_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list device configs: %w", err)
	}
	defer rows.Close()

	out := make([]AppliedConfig, 0)
	for rows.Next() {
		entry, err := scanAppliedConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device config: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device configs: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppliedConfig(row rowScanner) (AppliedConfig, error) {
	var (
		entry     AppliedConfig
		accel     string
		gyro      string
		filter    string
		appliedMs int64
	)
	if err := row.Scan(&entry.ID, &accel, &gyro, &filter, &entry.Config.DelaySamples, &appliedMs); err != nil {
		return AppliedConfig{}, err
	}
	entry.Config.AccelerometerRange = domain.AccelRange(accel)
	entry.Config.GyroRange = domain.GyroRange(gyro)
	entry.Config.FilterBand = domain.FilterBand(filter)
	entry.AppliedAt = fromUnixMillis(appliedMs)

	return entry, nil
}
