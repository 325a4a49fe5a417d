// Package journal is the append-only signal log: every closed round trip
// produced by the sync loops ends up here, and reporting reads it back.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"trading-signalsync/internal/model"
)

// ErrNotClosed is returned when appending an event without exit fields.
var ErrNotClosed = errors.New("signal event is not closed")

// Config selects the backing database.
type Config struct {
	Driver string // "sqlite" (default) or "postgres"
	DSN    string // file path for sqlite, connection string for postgres
}

// SignalModel is the signal_events row.
type SignalModel struct {
	ID         uint      `gorm:"primaryKey"`
	Instrument string    `gorm:"size:64;not null;uniqueIndex:signal_round_trip,priority:1"`
	Interval   string    `gorm:"size:8;not null;uniqueIndex:signal_round_trip,priority:2"`
	BuyTime    time.Time `gorm:"not null;uniqueIndex:signal_round_trip,priority:3;index"`
	Label      string    `gorm:"size:128"`

	BuyPrice   decimal.Decimal `gorm:"type:varchar(40);not null"`
	TakeProfit decimal.Decimal `gorm:"type:varchar(40);not null"`
	StopLoss   decimal.Decimal `gorm:"type:varchar(40);not null"`
	ClosePrice decimal.Decimal `gorm:"type:varchar(40);not null"`
	CloseTime  time.Time       `gorm:"not null"`
	Pct        decimal.Decimal `gorm:"type:varchar(40);not null"`
	ExitReason string          `gorm:"size:16"`

	CreatedAt time.Time
}

func (SignalModel) TableName() string {
	return "signal_events"
}

func toModel(e model.SignalEvent) SignalModel {
	return SignalModel{
		Instrument: e.Instrument,
		BuyTime:    e.BuyTime.UTC(),
		Label:      e.Label,
		Interval:   string(e.Interval),
		BuyPrice:   e.BuyPrice,
		TakeProfit: e.TakeProfit,
		StopLoss:   e.StopLoss,
		ClosePrice: e.ClosePrice,
		CloseTime:  e.CloseTime.UTC(),
		Pct:        e.Pct,
		ExitReason: string(e.ExitReason),
	}
}

func toEntity(m SignalModel) model.SignalEvent {
	return model.SignalEvent{
		Instrument: m.Instrument,
		Label:      m.Label,
		Interval:   model.Interval(m.Interval),
		BuyTime:    m.BuyTime.UTC(),
		BuyPrice:   m.BuyPrice,
		TakeProfit: m.TakeProfit,
		StopLoss:   m.StopLoss,
		ClosePrice: m.ClosePrice,
		CloseTime:  m.CloseTime.UTC(),
		Pct:        m.Pct,
		ExitReason: model.ExitReason(m.ExitReason),
	}
}

// Journal appends and queries closed signal events.
type Journal struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config) (*Journal, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	j, err := New(db)
	if err != nil {
		return nil, err
	}
	log.Printf("[journal] opened signal log (%s)", dialector.Name())
	return j, nil
}

// legacy unique index on (instrument, buy_time) only
const legacyRoundTripIndex = "signal_inst_buy"

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Journal, error) {
	if err := db.AutoMigrate(&SignalModel{}); err != nil {
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	// the same buy time may recur after switching back to an earlier interval
	if m := db.Migrator(); m.HasIndex(&SignalModel{}, legacyRoundTripIndex) {
		if err := m.DropIndex(&SignalModel{}, legacyRoundTripIndex); err != nil {
			return nil, fmt.Errorf("journal drop index %s: %w", legacyRoundTripIndex, err)
		}
	}
	return &Journal{db: db}, nil
}

// Append records a closed event. Appending the same round trip twice
// (same instrument, interval and buy time) is a no-op.
func (j *Journal) Append(ctx context.Context, ev model.SignalEvent) error {
	if !ev.Closed() {
		return ErrNotClosed
	}
	m := toModel(ev)
	err := j.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "instrument"}, {Name: "interval"}, {Name: "buy_time"}},
			DoNothing: true,
		}).
		Create(&m).Error
	if err != nil {
		return fmt.Errorf("journal append %s: %w", ev.Instrument, err)
	}
	return nil
}

// List returns the newest events first. An empty instrument lists all.
func (j *Journal) List(ctx context.Context, instrument string, limit int) ([]model.SignalEvent, error) {
	q := j.db.WithContext(ctx).Order("buy_time DESC")
	if instrument != "" {
		q = q.Where("instrument = ?", instrument)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ms []SignalModel
	if err := q.Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("journal list: %w", err)
	}
	out := make([]model.SignalEvent, 0, len(ms))
	for _, m := range ms {
		out = append(out, toEntity(m))
	}
	return out, nil
}

// All returns every event ordered by buy time ascending.
func (j *Journal) All(ctx context.Context) ([]model.SignalEvent, error) {
	var ms []SignalModel
	if err := j.db.WithContext(ctx).Order("buy_time ASC").Order("instrument ASC").Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("journal all: %w", err)
	}
	out := make([]model.SignalEvent, 0, len(ms))
	for _, m := range ms {
		out = append(out, toEntity(m))
	}
	return out, nil
}

// LastCloseTime returns the close time of the newest event of the
// instrument, zero if none.
func (j *Journal) LastCloseTime(ctx context.Context, instrument string) (time.Time, error) {
	var m SignalModel
	err := j.db.WithContext(ctx).
		Where("instrument = ?", instrument).
		Order("close_time DESC").
		Limit(1).
		Find(&m).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("journal last close %s: %w", instrument, err)
	}
	if m.ID == 0 {
		return time.Time{}, nil
	}
	return m.CloseTime.UTC(), nil
}

// Close closes the underlying connection.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
