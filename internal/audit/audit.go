// Package audit is the Postgres trail of every session state transition
// and every error-taxonomy occurrence, grounded on domain/pgdb's
// gorm.Open(postgres.Open(dsn)) wiring and plain-struct row model.
package audit

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// StateTransition is one row recording a session moving from one
// SessionState to another.
type StateTransition struct {
	ID        uint `gorm:"primaryKey"`
	Exchange  string
	Symbol    string
	FromState string
	ToState   string
	At        time.Time
}

func (StateTransition) TableName() string {
	return "session_state_transitions"
}

// ErrorOccurrence is one row recording an error-taxonomy event (§7) that a
// session reports: TransportDisconnect, AdapterError, SequenceGap,
// SnapshotReconcileFail, CrossBook, QueueOverflow, SymbolMismatch.
type ErrorOccurrence struct {
	ID       uint `gorm:"primaryKey"`
	Exchange string
	Symbol   string
	Kind     string
	Detail   string
	At       time.Time
}

func (ErrorOccurrence) TableName() string {
	return "session_error_occurrences"
}

// Trail is the audit sink: the engine calls these record methods from the
// session callbacks it registers, each write on a goroutine of its own.
// Writes are fire-and-forget; a failure is logged by the caller, never
// escalated.
type Trail struct {
	db *gorm.DB
}

// Open connects to Postgres and auto-migrates the two audit tables.
func Open(host string, port int, user, password, dbName, sslMode, timeZone string) (*Trail, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		host, port, user, password, dbName, sslMode, timeZone)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("audit: open postgres: %w", err)
	}
	if err := db.AutoMigrate(&StateTransition{}, &ErrorOccurrence{}); err != nil {
		return nil, fmt.Errorf("audit: auto-migrate: %w", err)
	}
	return &Trail{db: db}, nil
}

// RecordTransition inserts one StateTransition row.
func (t *Trail) RecordTransition(exchange, symbol, from, to string, at time.Time) error {
	row := StateTransition{Exchange: exchange, Symbol: symbol, FromState: from, ToState: to, At: at}
	return t.db.Create(&row).Error
}

// RecordError inserts one ErrorOccurrence row.
func (t *Trail) RecordError(exchange, symbol, kind, detail string, at time.Time) error {
	row := ErrorOccurrence{Exchange: exchange, Symbol: symbol, Kind: kind, Detail: detail, At: at}
	return t.db.Create(&row).Error
}

// QueryTransitions returns every recorded transition for a session in
// chronological order, used by the ops HTTP surface's session detail
// endpoint.
func (t *Trail) QueryTransitions(exchange, symbol string) ([]StateTransition, error) {
	var rows []StateTransition
	result := t.db.Where("exchange = ? AND symbol = ?", exchange, symbol).
		Order("at").
		Find(&rows)
	return rows, result.Error
}
