// Package storage provides a SQLite-backed journal of fired alerts.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/polystatics/polystatics/internal/models"
)

// Storage wraps a SQLite database holding the alert journal.
type Storage struct {
	db        *sql.DB
	maxAlerts int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/polystatics/alerts.db; ":memory:" keeps
// the journal in-process.
func New(dbPath string, maxAlerts int) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "polystatics", "alerts.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	if maxAlerts < 1 {
		maxAlerts = 1
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single connection; also keeps one :memory: database
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAlerts: maxAlerts}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id              TEXT PRIMARY KEY,
			market_id       TEXT NOT NULL,
			question        TEXT,
			slug            TEXT,
			event_slug      TEXT,
			liquidity       REAL NOT NULL DEFAULT 0,
			volume_24hr     REAL NOT NULL DEFAULT 0,
			direction       TEXT NOT NULL,
			change          REAL NOT NULL,
			reference_price REAL NOT NULL,
			current_price   REAL NOT NULL,
			window_ns       INTEGER NOT NULL,
			detected_at     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_market ON alerts(market_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddAlert journals a fired alert, keeping at most maxAlerts newest rows.
func (s *Storage) AddAlert(alert *models.AlertEvent) error {
	if err := alert.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	m := alert.Market
	_, err = tx.Exec(`
		INSERT INTO alerts
			(id, market_id, question, slug, event_slug, liquidity, volume_24hr,
			 direction, change, reference_price, current_price, window_ns, detected_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		alert.ID, m.ID, m.Question, m.Slug, m.EventSlug, m.Liquidity, m.Volume24hr,
		string(alert.Direction), alert.Change, alert.ReferencePrice, alert.CurrentPrice,
		int64(alert.Window), alert.DetectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY detected_at DESC LIMIT ?
		)`, s.maxAlerts); err != nil {
		return fmt.Errorf("failed to enforce alert cap: %w", err)
	}

	return tx.Commit()
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Storage) RecentAlerts(limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		return []models.AlertEvent{}, nil
	}
	rows, err := s.db.Query(`SELECT `+alertCols+` FROM alerts ORDER BY detected_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.AlertEvent{}
	for rows.Next() {
		a, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AlertsForMarket returns every journaled alert for one market, newest first.
func (s *Storage) AlertsForMarket(marketID string) ([]models.AlertEvent, error) {
	rows, err := s.db.Query(`SELECT `+alertCols+` FROM alerts WHERE market_id = ? ORDER BY detected_at DESC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []models.AlertEvent{}
	for rows.Next() {
		a, err := scanAlert(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountAlerts returns the number of journaled alerts.
func (s *Storage) CountAlerts() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

const alertCols = `id, market_id, question, slug, event_slug, liquidity, volume_24hr,
	direction, change, reference_price, current_price, window_ns, detected_at`

func scanAlert(scan func(...any) error) (models.AlertEvent, error) {
	var a models.AlertEvent
	var direction string
	var windowNano, detectedAtNano int64
	err := scan(
		&a.ID, &a.Market.ID, &a.Market.Question, &a.Market.Slug, &a.Market.EventSlug,
		&a.Market.Liquidity, &a.Market.Volume24hr,
		&direction, &a.Change, &a.ReferencePrice, &a.CurrentPrice,
		&windowNano, &detectedAtNano,
	)
	if err != nil {
		return models.AlertEvent{}, err
	}
	a.Direction = models.Direction(direction)
	a.Window = time.Duration(windowNano)
	a.DetectedAt = time.Unix(0, detectedAtNano)
	a.Market.LastTradePrice = a.CurrentPrice
	return a, nil
}
