// Package telemetry is the optional flight recorder for the control core.
//
// It subscribes to the safety and navigation event topics, buffers rows in
// memory, and flushes them to a sqlite database on its own periodic task.
// The control loops never block on it: event handlers only append to the
// buffer, and a failed flush is logged and retried on the next interval.
package telemetry

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/tractor.core/internal/bus"
	"github.com/banshee-data/tractor.core/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// recordedTopics are the bus topics the recorder captures. Periodic status
// snapshots are deliberately excluded; at 50 Hz they would dominate the
// database without adding review value over the event stream.
var recordedTopics = []string{
	bus.TopicNavBoundaryViolation,
	bus.TopicNavWaypointReached,
	bus.TopicNavPathComplete,
	bus.TopicNavAvoidanceStarted,
	bus.TopicNavAvoidanceStopped,
	bus.TopicSafetyViolation,
	bus.TopicSafetyViolationCleared,
	bus.TopicSafetyEmergencyTriggered,
	bus.TopicSafetyEmergencyActivated,
	bus.TopicSafetyEmergencyReset,
}

type row struct {
	topic      string
	payload    string
	recordedAt time.Time
}

// Recorder persists control-core events for one session.
type Recorder struct {
	mu        sync.Mutex
	db        *sql.DB
	sessionID string
	buf       []row
}

// Open creates or opens the database at path, applies pending migrations and
// starts a new session.
func Open(path string, startedAt time.Time) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	r := &Recorder{
		db:        db,
		sessionID: uuid.NewString(),
	}
	if _, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)`,
		r.sessionID, startedAt.UTC(),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create telemetry session: %w", err)
	}
	monitoring.Logf("telemetry: session %s recording to %s", r.sessionID, path)
	return r, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SessionID returns this run's session identifier.
func (r *Recorder) SessionID() string { return r.sessionID }

// Attach subscribes the recorder to the recorded topics.
func (r *Recorder) Attach(b *bus.Bus) {
	for _, topic := range recordedTopics {
		topic := topic
		b.Subscribe(topic, func(payload interface{}) {
			r.record(topic, payload)
		})
	}
}

func (r *Recorder) record(topic string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		monitoring.Logf("telemetry: dropping unmarshalable %s payload: %v", topic, err)
		return
	}
	r.mu.Lock()
	r.buf = append(r.buf, row{topic: topic, payload: string(data), recordedAt: time.Now()})
	r.mu.Unlock()
}

// Flush writes buffered rows in one transaction. Rows are requeued on
// failure. Intended as a periodic scheduler task.
func (r *Recorder) Flush(time.Time) {
	r.mu.Lock()
	rows := r.buf
	r.buf = nil
	r.mu.Unlock()
	if len(rows) == 0 {
		return
	}

	if err := r.insert(rows); err != nil {
		monitoring.Logf("telemetry: flush of %d rows failed, will retry: %v", len(rows), err)
		r.mu.Lock()
		r.buf = append(rows, r.buf...)
		r.mu.Unlock()
	}
}

func (r *Recorder) insert(rows []row) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(
		`INSERT INTO events (session_id, topic, payload, recorded_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(r.sessionID, row.topic, row.payload, row.recordedAt.UTC()); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// EventCount returns the number of persisted events for this session.
func (r *Recorder) EventCount() (int, error) {
	var n int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM events WHERE session_id = ?`, r.sessionID).Scan(&n)
	return n, err
}

// Close flushes any remaining rows and closes the database.
func (r *Recorder) Close() error {
	r.Flush(time.Time{})
	return r.db.Close()
}
