package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/fatigue.report/internal/fatigue/l3events"
	"github.com/banshee-data/fatigue.report/internal/fatigue/l5score"
	"github.com/banshee-data/fatigue.report/internal/fatigue/pipeline"
	"github.com/banshee-data/fatigue.report/internal/monitoring"
)

// MemoryPath keeps the journal in process memory.
const MemoryPath = ":memory:"

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// DB is the session journal: notifications and per-cycle score snapshots.
type DB struct {
	*sql.DB
	path string
}

// NewDB opens the journal at path (MemoryPath when empty) and applies the
// embedded migrations. A single connection is used so an in-memory
// database is shared by every caller.
func NewDB(path string) (*DB, error) {
	if path == "" {
		path = MemoryPath
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, path: path}
	if err := db.applyPragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) applyPragmas() error {
	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if db.path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}

// Path returns the location the journal was opened at.
func (db *DB) Path() string { return db.path }

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	return min(limit, maxQueryLimit)
}

// NotificationRecord is a journaled notification.
type NotificationRecord struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	pipeline.Notification
}

// RecordNotification appends one notification for sessionID.
func (db *DB) RecordNotification(sessionID string, n pipeline.Notification) error {
	_, err := db.Exec(
		`INSERT INTO notifications (session_id, kind, event, severity, score, at_unix_ms, message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, string(n.Kind), n.Event, n.Severity, n.Score, n.At.UnixMilli(), n.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// RecentNotifications returns up to limit notifications from every
// session, newest first.
func (db *DB) RecentNotifications(limit int) ([]NotificationRecord, error) {
	rows, err := db.Query(
		`SELECT notification_id, session_id, kind, COALESCE(event, ''), COALESCE(severity, ''),
			score, at_unix_ms, message
		FROM notifications ORDER BY at_unix_ms DESC, notification_id DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []NotificationRecord
	for rows.Next() {
		var (
			r    NotificationRecord
			kind string
			atMs int64
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &kind, &r.Event, &r.Severity, &r.Score, &atMs, &r.Message); err != nil {
			return nil, err
		}
		r.Kind = pipeline.NotificationKind(kind)
		r.At = time.UnixMilli(atMs)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CycleRecord is one journaled sampling cycle.
type CycleRecord struct {
	ID           int64                `json:"id"`
	SessionID    string               `json:"session_id"`
	At           time.Time            `json:"at"`
	Score        int                  `json:"score"`
	Severity     l5score.Severity     `json:"severity"`
	BlinkRate    float64              `json:"blink_rate"`
	YawnRate     float64              `json:"yawn_rate"`
	NodRate      float64              `json:"nod_rate"`
	Window       time.Duration        `json:"window_ns"`
	Totals       l3events.EventTotals `json:"totals"`
	Frames       uint64               `json:"frames"`
	Malformed    uint64               `json:"malformed"`
	PoseFailures uint64               `json:"pose_failures"`
}

// RecordCycle stores the status published at the end of a sampling cycle.
func (db *DB) RecordCycle(sessionID string, s pipeline.Status) error {
	_, err := db.Exec(
		`INSERT INTO cycles (
			session_id, at_unix_ms, score, severity, blink_rate, yawn_rate, nod_rate, window_ms,
			blinks, yawns, nods, no_driver, frames, malformed, pose_failures
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, s.At.UnixMilli(), s.Score, s.Severity.String(),
		s.Rates.Blink, s.Rates.Yawn, s.Rates.Nod, s.Rates.Window.Milliseconds(),
		s.Totals.Blinks, s.Totals.Yawns, s.Totals.Nods, s.Totals.NoDriver,
		s.Stats.Frames, s.Stats.Malformed, s.Stats.PoseFailures,
	)
	if err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}
	return nil
}

// Cycles returns the latest limit cycles of sessionID in chronological
// order.
func (db *DB) Cycles(sessionID string, limit int) ([]CycleRecord, error) {
	rows, err := db.Query(
		`SELECT * FROM (
			SELECT cycle_id, session_id, at_unix_ms, score, severity, blink_rate, yawn_rate, nod_rate,
				window_ms, blinks, yawns, nods, no_driver, frames, malformed, pose_failures
			FROM cycles WHERE session_id = ? ORDER BY at_unix_ms DESC, cycle_id DESC LIMIT ?
		) ORDER BY at_unix_ms ASC, cycle_id ASC`,
		sessionID, clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var (
			r        CycleRecord
			atMs     int64
			windowMs int64
			severity string
		)
		if err := rows.Scan(
			&r.ID, &r.SessionID, &atMs, &r.Score, &severity,
			&r.BlinkRate, &r.YawnRate, &r.NodRate, &windowMs,
			&r.Totals.Blinks, &r.Totals.Yawns, &r.Totals.Nods, &r.Totals.NoDriver,
			&r.Frames, &r.Malformed, &r.PoseFailures,
		); err != nil {
			return nil, err
		}
		sev, err := l5score.ParseSeverity(severity)
		if err != nil {
			return nil, fmt.Errorf("cycle %d: %w", r.ID, err)
		}
		r.Severity = sev
		r.At = time.UnixMilli(atMs)
		r.Window = time.Duration(windowMs) * time.Millisecond
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to the journal
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Opsf("[db] tailsql console unavailable: %v", err)
	} else {
		tsql.SetDB("sqlite://fatigue.db", db.DB, &tailsql.DBOptions{
			Label: "Fatigue journal",
		})
		debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	}

	debug.Handle("backup", "Create and download a backup of the journal now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "fatigue-backup-")
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
			return
		}
		defer os.RemoveAll(dir)

		name := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		backupPath := filepath.Join(dir, name)
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
		w.Header().Set("Content-Type", "application/gzip")
		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			monitoring.Opsf("[db] failed to stream backup: %v", err)
		}
	}))
}
