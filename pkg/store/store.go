// Package store persists snapshots, render history and service settings in
// SQLite. All writes go through a serialized queue so concurrent callers
// never fight over the single writer connection.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Register SQLite driver

	"github.com/yourusername/chartsnap/pkg/model"
)

// parseTimestamp parses a timestamp string from SQLite, handling multiple formats
// Formats supported:
// - "2006-01-02 15:04:05" (UTC, no timezone)
// - "2006-01-02 15:04:05 +0300 EEST" (with timezone)
// - "2006-01-02 15:04:05 +0000 UTC" (UTC with explicit timezone)
func parseTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}

	formats := []string{
		"2006-01-02 15:04:05",           // SQLite standard format (UTC assumed)
		"2006-01-02 15:04:05 -0700 MST", // With timezone offset and name
		"2006-01-02 15:04:05 -0700",     // With timezone offset only
		time.RFC3339,                    // ISO 8601
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return &t
		}
	}

	log.Printf("[STORE] WARNING: Failed to parse timestamp: %s", s)
	return nil
}

// Store handles database operations
type Store struct {
	db         *sql.DB
	writeQueue *writeQueue
}

// NewStore creates a new store instance
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode allows concurrent readers alongside the single writer.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Retry on lock contention for up to 5 seconds.
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	log.Println("[STORE] SQLite configured: WAL mode enabled, busy_timeout=5000ms, single writer connection")

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store.writeQueue = newWriteQueue(store)
	log.Println("[STORE] Write queue initialized for serialized database writes")

	return store, nil
}

// migrate runs database migrations
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			chart TEXT NOT NULL,
			interval_type TEXT NOT NULL DEFAULT 'custom',
			cron_expr TEXT,
			timezone TEXT NOT NULL DEFAULT 'UTC',
			recipients TEXT,
			email_subject TEXT,
			email_body TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run_at DATETIME,
			next_run_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_enabled ON snapshots(enabled)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_next_run_at ON snapshots(next_run_at)`,
		`CREATE TABLE IF NOT EXISTS renders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			snapshot_id INTEGER NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			status TEXT NOT NULL,
			error_text TEXT,
			artifact_data BLOB,
			bytes INTEGER NOT NULL DEFAULT 0,
			checksum TEXT,
			email_sent INTEGER NOT NULL DEFAULT 0,
			email_error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_renders_snapshot_id ON renders(snapshot_id)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			smtp_config TEXT,
			renderer_config TEXT NOT NULL,
			limits TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			// Ignore "duplicate column" errors from re-applied migrations.
			if !strings.Contains(err.Error(), "duplicate column name") {
				return fmt.Errorf("migration failed: %w", err)
			}
			log.Printf("[STORE] Migration warning (ignored): %v", err)
		}
	}

	return nil
}

// CreateSnapshot creates a new snapshot (queued for serialized execution)
func (s *Store) CreateSnapshot(snapshot *model.Snapshot) error {
	return s.writeQueue.enqueue(opCreateSnapshot, snapshot)
}

// createSnapshotDirect creates a new snapshot (direct database access, called by write queue)
func (s *Store) createSnapshotDirect(snapshot *model.Snapshot) error {
	now := time.Now()
	snapshot.CreatedAt = now
	snapshot.UpdatedAt = now

	// Format next_run_at for SQLite compatibility (no timezone suffix).
	var nextRunAtStr interface{}
	if snapshot.NextRunAt != nil {
		nextRunAtStr = snapshot.NextRunAt.UTC().Format("2006-01-02 15:04:05")
	}

	result, err := s.db.Exec(`
		INSERT INTO snapshots (
			name, chart, interval_type, cron_expr, timezone, recipients,
			email_subject, email_body, enabled, next_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snapshot.Name, snapshot.Chart, snapshot.IntervalType, snapshot.CronExpr,
		snapshot.Timezone, snapshot.Recipients, snapshot.EmailSubject, snapshot.EmailBody,
		snapshot.Enabled, nextRunAtStr, now, now,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	snapshot.ID = id

	return nil
}

func scanSnapshot(scan func(dest ...interface{}) error) (*model.Snapshot, error) {
	snapshot := &model.Snapshot{}
	var lastRunAtStr, nextRunAtStr sql.NullString

	err := scan(
		&snapshot.ID, &snapshot.Name, &snapshot.Chart, &snapshot.IntervalType,
		&snapshot.CronExpr, &snapshot.Timezone, &snapshot.Recipients,
		&snapshot.EmailSubject, &snapshot.EmailBody, &snapshot.Enabled,
		&lastRunAtStr, &nextRunAtStr, &snapshot.CreatedAt, &snapshot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastRunAtStr.Valid {
		snapshot.LastRunAt = parseTimestamp(lastRunAtStr.String)
	}
	if nextRunAtStr.Valid {
		snapshot.NextRunAt = parseTimestamp(nextRunAtStr.String)
	}
	return snapshot, nil
}

const snapshotColumns = `id, name, chart, interval_type, cron_expr, timezone, recipients,
	       email_subject, email_body, enabled, last_run_at, next_run_at, created_at, updated_at`

// GetSnapshot retrieves a snapshot by ID
func (s *Store) GetSnapshot(id int64) (*model.Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT `+snapshotColumns+`
		FROM snapshots WHERE id = ?`, id)

	snapshot, err := scanSnapshot(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("snapshot not found")
	}
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// ListSnapshots retrieves all snapshots
func (s *Store) ListSnapshots() ([]*model.Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT ` + snapshotColumns + `
		FROM snapshots ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := make([]*model.Snapshot, 0)
	for rows.Next() {
		snapshot, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, rows.Err()
}

// UpdateSnapshot updates an existing snapshot (queued for serialized execution)
func (s *Store) UpdateSnapshot(snapshot *model.Snapshot) error {
	return s.writeQueue.enqueue(opUpdateSnapshot, snapshot)
}

// updateSnapshotDirect updates an existing snapshot (direct database access, called by write queue)
func (s *Store) updateSnapshotDirect(snapshot *model.Snapshot) error {
	snapshot.UpdatedAt = time.Now()

	var lastRunAtStr, nextRunAtStr interface{}
	if snapshot.LastRunAt != nil {
		lastRunAtStr = snapshot.LastRunAt.UTC().Format("2006-01-02 15:04:05")
	}
	if snapshot.NextRunAt != nil {
		nextRunAtStr = snapshot.NextRunAt.UTC().Format("2006-01-02 15:04:05")
	}

	_, err := s.db.Exec(`
		UPDATE snapshots SET
			name = ?, chart = ?, interval_type = ?, cron_expr = ?, timezone = ?,
			recipients = ?, email_subject = ?, email_body = ?, enabled = ?,
			last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		snapshot.Name, snapshot.Chart, snapshot.IntervalType, snapshot.CronExpr,
		snapshot.Timezone, snapshot.Recipients, snapshot.EmailSubject, snapshot.EmailBody,
		snapshot.Enabled, lastRunAtStr, nextRunAtStr, snapshot.UpdatedAt, snapshot.ID,
	)
	return err
}

// DeleteSnapshot deletes a snapshot (queued for serialized execution)
func (s *Store) DeleteSnapshot(id int64) error {
	return s.writeQueue.enqueue(opDeleteSnapshot, deleteSnapshotParams{id: id})
}

// deleteSnapshotDirect deletes a snapshot (direct database access, called by write queue)
func (s *Store) deleteSnapshotDirect(id int64) error {
	_, err := s.db.Exec("DELETE FROM snapshots WHERE id = ?", id)
	return err
}

// CreateRender creates a new render record (queued for serialized execution)
func (s *Store) CreateRender(render *model.Render) error {
	return s.writeQueue.enqueue(opCreateRender, render)
}

// createRenderDirect creates a new render record (direct database access, called by write queue)
func (s *Store) createRenderDirect(render *model.Render) error {
	render.CreatedAt = time.Now()

	result, err := s.db.Exec(`
		INSERT INTO renders (snapshot_id, started_at, status, created_at)
		VALUES (?, ?, ?, ?)`,
		render.SnapshotID, render.StartedAt, render.Status, render.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	render.ID = id

	return nil
}

// UpdateRender updates a render record (queued for serialized execution)
func (s *Store) UpdateRender(render *model.Render) error {
	return s.writeQueue.enqueue(opUpdateRender, render)
}

// updateRenderDirect updates a render record (direct database access, called by write queue)
func (s *Store) updateRenderDirect(render *model.Render) error {
	_, err := s.db.Exec(`
		UPDATE renders SET
			finished_at = ?, status = ?, error_text = ?, artifact_data = ?,
			bytes = ?, checksum = ?, email_sent = ?, email_error = ?
		WHERE id = ?`,
		render.FinishedAt, render.Status, render.ErrorText, render.ArtifactData,
		render.Bytes, render.Checksum, render.EmailSent, render.EmailError, render.ID,
	)
	return err
}

// GetRender retrieves a render by ID, including the stored artifact.
func (s *Store) GetRender(id int64) (*model.Render, error) {
	render := &model.Render{}
	var finishedAt sql.NullTime
	var errorText, checksum, emailError sql.NullString
	var artifactData []byte

	err := s.db.QueryRow(`
		SELECT id, snapshot_id, started_at, finished_at, status, error_text,
		       artifact_data, bytes, checksum, email_sent, email_error, created_at
		FROM renders WHERE id = ?`, id,
	).Scan(
		&render.ID, &render.SnapshotID, &render.StartedAt, &finishedAt,
		&render.Status, &errorText, &artifactData, &render.Bytes,
		&checksum, &render.EmailSent, &emailError, &render.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render not found")
	}
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		render.FinishedAt = &finishedAt.Time
	}
	if errorText.Valid {
		render.ErrorText = errorText.String
	}
	if len(artifactData) > 0 {
		render.ArtifactData = artifactData
	}
	if checksum.Valid {
		render.Checksum = checksum.String
	}
	if emailError.Valid {
		render.EmailError = emailError.String
	}

	return render, nil
}

// ListRenders retrieves render history for a snapshot. Artifacts are not
// loaded; fetch them individually via GetRender.
func (s *Store) ListRenders(snapshotID int64) ([]*model.Render, error) {
	rows, err := s.db.Query(`
		SELECT id, snapshot_id, started_at, finished_at, status, error_text,
		       bytes, checksum, email_sent, email_error, created_at
		FROM renders WHERE snapshot_id = ? ORDER BY started_at DESC LIMIT 50`,
		snapshotID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	renders := make([]*model.Render, 0)
	for rows.Next() {
		render := &model.Render{}
		var finishedAt sql.NullTime
		var errorText, checksum, emailError sql.NullString

		err := rows.Scan(
			&render.ID, &render.SnapshotID, &render.StartedAt, &finishedAt,
			&render.Status, &errorText, &render.Bytes,
			&checksum, &render.EmailSent, &emailError, &render.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if finishedAt.Valid {
			render.FinishedAt = &finishedAt.Time
		}
		if errorText.Valid {
			render.ErrorText = errorText.String
		}
		if checksum.Valid {
			render.Checksum = checksum.String
		}
		if emailError.Valid {
			render.EmailError = emailError.String
		}

		renders = append(renders, render)
	}

	return renders, rows.Err()
}

// DeleteRendersBefore removes render history older than the cutoff (queued
// for serialized execution). Used by retention cleanup.
func (s *Store) DeleteRendersBefore(cutoff time.Time) error {
	return s.writeQueue.enqueue(opDeleteRendersBefore, cutoff)
}

// deleteRendersBeforeDirect removes old renders (direct database access, called by write queue)
func (s *Store) deleteRendersBeforeDirect(cutoff time.Time) error {
	_, err := s.db.Exec(`DELETE FROM renders WHERE datetime(created_at) < datetime(?)`,
		cutoff.UTC().Format("2006-01-02 15:04:05"))
	return err
}

// GetSettings retrieves the stored settings, or nil when none exist yet.
func (s *Store) GetSettings() (*model.Settings, error) {
	settings := &model.Settings{}
	var smtpRaw sql.NullString

	err := s.db.QueryRow(`
		SELECT id, smtp_config, renderer_config, limits, created_at, updated_at
		FROM settings WHERE id = 1`,
	).Scan(
		&settings.ID, &smtpRaw, &settings.RendererConfig,
		&settings.Limits, &settings.CreatedAt, &settings.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if smtpRaw.Valid && smtpRaw.String != "" {
		smtp := &model.SMTPConfig{}
		if err := json.Unmarshal([]byte(smtpRaw.String), smtp); err != nil {
			return nil, fmt.Errorf("failed to decode smtp config: %w", err)
		}
		settings.SMTPConfig = smtp
	}

	return settings, nil
}

// UpsertSettings creates or updates settings (queued for serialized execution)
func (s *Store) UpsertSettings(settings *model.Settings) error {
	return s.writeQueue.enqueue(opUpsertSettings, settings)
}

// upsertSettingsDirect creates or updates settings (direct database access, called by write queue)
func (s *Store) upsertSettingsDirect(settings *model.Settings) error {
	now := time.Now()
	settings.UpdatedAt = now
	settings.ID = 1

	var smtpRaw interface{}
	if settings.SMTPConfig != nil {
		raw, err := json.Marshal(settings.SMTPConfig)
		if err != nil {
			return fmt.Errorf("failed to encode smtp config: %w", err)
		}
		smtpRaw = string(raw)
	}

	existing, err := s.GetSettings()
	if err != nil {
		return err
	}

	if existing == nil {
		settings.CreatedAt = now
		_, err := s.db.Exec(`
			INSERT INTO settings (id, smtp_config, renderer_config, limits, created_at, updated_at)
			VALUES (1, ?, ?, ?, ?, ?)`,
			smtpRaw, settings.RendererConfig, settings.Limits,
			settings.CreatedAt, settings.UpdatedAt,
		)
		return err
	}

	_, err = s.db.Exec(`
		UPDATE settings SET
			smtp_config = ?, renderer_config = ?, limits = ?, updated_at = ?
		WHERE id = 1`,
		smtpRaw, settings.RendererConfig, settings.Limits, settings.UpdatedAt,
	)
	return err
}

// GetDueSnapshots retrieves enabled snapshots whose next run time has passed.
func (s *Store) GetDueSnapshots() ([]*model.Snapshot, error) {
	now := time.Now().UTC().Format("2006-01-02 15:04:05")

	rows, err := s.db.Query(`
		SELECT `+snapshotColumns+`
		FROM snapshots
		WHERE enabled = 1
		      AND (cron_expr != '' OR interval_type IN ('daily', 'weekly', 'monthly'))
		      AND (next_run_at IS NULL OR datetime(next_run_at) <= datetime(?))
		ORDER BY next_run_at ASC`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := make([]*model.Snapshot, 0)
	for rows.Next() {
		snapshot, err := scanSnapshot(rows.Scan)
		if err != nil {
			log.Printf("[STORE] ERROR: Failed to scan snapshot row: %v", err)
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	if len(snapshots) > 0 {
		log.Printf("[STORE] GetDueSnapshots: returning %d snapshot(s)", len(snapshots))
	}
	return snapshots, rows.Err()
}

// Close closes the database connection and shuts down the write queue
func (s *Store) Close() error {
	// Shutdown write queue first to ensure all pending writes complete
	if s.writeQueue != nil {
		s.writeQueue.shutdown()
	}
	return s.db.Close()
}
