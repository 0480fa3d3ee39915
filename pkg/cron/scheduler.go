// Package cron drives scheduled snapshot rendering: a minute tick picks up
// due snapshots, renders them through a shared browser backend and records
// the results.
package cron

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/robfig/cron/v3"

	"github.com/yourusername/chartsnap/pkg/mail"
	"github.com/yourusername/chartsnap/pkg/model"
	"github.com/yourusername/chartsnap/pkg/render"
	"github.com/yourusername/chartsnap/pkg/store"
)

// Scheduler handles snapshot scheduling
type Scheduler struct {
	store      *store.Store
	cron       *cron.Cron
	workerPool chan struct{}
	baseCtx    context.Context

	mu       sync.Mutex // Protects renderer and settings
	renderer render.Backend
	settings *model.Settings
}

// NewScheduler creates a new scheduler instance
func NewScheduler(st *store.Store, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Scheduler{
		store:      st,
		cron:       cron.New(cron.WithSeconds()),
		workerPool: make(chan struct{}, maxConcurrent),
		baseCtx:    context.Background(),
	}
}

// SetContext sets the base context used for background renders.
func (s *Scheduler) SetContext(ctx context.Context) {
	s.baseCtx = ctx
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	// Check for due snapshots every minute at second 0. Retention cleanup
	// runs hourly.
	cronExpr := "0 * * * * *"
	entryID, err := s.cron.AddFunc(cronExpr, s.checkDueSnapshots)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	if _, err := s.cron.AddFunc("0 0 * * * *", s.cleanupOldRenders); err != nil {
		return fmt.Errorf("failed to add cleanup job: %w", err)
	}

	s.cron.Start()
	log.Printf("Scheduler started with cron expression '%s' (entry ID: %d)", cronExpr, entryID)

	return nil
}

// Stop stops the scheduler and closes the browser instance
func (s *Scheduler) Stop() {
	s.cron.Stop()

	s.mu.Lock()
	if s.renderer != nil {
		if err := s.renderer.Close(); err != nil {
			log.Printf("Failed to close renderer: %v", err)
		}
		s.renderer = nil
	}
	s.mu.Unlock()

	log.Println("Scheduler stopped and browser closed")
}

// Settings returns the effective settings, loading them from the store on
// first use and falling back to defaults when none are stored.
func (s *Scheduler) Settings() (*model.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settingsLocked()
}

func (s *Scheduler) settingsLocked() (*model.Settings, error) {
	if s.settings != nil {
		return s.settings, nil
	}

	settings, err := s.store.GetSettings()
	if err != nil {
		return nil, err
	}
	if settings == nil {
		settings = model.DefaultSettings()
	}
	s.settings = settings
	return settings, nil
}

// Renderer returns the shared browser backend, creating it on first use.
// The instance is reused across renders so the browser stays warm.
func (s *Scheduler) Renderer() (render.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.renderer != nil {
		return s.renderer, nil
	}

	settings, err := s.settingsLocked()
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	renderer, err := render.NewBackend(settings.RendererConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create renderer: %w", err)
	}
	s.renderer = renderer
	log.Printf("Created %s renderer", renderer.Name())
	return renderer, nil
}

// ClearRendererCache closes the current renderer and drops cached settings
// so the next render picks up updated configuration.
func (s *Scheduler) ClearRendererCache() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.renderer != nil {
		if err := s.renderer.Close(); err != nil {
			log.Printf("Warning: Failed to close renderer: %v", err)
		}
		s.renderer = nil
		log.Println("Cleared renderer cache")
	}
	s.settings = nil

	return nil
}

// checkDueSnapshots checks for snapshots that are due and executes them
func (s *Scheduler) checkDueSnapshots() {
	snapshots, err := s.store.GetDueSnapshots()
	if err != nil {
		log.Printf("[CRON] ERROR: Failed to get due snapshots: %v", err)
		return
	}
	if len(snapshots) == 0 {
		return
	}

	log.Printf("[CRON] Found %d due snapshot(s)", len(snapshots))
	for _, snapshot := range snapshots {
		log.Printf("[CRON] Processing snapshot ID=%d, Name='%s', NextRunAt=%v",
			snapshot.ID, snapshot.Name, snapshot.NextRunAt)

		// Update next run time immediately to prevent duplicate execution
		nextRun := s.calculateNextRun(snapshot)
		snapshot.NextRunAt = &nextRun

		if err := s.store.UpdateSnapshot(snapshot); err != nil {
			log.Printf("[CRON] ERROR: Failed to update snapshot %d next run time: %v", snapshot.ID, err)
			continue
		}

		go s.executeSnapshot(snapshot)
	}
}

// cleanupOldRenders removes render history past the configured retention.
func (s *Scheduler) cleanupOldRenders() {
	settings, err := s.Settings()
	if err != nil {
		log.Printf("[CRON] ERROR: Failed to get settings for cleanup: %v", err)
		return
	}
	days := settings.Limits.RetentionDays
	if days <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	if err := s.store.DeleteRendersBefore(cutoff); err != nil {
		log.Printf("[CRON] ERROR: Failed to clean up old renders: %v", err)
	}
}

// ExecuteSnapshot executes a snapshot immediately (for manual runs)
func (s *Scheduler) ExecuteSnapshot(snapshot *model.Snapshot) {
	go s.executeSnapshot(snapshot)
}

// executeSnapshot executes a single snapshot
func (s *Scheduler) executeSnapshot(snapshot *model.Snapshot) {
	log.Printf("[EXECUTE] Starting execution for snapshot ID=%d, Name='%s'", snapshot.ID, snapshot.Name)

	// Acquire worker slot
	s.workerPool <- struct{}{}
	defer func() { <-s.workerPool }()

	rec := &model.Render{
		SnapshotID: snapshot.ID,
		StartedAt:  time.Now(),
		Status:     "running",
	}

	if err := s.store.CreateRender(rec); err != nil {
		log.Printf("[EXECUTE] ERROR: Failed to create render record for snapshot ID=%d: %v", snapshot.ID, err)
		return
	}

	// Execute with retries
	err := s.executeWithRetry(snapshot, rec, 3)

	now := time.Now()
	rec.FinishedAt = &now

	if err != nil {
		rec.Status = "failed"
		rec.ErrorText = err.Error()
		log.Printf("Snapshot %d execution failed: %v", snapshot.ID, err)
	} else {
		rec.Status = "completed"
	}

	if err := s.store.UpdateRender(rec); err != nil {
		log.Printf("Failed to update render record: %v", err)
	}

	// Update snapshot last run time
	snapshot.LastRunAt = &rec.StartedAt
	if err := s.store.UpdateSnapshot(snapshot); err != nil {
		log.Printf("Failed to update snapshot last run time: %v", err)
	}
}

// executeWithRetry executes a snapshot with retry logic
func (s *Scheduler) executeWithRetry(snapshot *model.Snapshot, rec *model.Render, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := time.Duration(attempt*attempt) * time.Second
			log.Printf("Retrying snapshot %d (attempt %d/%d) after %v", snapshot.ID, attempt+1, maxRetries, backoff)
			time.Sleep(backoff)
		}

		err := s.executeSnapshotOnce(snapshot, rec)
		if err == nil {
			return nil
		}

		lastErr = err
		log.Printf("Snapshot %d execution attempt %d failed: %v", snapshot.ID, attempt+1, err)
	}

	return fmt.Errorf("all %d attempts failed: %w", maxRetries, lastErr)
}

// executeSnapshotOnce renders a snapshot once and delivers the result.
func (s *Scheduler) executeSnapshotOnce(snapshot *model.Snapshot, rec *model.Render) error {
	ctx := s.baseCtx

	settings, err := s.Settings()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	renderer, err := s.Renderer()
	if err != nil {
		return err
	}

	chartReq := snapshot.Chart
	png, err := renderer.RenderChart(ctx, &chartReq)
	if err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}

	rec.Bytes = int64(len(png))
	rec.Checksum = fmt.Sprintf("%x", sha256.Sum256(png))
	rec.ArtifactData = png
	log.Printf("Chart saved to database (%d bytes, checksum=%s)", len(png), rec.Checksum)

	// Persist the artifact before attempting delivery so it is available
	// for download even if email fails.
	if err := s.store.UpdateRender(rec); err != nil {
		log.Printf("WARNING: Failed to update render record with artifact data: %v", err)
	}

	if len(snapshot.Recipients.To) == 0 {
		return nil
	}

	// Email delivery is optional: the chart is already stored.
	if settings.SMTPConfig == nil {
		log.Printf("SMTP not configured - chart for snapshot %d saved to database only", snapshot.ID)
		rec.EmailSent = false
		rec.EmailError = "SMTP not configured"
		if err := s.store.UpdateRender(rec); err != nil {
			log.Printf("WARNING: Failed to update render record with email status: %v", err)
		}
		return nil
	}

	mailer := mail.NewMailer(*settings.SMTPConfig)

	vars := map[string]string{
		"snapshot.name":  snapshot.Name,
		"chart.type":     snapshot.Chart.Type,
		"run.started_at": rec.StartedAt.Format(time.RFC1123),
	}
	subject := mail.InterpolateTemplate(snapshot.EmailSubject, vars)
	body := mail.InterpolateTemplate(snapshot.EmailBody, vars)
	filename := fmt.Sprintf("%s-%s.png", snapshot.Name, time.Now().Format("2006-01-02-150405"))

	log.Printf("Attempting to send email for snapshot %d to %d recipient(s)...", snapshot.ID, len(snapshot.Recipients.To))
	if err := mailer.SendChart(snapshot.Recipients, subject, body, png, filename); err != nil {
		log.Printf("Failed to send email for snapshot %d: %v - chart remains available for download", snapshot.ID, err)
		rec.EmailSent = false
		rec.EmailError = err.Error()
		if err := s.store.UpdateRender(rec); err != nil {
			log.Printf("WARNING: Failed to update render record with email error: %v", err)
		}
		return nil
	}

	log.Printf("Email sent successfully for snapshot %d to %d recipient(s)", snapshot.ID, len(snapshot.Recipients.To))
	rec.EmailSent = true
	rec.EmailError = ""
	if err := s.store.UpdateRender(rec); err != nil {
		log.Printf("WARNING: Failed to update render record with email success: %v", err)
	}
	return nil
}

// CalculateNextRun calculates the next run time for a snapshot (exported for use in handlers)
func (s *Scheduler) CalculateNextRun(snapshot *model.Snapshot) time.Time {
	return s.calculateNextRun(snapshot)
}

// calculateNextRun calculates the next run time for a snapshot
func (s *Scheduler) calculateNextRun(snapshot *model.Snapshot) time.Time {
	// Load the snapshot's timezone (default to UTC if not set or invalid)
	loc, err := time.LoadLocation(snapshot.Timezone)
	if err != nil {
		log.Printf("Failed to load timezone %s for snapshot %d: %v, using UTC", snapshot.Timezone, snapshot.ID, err)
		loc = time.UTC
	}

	now := time.Now().In(loc)

	// Auto-generate cron expression from interval_type if not set
	cronExpression := snapshot.CronExpr
	if cronExpression == "" {
		switch snapshot.IntervalType {
		case "daily":
			cronExpression = "0 0 * * *" // Every day at midnight
		case "weekly":
			cronExpression = "0 0 * * 1" // Every Monday at midnight
		case "monthly":
			cronExpression = "0 0 1 * *" // First day of month at midnight
		default:
			cronExpression = "0 0 * * *"
		}
		log.Printf("Auto-generated cron expression '%s' for snapshot %d (interval_type: %s)", cronExpression, snapshot.ID, snapshot.IntervalType)
	}

	expr, err := cronexpr.Parse(cronExpression)
	if err != nil {
		log.Printf("Failed to parse cron expression '%s' for snapshot %d: %v, falling back to 1 hour", cronExpression, snapshot.ID, err)
		return now.Add(1 * time.Hour).UTC().Truncate(time.Second)
	}

	// Calculate next run in the snapshot's timezone, then convert to UTC
	// for storage. Truncation strips the monotonic clock reading.
	return expr.Next(now).UTC().Truncate(time.Second)
}
