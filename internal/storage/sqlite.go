// Package storage persists weight profiles, discovered patterns,
// feedback history, and background jobs in a local SQLite database.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for weight profiles,
// patterns, feedback records, and the job queue.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "attuned.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Weight profiles ---

// GetWeightProfile loads a user's stored weight profile.
// Returns ErrNotFound for users with no feedback yet.
func (s *Store) GetWeightProfile(userID string) (WeightProfileRow, error) {
	var row WeightProfileRow
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT user_id, profile_json, version, updated_at
		FROM weight_profiles WHERE user_id = ?`, userID,
	).Scan(&row.UserID, &row.ProfileJSON, &row.Version, &updatedAt)
	if err == sql.ErrNoRows {
		return WeightProfileRow{}, ErrNotFound
	}
	if err != nil {
		return WeightProfileRow{}, err
	}
	t, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return WeightProfileRow{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	row.UpdatedAt = t
	return row, nil
}

// SaveWeightProfile writes a profile with compare-and-swap semantics.
// A row with Version 0 is a first write: the insert fails with
// ErrVersionConflict if another writer created the row in between.
// Otherwise the update only lands if the stored version still equals
// row.Version. Returns the new version on success.
func (s *Store) SaveWeightProfile(row WeightProfileRow) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	if row.Version == 0 {
		res, err := s.db.Exec(`
			INSERT INTO weight_profiles (user_id, profile_json, version, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			row.UserID, row.ProfileJSON, now,
		)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, ErrVersionConflict
		}
		return 1, nil
	}

	res, err := s.db.Exec(`
		UPDATE weight_profiles
		SET profile_json = ?, version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`,
		row.ProfileJSON, now, row.UserID, row.Version,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return row.Version + 1, nil
}

// --- Patterns ---

// UpsertPattern creates or replaces a pattern keyed by (user_id, name).
// Re-running the miner on unchanged history rewrites identical rows.
func (s *Store) UpsertPattern(p PatternRow) error {
	_, err := s.db.Exec(`
		INSERT INTO patterns (user_id, name, label, intent, conditions_json, confidence, match_count, follow_count, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET
			label = excluded.label,
			intent = excluded.intent,
			conditions_json = excluded.conditions_json,
			confidence = excluded.confidence,
			match_count = excluded.match_count,
			follow_count = excluded.follow_count,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		p.UserID, p.Name, p.Label, p.Intent, p.ConditionsJSON,
		p.Confidence, p.MatchCount, p.FollowCount, boolToInt(p.Active),
		p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListPatterns returns a user's patterns ordered by confidence
// descending, name ascending. Pass activeOnly to get the matcher's view.
func (s *Store) ListPatterns(userID string, activeOnly bool) ([]PatternRow, error) {
	query := `
		SELECT user_id, name, label, intent, conditions_json, confidence, match_count, follow_count, active, updated_at
		FROM patterns WHERE user_id = ?`
	if activeOnly {
		query += " AND active = 1"
	}
	query += " ORDER BY confidence DESC, name ASC"

	rows, err := s.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PatternRow
	for rows.Next() {
		var p PatternRow
		var active int
		var updatedAt string
		if err := rows.Scan(&p.UserID, &p.Name, &p.Label, &p.Intent, &p.ConditionsJSON,
			&p.Confidence, &p.MatchCount, &p.FollowCount, &active, &updatedAt); err != nil {
			return nil, err
		}
		p.Active = active != 0
		t, err := time.Parse(time.RFC3339, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		p.UpdatedAt = t
		results = append(results, p)
	}
	return results, rows.Err()
}

// --- Feedback ---

// InsertFeedback appends a feedback record. Records are immutable ground
// truth; there is no update or delete path.
func (s *Store) InsertFeedback(rec FeedbackRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO feedback (id, user_id, suggested_intent, suggested_confidence, selected_intent, was_override, context_json, override_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.SuggestedIntent, rec.SuggestedConfidence,
		rec.SelectedIntent, boolToInt(rec.WasOverride), rec.ContextJSON,
		rec.OverrideReason, rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetFeedback loads one feedback record by ID.
func (s *Store) GetFeedback(id string) (FeedbackRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, suggested_intent, suggested_confidence, selected_intent, was_override, context_json, override_reason, created_at
		FROM feedback WHERE id = ?`, id)
	rec, err := scanFeedback(row)
	if err == sql.ErrNoRows {
		return FeedbackRecord{}, ErrNotFound
	}
	return rec, err
}

// GetRecentFeedback returns a user's most recent feedback records,
// newest first.
func (s *Store) GetRecentFeedback(userID string, limit int) ([]FeedbackRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, suggested_intent, suggested_confidence, selected_intent, was_override, context_json, override_reason, created_at
		FROM feedback WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FeedbackRecord
	for rows.Next() {
		rec, err := scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// CountFeedback returns the total and override counts for a user,
// recomputed from stored rows. The learner derives overrideRate from
// this rather than maintaining counters incrementally, so the rate
// always matches the actual history.
func (s *Store) CountFeedback(userID string) (total, overrides int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(was_override), 0)
		FROM feedback WHERE user_id = ?`, userID,
	).Scan(&total, &overrides)
	return total, overrides, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeedback(row rowScanner) (FeedbackRecord, error) {
	var rec FeedbackRecord
	var wasOverride int
	var createdAt string
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.SuggestedIntent, &rec.SuggestedConfidence,
		&rec.SelectedIntent, &wasOverride, &rec.ContextJSON, &rec.OverrideReason, &createdAt); err != nil {
		return FeedbackRecord{}, err
	}
	rec.WasOverride = wasOverride != 0
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return FeedbackRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	rec.CreatedAt = t
	return rec, nil
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// GetJob returns a job by ID, making learning completion observable to
// callers that kept the job ID from recordFeedback.
func (s *Store) GetJob(id string) (Job, error) {
	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := s.db.QueryRow(`
		SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return Job{}, fmt.Errorf("parsing run_after: %w", err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return j, nil
}

// ClaimNextJob atomically claims the oldest runnable pending job of the
// given types, marking it running. Returns nil when nothing is runnable.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. Below max_attempts the job goes back
// to pending with exponential backoff; at the limit it is marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
