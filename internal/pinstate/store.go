package pinstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/thenervelab/miner-ipfs-service/internal/config"
)

// Store manages pin-state persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the pin-state database and applies the
// schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.Paths.DatabasePath)
}

// OpenPath opens the database at an explicit path.
func OpenPath(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the on-disk location of the database.
func (s *Store) Path() string {
	return s.path
}

// AddForPinning records a CID as pending_pin with zero retries. A CID
// already managed in a non-failed state is left alone; a failed_pin row is
// reset back to pending_pin.
func (s *Store) AddForPinning(ctx context.Context, cid string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pinned_cids (cid, status, retry_count, last_checked) VALUES (?, ?, 0, ?)`,
		cid, StatusPendingPin, timestamp(),
	); err != nil {
		return fmt.Errorf("insert pin intent: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pinned_cids SET status = ?, retry_count = 0, last_checked = ? WHERE cid = ? AND status = ?`,
		StatusPendingPin, timestamp(), cid, StatusFailedPin,
	); err != nil {
		return fmt.Errorf("reset failed pin: %w", err)
	}
	return nil
}

// SetStatus updates a record's status, leaving its retry count untouched.
func (s *Store) SetStatus(ctx context.Context, cid string, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pinned_cids SET status = ?, last_checked = ? WHERE cid = ?`,
		status, timestamp(), cid,
	); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// SetStatusRetry updates a record's status and retry count together.
func (s *Store) SetStatusRetry(ctx context.Context, cid string, status Status, retryCount int) error {
	if !ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pinned_cids SET status = ?, retry_count = ?, last_checked = ? WHERE cid = ?`,
		status, retryCount, timestamp(), cid,
	); err != nil {
		return fmt.Errorf("update status and retries: %w", err)
	}
	return nil
}

// RecordsByStatus returns every record in the given status.
func (s *Store) RecordsByStatus(ctx context.Context, status Status) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cid, status, retry_count, last_checked FROM pinned_cids WHERE status = ? ORDER BY cid`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("query records by status: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// RecordDetails returns a single record, or nil when the CID is not
// managed.
func (s *Store) RecordDetails(ctx context.Context, cid string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cid, status, retry_count, last_checked FROM pinned_cids WHERE cid = ?`, cid)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	return rec, nil
}

// Remove deletes a CID from the managed set.
func (s *Store) Remove(ctx context.Context, cid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pinned_cids WHERE cid = ?`, cid); err != nil {
		return fmt.Errorf("remove record: %w", err)
	}
	return nil
}

// DesiredPinned returns the CIDs the agent intends to hold: status pinned
// or pending_pin.
func (s *Store) DesiredPinned(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cid FROM pinned_cids WHERE status IN (?, ?) ORDER BY cid`,
		StatusPinned, StatusPendingPin,
	)
	if err != nil {
		return nil, fmt.Errorf("query desired pins: %w", err)
	}
	defer rows.Close()

	var cids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, fmt.Errorf("scan desired pin: %w", err)
		}
		cids = append(cids, cid)
	}
	return cids, rows.Err()
}

// ManagedCIDs returns every CID in a managed status (pending_pin, pinned,
// failed_pin).
func (s *Store) ManagedCIDs(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cid, status, retry_count, last_checked FROM pinned_cids WHERE status IN (?, ?, ?) ORDER BY cid`,
		StatusPendingPin, StatusPinned, StatusFailedPin,
	)
	if err != nil {
		return nil, fmt.Errorf("query managed records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// MarkAllForUnpin transitions every managed record to unpin_requested and
// returns the number of records affected. Used for full teardown when the
// on-chain profile disappears.
func (s *Store) MarkAllForUnpin(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pinned_cids SET status = ?, last_checked = ? WHERE status IN (?, ?, ?)`,
		StatusUnpinRequested, timestamp(), StatusPendingPin, StatusPinned, StatusFailedPin,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all for unpin: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// SetActiveProfile activates a profile CID, deactivating any prior one, and
// enqueues the profile document itself for pinning. Deactivation and
// activation happen in one transaction so the single-active invariant
// holds at every commit point.
func (s *Store) SetActiveProfile(ctx context.Context, profileCID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin profile tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE miner_profile SET is_active = 0, pinned_locally = 0 WHERE is_active = 1`,
	); err != nil {
		return fmt.Errorf("deactivate profile: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO miner_profile (profile_cid, is_active, pinned_locally, last_updated)
         VALUES (?, 1, 0, ?)
         ON CONFLICT(profile_cid) DO UPDATE SET
             is_active = 1,
             pinned_locally = 0,
             last_updated = excluded.last_updated`,
		profileCID, timestamp(),
	); err != nil {
		return fmt.Errorf("activate profile: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO pinned_cids (cid, status, retry_count, last_checked) VALUES (?, ?, 0, ?)`,
		profileCID, StatusPendingPin, timestamp(),
	); err != nil {
		return fmt.Errorf("enqueue profile pin: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE pinned_cids SET status = ?, retry_count = 0, last_checked = ? WHERE cid = ? AND status = ?`,
		StatusPendingPin, timestamp(), profileCID, StatusFailedPin,
	); err != nil {
		return fmt.Errorf("reset profile pin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit profile tx: %w", err)
	}
	return nil
}

// DeactivateProfile clears any active profile without activating another.
func (s *Store) DeactivateProfile(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE miner_profile SET is_active = 0, pinned_locally = 0 WHERE is_active = 1`,
	); err != nil {
		return fmt.Errorf("deactivate profile: %w", err)
	}
	return nil
}

// ActiveProfile returns the single active profile, or nil when none is
// active.
func (s *Store) ActiveProfile(ctx context.Context) (*Profile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT profile_cid, pinned_locally, last_updated FROM miner_profile WHERE is_active = 1`)

	var (
		profile Profile
		pinned  int
		updated sql.NullString
	)
	err := row.Scan(&profile.CID, &pinned, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active profile: %w", err)
	}
	profile.PinnedLocally = pinned != 0
	profile.LastUpdated = parseTimestamp(updated)
	return &profile, nil
}

// SetProfilePinned flips the pinned_locally flag of the active profile.
func (s *Store) SetProfilePinned(ctx context.Context, profileCID string, pinned bool) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE miner_profile SET pinned_locally = ?, last_updated = ? WHERE profile_cid = ? AND is_active = 1`,
		boolToInt(pinned), timestamp(), profileCID,
	); err != nil {
		return fmt.Errorf("update profile pinned flag: %w", err)
	}
	return nil
}

// AddUnpinnable upserts a terminal-failure record. Replacing an existing
// row clears its reported flag, so a CID that fails again after being
// reported gets reported again.
func (s *Store) AddUnpinnable(ctx context.Context, cid, reason string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO unpinnable_cids (cid, reason, last_retry_timestamp) VALUES (?, ?, ?)`,
		cid, reason, timestamp(),
	); err != nil {
		return fmt.Errorf("record unpinnable cid: %w", err)
	}
	return nil
}

// UnreportedUnpinnables returns terminal failures not yet flushed to the
// report document.
func (s *Store) UnreportedUnpinnables(ctx context.Context) ([]Unpinnable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cid, reason, reported, first_failure_timestamp, last_retry_timestamp
         FROM unpinnable_cids WHERE reported = 0 ORDER BY cid`)
	if err != nil {
		return nil, fmt.Errorf("query unreported unpinnables: %w", err)
	}
	defer rows.Close()
	return scanUnpinnables(rows)
}

// Unpinnables returns every terminal-failure record.
func (s *Store) Unpinnables(ctx context.Context) ([]Unpinnable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cid, reason, reported, first_failure_timestamp, last_retry_timestamp
         FROM unpinnable_cids ORDER BY cid`)
	if err != nil {
		return nil, fmt.Errorf("query unpinnables: %w", err)
	}
	defer rows.Close()
	return scanUnpinnables(rows)
}

// MarkUnpinnablesReported flags the given CIDs as flushed.
func (s *Store) MarkUnpinnablesReported(ctx context.Context, cids []string) error {
	if len(cids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cids)), ",")
	args := make([]any, len(cids))
	for i, cid := range cids {
		args[i] = cid
	}
	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE unpinnable_cids SET reported = 1 WHERE cid IN (%s)`, placeholders),
		args...,
	); err != nil {
		return fmt.Errorf("mark unpinnables reported: %w", err)
	}
	return nil
}

// Stats returns record counts for status output.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByStatus: map[Status]int{}}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(1) FROM pinned_cids GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM unpinnable_cids`).Scan(&stats.Unpinnables); err != nil {
		return nil, fmt.Errorf("count unpinnables: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM unpinnable_cids WHERE reported = 0`).Scan(&stats.Unreported); err != nil {
		return nil, fmt.Errorf("count unreported unpinnables: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec     Record
		status  string
		checked sql.NullString
	)
	if err := row.Scan(&rec.CID, &status, &rec.RetryCount, &checked); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.LastChecked = parseTimestamp(checked)
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanUnpinnables(rows *sql.Rows) ([]Unpinnable, error) {
	var items []Unpinnable
	for rows.Next() {
		var (
			item     Unpinnable
			reason   sql.NullString
			reported int
			first    sql.NullString
			last     sql.NullString
		)
		if err := rows.Scan(&item.CID, &reason, &reported, &first, &last); err != nil {
			return nil, fmt.Errorf("scan unpinnable: %w", err)
		}
		item.Reason = reason.String
		item.Reported = reported != 0
		item.FirstFailure = parseTimestamp(first)
		item.LastRetry = parseTimestamp(last)
		items = append(items, item)
	}
	return items, rows.Err()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v.String); err == nil {
			return t
		}
	}
	return time.Time{}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
