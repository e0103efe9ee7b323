// Package store provides a SQLite-backed bundle store with the community
// submission and moderation workflow. Only approved bundles are ever handed
// to the price solver.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/packworth/packworth/internal/solver"
	"github.com/packworth/packworth/pkg/constants"
	"github.com/packworth/packworth/pkg/validation"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// ErrNotFound signals a lookup for a bundle id the store does not hold.
var ErrNotFound = errors.New("bundle not found")

const schema = `
CREATE TABLE IF NOT EXISTS bundles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	total_price REAL NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	submitted_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS bundle_lines (
	bundle_id TEXT NOT NULL REFERENCES bundles(id) ON DELETE CASCADE,
	item_type_id TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	PRIMARY KEY (bundle_id, item_type_id)
);
CREATE INDEX IF NOT EXISTS idx_bundles_status ON bundles(status);
`

// Store persists bundle submissions in SQLite.
type Store struct {
	sqlDB  *sql.DB
	logger *zap.Logger
}

// Bundle is a stored submission: an observation plus its moderation state.
type Bundle struct {
	ID          string              `json:"id"`
	Name        string              `json:"name,omitempty"`
	TotalPrice  float64             `json:"totalPrice"`
	Status      string              `json:"status"`
	SubmittedAt time.Time           `json:"submittedAt"`
	Lines       []solver.BundleLine `json:"lines"`
}

// Observation strips the moderation envelope down to what the solver needs.
func (b Bundle) Observation() solver.BundleObservation {
	return solver.BundleObservation{TotalPrice: b.TotalPrice, Lines: b.Lines}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite bundle store and creates the schema when missing.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Debug("opened bundle store",
		zap.String("op", "store.Open"),
		zap.String("path", cleanPath),
	)
	return &Store{sqlDB: sqlDB, logger: logger}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SubmitBundle records a community submission in pending state and returns
// its assigned id.
func (s *Store) SubmitBundle(ctx context.Context, name string, obs solver.BundleObservation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := validation.ValidateBundle(obs); err != nil {
		return "", fmt.Errorf("invalid bundle: %w", err)
	}

	id := uuid.NewString()
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin submit: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bundles (id, name, total_price, status, submitted_at) VALUES (?, ?, ?, ?, ?)`,
		id, strings.TrimSpace(name), obs.TotalPrice, constants.StatusPending, toMillis(time.Now()),
	)
	if err != nil {
		return "", fmt.Errorf("insert bundle: %w", err)
	}
	for _, line := range obs.Lines {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO bundle_lines (bundle_id, item_type_id, quantity) VALUES (?, ?, ?)`,
			id, strings.TrimSpace(line.ItemTypeID), line.Quantity,
		)
		if err != nil {
			return "", fmt.Errorf("insert bundle line: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit submit: %w", err)
	}

	s.logger.Info("bundle submitted",
		zap.String("op", "store.SubmitBundle"),
		zap.String("id", id),
		zap.Float64("totalPrice", obs.TotalPrice),
		zap.Int("lines", len(obs.Lines)),
	)
	return id, nil
}

// SetStatus moves a submission through the moderation workflow.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch status {
	case constants.StatusPending, constants.StatusApproved, constants.StatusRejected:
	default:
		return fmt.Errorf("unknown bundle status %q", status)
	}

	result, err := s.sqlDB.ExecContext(ctx, `UPDATE bundles SET status = ? WHERE id = ?`, status, strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("update bundle status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update bundle status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Info("bundle status changed",
		zap.String("op", "store.SetStatus"),
		zap.String("id", id),
		zap.String("status", status),
	)
	return nil
}

// GetBundle returns one submission with its lines.
func (s *Store) GetBundle(ctx context.Context, id string) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, name, total_price, status, submitted_at FROM bundles WHERE id = ?`,
		strings.TrimSpace(id),
	)
	var b Bundle
	var submittedAt int64
	if err := row.Scan(&b.ID, &b.Name, &b.TotalPrice, &b.Status, &submittedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get bundle: %w", err)
	}
	b.SubmittedAt = fromMillis(submittedAt)

	lines, err := s.linesFor(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Lines = lines
	return &b, nil
}

// ListBundles returns submissions, newest first, optionally filtered by
// moderation status. An empty status lists everything.
func (s *Store) ListBundles(ctx context.Context, status string) ([]Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := `SELECT id, name, total_price, status, submitted_at FROM bundles ORDER BY submitted_at DESC, id`
	args := []interface{}{}
	if status != "" {
		query = `SELECT id, name, total_price, status, submitted_at FROM bundles WHERE status = ? ORDER BY submitted_at DESC, id`
		args = append(args, status)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var bundles []Bundle
	for rows.Next() {
		var b Bundle
		var submittedAt int64
		if err := rows.Scan(&b.ID, &b.Name, &b.TotalPrice, &b.Status, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan bundle: %w", err)
		}
		b.SubmittedAt = fromMillis(submittedAt)
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}

	for i := range bundles {
		lines, err := s.linesFor(ctx, bundles[i].ID)
		if err != nil {
			return nil, err
		}
		bundles[i].Lines = lines
	}
	return bundles, nil
}

// ApprovedObservations supplies the solver's input: every approved bundle,
// already stripped of moderation state.
func (s *Store) ApprovedObservations(ctx context.Context) ([]solver.BundleObservation, error) {
	bundles, err := s.ListBundles(ctx, constants.StatusApproved)
	if err != nil {
		return nil, err
	}
	observations := make([]solver.BundleObservation, 0, len(bundles))
	for _, b := range bundles {
		observations = append(observations, b.Observation())
	}
	return observations, nil
}

func (s *Store) linesFor(ctx context.Context, bundleID string) ([]solver.BundleLine, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT item_type_id, quantity FROM bundle_lines WHERE bundle_id = ? ORDER BY item_type_id`,
		bundleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bundle lines: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var lines []solver.BundleLine
	for rows.Next() {
		var line solver.BundleLine
		if err := rows.Scan(&line.ItemTypeID, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan bundle line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bundle lines: %w", err)
	}
	return lines, nil
}
