// Package store persists feature snapshots and trained model artifacts in
// SQLite. Rows are insert-only; an artifact's publish mark is set once.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/features"
	"github.com/couchcryptid/flood-risk-service/internal/forecast"
	"github.com/couchcryptid/flood-risk-service/internal/premium"
	"github.com/couchcryptid/flood-risk-service/internal/training"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

var (
	// ErrNotFound means no snapshot or artifact matched.
	ErrNotFound = errors.New("not found")
	// ErrArtifactExists rejects a second write of the same version.
	ErrArtifactExists = errors.New("artifact already exists")
	// ErrAlreadyPublished rejects publishing a version twice.
	ErrAlreadyPublished = errors.New("artifact already published")
)

// Store is a SQLite-backed repository of snapshots and artifacts.
type Store struct {
	db *sqlx.DB
}

// Open connects to the SQLite database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to db: %w", err)
	}
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(string(goose.DialectSQLite3)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting dialect for migrations: %w", err)
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}
	return nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type snapshotRow struct {
	ID          string `db:"id"`
	ContentHash string `db:"content_hash"`
	Region      string `db:"region"`
	CreatedAt   string `db:"created_at"`
	Payload     string `db:"payload"`
}

// SaveSnapshot stores snap. Snapshot IDs derive from content, so saving an
// identical snapshot again is a no-op and reports false.
func (s *Store) SaveSnapshot(ctx context.Context, snap *features.Snapshot) (bool, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("encoding snapshot %s: %w", snap.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feature_snapshots (id, content_hash, region, created_at, payload)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		snap.ID, snap.ContentHash, snap.Region, formatTime(snap.CreatedAt), string(payload))
	if err != nil {
		return false, fmt.Errorf("saving snapshot %s: %w", snap.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("saving snapshot %s: %w", snap.ID, err)
	}
	return n == 1, nil
}

// Snapshot loads a snapshot by ID.
func (s *Store) Snapshot(ctx context.Context, id string) (*features.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM feature_snapshots WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting snapshot %s: %w", id, err)
	}
	return decodeSnapshot(row)
}

// LatestSnapshot loads the most recently created snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (*features.Snapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM feature_snapshots ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest snapshot: %w", err)
	}
	return decodeSnapshot(row)
}

func decodeSnapshot(row snapshotRow) (*features.Snapshot, error) {
	var snap features.Snapshot
	if err := json.Unmarshal([]byte(row.Payload), &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", row.ID, err)
	}
	return &snap, nil
}

type artifactRow struct {
	Version      string         `db:"version"`
	RunID        string         `db:"run_id"`
	SnapshotID   string         `db:"snapshot_id"`
	CreatedAt    string         `db:"created_at"`
	RiskModel    string         `db:"risk_model"`
	PremiumModel string         `db:"premium_model"`
	PublishedSeq sql.NullInt64  `db:"published_seq"`
	PublishedAt  sql.NullString `db:"published_at"`
}

// ArtifactInfo describes a stored artifact without its model payloads.
type ArtifactInfo struct {
	Version     string
	RunID       string
	SnapshotID  string
	CreatedAt   time.Time
	Published   bool
	PublishedAt time.Time
}

// SaveArtifact stores a trained artifact. Its snapshot must already be saved.
func (s *Store) SaveArtifact(ctx context.Context, a *training.Artifact) error {
	risk, err := json.Marshal(a.Risk)
	if err != nil {
		return fmt.Errorf("encoding risk model %s: %w", a.Version, err)
	}
	prem, err := json.Marshal(a.Premium)
	if err != nil {
		return fmt.Errorf("encoding premium model %s: %w", a.Version, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO model_artifacts (version, run_id, snapshot_id, created_at, risk_model, premium_model)
		 VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (version) DO NOTHING`,
		a.Version, a.RunID.String(), a.SnapshotID, formatTime(a.CreatedAt), string(risk), string(prem))
	if err != nil {
		return fmt.Errorf("saving artifact %s: %w", a.Version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("saving artifact %s: %w", a.Version, err)
	}
	if n == 0 {
		return fmt.Errorf("saving artifact %s: %w", a.Version, ErrArtifactExists)
	}
	return nil
}

// Publish marks version as the newest published artifact.
func (s *Store) Publish(ctx context.Context, version string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", version, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq sql.NullInt64
	err = tx.GetContext(ctx, &seq, `SELECT published_seq FROM model_artifacts WHERE version = ?`, version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("publishing %s: %w", version, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("publishing %s: %w", version, err)
	}
	if seq.Valid {
		return fmt.Errorf("publishing %s: %w", version, ErrAlreadyPublished)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE model_artifacts
		 SET published_seq = (SELECT COALESCE(MAX(published_seq), 0) + 1 FROM model_artifacts),
		     published_at = ?
		 WHERE version = ?`,
		formatTime(domain.Now()), version)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("publishing %s: %w", version, err)
	}
	return nil
}

// Artifacts lists stored artifacts, newest first.
func (s *Store) Artifacts(ctx context.Context) ([]ArtifactInfo, error) {
	var rows []artifactRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM model_artifacts ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	out := make([]ArtifactInfo, len(rows))
	for i, r := range rows {
		out[i] = ArtifactInfo{
			Version:    r.Version,
			RunID:      r.RunID,
			SnapshotID: r.SnapshotID,
			CreatedAt:  parseTime(r.CreatedAt),
			Published:  r.PublishedSeq.Valid,
		}
		if r.PublishedAt.Valid {
			out[i].PublishedAt = parseTime(r.PublishedAt.String)
		}
	}
	return out, nil
}

// Artifact loads a stored artifact by version.
func (s *Store) Artifact(ctx context.Context, version string) (*training.Artifact, error) {
	var row artifactRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM model_artifacts WHERE version = ?`, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s: %w", version, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting artifact %s: %w", version, err)
	}
	return decodeArtifact(row)
}

// LatestPublished loads the most recently published artifact.
func (s *Store) LatestPublished(ctx context.Context) (*training.Artifact, error) {
	var row artifactRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM model_artifacts WHERE published_seq IS NOT NULL ORDER BY published_seq DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("latest published artifact: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest published artifact: %w", err)
	}
	return decodeArtifact(row)
}

func decodeArtifact(row artifactRow) (*training.Artifact, error) {
	runID, err := uuid.Parse(row.RunID)
	if err != nil {
		return nil, fmt.Errorf("decoding artifact %s run id: %w", row.Version, err)
	}
	var risk forecast.Model
	if err := json.Unmarshal([]byte(row.RiskModel), &risk); err != nil {
		return nil, fmt.Errorf("decoding artifact %s risk model: %w", row.Version, err)
	}
	var prem premium.Model
	if err := json.Unmarshal([]byte(row.PremiumModel), &prem); err != nil {
		return nil, fmt.Errorf("decoding artifact %s premium model: %w", row.Version, err)
	}
	return &training.Artifact{
		Version:    row.Version,
		RunID:      runID,
		SnapshotID: row.SnapshotID,
		CreatedAt:  parseTime(row.CreatedAt),
		Risk:       &risk,
		Premium:    &prem,
	}, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
