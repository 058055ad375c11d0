// Package local implements the embedded on-device store: two record
// collections (drafts and completed forms) in a goose-migrated sqlite
// database. Rows carry the full record as a JSON payload plus the columns
// the collections are indexed on.
package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/common"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/dbx"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/store/local/migrations"
)

// Store is a handle to the embedded database.
type Store struct {
	db  *sql.DB
	log logging.Logger
}

var (
	openGroup  singleflight.Group
	openMu     sync.Mutex
	openStores = map[string]*Store{}
)

// Open returns the process-wide store for path, opening and migrating the
// database on first use. Component lifecycles racing at app start share the
// same in-flight open: overlapping callers block on one singleflight slot
// and receive the same handle.
func Open(ctx context.Context, path string, log logging.Logger) (*Store, error) {
	v, err, _ := openGroup.Do(path, func() (any, error) {
		openMu.Lock()
		if s, ok := openStores[path]; ok {
			openMu.Unlock()
			return s, nil
		}
		openMu.Unlock()

		s, err := open(ctx, path, log)
		if err != nil {
			return nil, err
		}

		openMu.Lock()
		openStores[path] = s
		openMu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

func open(ctx context.Context, path string, log logging.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrLocalUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", common.ErrLocalUnavailable, err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", common.ErrLocalUnavailable, err)
	}
	return NewStore(db, log), nil
}

// NewStore wraps an already opened and migrated database. Tests use this
// with an in-memory connection.
func NewStore(db *sql.DB, log logging.Logger) *Store {
	return &Store{db: db, log: log}
}

// RunMigrations applies the embedded schema history. Safe to call on an
// already current database.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Ping reports whether the embedded database is usable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", common.ErrLocalUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func table(isDraft bool) string {
	if isDraft {
		return "drafts"
	}
	return "forms"
}

// Put upserts a record by id into the requested collection. Drafts are
// updated in place, never appended: N autosaves of the same id leave exactly
// one row.
func (s *Store) Put(ctx context.Context, rec models.FormRecord, isDraft bool) error {
	if rec.ID.IsZero() {
		return fmt.Errorf("put: record has no id")
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	var query string
	args := []any{
		rec.ID.Value, string(payload), rec.RegionCode,
		rec.LastModified.UTC().Format(time.RFC3339Nano), boolInt(rec.Encrypted),
	}
	if isDraft {
		query = `INSERT INTO drafts (id, payload, region_code, last_modified, encrypted)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload,
				region_code = excluded.region_code,
				last_modified = excluded.last_modified,
				encrypted = excluded.encrypted`
	} else {
		query = `INSERT INTO forms (id, payload, region_code, last_modified, encrypted, synced, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload,
				region_code = excluded.region_code,
				last_modified = excluded.last_modified,
				encrypted = excluded.encrypted,
				synced = excluded.synced,
				synced_at = excluded.synced_at`
		args = append(args, boolInt(rec.Synced), nullableTime(rec.SyncedAt))
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: upsert %s: %v", common.ErrLocalUnavailable, table(isDraft), err)
	}
	return nil
}

// Get returns a single record by id, or common.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string, isDraft bool) (models.FormRecord, error) {
	query := fmt.Sprintf(`SELECT payload, encrypted%s FROM %s WHERE id = ?`,
		syncedCols(isDraft), table(isDraft))
	return s.scanOne(s.db.QueryRowContext(ctx, query, id), isDraft)
}

// List returns every record in the collection, newest last_modified first.
func (s *Store) List(ctx context.Context, isDraft bool) ([]models.FormRecord, error) {
	query := fmt.Sprintf(`SELECT payload, encrypted%s FROM %s ORDER BY last_modified DESC`,
		syncedCols(isDraft), table(isDraft))
	return s.list(ctx, query, isDraft)
}

// ListUnsynced returns completed records the remote store has not yet
// accepted, oldest first so replay preserves submission order.
func (s *Store) ListUnsynced(ctx context.Context) ([]models.FormRecord, error) {
	query := `SELECT payload, encrypted, synced, synced_at FROM forms WHERE synced = 0 ORDER BY last_modified ASC`
	return s.list(ctx, query, false)
}

// Delete removes a record by id. Deleting a missing key is a reported error
// (common.ErrNotFound), not a silent no-op, so callers can tell "already
// deleted" from "failed to delete".
func (s *Store) Delete(ctx context.Context, id string, isDraft bool) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table(isDraft)), id)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", common.ErrLocalUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// MarkSynced flips the synced flag of a completed record after the remote
// store durably accepted it. The local copy stays behind as an audit trail.
func (s *Store) MarkSynced(ctx context.Context, id string, at time.Time) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE forms SET synced = 1, synced_at = ? WHERE id = ?`,
			at.UTC().Format(time.RFC3339Nano), id)
		if err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return common.ErrNotFound
		}
		return nil
	})
}

func (s *Store) list(ctx context.Context, query string, isDraft bool) ([]models.FormRecord, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", common.ErrLocalUnavailable, err)
	}
	defer rows.Close()

	var result []models.FormRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan, isDraft)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) scanOne(row *sql.Row, isDraft bool) (models.FormRecord, error) {
	rec, err := scanRecord(row.Scan, isDraft)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FormRecord{}, common.ErrNotFound
	}
	if err != nil {
		return models.FormRecord{}, err
	}
	return rec, nil
}

// scanRecord unmarshals the payload column and overlays the indexed columns,
// which are authoritative for sync state (MarkSynced does not rewrite the
// payload).
func scanRecord(scan func(...any) error, isDraft bool) (models.FormRecord, error) {
	var payload string
	var encrypted int
	var synced int
	var syncedAt sql.NullString

	dest := []any{&payload, &encrypted}
	if !isDraft {
		dest = append(dest, &synced, &syncedAt)
	}
	if err := scan(dest...); err != nil {
		return models.FormRecord{}, err
	}

	var rec models.FormRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return models.FormRecord{}, fmt.Errorf("unmarshal record payload: %w", err)
	}
	rec.Encrypted = encrypted == 1
	if !isDraft {
		rec.Synced = synced == 1
		if syncedAt.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, syncedAt.String); err == nil {
				rec.SyncedAt = ts
			}
		}
	}
	return rec, nil
}

func syncedCols(isDraft bool) string {
	if isDraft {
		return ""
	}
	return ", synced, synced_at"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
