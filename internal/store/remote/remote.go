// Package remote implements the thin client for the managed structured
// store: two collections (form_drafts, consent_forms) mirroring the local
// ones, an auxiliary sync_queue collection, and a connectivity probe.
//
// Expected remote schema:
//
//	form_drafts   (id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
//	               payload JSONB NOT NULL, region_code TEXT NOT NULL DEFAULT '',
//	               last_modified TIMESTAMPTZ NOT NULL, encrypted BOOLEAN NOT NULL DEFAULT FALSE)
//	consent_forms (form_drafts columns plus synced BOOLEAN NOT NULL DEFAULT FALSE,
//	               synced_at TIMESTAMPTZ, submission_id TEXT)
//	sync_queue    (id BIGSERIAL PRIMARY KEY, form_data JSONB NOT NULL,
//	               region_code TEXT, retry_count INT NOT NULL DEFAULT 0,
//	               status TEXT NOT NULL, submission_endpoint TEXT,
//	               error_message TEXT, created_at TIMESTAMPTZ NOT NULL DEFAULT now())
//
// Every operation classifies its failure as either transport-class
// (common.ErrTransportUnavailable, the store was unreachable) or
// rejection-class (common.ErrClientRejected, the store answered and said
// no). Only the former should flip the capability flag.
package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/common"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/logging"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
)

// Client issues single-row operations against the remote collections.
type Client struct {
	db  *sql.DB
	log logging.Logger
}

// Connect opens a pgx-backed handle for dsn. No probe happens here; the
// capability detector owns connectivity checks.
func Connect(dsn string, log logging.Logger) (*Client, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}
	return NewClient(db, log), nil
}

// NewClient wraps an existing handle. Tests use this with sqlmock.
func NewClient(db *sql.DB, log logging.Logger) *Client {
	return &Client{db: db, log: log}
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Ping is the lightweight reachability probe.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func collection(isDraft bool) string {
	if isDraft {
		return "form_drafts"
	}
	return "consent_forms"
}

// Insert always creates a new remote row and returns its assigned id. The
// router, not this client, decides between update and insert based on prior
// existence.
func (c *Client) Insert(ctx context.Context, rec models.FormRecord, isDraft bool) (models.RecordID, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return models.RecordID{}, fmt.Errorf("marshal record: %w", err)
	}

	var query string
	args := []any{string(payload), rec.RegionCode, rec.LastModified.UTC(), rec.Encrypted}
	if isDraft {
		query = `INSERT INTO form_drafts (payload, region_code, last_modified, encrypted)
			VALUES ($1, $2, $3, $4) RETURNING id`
	} else {
		query = `INSERT INTO consent_forms (payload, region_code, last_modified, encrypted, synced, synced_at, submission_id)
			VALUES ($1, $2, $3, $4, TRUE, now(), $5) RETURNING id`
		args = append(args, rec.SubmissionID)
	}

	var id string
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return models.RecordID{}, classify("insert "+collection(isDraft), err)
	}
	return models.RemoteID(id), nil
}

// Update rewrites an existing row by id. A missing row is common.ErrNotFound.
func (c *Client) Update(ctx context.Context, rec models.FormRecord, isDraft bool) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	query := fmt.Sprintf(`UPDATE %s SET payload = $1, region_code = $2, last_modified = $3, encrypted = $4 WHERE id = $5`,
		collection(isDraft))
	res, err := c.db.ExecContext(ctx, query,
		string(payload), rec.RegionCode, rec.LastModified.UTC(), rec.Encrypted, rec.ID.Value)
	if err != nil {
		return classify("update "+collection(isDraft), err)
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

// Exists reports whether a row with the given id is present.
func (c *Client) Exists(ctx context.Context, id string, isDraft bool) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, collection(isDraft))
	var found bool
	if err := c.db.QueryRowContext(ctx, query, id).Scan(&found); err != nil {
		return false, classify("exists "+collection(isDraft), err)
	}
	return found, nil
}

// List returns the whole collection, newest last_modified first.
func (c *Client) List(ctx context.Context, isDraft bool) ([]models.FormRecord, error) {
	query := fmt.Sprintf(`SELECT id, payload, encrypted%s FROM %s ORDER BY last_modified DESC`,
		syncedCols(isDraft), collection(isDraft))
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("list "+collection(isDraft), err)
	}
	defer rows.Close()

	var result []models.FormRecord
	for rows.Next() {
		var id, payload string
		var encrypted bool
		var synced sql.NullBool
		var syncedAt sql.NullTime

		dest := []any{&id, &payload, &encrypted}
		if !isDraft {
			dest = append(dest, &synced, &syncedAt)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		var rec models.FormRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record payload: %w", err)
		}
		rec.ID = models.RemoteID(id)
		rec.Encrypted = encrypted
		if !isDraft {
			rec.Synced = synced.Valid && synced.Bool
			if syncedAt.Valid {
				rec.SyncedAt = syncedAt.Time
			}
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list "+collection(isDraft), err)
	}
	return result, nil
}

// Delete removes a row by id; a missing row is common.ErrNotFound.
func (c *Client) Delete(ctx context.Context, id string, isDraft bool) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, collection(isDraft))
	res, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return classify("delete "+collection(isDraft), err)
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

func syncedCols(isDraft bool) string {
	if isDraft {
		return ""
	}
	return ", synced, synced_at"
}
