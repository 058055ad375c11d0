package remote

import (
	"context"
	"fmt"

	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/common"
	"github.com/Johan-Potgieter-info/mia-consent-offline-form-50-sub000/internal/models"
)

// Enqueue records a submission that could not be delivered directly. The
// queue row is the durable trace of partial-failure state.
func (c *Client) Enqueue(ctx context.Context, item models.QueueItem) (int64, error) {
	query := `INSERT INTO sync_queue (form_data, region_code, retry_count, status, submission_endpoint, error_message)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	var id int64
	err := c.db.QueryRowContext(ctx, query,
		item.FormData, item.RegionCode, item.RetryCount, item.Status,
		item.SubmissionEndpoint, item.ErrorMessage).Scan(&id)
	if err != nil {
		return 0, classify("enqueue sync_queue", err)
	}
	return id, nil
}

// PendingQueue lists queued submissions still awaiting delivery, oldest
// first so replay preserves submission order.
func (c *Client) PendingQueue(ctx context.Context) ([]models.QueueItem, error) {
	query := `SELECT id, form_data, region_code, retry_count, status, submission_endpoint, COALESCE(error_message, ''), created_at
		FROM sync_queue WHERE status = $1 ORDER BY created_at ASC`
	rows, err := c.db.QueryContext(ctx, query, models.QueuePending)
	if err != nil {
		return nil, classify("list sync_queue", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		var item models.QueueItem
		if err := rows.Scan(&item.ID, &item.FormData, &item.RegionCode, &item.RetryCount,
			&item.Status, &item.SubmissionEndpoint, &item.ErrorMessage, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list sync_queue", err)
	}
	return items, nil
}

// BumpRetry increments the retry counter and records the latest error. Once
// a caller decides an item is beyond help it sets status to QueueFailed.
func (c *Client) BumpRetry(ctx context.Context, id int64, errMsg string, failed bool) error {
	status := models.QueuePending
	if failed {
		status = models.QueueFailed
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE sync_queue SET retry_count = retry_count + 1, error_message = $1, status = $2 WHERE id = $3`,
		errMsg, status, id)
	if err != nil {
		return classify("update sync_queue", err)
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

// RemoveQueued deletes a queue row after its submission was delivered.
func (c *Client) RemoveQueued(ctx context.Context, id int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = $1`, id)
	if err != nil {
		return classify("delete sync_queue", err)
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
