package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/julienbonastre/ebay-listing-publisher/internal/ebay"
	"github.com/julienbonastre/ebay-listing-publisher/internal/publisher"
)

// Batch statuses
const (
	BatchRunning = "running"
	BatchSuccess = "success"
	BatchPartial = "partial"
	BatchFailed  = "failed"
)

// PublishBatch is a recorded publish run
type PublishBatch struct {
	BatchID     string     `json:"batchId"`
	Status      string     `json:"status"`
	DraftCount  int        `json:"draftCount"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// PublishRecord is a recorded draft outcome
type PublishRecord struct {
	ID        int64                    `json:"id"`
	BatchID   string                   `json:"batchId"`
	Outcome   publisher.PublishOutcome `json:"outcome"`
	CreatedAt time.Time                `json:"createdAt"`
}

// HistoryRecorder records publish batches. It implements publisher.Recorder.
type HistoryRecorder struct {
	db  *DB
	now func() time.Time
}

// NewHistoryRecorder creates a recorder on db
func NewHistoryRecorder(db *DB) *HistoryRecorder {
	return &HistoryRecorder{db: db, now: time.Now}
}

// StartBatch creates a running batch record
func (h *HistoryRecorder) StartBatch(ctx context.Context, batchID string, size int) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO publish_batches (batch_id, status, draft_count, started_at)
		VALUES (?, ?, ?, ?)
	`, batchID, BatchRunning, size, h.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create publish batch: %w", err)
	}
	return nil
}

// RecordOutcome stores one draft outcome
func (h *HistoryRecorder) RecordOutcome(ctx context.Context, batchID string, o publisher.PublishOutcome) error {
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO publish_history (batch_id, sku, success, step, offer_id, listing_id,
			error_message, marketplace_error_id, error_kind, inventory_sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, batchID, o.SKU, o.Success, string(o.Step), o.OfferID, o.ListingID,
		o.ErrorMessage, o.MarketplaceErrorID, string(o.ErrorKind), o.InventorySent, h.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", o.SKU, err)
	}
	return nil
}

// FinishBatch marks a batch complete
func (h *HistoryRecorder) FinishBatch(ctx context.Context, batchID string, succeeded, failed int) error {
	status := BatchSuccess
	switch {
	case succeeded == 0 && failed > 0:
		status = BatchFailed
	case failed > 0:
		status = BatchPartial
	}

	_, err := h.db.ExecContext(ctx, `
		UPDATE publish_batches
		SET status = ?, succeeded = ?, failed = ?, completed_at = ?
		WHERE batch_id = ?
	`, status, succeeded, failed, h.now().UTC(), batchID)
	if err != nil {
		return fmt.Errorf("failed to complete publish batch: %w", err)
	}
	return nil
}

// GetBatch returns a batch, or nil if it does not exist
func (h *HistoryRecorder) GetBatch(ctx context.Context, batchID string) (*PublishBatch, error) {
	var b PublishBatch
	var completed sql.NullTime
	err := h.db.QueryRowContext(ctx, `
		SELECT batch_id, status, draft_count, succeeded, failed, started_at, completed_at
		FROM publish_batches
		WHERE batch_id = ?
	`, batchID).Scan(&b.BatchID, &b.Status, &b.DraftCount, &b.Succeeded, &b.Failed, &b.StartedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		b.CompletedAt = &completed.Time
	}
	return &b, nil
}

// GetHistory returns the most recent outcomes, newest first. An empty sku
// returns outcomes for all SKUs.
func (h *HistoryRecorder) GetHistory(ctx context.Context, sku string, limit int) ([]PublishRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, batch_id, sku, success, step, offer_id, listing_id,
		       error_message, marketplace_error_id, error_kind, inventory_sent, created_at
		FROM publish_history
	`
	args := []interface{}{}
	if sku != "" {
		query += ` WHERE sku = ?`
		args = append(args, sku)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PublishRecord
	for rows.Next() {
		var r PublishRecord
		var step, kind string
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Outcome.SKU, &r.Outcome.Success, &step,
			&r.Outcome.OfferID, &r.Outcome.ListingID, &r.Outcome.ErrorMessage,
			&r.Outcome.MarketplaceErrorID, &kind, &r.Outcome.InventorySent, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Outcome.Step = publisher.Step(step)
		r.Outcome.ErrorKind = ebay.Kind(kind)
		records = append(records, r)
	}
	return records, rows.Err()
}
