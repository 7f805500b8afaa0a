package store

import (
	"context"
	"fmt"

	"fulfillment-service/internal/models"
)

// RecordWebhook stores a delivery and reports whether an earlier delivery of the same
// event has already been processed.
func (s *Store) RecordWebhook(ctx context.Context, rec *models.WebhookRecord) (bool, error) {
	query := `
		INSERT INTO webhook_records (source, event_id, event_type, payload, signature_valid)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	payload := rec.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}

	err := s.db.QueryRowxContext(ctx, query,
		rec.Source, rec.EventID, rec.EventType, string(payload), rec.SignatureValid,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record webhook: %w", err)
	}

	var duplicate bool
	err = s.db.GetContext(ctx, &duplicate, `
		SELECT EXISTS(
			SELECT 1 FROM webhook_records
			WHERE source = $1 AND event_id = $2 AND processed AND id <> $3
		)`, rec.Source, rec.EventID, rec.ID)
	return duplicate, err
}

// MarkWebhookProcessed records the outcome of a delivery. A delivery that failed keeps its
// error and stays unprocessed, so a redelivery of the same event is applied again.
func (s *Store) MarkWebhookProcessed(ctx context.Context, id int64, processingError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_records
		SET processed = ($1 = ''), processing_error = $1, processed_at = NOW()
		WHERE id = $2`, processingError, id)
	return err
}
