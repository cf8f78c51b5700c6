package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sabaipics/face-indexer/internal/core/domain"
	"github.com/sabaipics/face-indexer/internal/infra/storage"
)

// EventRepo implements storage.EventRepository on the shared connection.
type EventRepo struct {
	db *sqlx.DB
}

// GetByID retrieves a live (non-deleted) event.
func (r *EventRepo) GetByID(ctx context.Context, eventID string) (*domain.Event, error) {
	var row struct {
		ID               string         `db:"id"`
		FaceCollectionID sql.NullString `db:"face_collection_id"`
		DeletedAt        sql.NullTime   `db:"deleted_at"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT id, face_collection_id, deleted_at
		FROM events
		WHERE id = $1 AND deleted_at IS NULL
	`, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}

	ev := &domain.Event{ID: row.ID}
	if row.FaceCollectionID.Valid {
		v := row.FaceCollectionID.String
		ev.FaceCollectionID = &v
	}
	if row.DeletedAt.Valid {
		v := row.DeletedAt.Time
		ev.DeletedAt = &v
	}
	return ev, nil
}

// Exists reports whether the event row is present at all, soft-deleted
// or not. Cleanup uses this to tell "torn down" apart from "never
// existed".
func (r *EventRepo) Exists(ctx context.Context, eventID string) (bool, error) {
	var found bool
	err := r.db.GetContext(ctx, &found, `
		SELECT EXISTS (SELECT 1 FROM events WHERE id = $1)
	`, eventID)
	if err != nil {
		return false, fmt.Errorf("check event exists: %w", err)
	}
	return found, nil
}

// ClaimCollection records collectionID on the event unless another worker
// got there first, and returns the ID that actually stuck.
func (r *EventRepo) ClaimCollection(ctx context.Context, eventID, collectionID string) (string, error) {
	var winner string
	err := r.db.GetContext(ctx, &winner, `
		UPDATE events
		SET face_collection_id = COALESCE(face_collection_id, $2), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING face_collection_id
	`, eventID, collectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrEventNotFound
	}
	if err != nil {
		return "", fmt.Errorf("claim collection: %w", err)
	}
	return winner, nil
}
