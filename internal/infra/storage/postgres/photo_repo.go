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

// PhotoRepo implements storage.PhotoRepository on the shared connection.
type PhotoRepo struct {
	db *sqlx.DB
}

type photoRow struct {
	ID         string         `db:"id"`
	EventID    string         `db:"event_id"`
	StorageKey string         `db:"storage_key"`
	Status     string         `db:"status"`
	Retryable  sql.NullBool   `db:"retryable"`
	ErrorName  sql.NullString `db:"error_name"`
	FaceCount  int            `db:"face_count"`
	IndexedAt  sql.NullTime   `db:"indexed_at"`
	DeletedAt  sql.NullTime   `db:"deleted_at"`
}

func (r photoRow) toDomain() *domain.Photo {
	p := &domain.Photo{
		ID:         r.ID,
		EventID:    r.EventID,
		StorageKey: r.StorageKey,
		Status:     domain.PhotoStatus(r.Status),
		FaceCount:  r.FaceCount,
	}
	if r.Retryable.Valid {
		v := r.Retryable.Bool
		p.Retryable = &v
	}
	if r.ErrorName.Valid {
		v := r.ErrorName.String
		p.ErrorName = &v
	}
	if r.IndexedAt.Valid {
		v := r.IndexedAt.Time
		p.IndexedAt = &v
	}
	if r.DeletedAt.Valid {
		v := r.DeletedAt.Time
		p.DeletedAt = &v
	}
	return p
}

// GetByID retrieves a photo row.
func (r *PhotoRepo) GetByID(ctx context.Context, photoID string) (*domain.Photo, error) {
	var row photoRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, event_id, storage_key, status, retryable, error_name,
		       face_count, indexed_at, deleted_at
		FROM photos
		WHERE id = $1
	`, photoID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrPhotoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return row.toDomain(), nil
}

// MarkRetrying records a non-terminal failure on the photo.
func (r *PhotoRepo) MarkRetrying(ctx context.Context, photoID, errorName string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE photos
		SET retryable = TRUE, error_name = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('indexed', 'failed')
	`, photoID, errorName)
	if err != nil {
		return fmt.Errorf("mark photo retrying: %w", err)
	}
	return nil
}

// MarkFailed moves the photo to its terminal failed state. A photo that
// already reached indexed is left alone.
func (r *PhotoRepo) MarkFailed(ctx context.Context, photoID, errorName string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE photos
		SET status = 'failed', retryable = FALSE, error_name = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'indexed'
	`, photoID, errorName)
	if err != nil {
		return fmt.Errorf("mark photo failed: %w", err)
	}
	return nil
}

// SoftDeleteByEvent stamps deleted_at on every live photo of the event.
func (r *PhotoRepo) SoftDeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE photos
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE event_id = $1 AND deleted_at IS NULL
	`, eventID)
	if err != nil {
		return 0, fmt.Errorf("soft delete photos: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("soft delete photos: %w", err)
	}
	return n, nil
}
