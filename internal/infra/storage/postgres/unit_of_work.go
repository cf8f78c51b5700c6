package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sabaipics/face-indexer/internal/core/domain"
	"github.com/sabaipics/face-indexer/internal/infra/storage"
)

// UnitOfWork bundles the per-photo success writes into a single database
// transaction. Each unit holds a freshly acquired transaction; units are
// never shared across photos.
type UnitOfWork struct {
	tx *sql.Tx
}

// NewUnitOfWork opens a transaction for one atomic "insert faces + flip
// photo status" unit.
func (d *DB) NewUnitOfWork(ctx context.Context) (storage.UnitOfWork, error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times and
// after Commit.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// InsertFaces saves the photo's face rows inside the transaction.
// Redelivered jobs re-inserting the same (photo, external face) pair are
// absorbed by the conflict target, keeping terminal state idempotent.
func (u *UnitOfWork) InsertFaces(ctx context.Context, faces []domain.Face) error {
	if len(faces) == 0 {
		return nil
	}

	const query = `
		INSERT INTO faces (id, photo_id, external_face_id,
		                   bbox_width, bbox_height, bbox_left, bbox_top,
		                   confidence, raw_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (photo_id, external_face_id) DO NOTHING
	`
	for _, f := range faces {
		_, err := u.tx.ExecContext(ctx, query,
			f.ID, f.PhotoID, f.ExternalFaceID,
			f.BoundingBox.Width, f.BoundingBox.Height,
			f.BoundingBox.Left, f.BoundingBox.Top,
			f.Confidence, []byte(f.RawResponse),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert face %s: %w", f.ExternalFaceID, storage.ErrAlreadyApplied)
			}
			return fmt.Errorf("insert face %s: %w", f.ExternalFaceID, err)
		}
	}
	return nil
}

// MarkPhotoIndexed flips the photo to indexed inside the transaction,
// conditioned on the current status so a redelivery cannot double-apply
// or regress a terminal state.
func (u *UnitOfWork) MarkPhotoIndexed(ctx context.Context, photoID string, faceCount int, indexedAt time.Time) error {
	_, err := u.tx.ExecContext(ctx, `
		UPDATE photos
		SET status = 'indexed', face_count = $2, indexed_at = $3,
		    retryable = NULL, error_name = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> 'indexed'
	`, photoID, faceCount, indexedAt)
	if err != nil {
		return fmt.Errorf("mark photo indexed: %w", err)
	}
	return nil
}
