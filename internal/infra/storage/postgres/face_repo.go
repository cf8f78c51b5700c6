package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// FaceRepo implements storage.FaceRepository on the shared connection.
type FaceRepo struct {
	db *sqlx.DB
}

// CountByPhoto returns how many faces the photo has.
func (r *FaceRepo) CountByPhoto(ctx context.Context, photoID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT count(*) FROM faces WHERE photo_id = $1`, photoID)
	if err != nil {
		return 0, fmt.Errorf("count faces: %w", err)
	}
	return count, nil
}
