package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/sabaipics/face-indexer/internal/infra/storage"
)

// EmbeddingRepo implements storage.EmbeddingRepository on a pgvector
// column. Used only by the self-hosted provider; the cloud provider keeps
// its vectors on its own side.
type EmbeddingRepo struct {
	db *sqlx.DB
}

// NewEmbeddingRepo creates an embedding repository on the shared
// connection.
func NewEmbeddingRepo(db *DB) *EmbeddingRepo {
	return &EmbeddingRepo{db: db.DB}
}

// Insert stores face vectors for an event.
func (r *EmbeddingRepo) Insert(ctx context.Context, eventID string, embeddings []storage.FaceEmbedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	const query = `
		INSERT INTO face_embeddings (face_id, photo_id, event_id, embedding, created_at)
		VALUES ($1, $2, $3, $4::vector, NOW())
		ON CONFLICT (face_id) DO NOTHING
	`
	for _, e := range embeddings {
		if _, err := r.db.ExecContext(ctx, query,
			e.FaceID, e.PhotoID, eventID, vectorLiteral(e.Vector),
		); err != nil {
			return fmt.Errorf("insert embedding %s: %w", e.FaceID, err)
		}
	}
	return nil
}

// Search returns the event's nearest faces by cosine distance, best first.
func (r *EmbeddingRepo) Search(ctx context.Context, eventID string, vector []float32, limit int) ([]storage.EmbeddingMatch, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT photo_id, face_id, 1 - (embedding <=> $2::vector) AS similarity
		FROM face_embeddings
		WHERE event_id = $1
		ORDER BY embedding <=> $2::vector
		LIMIT $3
	`, eventID, vectorLiteral(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("search embeddings: %w", err)
	}
	defer rows.Close()

	var matches []storage.EmbeddingMatch
	for rows.Next() {
		var m storage.EmbeddingMatch
		if err := rows.Scan(&m.PhotoID, &m.FaceID, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan embedding match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteByEvent drops every vector of a torn-down event.
func (r *EmbeddingRepo) DeleteByEvent(ctx context.Context, eventID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM face_embeddings WHERE event_id = $1`, eventID,
	); err != nil {
		return fmt.Errorf("delete embeddings: %w", err)
	}
	return nil
}

// vectorLiteral renders a pgvector input literal: '[0.1,0.2,...]'.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
