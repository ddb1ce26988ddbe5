package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Chunk is one embedded piece of a document, ready for insertion.
type Chunk struct {
	Content   string
	Index     int
	Metadata  map[string]string
	Embedding []float32
}

// SearchResult is one retrieved chunk with its distance to the query.
// Distance is cosine distance: lower is closer.
type SearchResult struct {
	DocumentID    uuid.UUID
	DocumentTitle string
	Content       string
	Index         int
	Metadata      map[string]string
	Distance      float64
}

// Chunks reads and writes document chunk rows.
type Chunks struct {
	db *pgxpool.Pool
}

// NewChunks creates a chunk store over the given pool.
func NewChunks(db *pgxpool.Pool) *Chunks {
	return &Chunks{db: db}
}

// InsertCompleted writes all chunks of a document and marks the document
// completed in one transaction. The recorded provider and model always match
// the vectors on disk, because both land or neither does. Any chunks from an
// earlier run are replaced.
func (s *Chunks) InsertCompleted(ctx context.Context, documentID, workspaceID uuid.UUID,
	provider, model string, dim int, chunks []Chunk) error {

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("inserting chunks for document %s: %w", documentID, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clearing chunks of document %s: %w", documentID, err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata of chunk %d: %w", c.Index, err)
		}
		batch.Queue(`
			INSERT INTO document_chunks
				(document_id, workspace_id, content, chunk_index,
				 chunk_metadata, embedding, embedding_dim)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			documentID, workspaceID, c.Content, c.Index,
			meta, pgvector.NewVector(c.Embedding), dim,
		)
	}

	if batch.Len() > 0 {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return fmt.Errorf("inserting chunk %d of document %s: %w", i, documentID, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("inserting chunks for document %s: %w", documentID, err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE documents
		SET status = $1, embedding_provider = $2, embedding_model = $3,
		    error_message = NULL
		WHERE id = $4`,
		StatusCompleted, provider, model, documentID,
	)
	if err != nil {
		return fmt.Errorf("completing document %s: %w", documentID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("inserting chunks for document %s: %w", documentID, err)
	}
	return nil
}

// Search returns the workspace's chunks closest to the query vector, ordered
// by ascending cosine distance. Only chunks whose stored width equals dim are
// compared; vectors of other widths are invisible to this query.
func (s *Chunks) Search(ctx context.Context, workspaceID uuid.UUID,
	query []float32, dim, limit int) ([]SearchResult, error) {

	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT c.document_id, d.title, c.content, c.chunk_index,
		       c.chunk_metadata, c.embedding <=> $1 AS distance
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.workspace_id = $2 AND c.embedding_dim = $3
		ORDER BY distance
		LIMIT $4`,
		pgvector.NewVector(query), workspaceID, dim, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var meta []byte
		if err := rows.Scan(&r.DocumentID, &r.DocumentTitle, &r.Content,
			&r.Index, &meta, &r.Distance); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, fmt.Errorf("decoding chunk metadata: %w", err)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching workspace %s: %w", workspaceID, err)
	}
	return results, nil
}

// CountByWorkspace returns how many chunks the workspace holds in total.
func (s *Chunks) CountByWorkspace(ctx context.Context, workspaceID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM document_chunks WHERE workspace_id = $1`,
		workspaceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks for workspace %s: %w", workspaceID, err)
	}
	return n, nil
}

// CountByDimension returns how many of the workspace's chunks are stored at
// the given vector width.
func (s *Chunks) CountByDimension(ctx context.Context, workspaceID uuid.UUID, dim int) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM document_chunks
		WHERE workspace_id = $1 AND embedding_dim = $2`,
		workspaceID, dim).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks for workspace %s: %w", workspaceID, err)
	}
	return n, nil
}
