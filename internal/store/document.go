package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is a document lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Document is one uploaded file and its processing state. EmbeddingProvider
// and EmbeddingModel record what actually produced the stored chunks; they
// are empty until the first successful embedding run and survive a
// reprocess request until the next run overwrites them.
type Document struct {
	ID                uuid.UUID
	WorkspaceID       uuid.UUID
	Title             string
	FilePath          string
	FileType          string
	Status            Status
	ErrorMessage      string
	EmbeddingProvider string
	EmbeddingModel    string
	CreatedAt         time.Time
}

// Documents reads and writes document rows.
type Documents struct {
	db *pgxpool.Pool
}

// NewDocuments creates a document store over the given pool.
func NewDocuments(db *pgxpool.Pool) *Documents {
	return &Documents{db: db}
}

// Create inserts a new document in the pending state.
func (s *Documents) Create(ctx context.Context, doc *Document) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO documents (id, workspace_id, title, file_path, file_type, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.WorkspaceID, doc.Title, doc.FilePath, doc.FileType, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("creating document %s: %w", doc.ID, err)
	}
	doc.Status = StatusPending
	return nil
}

const documentColumns = `id, workspace_id, title, file_path, file_type, status,
	COALESCE(error_message, ''), COALESCE(embedding_provider, ''),
	COALESCE(embedding_model, ''), created_at`

func scanDocument(row pgx.Row) (*Document, error) {
	doc := &Document{}
	err := row.Scan(
		&doc.ID, &doc.WorkspaceID, &doc.Title, &doc.FilePath, &doc.FileType,
		&doc.Status, &doc.ErrorMessage, &doc.EmbeddingProvider,
		&doc.EmbeddingModel, &doc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Get loads one document by ID.
func (s *Documents) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", id, err)
	}
	return doc, nil
}

// ListByWorkspace returns a workspace's documents, newest first.
func (s *Documents) ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]Document, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE workspace_id = $1 ORDER BY created_at DESC, id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing documents for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing documents for workspace %s: %w", workspaceID, err)
	}
	return docs, nil
}

// Claim transitions a pending document to processing. The conditional
// UPDATE makes the claim exclusive: a second claimer gets ErrNotClaimable.
func (s *Documents) Claim(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents SET status = $1, error_message = NULL
		WHERE id = $2 AND status = $3`,
		StatusProcessing, id, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("claiming document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("claiming document %s: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return fmt.Errorf("%w: %s", ErrNotClaimable, id)
	}
	return nil
}

// MarkFailed records the failure message verbatim and moves the document to
// the failed state. The message is what the UI shows, so callers pass the
// user-actionable error text unmodified.
func (s *Documents) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents SET status = $1, error_message = $2 WHERE id = $3`,
		StatusFailed, message, id,
	)
	if err != nil {
		return fmt.Errorf("marking document %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return nil
}

// Reprocess deletes a document's chunks and returns it to pending so the
// next worker re-runs the pipeline. The recorded embedding provider and
// model stay in place until the rerun succeeds.
func (s *Documents) Reprocess(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reprocessing document %s: %w", id, err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM document_chunks WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("deleting chunks of document %s: %w", id, err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE documents SET status = $1, error_message = NULL WHERE id = $2`,
		StatusPending, id,
	)
	if err != nil {
		return fmt.Errorf("resetting document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reprocessing document %s: %w", id, err)
	}
	return nil
}

// Delete removes the document row; chunks go with it via ON DELETE CASCADE.
// It returns the stored file path so the caller can remove the file itself.
func (s *Documents) Delete(ctx context.Context, id uuid.UUID) (filePath string, err error) {
	err = s.db.QueryRow(ctx,
		`DELETE FROM documents WHERE id = $1 RETURNING file_path`, id).Scan(&filePath)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("deleting document %s: %w", id, err)
	}
	return filePath, nil
}

// CompletedProviders returns the distinct provider/model pairs recorded on a
// workspace's completed documents, with the titles that carry each pair.
// The retriever uses this to explain dimension mismatches by name.
func (s *Documents) CompletedProviders(ctx context.Context, workspaceID uuid.UUID) (map[string][]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT COALESCE(embedding_provider, ''), COALESCE(embedding_model, ''), title
		FROM documents
		WHERE workspace_id = $1 AND status = $2
		ORDER BY title`, workspaceID, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("listing completed providers for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var provider, model, title string
		if err := rows.Scan(&provider, &model, &title); err != nil {
			return nil, fmt.Errorf("scanning provider row: %w", err)
		}
		key := provider + "/" + model
		out[key] = append(out[key], title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing completed providers for workspace %s: %w", workspaceID, err)
	}
	return out, nil
}

// CountByStatus returns how many documents in the workspace are in each
// lifecycle state.
func (s *Documents) CountByStatus(ctx context.Context, workspaceID uuid.UUID) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `
		SELECT status, COUNT(*) FROM documents
		WHERE workspace_id = $1 GROUP BY status`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("counting documents for workspace %s: %w", workspaceID, err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var st Status
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		out[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counting documents for workspace %s: %w", workspaceID, err)
	}
	return out, nil
}
