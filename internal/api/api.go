// Package api is the thin HTTP boundary: request decoding, file handling,
// and status mapping. Business rules live in the core packages.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/atlaslearn/atlas/internal/ingest"
	"github.com/atlaslearn/atlas/internal/rag"
	"github.com/atlaslearn/atlas/internal/settings"
	"github.com/atlaslearn/atlas/internal/store"
)

// maxUploadBytes caps one uploaded file. Matches the original boundary's
// 50 MB ceiling.
const maxUploadBytes = 50 << 20

// DocumentStore is the slice of the document repository the handlers need.
type DocumentStore interface {
	Create(ctx context.Context, doc *store.Document) error
	Get(ctx context.Context, id uuid.UUID) (*store.Document, error)
	ListByWorkspace(ctx context.Context, workspaceID uuid.UUID) ([]store.Document, error)
	Reprocess(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) (string, error)
}

// Enqueuer hands a document to the background pool.
type Enqueuer interface {
	Enqueue(documentID uuid.UUID) error
}

// Searcher answers semantic queries over a workspace.
type Searcher interface {
	Search(ctx context.Context, query string, workspaceID uuid.UUID, k int) ([]store.SearchResult, error)
}

// Server holds handler dependencies.
type Server struct {
	documents  DocumentStore
	dispatcher Enqueuer
	searcher   Searcher
	storageDir string
	logger     *slog.Logger
}

// NewServer wires the handlers. logger may be nil.
func NewServer(documents DocumentStore, dispatcher Enqueuer, searcher Searcher,
	storageDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		documents:  documents,
		dispatcher: dispatcher,
		searcher:   searcher,
		storageDir: storageDir,
		logger:     logger,
	}
}

// Routes builds the HTTP mux.
func (s *Server) Routes(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/workspaces/{workspaceID}", func(r chi.Router) {
		r.Post("/documents", s.handleUpload)
		r.Get("/documents", s.handleList)
		r.Post("/search", s.handleSearch)
	})
	r.Route("/api/documents/{documentID}", func(r chi.Router) {
		r.Delete("/", s.handleDelete)
		r.Post("/reprocess", s.handleReprocess)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type documentResponse struct {
	ID                uuid.UUID `json:"id"`
	WorkspaceID       uuid.UUID `json:"workspace_id"`
	Title             string    `json:"title"`
	FileType          string    `json:"file_type"`
	Status            string    `json:"status"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	EmbeddingProvider string    `json:"embedding_provider,omitempty"`
	EmbeddingModel    string    `json:"embedding_model,omitempty"`
	CreatedAt         string    `json:"created_at"`
}

func toDocumentResponse(d store.Document) documentResponse {
	return documentResponse{
		ID:                d.ID,
		WorkspaceID:       d.WorkspaceID,
		Title:             d.Title,
		FileType:          d.FileType,
		Status:            string(d.Status),
		ErrorMessage:      d.ErrorMessage,
		EmbeddingProvider: d.EmbeddingProvider,
		EmbeddingModel:    d.EmbeddingModel,
		CreatedAt:         d.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// handleUpload validates the extension before any document row or job
// exists, stores the file, creates the pending document, and enqueues it.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := uuid.Parse(chi.URLParam(r, "workspaceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workspace id")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	fileType, err := ingest.DetectFileType(header.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	docID := uuid.New()
	path := filepath.Join(s.storageDir, workspaceID.String(),
		docID.String()+strings.ToLower(filepath.Ext(header.Filename)))
	if err := saveUpload(path, file); err != nil {
		s.logger.Error("storing upload", "error", err)
		writeError(w, http.StatusInternalServerError, "storing file failed")
		return
	}

	doc := &store.Document{
		ID:          docID,
		WorkspaceID: workspaceID,
		Title:       strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename)),
		FilePath:    path,
		FileType:    string(fileType),
	}
	if err := s.documents.Create(r.Context(), doc); err != nil {
		_ = os.Remove(path)
		s.writeStoreError(w, err)
		return
	}

	if err := s.dispatcher.Enqueue(docID); err != nil {
		// The document stays pending; a later reprocess can pick it up.
		s.logger.Warn("enqueue failed", "document_id", docID, "error", err)
	}

	writeJSON(w, http.StatusAccepted, toDocumentResponse(*doc))
}

func saveUpload(path string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return fmt.Errorf("writing file: %w", err)
	}
	return dst.Close()
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := uuid.Parse(chi.URLParam(r, "workspaceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workspace id")
		return
	}

	docs, err := s.documents.ListByWorkspace(r.Context(), workspaceID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	path, err := s.documents.Delete(r.Context(), documentID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("removing stored file", "path", path, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuid.Parse(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := s.documents.Reprocess(r.Context(), documentID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.dispatcher.Enqueue(documentID); err != nil {
		s.logger.Warn("enqueue failed", "document_id", documentID, "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

// K is a pointer so an absent field defaults while an explicit zero is
// honored as a request for no results.
type searchRequest struct {
	Query string `json:"query"`
	K     *int   `json:"k"`
}

type searchResult struct {
	DocumentID    uuid.UUID         `json:"document_id"`
	DocumentTitle string            `json:"document_title"`
	Content       string            `json:"content"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Distance      float64           `json:"distance"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	workspaceID, err := uuid.Parse(chi.URLParam(r, "workspaceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid workspace id")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	k := rag.DefaultTopK
	if req.K != nil {
		k = *req.K
	}

	results, err := s.searcher.Search(r.Context(), req.Query, workspaceID, k)
	if err != nil {
		s.writeSearchError(w, err)
		return
	}

	out := make([]searchResult, 0, len(results))
	for _, res := range results {
		out = append(out, searchResult{
			DocumentID:    res.DocumentID,
			DocumentTitle: res.DocumentTitle,
			Content:       res.Content,
			Metadata:      res.Metadata,
			Distance:      res.Distance,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// writeStoreError maps repository errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrDocumentNotFound),
		errors.Is(err, settings.ErrWorkspaceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error("store error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeSearchError additionally maps guard errors onto 409: the request is
// well-formed but the workspace is not ready for retrieval.
func (s *Server) writeSearchError(w http.ResponseWriter, err error) {
	var mismatch *rag.MismatchError
	switch {
	case errors.Is(err, rag.ErrWorkspaceEmpty),
		errors.Is(err, rag.ErrDocumentsNotReady),
		errors.As(err, &mismatch):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeStoreError(w, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
