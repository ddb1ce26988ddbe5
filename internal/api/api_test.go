package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/atlaslearn/atlas/internal/rag"
	"github.com/atlaslearn/atlas/internal/store"
)

type mockDocuments struct {
	created   []*store.Document
	deleteErr error
	deleted   []uuid.UUID
	filePath  string

	reprocessed []uuid.UUID
	list        []store.Document
}

func (m *mockDocuments) Create(_ context.Context, doc *store.Document) error {
	m.created = append(m.created, doc)
	return nil
}

func (m *mockDocuments) Get(_ context.Context, id uuid.UUID) (*store.Document, error) {
	return nil, store.ErrDocumentNotFound
}

func (m *mockDocuments) ListByWorkspace(context.Context, uuid.UUID) ([]store.Document, error) {
	return m.list, nil
}

func (m *mockDocuments) Reprocess(_ context.Context, id uuid.UUID) error {
	m.reprocessed = append(m.reprocessed, id)
	return nil
}

func (m *mockDocuments) Delete(_ context.Context, id uuid.UUID) (string, error) {
	if m.deleteErr != nil {
		return "", m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return m.filePath, nil
}

type mockEnqueuer struct {
	enqueued []uuid.UUID
}

func (m *mockEnqueuer) Enqueue(id uuid.UUID) error {
	m.enqueued = append(m.enqueued, id)
	return nil
}

type mockSearcher struct {
	results []store.SearchResult
	err     error

	called   bool
	gotQuery string
	gotK     int
}

func (m *mockSearcher) Search(_ context.Context, query string, _ uuid.UUID, k int) ([]store.SearchResult, error) {
	m.called = true
	m.gotQuery = query
	m.gotK = k
	return m.results, m.err
}

func newTestServer(t *testing.T) (*mockDocuments, *mockEnqueuer, *mockSearcher, http.Handler) {
	t.Helper()
	docs := &mockDocuments{}
	enq := &mockEnqueuer{}
	search := &mockSearcher{}
	srv := NewServer(docs, enq, search, t.TempDir(), nil)
	return docs, enq, search, srv.Routes([]string{"*"})
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestUpload_RejectsUnsupportedExtensionBeforeAnyRow(t *testing.T) {
	docs, enq, _, handler := newTestServer(t)

	body, contentType := multipartBody(t, "notes.txt", "plain text")
	req := httptest.NewRequest(http.MethodPost,
		"/api/workspaces/"+uuid.NewString()+"/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(docs.created) != 0 {
		t.Error("document row created for an unsupported extension")
	}
	if len(enq.enqueued) != 0 {
		t.Error("job enqueued for an unsupported extension")
	}
}

func TestUpload_AcceptsPDF(t *testing.T) {
	docs, enq, _, handler := newTestServer(t)
	ws := uuid.New()

	body, contentType := multipartBody(t, "Mechanics Lecture.pdf", "%PDF-1.4 fake")
	req := httptest.NewRequest(http.MethodPost,
		"/api/workspaces/"+ws.String()+"/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(docs.created) != 1 {
		t.Fatalf("created %d documents", len(docs.created))
	}

	doc := docs.created[0]
	if doc.WorkspaceID != ws || doc.FileType != "pdf" {
		t.Errorf("document = %+v", doc)
	}
	if doc.Title != "Mechanics Lecture" {
		t.Errorf("title = %q", doc.Title)
	}
	if _, err := os.Stat(doc.FilePath); err != nil {
		t.Errorf("uploaded file not stored: %v", err)
	}
	if len(enq.enqueued) != 1 || enq.enqueued[0] != doc.ID {
		t.Errorf("enqueued = %v", enq.enqueued)
	}
}

func TestList(t *testing.T) {
	docs, _, _, handler := newTestServer(t)
	ws := uuid.New()
	docs.list = []store.Document{
		{ID: uuid.New(), WorkspaceID: ws, Title: "alpha", FileType: "pdf", Status: store.StatusCompleted},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/workspaces/"+ws.String()+"/documents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out []documentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Title != "alpha" || out[0].Status != "completed" {
		t.Errorf("response = %+v", out)
	}
}

func TestDelete(t *testing.T) {
	docs, _, _, handler := newTestServer(t)
	id := uuid.New()
	docs.filePath = "/nonexistent/file.pdf"

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+id.String()+"/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(docs.deleted) != 1 || docs.deleted[0] != id {
		t.Errorf("deleted = %v", docs.deleted)
	}
}

func TestDelete_NotFound(t *testing.T) {
	docs, _, _, handler := newTestServer(t)
	docs.deleteErr = fmt.Errorf("%w: x", store.ErrDocumentNotFound)

	req := httptest.NewRequest(http.MethodDelete, "/api/documents/"+uuid.NewString()+"/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReprocess(t *testing.T) {
	docs, enq, _, handler := newTestServer(t)
	id := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/api/documents/"+id.String()+"/reprocess", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(docs.reprocessed) != 1 || docs.reprocessed[0] != id {
		t.Errorf("reprocessed = %v", docs.reprocessed)
	}
	if len(enq.enqueued) != 1 || enq.enqueued[0] != id {
		t.Errorf("enqueued = %v", enq.enqueued)
	}
}

func searchReq(t *testing.T, ws uuid.UUID, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost,
		"/api/workspaces/"+ws.String()+"/search", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSearch_DefaultK(t *testing.T) {
	_, _, search, handler := newTestServer(t)
	search.results = []store.SearchResult{{Content: "hit", Distance: 0.1}}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, searchReq(t, uuid.New(), `{"query":"newton"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if search.gotK != rag.DefaultTopK {
		t.Errorf("k = %d, want default %d", search.gotK, rag.DefaultTopK)
	}
	if search.gotQuery != "newton" {
		t.Errorf("query = %q", search.gotQuery)
	}
}

// An explicit zero is a request for no results, not an omitted field, so it
// must not be promoted to the default.
func TestSearch_ExplicitZeroK(t *testing.T) {
	_, _, search, handler := newTestServer(t)
	search.results = []store.SearchResult{{Content: "hit", Distance: 0.1}}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, searchReq(t, uuid.New(), `{"query":"newton","k":0}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !search.called {
		t.Fatal("searcher never called")
	}
	if search.gotK != 0 {
		t.Errorf("k = %d, want 0 passed through", search.gotK)
	}
}

func TestSearch_BlankQuery(t *testing.T) {
	_, _, _, handler := newTestServer(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, searchReq(t, uuid.New(), `{"query":"  "}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSearch_GuardErrorsMapTo409(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"empty workspace", rag.ErrWorkspaceEmpty},
		{"still processing", rag.ErrDocumentsNotReady},
		{"mismatch", &rag.MismatchError{Provider: "openai", Model: "text-embedding-3-small", Documents: []string{"stale"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, search, handler := newTestServer(t)
			search.err = tt.err

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, searchReq(t, uuid.New(), `{"query":"newton"}`))

			if rec.Code != http.StatusConflict {
				t.Fatalf("status = %d, want 409", rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body["error"] == "" {
				t.Error("409 response has no error message")
			}
		})
	}
}
