package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/atlaslearn/atlas/internal/embed"
	"github.com/atlaslearn/atlas/internal/ingest"
	"github.com/atlaslearn/atlas/internal/pipeline"
	"github.com/atlaslearn/atlas/internal/settings"
	"github.com/atlaslearn/atlas/internal/store"
	"github.com/atlaslearn/atlas/internal/testutil"
)

type mockDocuments struct {
	doc *store.Document

	claimErr   error
	claimed    []uuid.UUID
	failedID   uuid.UUID
	failedMsg  string
	failCalled bool
}

func (m *mockDocuments) Get(_ context.Context, id uuid.UUID) (*store.Document, error) {
	if m.doc == nil || m.doc.ID != id {
		return nil, store.ErrDocumentNotFound
	}
	return m.doc, nil
}

func (m *mockDocuments) Claim(_ context.Context, id uuid.UUID) error {
	if m.claimErr != nil {
		return m.claimErr
	}
	m.claimed = append(m.claimed, id)
	return nil
}

func (m *mockDocuments) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	// A real store refuses work on a dead context.
	if err := ctx.Err(); err != nil {
		return err
	}
	m.failCalled = true
	m.failedID = id
	m.failedMsg = message
	return nil
}

type mockChunkWriter struct {
	err error

	documentID uuid.UUID
	provider   string
	model      string
	dim        int
	chunks     []store.Chunk
	called     bool
}

func (m *mockChunkWriter) InsertCompleted(_ context.Context, documentID, _ uuid.UUID,
	provider, model string, dim int, chunks []store.Chunk) error {
	m.called = true
	m.documentID = documentID
	m.provider = provider
	m.model = model
	m.dim = dim
	m.chunks = chunks
	return m.err
}

type mockSettings struct {
	cfg settings.Resolved
	err error
}

func (m *mockSettings) ResolveForWorkspace(context.Context, *uuid.UUID) (settings.Resolved, error) {
	return m.cfg, m.err
}

type mockResolver struct {
	res *embed.Resolution
	err error
}

func (m *mockResolver) Resolve(context.Context, settings.Resolved) (*embed.Resolution, error) {
	return m.res, m.err
}

type mockExtractor struct {
	pages []ingest.Page
	err   error
	hook  func()
}

func (m *mockExtractor) Extract(ctx context.Context, _ string, _ ingest.FileType, _ settings.Resolved) ([]ingest.Page, error) {
	if m.hook != nil {
		m.hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.pages, m.err
}

func fixture(t *testing.T) (*mockDocuments, *mockChunkWriter, *mockResolver, *mockExtractor, *pipeline.Processor) {
	t.Helper()

	docs := &mockDocuments{doc: &store.Document{
		ID:          uuid.New(),
		WorkspaceID: uuid.New(),
		Title:       "Classical Mechanics",
		FilePath:    "/data/mechanics.pdf",
		FileType:    "pdf",
	}}
	writer := &mockChunkWriter{}
	resolver := &mockResolver{res: &embed.Resolution{
		Embedder:  &testutil.FakeEmbedder{Dim: 384},
		Dimension: 384,
		Provider:  "ollama",
		Model:     "nomic-embed-text",
	}}
	extractor := &mockExtractor{pages: []ingest.Page{
		{Text: "# Chapter 1\nNewton's laws of motion.", Number: 1},
		{Text: "plain page with no heading", Number: 2},
	}}

	proc := pipeline.NewProcessor(docs, writer, &mockSettings{}, resolver, extractor, nil)
	return docs, writer, resolver, extractor, proc
}

func TestProcessor_Completes(t *testing.T) {
	docs, writer, _, _, proc := fixture(t)

	if err := proc.Process(context.Background(), docs.doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if docs.failCalled {
		t.Fatalf("document marked failed: %q", docs.failedMsg)
	}
	if !writer.called {
		t.Fatal("chunks never written")
	}
	if writer.provider != "ollama" || writer.model != "nomic-embed-text" || writer.dim != 384 {
		t.Errorf("recorded %s/%s at %d", writer.provider, writer.model, writer.dim)
	}
	if len(writer.chunks) == 0 {
		t.Fatal("no chunks produced")
	}

	for i, c := range writer.chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d; indexes must be contiguous", i, c.Index)
		}
		if len(c.Embedding) != 384 {
			t.Errorf("chunk %d embedding width = %d", i, len(c.Embedding))
		}
		if !strings.HasPrefix(c.Content, "Context: ") {
			t.Errorf("chunk %d missing context prefix: %q", i, c.Content)
		}
	}
}

func TestProcessor_ContextPrefix(t *testing.T) {
	docs, writer, _, extractor, proc := fixture(t)
	extractor.pages = []ingest.Page{
		{Text: "# Physics\n## Forces\nNewton's laws of motion.", Number: 3},
		{Text: "an unheaded passage", Number: 4},
	}

	if err := proc.Process(context.Background(), docs.doc.ID); err != nil {
		t.Fatal(err)
	}
	if len(writer.chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(writer.chunks))
	}

	headed := writer.chunks[0]
	if !strings.HasPrefix(headed.Content, "Context: Physics > Forces (Page 3)\n\n") {
		t.Errorf("headed prefix = %q", headed.Content)
	}
	if headed.Metadata["page"] != "3" {
		t.Errorf("page metadata = %q", headed.Metadata["page"])
	}
	if headed.Metadata["source"] != "Classical Mechanics" {
		t.Errorf("source metadata = %q", headed.Metadata["source"])
	}
	if headed.Metadata["Header 2"] != "Forces" {
		t.Errorf("heading metadata = %v", headed.Metadata)
	}

	// No heading on the page falls back to the document title.
	unheaded := writer.chunks[1]
	if !strings.HasPrefix(unheaded.Content, "Context: Classical Mechanics (Page 4)\n\n") {
		t.Errorf("unheaded prefix = %q", unheaded.Content)
	}
}

func TestProcessor_ClaimLossReturnsError(t *testing.T) {
	docs, writer, _, _, proc := fixture(t)
	docs.claimErr = store.ErrNotClaimable

	err := proc.Process(context.Background(), docs.doc.ID)
	if !errors.Is(err, store.ErrNotClaimable) {
		t.Fatalf("err = %v, want ErrNotClaimable", err)
	}
	if writer.called || docs.failCalled {
		t.Error("claim loss must not touch the document")
	}
}

func TestProcessor_ExtractionFailureRecorded(t *testing.T) {
	docs, writer, _, extractor, proc := fixture(t)
	extractor.err = ingest.ErrVisionDisabled

	if err := proc.Process(context.Background(), docs.doc.ID); err != nil {
		t.Fatalf("pipeline errors must not escape Process: %v", err)
	}

	if !docs.failCalled {
		t.Fatal("document not marked failed")
	}
	// The message lands verbatim so the UI can show it unchanged.
	if docs.failedMsg != ingest.ErrVisionDisabled.Error() {
		t.Errorf("failure message = %q", docs.failedMsg)
	}
	if writer.called {
		t.Error("chunks written despite extraction failure")
	}
}

// A shutdown signal cancels the worker context mid-document. The failure
// must still be recorded or the document is stuck in processing forever.
func TestProcessor_ShutdownMidPipelineRecordsFailure(t *testing.T) {
	docs, writer, _, extractor, proc := fixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	extractor.hook = cancel

	if err := proc.Process(ctx, docs.doc.ID); err != nil {
		t.Fatalf("pipeline errors must not escape Process: %v", err)
	}

	if !docs.failCalled {
		t.Fatal("canceled pipeline left the document in processing")
	}
	if docs.failedMsg != context.Canceled.Error() {
		t.Errorf("failure message = %q", docs.failedMsg)
	}
	if writer.called {
		t.Error("chunks written after cancellation")
	}
}

func TestProcessor_ResolutionFailureRecorded(t *testing.T) {
	docs, writer, resolver, _, proc := fixture(t)
	resolver.res = nil
	resolver.err = embed.ErrMissingAPIKey

	if err := proc.Process(context.Background(), docs.doc.ID); err != nil {
		t.Fatal(err)
	}
	if !docs.failCalled || !strings.Contains(docs.failedMsg, embed.ErrMissingAPIKey.Error()) {
		t.Errorf("failure message = %q", docs.failedMsg)
	}
	if writer.called {
		t.Error("chunks written despite resolution failure")
	}
}

func TestProcessor_EmbeddingFailureLeavesZeroChunks(t *testing.T) {
	docs, writer, resolver, _, proc := fixture(t)
	resolver.res.Embedder = &testutil.FakeEmbedder{Dim: 384, Err: errors.New("backend unreachable")}

	if err := proc.Process(context.Background(), docs.doc.ID); err != nil {
		t.Fatal(err)
	}
	if !docs.failCalled || !strings.Contains(docs.failedMsg, "backend unreachable") {
		t.Errorf("failure message = %q", docs.failedMsg)
	}
	if writer.called {
		t.Error("partial chunk set written after embedding failure")
	}
}

func TestProcessor_WidthMismatchRecorded(t *testing.T) {
	docs, writer, resolver, _, proc := fixture(t)
	// The backend lies about its width; the pipeline must refuse to store.
	resolver.res.Embedder = &testutil.FakeEmbedder{Dim: 768}
	resolver.res.Dimension = 384

	if err := proc.Process(context.Background(), docs.doc.ID); err != nil {
		t.Fatal(err)
	}
	if !docs.failCalled {
		t.Fatal("width mismatch not recorded")
	}
	if writer.called {
		t.Error("mismatched vectors written")
	}
}

func TestProcessor_LargeDocumentBatches(t *testing.T) {
	docs, writer, resolver, extractor, proc := fixture(t)
	emb := &testutil.FakeEmbedder{Dim: 384}
	resolver.res.Embedder = emb

	// Enough text to produce well over one batch of chunks.
	var sb strings.Builder
	for i := 0; i < 2000; i++ {
		sb.WriteString("A sentence about the conservation of momentum in closed systems. ")
	}
	extractor.pages = []ingest.Page{{Text: sb.String(), Number: 1}}

	if err := proc.Process(context.Background(), docs.doc.ID); err != nil {
		t.Fatal(err)
	}
	if len(writer.chunks) <= pipeline.EmbedBatchSize {
		t.Fatalf("fixture too small: %d chunks", len(writer.chunks))
	}

	wantCalls := (len(writer.chunks) + pipeline.EmbedBatchSize - 1) / pipeline.EmbedBatchSize
	if emb.Calls != wantCalls {
		t.Errorf("embedder called %d times for %d chunks, want %d",
			emb.Calls, len(writer.chunks), wantCalls)
	}
}

func TestProcessor_EmptyDocumentCompletes(t *testing.T) {
	docs, writer, _, extractor, proc := fixture(t)
	extractor.pages = nil

	if err := proc.Process(context.Background(), docs.doc.ID); err != nil {
		t.Fatal(err)
	}
	if docs.failCalled {
		t.Errorf("empty document marked failed: %q", docs.failedMsg)
	}
	if !writer.called {
		t.Error("empty document never completed")
	}
	if len(writer.chunks) != 0 {
		t.Errorf("empty document produced %d chunks", len(writer.chunks))
	}
}
