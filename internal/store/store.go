// Package store persists documents and their embedded chunks in PostgreSQL.
//
// Documents move through a small lifecycle (pending, processing, completed,
// failed); chunk writes for one document are atomic and record the embedding
// provider and model in the same transaction, so a completed document can
// never disagree with its stored vectors.
package store

import "errors"

// ErrDocumentNotFound indicates the requested document does not exist.
var ErrDocumentNotFound = errors.New("document not found")

// ErrNotClaimable indicates a claim attempt on a document that is not in
// the pending state. Exactly one worker wins each pending document.
var ErrNotClaimable = errors.New("document is not pending")
