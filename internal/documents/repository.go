package documents

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/rental-ops/internal/catalog"
	"github.com/wolfman30/rental-ops/internal/store"
)

const (
	documentsTable = "documents"
	linksTable     = "document_links"
)

const (
	linkEntityClient  = "client"
	statusNeedsReview = "needs_review"
	metaFileUUID      = "kommo_file_uuid"
)

// Document is a new documents row.
type Document struct {
	Bucket      string
	StoragePath string
	FileName    string
	MimeType    string
	SizeBytes   int64
	DocType     catalog.DocType
	Source      Source
	Metadata    map[string]any
}

// Repository persists document rows and their client links.
type Repository struct {
	db store.Datastore
}

func NewRepository(db store.Datastore) *Repository {
	if db == nil {
		panic("documents: datastore required")
	}
	return &Repository{db: db}
}

// FindByFileUUID looks a document up by the Kommo file uuid in its metadata.
func (r *Repository) FindByFileUUID(ctx context.Context, fileUUID string) (string, bool, error) {
	id, err := r.db.SelectID(ctx, documentsTable, store.Eq("metadata->>"+metaFileUUID, fileUUID))
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("documents: find %s: %w", fileUUID, err)
	}
	return id, true, nil
}

// Insert writes a document row with status needs_review.
func (r *Repository) Insert(ctx context.Context, doc Document) (string, error) {
	patch := store.NewPatch().
		Put("bucket", doc.Bucket).
		Put("storage_path", doc.StoragePath).
		Put("file_name", doc.FileName).
		Put("mime_type", doc.MimeType).
		Put("size_bytes", doc.SizeBytes).
		Put("doc_type", string(doc.DocType)).
		Put("source", string(doc.Source)).
		Put("status", statusNeedsReview).
		Put("metadata", doc.Metadata)
	id, err := r.db.Insert(ctx, documentsTable, patch)
	if err != nil {
		return "", fmt.Errorf("documents: insert %s: %w", doc.StoragePath, err)
	}
	return id, nil
}

// EnsureClientLink inserts the (document, client) link unless it exists.
// It reports whether a row was created.
func (r *Repository) EnsureClientLink(ctx context.Context, documentID, clientID string) (bool, error) {
	filter := store.Eq("document_id", documentID).And("entity_id", clientID)
	_, err := r.db.SelectID(ctx, linksTable, filter)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("documents: find link %s/%s: %w", documentID, clientID, err)
	}
	patch := store.NewPatch().
		Put("document_id", documentID).
		Put("entity_type", linkEntityClient).
		Put("entity_id", clientID)
	if _, err := r.db.Insert(ctx, linksTable, patch); err != nil {
		return false, fmt.Errorf("documents: link %s to client %s: %w", documentID, clientID, err)
	}
	return true, nil
}
