// Package documents mirrors Kommo file attachments into blob storage and links
// them to client records.
package documents

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/rental-ops/internal/catalog"
	"github.com/wolfman30/rental-ops/internal/fields"
	"github.com/wolfman30/rental-ops/internal/kommo"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

// ErrDownloadLinkInvalid means Kommo did not hand out a usable download link.
var ErrDownloadLinkInvalid = errors.New("documents: download link invalid or expired")

// Source records where a document was discovered.
type Source string

const (
	SourceCustomField Source = "custom_field"
	SourceAttachment  Source = "attachment"
)

// Sync stages reported on FileError.
const (
	StageList     = "list"
	StageLookup   = "lookup"
	StageDriveURL = "drive_url"
	StageDescribe = "descriptor"
	StageDownload = "download"
	StageUpload   = "upload"
	StageRecord   = "record"
	StageLink     = "link"
)

// KommoFiles is the part of the Kommo client document sync needs.
type KommoFiles interface {
	ListFiles(ctx context.Context, entityType string, entityID int64) ([]kommo.FileRef, error)
	FileDescriptor(ctx context.Context, driveURL, fileUUID string) (*kommo.FileDescriptor, error)
	Download(ctx context.Context, href string) ([]byte, string, error)
}

// SyncObserver receives one result ("synced", "skipped", "failed") per file.
type SyncObserver interface {
	ObserveDocumentSync(result string)
}

// File is a discovered Kommo file. Empty attributes are filled from the
// drive descriptor.
type File struct {
	UUID        string
	VersionUUID string
	FileName    string
	MimeType    string
	Size        int64
	DocType     catalog.DocType
	Source      Source
	EntityType  string
	EntityID    int64
}

// FileError is a per-file sync failure.
type FileError struct {
	FileUUID string
	Source   Source
	Stage    string
	Err      error
}

func (e *FileError) Error() string {
	if e.FileUUID == "" {
		return fmt.Sprintf("documents: %s (%s): %v", e.Stage, e.Source, e.Err)
	}
	return fmt.Sprintf("documents: %s %s (%s): %v", e.Stage, e.FileUUID, e.Source, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// SyncReport aggregates one sync run.
type SyncReport struct {
	Synced  int
	Skipped int
	Errors  []FileError
}

// Target is the client a lead and its main contact belong to.
type Target struct {
	ClientID string
	Contact  *kommo.Contact
	Lead     *kommo.Lead
}

// Outcome describes what EnsureClientDocument did.
type Outcome struct {
	DocumentID string
	Created    bool
	Linked     bool
}

// SyncerConfig wires a Syncer.
type SyncerConfig struct {
	Kommo       KommoFiles
	Drive       DriveURLSource
	Blobs       BlobStore
	Repo        *Repository
	Catalog     *catalog.Catalog
	Concurrency int
	Logger      *logging.Logger
	Metrics     SyncObserver
}

// Syncer runs document sync for a client.
type Syncer struct {
	kommo       KommoFiles
	drive       DriveURLSource
	blobs       BlobStore
	repo        *Repository
	catalog     *catalog.Catalog
	concurrency int
	logger      *logging.Logger
	metrics     SyncObserver
}

func NewSyncer(cfg SyncerConfig) *Syncer {
	if cfg.Kommo == nil || cfg.Blobs == nil || cfg.Repo == nil {
		panic("documents: kommo, blob store and repository required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.New(nil)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Syncer{
		kommo:       cfg.Kommo,
		drive:       cfg.Drive,
		blobs:       cfg.Blobs,
		repo:        cfg.Repo,
		catalog:     cfg.Catalog,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Sync discovers files on the contact and lead and ensures each is stored
// and linked to the client. Failures are collected per file.
func (s *Syncer) Sync(ctx context.Context, t Target) SyncReport {
	var report SyncReport
	if strings.TrimSpace(t.ClientID) == "" {
		return report
	}
	files, listErrs := s.discover(ctx, t)
	report.Errors = append(report.Errors, listErrs...)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, f := range dedupe(files) {
		f := f
		g.Go(func() error {
			outcome, err := s.EnsureClientDocument(ctx, t.ClientID, f)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				var fe *FileError
				if !errors.As(err, &fe) {
					fe = &FileError{FileUUID: f.UUID, Source: f.Source, Stage: StageRecord, Err: err}
				}
				report.Errors = append(report.Errors, *fe)
				s.observe("failed")
				s.logger.Warn("document sync failed", "client_id", t.ClientID, "file_uuid", f.UUID, "stage", fe.Stage, "error", fe.Err)
			case outcome.Created:
				report.Synced++
				s.observe("synced")
			default:
				report.Skipped++
				s.observe("skipped")
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// EnsureClientDocument stores f for the client unless a document with the
// same Kommo file uuid exists; an existing document only gets its client
// link ensured. Errors are *FileError.
func (s *Syncer) EnsureClientDocument(ctx context.Context, clientID string, f File) (Outcome, error) {
	fail := func(stage string, err error) (Outcome, error) {
		return Outcome{}, &FileError{FileUUID: f.UUID, Source: f.Source, Stage: stage, Err: err}
	}

	existingID, found, err := s.repo.FindByFileUUID(ctx, f.UUID)
	if err != nil {
		return fail(StageLookup, err)
	}
	if found {
		linked, err := s.repo.EnsureClientLink(ctx, existingID, clientID)
		if err != nil {
			return fail(StageLink, err)
		}
		return Outcome{DocumentID: existingID, Linked: linked}, nil
	}

	if s.drive == nil {
		return fail(StageDriveURL, ErrDriveURLUnavailable)
	}
	driveURL, err := s.drive.DriveURL(ctx)
	if err != nil {
		return fail(StageDriveURL, err)
	}
	desc, err := s.kommo.FileDescriptor(ctx, driveURL, f.UUID)
	if err != nil {
		return fail(StageDescribe, err)
	}

	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = desc.Metadata.MimeType
	}
	fileName := f.FileName
	if fileName == "" {
		fileName = DescriptorFileName(desc)
	} else {
		fileName = withExtension(fileName, desc.Metadata.Extension, mimeType)
	}
	docType := f.DocType
	if docType == "" {
		docType = Classify(fileName, desc.Type)
	}
	size := f.Size
	if size == 0 {
		size, _ = desc.Size.Int64()
	}
	versionUUID := f.VersionUUID
	if versionUUID == "" {
		versionUUID = desc.VersionUUID
	}

	href := strings.TrimSpace(desc.Links.Download.Href)
	if href == "" {
		return fail(StageDownload, ErrDownloadLinkInvalid)
	}
	data, contentType, err := s.kommo.Download(ctx, href)
	if err != nil {
		if errors.Is(err, kommo.ErrDownloadReturnedJSON) {
			err = fmt.Errorf("%w: %v", ErrDownloadLinkInvalid, err)
		}
		return fail(StageDownload, err)
	}
	if mimeType == "" {
		mimeType = contentType
	}
	if size == 0 {
		size = int64(len(data))
	}

	storagePath := StoragePath(clientID, docType, f.UUID, fileName)
	if err := s.blobs.Upload(ctx, storagePath, data, mimeType); err != nil {
		return fail(StageUpload, err)
	}

	metadata := map[string]any{
		metaFileUUID:        f.UUID,
		"kommo_entity_type": f.EntityType,
		"kommo_entity_id":   f.EntityID,
	}
	if versionUUID != "" {
		metadata["kommo_version_uuid"] = versionUUID
	}
	docID, err := s.repo.Insert(ctx, Document{
		Bucket:      s.blobs.Bucket(),
		StoragePath: storagePath,
		FileName:    fileName,
		MimeType:    mimeType,
		SizeBytes:   size,
		DocType:     docType,
		Source:      f.Source,
		Metadata:    metadata,
	})
	if err != nil {
		return fail(StageRecord, err)
	}
	if _, err := s.repo.EnsureClientLink(ctx, docID, clientID); err != nil {
		return fail(StageLink, err)
	}
	s.logger.Info("document stored", "client_id", clientID, "document_id", docID, "file_uuid", f.UUID, "doc_type", docType, "source", f.Source)
	return Outcome{DocumentID: docID, Created: true, Linked: true}, nil
}

func (s *Syncer) discover(ctx context.Context, t Target) ([]File, []FileError) {
	var files []File
	var errs []FileError

	if t.Contact != nil {
		files = append(files, customFieldFiles(t.Contact, "contacts", t.Contact.ID, s.catalog.ContactDocuments)...)
	}
	if t.Lead != nil {
		files = append(files, customFieldFiles(t.Lead, "leads", t.Lead.ID, s.catalog.LeadDocuments)...)
	}

	type listing struct {
		entityType string
		entityID   int64
	}
	var listings []listing
	if t.Contact != nil && t.Contact.ID != 0 {
		listings = append(listings, listing{"contacts", t.Contact.ID})
	}
	if t.Lead != nil && t.Lead.ID != 0 {
		listings = append(listings, listing{"leads", t.Lead.ID})
	}
	for _, l := range listings {
		refs, err := s.kommo.ListFiles(ctx, l.entityType, l.entityID)
		if err != nil {
			errs = append(errs, FileError{Source: SourceAttachment, Stage: StageList, Err: fmt.Errorf("%s %d: %w", l.entityType, l.entityID, err)})
			continue
		}
		for _, ref := range refs {
			if strings.TrimSpace(ref.FileUUID) == "" {
				continue
			}
			files = append(files, File{
				UUID:       strings.TrimSpace(ref.FileUUID),
				Source:     SourceAttachment,
				EntityType: l.entityType,
				EntityID:   l.entityID,
			})
		}
	}
	return files, errs
}

func customFieldFiles(e kommo.Entity, entityType string, entityID int64, mapping []catalog.DocumentField) []File {
	var files []File
	for _, df := range mapping {
		field, ok := fields.ByID(e, df.FieldID)
		if !ok {
			continue
		}
		for _, v := range field.Values {
			uuid := strings.TrimSpace(v.ObjectString("file_uuid"))
			if uuid == "" {
				continue
			}
			size, _ := strconv.ParseInt(strings.TrimSpace(v.ObjectString("file_size")), 10, 64)
			files = append(files, File{
				UUID:        uuid,
				VersionUUID: v.ObjectString("version_uuid"),
				FileName:    strings.TrimSpace(v.ObjectString("file_name")),
				Size:        size,
				DocType:     df.DocType,
				Source:      SourceCustomField,
				EntityType:  entityType,
				EntityID:    entityID,
			})
		}
	}
	return files
}

// dedupe keeps the first occurrence of each uuid; custom-field entries are
// discovered first and carry the authoritative doc type.
func dedupe(files []File) []File {
	seen := make(map[string]bool, len(files))
	out := files[:0:0]
	for _, f := range files {
		if seen[f.UUID] {
			continue
		}
		seen[f.UUID] = true
		out = append(out, f)
	}
	return out
}

func (s *Syncer) observe(result string) {
	if s.metrics != nil {
		s.metrics.ObserveDocumentSync(result)
	}
}
