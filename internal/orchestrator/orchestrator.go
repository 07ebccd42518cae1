package orchestrator

import (
	"context"
	"net/http"
	"time"

	"github.com/local/deckupload/internal/classifier"
	"github.com/local/deckupload/internal/converter"
	"github.com/local/deckupload/internal/events"
	"github.com/local/deckupload/internal/records"
	"github.com/local/deckupload/internal/statuscheck"
	"github.com/local/deckupload/internal/store"
)

// Workspace hands out per-upload scratch directories.
type Workspace interface {
	Acquire() (string, error)
	Release(dir string) error
}

type Converter interface {
	Convert(ctx context.Context, inputPath, outputDir string) (converter.Result, error)
}

type Extractor interface {
	ExtractText(ctx context.Context, inputPath string) (string, error)
}

type Classifier interface {
	Classify(ctx context.Context, text, filename string) (classifier.Result, error)
}

// BlobStore overwrites the object at key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type RecordStore interface {
	InsertFile(ctx context.Context, f records.NewFile) (string, error)
	UpdateFile(ctx context.Context, id string, p records.FilePatch) error
	InsertPreviews(ctx context.Context, rows []records.Preview) error
	GetFile(ctx context.Context, id string) (records.File, error)
	ListPreviews(ctx context.Context, fileID string) ([]records.Preview, error)
	DeleteFile(ctx context.Context, id string) error
}

type StatusStore interface {
	Set(ctx context.Context, uploadID string, st store.UploadStatus) error
	Get(ctx context.Context, uploadID string) (store.UploadStatus, bool, error)
}

type EventPublisher interface {
	PublishUploaded(ctx context.Context, ev events.Uploaded) error
}

type Scanner interface {
	Scan(ctx context.Context, data []byte) error
}

type HealthReporter interface {
	Summary(ctx context.Context) statuscheck.Summary
}

// Dependencies are constructed once at startup and shared by every request.
// Status, Events, Scanner and Health are optional.
type Dependencies struct {
	Workspace  Workspace
	Converter  Converter
	Extractor  Extractor
	Classifier Classifier
	Blobs      BlobStore
	Records    RecordStore

	Status  StatusStore
	Events  EventPublisher
	Scanner Scanner
	Health  HealthReporter
}

type Options struct {
	Namespace         string
	MinPages          int
	MaxUploadBytes    int64
	PublicBaseURL     string
	UploadConcurrency int
	// Labels for classifier metrics.
	ClassifierEngine string
	ClassifierModel  string
}

type Orchestrator struct {
	deps  Dependencies
	opts  Options
	slugs *Slugger
	now   func() time.Time
}

func New(deps Dependencies, opts Options) *Orchestrator {
	if opts.MinPages <= 0 {
		opts.MinPages = 10
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	if opts.UploadConcurrency <= 0 {
		opts.UploadConcurrency = 4
	}
	if opts.Namespace == "" {
		opts.Namespace = "presentations"
	}
	return &Orchestrator{deps: deps, opts: opts, slugs: NewSlugger(), now: time.Now}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", o.handleHealth)
	mux.HandleFunc("/api/upload", o.handleDirect)
	mux.HandleFunc("/api/upload/stream", o.handleStreamed)
	mux.HandleFunc("/api/process", o.handleAssisted)
	mux.HandleFunc("/api/classify-text", o.handleClassifyText)
	mux.HandleFunc("/api/extract-text", o.handleExtractText)
	mux.HandleFunc("/api/files/", o.handleGetFile)
	mux.HandleFunc("/api/uploads/", o.handleUploadStatus)
}
