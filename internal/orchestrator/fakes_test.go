package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/local/deckupload/internal/classifier"
	"github.com/local/deckupload/internal/converter"
	"github.com/local/deckupload/internal/events"
	"github.com/local/deckupload/internal/records"
	"github.com/local/deckupload/internal/statuscheck"
	"github.com/local/deckupload/internal/storage"
	"github.com/local/deckupload/internal/store"
	"github.com/local/deckupload/internal/workspace"
)

func pngBytes(t testing.TB) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func dataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// pptxBytes is a minimal OOXML package; enough for content sniffing.
func pptxBytes(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", "ppt/presentation.xml"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(`<?xml version="1.0"?><x/>`))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fakeConverter struct {
	pages int
	err   error
	image []byte
	calls atomic.Int32
}

func (f *fakeConverter) Convert(_ context.Context, input, out string) (converter.Result, error) {
	f.calls.Add(1)
	if _, err := os.Stat(input); err != nil {
		return converter.Result{}, fmt.Errorf("input not staged: %w", err)
	}
	if f.err != nil {
		return converter.Result{}, f.err
	}
	res := converter.Result{}
	for _, d := range []string{"previews", "thumbnails"} {
		if err := os.MkdirAll(filepath.Join(out, d), 0o755); err != nil {
			return converter.Result{}, err
		}
	}
	for i := 1; i <= f.pages; i++ {
		p := filepath.Join(out, "previews", fmt.Sprintf("page-%d.jpg", i))
		th := filepath.Join(out, "thumbnails", fmt.Sprintf("page-%d-thumb.jpg", i))
		for _, path := range []string{p, th} {
			if err := os.WriteFile(path, f.image, 0o644); err != nil {
				return converter.Result{}, err
			}
		}
		res.Previews = append(res.Previews, p)
		res.Thumbnails = append(res.Thumbnails, th)
	}
	return res, nil
}

type fakeExtractor struct {
	text  string
	err   error
	calls atomic.Int32
}

func (f *fakeExtractor) ExtractText(_ context.Context, input string) (string, error) {
	f.calls.Add(1)
	if _, err := os.Stat(input); err != nil {
		return "", err
	}
	return f.text, f.err
}

type fakeClassifier struct {
	res   classifier.Result
	err   error
	calls atomic.Int32
}

func (f *fakeClassifier) Classify(context.Context, string, string) (classifier.Result, error) {
	f.calls.Add(1)
	return f.res, f.err
}

type fakeBlobs struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	failOn   string
	maxDelay time.Duration
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if b.maxDelay > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(b.maxDelay))))
	}
	if b.failOn != "" && strings.Contains(key, b.failOn) {
		return &storage.UnavailableError{Key: key, Err: errors.New("connection reset by peer")}
	}
	if err := ctx.Err(); err != nil {
		return &storage.UnavailableError{Key: key, Err: err}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.types[key] = contentType
	return nil
}

func (b *fakeBlobs) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	return out
}

type fakeRecords struct {
	mu         sync.Mutex
	files      map[string]records.File
	previews   map[string][]records.Preview
	inserts    int
	deleted    []string
	insertErr  error
	previewErr error
	updateErr  error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{files: map[string]records.File{}, previews: map[string][]records.Preview{}}
}

func (r *fakeRecords) InsertFile(_ context.Context, f records.NewFile) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return "", r.insertErr
	}
	r.inserts++
	id := uuid.NewString()
	r.files[id] = records.File{
		ID: id, Title: f.Title, Slug: f.Slug, Description: f.Description,
		Category: f.Category, Subcategory: f.Subcategory, Tags: f.Tags,
		FileName: f.FileName, FileSize: f.FileSize, FileType: f.FileType, PageCount: f.PageCount,
		CreatedAt: f.CreatedAt, UpdatedAt: f.CreatedAt,
	}
	return id, nil
}

func (r *fakeRecords) UpdateFile(_ context.Context, id string, p records.FilePatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	f, ok := r.files[id]
	if !ok {
		return records.ErrNotFound
	}
	f.FileKey, f.ThumbnailKey = p.FileKey, p.ThumbnailKey
	r.files[id] = f
	return nil
}

func (r *fakeRecords) InsertPreviews(_ context.Context, rows []records.Preview) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.previewErr != nil {
		return r.previewErr
	}
	for _, row := range rows {
		r.previews[row.FileID] = append(r.previews[row.FileID], row)
	}
	return nil
}

func (r *fakeRecords) GetFile(_ context.Context, id string) (records.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[id]
	if !ok {
		return records.File{}, records.ErrNotFound
	}
	return f, nil
}

func (r *fakeRecords) ListPreviews(_ context.Context, id string) ([]records.Preview, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]records.Preview(nil), r.previews[id]...), nil
}

func (r *fakeRecords) DeleteFile(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.files[id]; !ok {
		return records.ErrNotFound
	}
	delete(r.files, id)
	delete(r.previews, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeRecords) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}

type fakeStatus struct {
	mu      sync.Mutex
	history map[string][]store.UploadStatus
}

func (s *fakeStatus) Set(_ context.Context, id string, st store.UploadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.history == nil {
		s.history = map[string][]store.UploadStatus{}
	}
	s.history[id] = append(s.history[id], st)
	return nil
}

func (s *fakeStatus) Get(_ context.Context, id string) (store.UploadStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history[id]
	if len(h) == 0 {
		return store.UploadStatus{}, false, nil
	}
	return h[len(h)-1], true, nil
}

func (s *fakeStatus) stages(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, st := range s.history[id] {
		out = append(out, st.Stage)
	}
	return out
}

type fakeEvents struct {
	mu   sync.Mutex
	sent []events.Uploaded
	err  error
}

func (e *fakeEvents) PublishUploaded(_ context.Context, ev events.Uploaded) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, ev)
	return e.err
}

type fakeScanner struct{ err error }

func (s fakeScanner) Scan(context.Context, []byte) error { return s.err }

type fakeHealth struct{ sum statuscheck.Summary }

func (h fakeHealth) Summary(context.Context) statuscheck.Summary { return h.sum }

// recordingSink collects events in order.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

type harness struct {
	o      *Orchestrator
	root   string
	conv   *fakeConverter
	ext    *fakeExtractor
	cls    *fakeClassifier
	blobs  *fakeBlobs
	recs   *fakeRecords
	status *fakeStatus
	events *fakeEvents
}

func newHarness(t *testing.T, pages int) *harness {
	t.Helper()
	h := &harness{
		root: t.TempDir(),
		conv: &fakeConverter{pages: pages, image: pngBytes(t)},
		ext:  &fakeExtractor{text: "Quarterly review\nRevenue grew 12%"},
		cls: &fakeClassifier{res: classifier.Result{
			Title:       "Q3 Review",
			Slug:        "q3-review",
			Description: "Results for the third quarter.",
			Category:    "Business & Corporate",
			Subcategory: "Business reports",
		}},
		blobs:  newFakeBlobs(),
		recs:   newFakeRecords(),
		status: &fakeStatus{},
		events: &fakeEvents{},
	}
	h.o = New(Dependencies{
		Workspace:  workspace.New(h.root),
		Converter:  h.conv,
		Extractor:  h.ext,
		Classifier: h.cls,
		Blobs:      h.blobs,
		Records:    h.recs,
		Status:     h.status,
		Events:     h.events,
	}, Options{PublicBaseURL: "https://cdn.example.com/"})
	return h
}

// workspaces lists directories left under the workspace root.
func (h *harness) workspaces(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.root)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	return out
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}
