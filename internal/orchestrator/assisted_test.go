package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/deckupload/internal/classifier"
	"github.com/local/deckupload/internal/converter"
	"github.com/local/deckupload/internal/records"
	"github.com/local/deckupload/internal/scan"
)

func deck(t *testing.T) Upload {
	return Upload{FileName: "Q3 Review.pptx", Data: pptxBytes(t)}
}

func TestRunAssisted_SkipsShortDeck(t *testing.T) {
	h := newHarness(t, 5)

	res, err := h.o.RunAssisted(context.Background(), deck(t))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Contains(t, res.SkipReason, "5 pages")
	assert.Equal(t, "Q3 Review.pptx", res.FileName)

	assert.Zero(t, h.recs.inserts, "skipped decks never create a file row")
	assert.Empty(t, h.blobs.keys())
	assert.Zero(t, h.ext.calls.Load())
	assert.Zero(t, h.cls.calls.Load())
	assert.Empty(t, h.workspaces(t))
	assert.Equal(t, string(StageSkipped), h.status.stages(res.UploadID)[len(h.status.stages(res.UploadID))-1])
}

func TestRunAssisted_PersistsClassifiedDeck(t *testing.T) {
	h := newHarness(t, 12)

	res, err := h.o.RunAssisted(context.Background(), deck(t))
	require.NoError(t, err)
	require.False(t, res.Skipped)
	assert.Equal(t, 12, res.PageCount)
	assert.Equal(t, "Q3 Review", res.Title)
	assert.True(t, strings.HasPrefix(res.Slug, "q3-review-"), res.Slug)

	f, err := h.recs.GetFile(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Business & Corporate", f.Category)
	assert.Equal(t, "Business reports", f.Subcategory)
	assert.Equal(t, "presentations/"+res.ID+"/original/Q3 Review.pptx", f.FileKey)
	assert.Equal(t, "presentations/"+res.ID+"/thumbnail.png", f.ThumbnailKey)

	rows, _ := h.recs.ListPreviews(context.Background(), res.ID)
	require.Len(t, rows, 12)
	for i, row := range rows {
		assert.Equal(t, i+1, row.PageNumber)
		assert.Equal(t, fmt.Sprintf("presentations/%s/previews/page-%d.png", res.ID, i+1), row.PreviewKey)
		assert.Equal(t, fmt.Sprintf("presentations/%s/previews/page-%d-thumb.png", res.ID, i+1), row.ThumbnailKey)
	}

	// original + representative thumbnail + two images per page
	assert.Len(t, h.blobs.keys(), 2+2*12)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.presentationml.presentation", h.blobs.types[f.FileKey])
	assert.Empty(t, h.workspaces(t))

	require.Len(t, h.events.sent, 1)
	assert.Equal(t, res.ID, h.events.sent[0].FileID)
	assert.Equal(t, []string{
		"validating", "staging", "converting", "classifying",
		"persisting_primary", "uploading_assets", "persisting_previews", "finalizing", "done",
	}, h.status.stages(res.UploadID))
}

func TestRunAssisted_ConverterFailure(t *testing.T) {
	h := newHarness(t, 12)
	h.conv.err = &converter.ConversionFailedError{ExitCode: 1, Stderr: "soffice crashed"}

	_, err := h.o.RunAssisted(context.Background(), deck(t))
	var failed *converter.ConversionFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 1, failed.ExitCode)

	status, _ := describe(err)
	assert.Equal(t, 500, status)
	assert.Zero(t, h.recs.inserts)
	assert.Empty(t, h.workspaces(t))
}

func TestRunAssisted_ClassifierFailureCreatesNothing(t *testing.T) {
	h := newHarness(t, 12)
	h.cls.err = &classifier.UnreachableError{Status: 500, Body: "upstream exploded"}

	_, err := h.o.RunAssisted(context.Background(), deck(t))
	require.Error(t, err)
	status, _ := describe(err)
	assert.Equal(t, 502, status)
	assert.Zero(t, h.recs.inserts)
	assert.Empty(t, h.blobs.keys())
	assert.Empty(t, h.workspaces(t))
	assert.Empty(t, h.events.sent)
}

func TestRunAssisted_ExtractionFailureIsFatal(t *testing.T) {
	h := newHarness(t, 12)
	h.ext.err = &converter.ExtractionFailedError{ExitCode: 1, Stderr: "No module named 'pptx'", Missing: true}

	_, err := h.o.RunAssisted(context.Background(), deck(t))
	assert.ErrorIs(t, err, converter.ErrMissingDependency)
	assert.Zero(t, h.cls.calls.Load())
	assert.Zero(t, h.recs.inserts)
}

func TestRunAssisted_RejectsWrongExtension(t *testing.T) {
	h := newHarness(t, 12)

	_, err := h.o.RunAssisted(context.Background(), Upload{FileName: "talk.key", Data: pptxBytes(t)})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 400, ve.Status)
	assert.Zero(t, h.conv.calls.Load())
	assert.Empty(t, h.workspaces(t), "no workspace is created for invalid input")
}

func TestRunAssisted_RejectsOversizedUpload(t *testing.T) {
	h := newHarness(t, 12)
	h.o.opts.MaxUploadBytes = 1 << 10

	_, err := h.o.RunAssisted(context.Background(), Upload{FileName: "big.pptx", Data: make([]byte, 4<<10)})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 413, ve.Status)
	assert.Zero(t, h.conv.calls.Load())
	assert.Empty(t, h.workspaces(t))
}

func TestRunAssisted_RejectsSpoofedContent(t *testing.T) {
	h := newHarness(t, 12)

	_, err := h.o.RunAssisted(context.Background(), Upload{FileName: "deck.pptx", Data: []byte("%PDF-1.7 definitely not a zip")})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Zero(t, h.conv.calls.Load())
}

func TestRunAssisted_InfectedUpload(t *testing.T) {
	h := newHarness(t, 12)
	h.o.deps.Scanner = fakeScanner{err: &scan.InfectedError{Signature: "Eicar-Test-Signature"}}

	_, err := h.o.RunAssisted(context.Background(), deck(t))
	status, _ := describe(err)
	assert.Equal(t, 422, status)
	assert.Zero(t, h.conv.calls.Load())
	assert.Empty(t, h.workspaces(t))
}

func TestPersist_PageOrderSurvivesOutOfOrderUploads(t *testing.T) {
	h := newHarness(t, 30)
	h.blobs.maxDelay = 5 * time.Millisecond
	h.o.opts.UploadConcurrency = 8

	res, err := h.o.RunAssisted(context.Background(), deck(t))
	require.NoError(t, err)

	rows, _ := h.recs.ListPreviews(context.Background(), res.ID)
	require.Len(t, rows, 30)
	pages := make([]int, len(rows))
	for i, row := range rows {
		pages[i] = row.PageNumber
		assert.Contains(t, row.PreviewKey, fmt.Sprintf("/page-%d.", row.PageNumber))
	}
	assert.True(t, sort.IntsAreSorted(pages))
	assert.Equal(t, 1, pages[0])
	assert.Equal(t, 30, pages[29])
}

func TestPersist_CompensatesOnAssetFailure(t *testing.T) {
	h := newHarness(t, 12)
	h.blobs.failOn = "/previews/page-3."

	_, err := h.o.RunAssisted(context.Background(), deck(t))
	status, _ := describe(err)
	assert.Equal(t, 502, status)

	require.Len(t, h.recs.deleted, 1, "the incomplete file row is deleted")
	assert.Zero(t, h.recs.count())
	assert.Empty(t, h.workspaces(t))
	assert.Empty(t, h.events.sent)
}

func TestPersist_CompensatesOnPreviewInsertFailure(t *testing.T) {
	h := newHarness(t, 12)
	h.recs.previewErr = &records.RejectedError{Code: "23514", Message: "page_number must be positive"}

	_, err := h.o.RunAssisted(context.Background(), deck(t))
	status, _ := describe(err)
	assert.Equal(t, 422, status)
	assert.Len(t, h.recs.deleted, 1)
	assert.Zero(t, h.recs.count())
}

func TestRunAssisted_SlugConflict(t *testing.T) {
	h := newHarness(t, 12)
	h.recs.insertErr = &records.ConflictError{Constraint: "files_slug_key", Message: "duplicate key"}

	_, err := h.o.RunAssisted(context.Background(), deck(t))
	status, _ := describe(err)
	assert.Equal(t, 409, status)
	assert.Empty(t, h.recs.deleted, "nothing to compensate when the insert itself fails")
}
