package records

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

const insertFileQ = `(?s)^\s*INSERT\s+INTO\s+files\s*\(id,.*page_count,\s*created_at,\s*updated_at\)\s*VALUES\s*\(\$1,.*\$12,\s*\$12\)\s*$`

func TestInsertFile_Success(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectExec(insertFileQ).
		WithArgs(sqlmock.AnyArg(), "Q3 Review", "q3-review-abc", "Numbers", "Business & Corporate", "Business reports",
			`{"finance","q3"}`, "q3.pptx", int64(2048), "pptx", 12, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := store.InsertFile(context.Background(), NewFile{
		Title: "Q3 Review", Slug: "q3-review-abc", Description: "Numbers",
		Category: "Business & Corporate", Subcategory: "Business reports",
		Tags: []string{"finance", "q3"}, FileName: "q3.pptx", FileSize: 2048, FileType: "pptx", PageCount: 12,
	})
	require.NoError(t, err)
	assert.Len(t, id, 36)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFile_ErrorMapping(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{"duplicate slug", &pq.Error{Code: "23505", Constraint: "files_slug_key", Message: "duplicate key value"}, func(t *testing.T, err error) {
			var ce *ConflictError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "files_slug_key", ce.Constraint)
		}},
		{"check violation", &pq.Error{Code: "23514", Message: "violates check constraint"}, func(t *testing.T, err error) {
			var re *RejectedError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, "23514", re.Code)
		}},
		{"bad data", &pq.Error{Code: "22001", Message: "value too long"}, func(t *testing.T, err error) {
			var re *RejectedError
			require.ErrorAs(t, err, &re)
		}},
		{"other", errors.New("db down"), func(t *testing.T, err error) {
			assert.Regexp(t, regexp.MustCompile(`db error: .*db down`), err.Error())
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newStoreWithMock(t)
			mock.ExpectExec(insertFileQ).WillReturnError(tc.err)

			_, err := store.InsertFile(context.Background(), NewFile{Title: "x", Slug: "x", FileName: "x.pptx"})
			tc.check(t, err)
		})
	}
}

func TestUpdateFile(t *testing.T) {
	q := `(?s)^\s*UPDATE\s+files\s+SET\s+r2_file_key\s*=\s*\$2,\s*thumbnail_key\s*=\s*\$3,\s*updated_at\s*=\s*NOW\(\)\s+WHERE\s+id\s*=\s*\$1\s*$`

	t.Run("ok", func(t *testing.T) {
		store, mock := newStoreWithMock(t)
		mock.ExpectExec(q).WithArgs("id-1", "ns/id-1/original/a.pptx", "ns/id-1/thumbnail.jpg").
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.UpdateFile(context.Background(), "id-1", FilePatch{
			FileKey: "ns/id-1/original/a.pptx", ThumbnailKey: "ns/id-1/thumbnail.jpg",
		}))
	})

	t.Run("no thumbnail stays null", func(t *testing.T) {
		store, mock := newStoreWithMock(t)
		mock.ExpectExec(q).WithArgs("id-2", "ns/id-2/original/b.pptx", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.UpdateFile(context.Background(), "id-2", FilePatch{
			FileKey: "ns/id-2/original/b.pptx",
		}))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row", func(t *testing.T) {
		store, mock := newStoreWithMock(t)
		mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, store.UpdateFile(context.Background(), "gone", FilePatch{}), ErrNotFound)
	})
}

func TestInsertPreviews_SingleStatement(t *testing.T) {
	store, mock := newStoreWithMock(t)

	q := `(?s)^INSERT\s+INTO\s+previews\s*\(file_id,\s*page_number,\s*preview_key,\s*thumbnail_key\)\s*VALUES\s*` +
		`\(\$1, \$2, \$3, \$4\), \(\$5, \$6, \$7, \$8\), \(\$9, \$10, \$11, \$12\)$`
	mock.ExpectExec(q).
		WithArgs("f", 1, "p1", "t1", "f", 2, "p2", "t2", "f", 3, "p3", "t3").
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := store.InsertPreviews(context.Background(), []Preview{
		{FileID: "f", PageNumber: 1, PreviewKey: "p1", ThumbnailKey: "t1"},
		{FileID: "f", PageNumber: 2, PreviewKey: "p2", ThumbnailKey: "t2"},
		{FileID: "f", PageNumber: 3, PreviewKey: "p3", ThumbnailKey: "t3"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.NoError(t, store.InsertPreviews(context.Background(), nil))
}

func TestGetFile(t *testing.T) {
	q := `(?s)^\s*SELECT\s+id,\s*title,.*FROM\s+files\s+WHERE\s+id\s*=\s*\$1\s*$`
	cols := []string{"id", "title", "slug", "description", "category", "subcategory", "tags", "file_name",
		"file_size", "file_type", "page_count", "r2_file_key", "thumbnail_key", "created_at", "updated_at"}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		store, mock := newStoreWithMock(t)
		mock.ExpectQuery(q).WithArgs("id-1").WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"id-1", "Q3 Review", "q3-review", "", "Business & Corporate", "Business reports", "{finance,q3}",
			"q3.pptx", int64(2048), "pptx", 12, "ns/id-1/original/q3.pptx", nil, now, now))

		f, err := store.GetFile(context.Background(), "id-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"finance", "q3"}, f.Tags)
		assert.Equal(t, int64(2048), f.FileSize)
		assert.Equal(t, 12, f.PageCount)
		assert.Equal(t, "ns/id-1/original/q3.pptx", f.FileKey)
		assert.Empty(t, f.ThumbnailKey)
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newStoreWithMock(t)
		mock.ExpectQuery(q).WithArgs("nope").WillReturnError(sql.ErrNoRows)
		_, err := store.GetFile(context.Background(), "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListPreviewsAndDelete(t *testing.T) {
	store, mock := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)SELECT\s+file_id,.*FROM\s+previews\s+WHERE\s+file_id\s*=\s*\$1\s+ORDER\s+BY\s+page_number`).
		WithArgs("f").
		WillReturnRows(sqlmock.NewRows([]string{"file_id", "page_number", "preview_key", "thumbnail_key"}).
			AddRow("f", 1, "p1", "t1").AddRow("f", 2, "p2", "t2"))
	mock.ExpectExec(`^DELETE\s+FROM\s+files\s+WHERE\s+id\s*=\s*\$1$`).WithArgs("f").
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := store.ListPreviews(context.Background(), "f")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[1].PageNumber)

	require.NoError(t, store.DeleteFile(context.Background(), "f"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
