package records

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore keeps files and previews in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InsertFile creates the row and returns its generated id.
func (s *PostgresStore) InsertFile(ctx context.Context, f NewFile) (string, error) {
	id := uuid.NewString()
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, title, slug, description, category, subcategory, tags,
			file_name, file_size, file_type, page_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		id, f.Title, f.Slug, f.Description, f.Category, f.Subcategory, pq.Array(tags),
		f.FileName, f.FileSize, f.FileType, f.PageCount, createdAt,
	)
	if err != nil {
		return "", mapError(err)
	}
	log.Debug().Str("file_id", id).Str("slug", f.Slug).Msg("file row inserted")
	return id, nil
}

// UpdateFile attaches the storage keys. An empty thumbnail key stays NULL.
func (s *PostgresStore) UpdateFile(ctx context.Context, id string, p FilePatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET r2_file_key = $2, thumbnail_key = $3, updated_at = NOW()
		WHERE id = $1`,
		id, p.FileKey, nullString(p.ThumbnailKey),
	)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n != 1 {
		return ErrNotFound
	}
	return nil
}

// InsertPreviews writes all rows in one statement, so either every page lands or none does.
func (s *PostgresStore) InsertPreviews(ctx context.Context, rows []Preview) error {
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("INSERT INTO previews (file_id, page_number, preview_key, thumbnail_key) VALUES ")
	args := make([]any, 0, len(rows)*4)
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4)
		args = append(args, r.FileID, r.PageNumber, r.PreviewKey, r.ThumbnailKey)
	}
	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return mapError(err)
	}
	return nil
}

// GetFile loads a file row by id.
func (s *PostgresStore) GetFile(ctx context.Context, id string) (File, error) {
	var (
		f       File
		fileKey sql.NullString
		thumb   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, slug, description, category, subcategory, tags, file_name,
			file_size, file_type, page_count, r2_file_key, thumbnail_key, created_at, updated_at
		FROM files WHERE id = $1`, id,
	).Scan(&f.ID, &f.Title, &f.Slug, &f.Description, &f.Category, &f.Subcategory, pq.Array(&f.Tags),
		&f.FileName, &f.FileSize, &f.FileType, &f.PageCount, &fileKey, &thumb, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, ErrNotFound
	}
	if err != nil {
		return File{}, mapError(err)
	}
	f.FileKey = fileKey.String
	f.ThumbnailKey = thumb.String
	return f, nil
}

// ListPreviews returns the previews of a file ordered by page.
func (s *PostgresStore) ListPreviews(ctx context.Context, fileID string) ([]Preview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_id, page_number, preview_key, thumbnail_key
		FROM previews WHERE file_id = $1 ORDER BY page_number`, fileID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []Preview
	for rows.Next() {
		var p Preview
		if err := rows.Scan(&p.FileID, &p.PageNumber, &p.PreviewKey, &p.ThumbnailKey); err != nil {
			return nil, mapError(err)
		}
		out = append(out, p)
	}
	return out, mapError(rows.Err())
}

// DeleteFile removes a file row; its previews go with it.
func (s *PostgresStore) DeleteFile(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return mapError(err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
