// Package store is the metadata store: file records, link records, and the
// transactional bulk delete that removes a file together with its links and
// its blob.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"file-portal/internal/db"
	"file-portal/internal/logging"
)

var (
	// ErrNotFound is returned for unknown file ids and link tokens.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a token is already taken.
	ErrConflict = errors.New("conflict")
)

var blobRemoveFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "portal_blob_remove_failures_total",
	Help: "Blobs that could not be removed after their file record was deleted.",
})

// FileRecord is an uploaded file. It is never modified after insertion.
type FileRecord struct {
	ID           int64     `json:"id"`
	StoredName   string    `json:"stored_name"`
	OriginalName string    `json:"original_name"`
	Size         int64     `json:"size"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// LinkRecord is a share link. Expiry is derived from CreatedAt, never stored.
type LinkRecord struct {
	ID        int64     `json:"id"`
	FileID    int64     `json:"file_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFile carries what ingestion knows about a stored upload.
type NewFile struct {
	StoredName   string
	OriginalName string
	Size         int64
	Comment      string
}

// BlobRemover deletes stored bytes. A missing blob must not be an error.
type BlobRemover interface {
	Remove(ctx context.Context, ref string) error
}

// Store implements the metadata store on top of database/sql.
type Store struct {
	db      *sql.DB
	dialect db.Dialect
	blobs   BlobRemover
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for file creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store. blobs is used by DeleteFiles to drop the bytes of
// deleted files.
func New(conn *sql.DB, dialect db.Dialect, blobs BlobRemover, opts ...Option) *Store {
	s := &Store{
		db:      conn,
		dialect: dialect,
		blobs:   blobs,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// rebind rewrites '?' placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != db.Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertFile records an uploaded file and returns its id.
func (s *Store) InsertFile(ctx context.Context, f NewFile) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO files (stored_name, original_name, size_bytes, comment, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`), f.StoredName, f.OriginalName, f.Size, f.Comment, s.now().UTC()).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insert file %q: %w", f.StoredName, ErrConflict)
		}
		return 0, fmt.Errorf("insert file: %w", err)
	}
	return id, nil
}

const fileColumns = `id, stored_name, original_name, size_bytes, comment, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (FileRecord, error) {
	var f FileRecord
	err := row.Scan(&f.ID, &f.StoredName, &f.OriginalName, &f.Size, &f.Comment, &f.CreatedAt)
	f.CreatedAt = f.CreatedAt.UTC()
	return f, err
}

// ListFiles returns every file, newest first by insertion order.
func (s *Store) ListFiles(ctx context.Context) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := make([]FileRecord, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// GetFile returns the file with the given id or ErrNotFound.
func (s *Store) GetFile(ctx context.Context, id int64) (FileRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+fileColumns+` FROM files WHERE id = ?`), id)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FileRecord{}, ErrNotFound
		}
		return FileRecord{}, fmt.Errorf("get file %d: %w", id, err)
	}
	return f, nil
}

type deletedFile struct {
	id  int64
	ref string
}

// DeleteFiles removes the given files and every link pointing at them in one
// transaction, then removes their blobs. Unknown ids are skipped. The result
// counts rows this call actually deleted, so overlapping concurrent calls
// report each file once.
//
// Blob removal happens after commit and is best-effort: a crash in between
// leaves an orphan blob, never a record pointing at missing bytes.
func (s *Store) DeleteFiles(ctx context.Context, ids []int64) (int, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	deleted := make([]deletedFile, 0, len(ids))
	for _, id := range ids {
		var ref string
		err := tx.QueryRowContext(ctx, s.rebind(`DELETE FROM files WHERE id = ? RETURNING stored_name`), id).Scan(&ref)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("delete file %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM links WHERE file_id = ?`), id); err != nil {
			return 0, fmt.Errorf("delete links of file %d: %w", id, err)
		}
		deleted = append(deleted, deletedFile{id: id, ref: ref})
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete: %w", err)
	}

	// The metadata is gone; a cancelled request must not strand the blobs.
	bctx := context.WithoutCancel(ctx)
	for _, d := range deleted {
		if s.blobs == nil {
			break
		}
		if err := s.blobs.Remove(bctx, d.ref); err != nil {
			blobRemoveFailures.Inc()
			logging.Error("blob_remove_failed", map[string]any{
				"file_id":     d.id,
				"stored_name": d.ref,
			}, err)
		}
	}

	return len(deleted), nil
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// InsertLink records a share link for fileID. It returns ErrNotFound when the
// file does not exist and ErrConflict when the token is already in use.
func (s *Store) InsertLink(ctx context.Context, fileID int64, token string, createdAt time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert link: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM files WHERE id = ?`), fileID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("check file %d: %w", fileID, err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, s.rebind(`
		INSERT INTO links (file_id, token, created_at)
		VALUES (?, ?, ?)
		RETURNING id
	`), fileID, token, createdAt.UTC()).Scan(&id)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return 0, ErrConflict
		case isForeignKeyViolation(err):
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("insert link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert link: %w", err)
	}
	return id, nil
}

// GetLinkByToken returns the link and its file. The file is nil when the
// owner row is missing, which the cascading delete should make impossible.
func (s *Store) GetLinkByToken(ctx context.Context, token string) (LinkRecord, *FileRecord, error) {
	var (
		l          LinkRecord
		fID, fSize sql.NullInt64
		fStored    sql.NullString
		fOrig      sql.NullString
		fComment   sql.NullString
		fCreated   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT l.id, l.file_id, l.token, l.created_at,
		       f.id, f.stored_name, f.original_name, f.size_bytes, f.comment, f.created_at
		FROM links l
		LEFT JOIN files f ON f.id = l.file_id
		WHERE l.token = ?
	`), token).Scan(&l.ID, &l.FileID, &l.Token, &l.CreatedAt,
		&fID, &fStored, &fOrig, &fSize, &fComment, &fCreated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LinkRecord{}, nil, ErrNotFound
		}
		return LinkRecord{}, nil, fmt.Errorf("get link: %w", err)
	}
	l.CreatedAt = l.CreatedAt.UTC()

	if !fID.Valid {
		return l, nil, nil
	}
	return l, &FileRecord{
		ID:           fID.Int64,
		StoredName:   fStored.String,
		OriginalName: fOrig.String,
		Size:         fSize.Int64,
		Comment:      fComment.String,
		CreatedAt:    fCreated.Time.UTC(),
	}, nil
}

// PurgeLinksCreatedBefore deletes links created before cutoff and returns
// how many were removed.
func (s *Store) PurgeLinksCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM links WHERE created_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge links: %w", err)
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
