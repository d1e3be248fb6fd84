// Package search implements the full-text read model on SQLite FTS5.
package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/query"

	_ "modernc.org/sqlite"
)

// SinkName identifies the search index in logs and gap reports.
const SinkName = "search"

// DefaultSuggestLimit is used when Suggest gets a non-positive limit.
const DefaultSuggestLimit = 10

// Index is a repository.SearchIndex backed by one SQLite database.
// student_docs holds records and watermarks; student_fts holds the tokenized text.
type Index struct {
	db *sql.DB
}

// Open connects to the database at path (":memory:" works) and creates the schema.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite handles one writer; the pool must not hand out a second connection
	db.SetMaxOpenConns(1)

	const pragmas = `
	PRAGMA journal_mode=DELETE;
	PRAGMA synchronous=FULL;
	PRAGMA busy_timeout=5000;
	`
	if _, err := db.ExecContext(ctx, pragmas); err != nil {
		_ = db.Close()
		return nil, err
	}
	idx := &Index{db: db}
	if err := idx.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("search schema: %w", err)
	}
	return idx, nil
}

func (i *Index) migrate(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS student_docs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		surname TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		faculty TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		internship_status TEXT NOT NULL DEFAULT '',
		last_applied_seq INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS student_docs_tenant ON student_docs (tenant_id);
	CREATE VIRTUAL TABLE IF NOT EXISTS student_fts USING fts5(
		id UNINDEXED, full_name, username, email, faculty, department,
		tokenize = 'unicode61'
	);
	`
	_, err := i.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database.
func (i *Index) Close() error { return i.db.Close() }

// Name returns the sink name.
func (i *Index) Name() string { return SinkName }

// Watermark returns the last applied seq for aggregateID, 0 if unknown.
func (i *Index) Watermark(ctx context.Context, aggregateID string) (int64, error) {
	var seq int64
	err := i.db.QueryRowContext(ctx, `SELECT last_applied_seq FROM student_docs WHERE id = ?`, aggregateID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// Watermarks returns every watermark including tombstones.
func (i *Index) Watermarks(ctx context.Context) (map[string]int64, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT id, last_applied_seq FROM student_docs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id  string
			seq int64
		)
		if err := rows.Scan(&id, &seq); err != nil {
			return nil, err
		}
		out[id] = seq
	}
	return out, rows.Err()
}

const docColumns = `d.id, d.tenant_id, d.username, d.name, d.surname, d.email, d.faculty, d.department, d.internship_status, d.last_applied_seq, d.created_at, d.updated_at`

// Get returns a live document of tenantID.
func (i *Index) Get(ctx context.Context, tenantID, aggregateID string) (*model.ProjectionRecord, error) {
	q := `SELECT ` + docColumns + ` FROM student_docs d WHERE d.id = ? AND d.tenant_id = ? AND d.deleted = 0`
	rec, err := scanDoc(i.db.QueryRowContext(ctx, q, aggregateID, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert indexes rec unless a newer seq is already stored.
func (i *Index) Upsert(ctx context.Context, rec model.ProjectionRecord) error {
	return i.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := watermarkTx(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if cur >= rec.LastAppliedSeq {
			return nil
		}
		const ins = `
		INSERT INTO student_docs (id, tenant_id, username, name, surname, email, faculty, department,
			internship_status, last_applied_seq, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id, username = excluded.username, name = excluded.name,
			surname = excluded.surname, email = excluded.email, faculty = excluded.faculty,
			department = excluded.department, internship_status = excluded.internship_status,
			last_applied_seq = excluded.last_applied_seq, deleted = 0, updated_at = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, ins, rec.ID, rec.TenantID, rec.Username, rec.Name, rec.Surname,
			rec.Email, rec.Faculty, rec.Department, rec.InternshipStatus, rec.LastAppliedSeq,
			rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM student_fts WHERE id = ?`, rec.ID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO student_fts (id, full_name, username, email, faculty, department) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.FullName(), rec.Username, rec.Email, rec.Faculty, rec.Department)
		return err
	})
}

// Delete drops the text document and keeps a tombstone row carrying seq.
func (i *Index) Delete(ctx context.Context, tenantID, aggregateID string, seq int64) error {
	return i.inTx(ctx, func(tx *sql.Tx) error {
		const tomb = `
		INSERT INTO student_docs (id, tenant_id, last_applied_seq, deleted, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT (id) DO UPDATE SET
			deleted = 1, username = '', name = '', surname = '', email = '', faculty = '', department = '',
			internship_status = '', last_applied_seq = excluded.last_applied_seq, updated_at = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, tomb, aggregateID, tenantID, seq, time.Now().UnixNano()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM student_fts WHERE id = ?`, aggregateID)
		return err
	})
}

// Reset drops documents of tenantID, or everything when tenantID is empty.
func (i *Index) Reset(ctx context.Context, tenantID string) error {
	return i.inTx(ctx, func(tx *sql.Tx) error {
		const fts = `DELETE FROM student_fts WHERE id IN (SELECT id FROM student_docs WHERE ? = '' OR tenant_id = ?)`
		if _, err := tx.ExecContext(ctx, fts, tenantID, tenantID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM student_docs WHERE ? = '' OR tenant_id = ?`, tenantID, tenantID)
		return err
	})
}

// Search matches every word of text against the indexed fields of tenantID's
// documents, best match first. Blank text lists the tenant's documents by id.
func (i *Index) Search(
	ctx context.Context, tenantID, text string, page model.PageRequest,
) ([]model.ProjectionRecord, int64, error) {
	page = query.Normalize(page)
	terms := tokens(text)

	var (
		countQ, selQ string
		args         []any
	)
	if len(terms) == 0 {
		countQ = `SELECT COUNT(*) FROM student_docs d WHERE d.tenant_id = ? AND d.deleted = 0`
		selQ = `SELECT ` + docColumns + ` FROM student_docs d WHERE d.tenant_id = ? AND d.deleted = 0
		ORDER BY d.id LIMIT ? OFFSET ?`
		args = []any{tenantID}
	} else {
		countQ = `SELECT COUNT(*) FROM student_fts JOIN student_docs d ON d.id = student_fts.id
		WHERE student_fts MATCH ? AND d.tenant_id = ? AND d.deleted = 0`
		selQ = `SELECT ` + docColumns + ` FROM student_fts JOIN student_docs d ON d.id = student_fts.id
		WHERE student_fts MATCH ? AND d.tenant_id = ? AND d.deleted = 0
		ORDER BY student_fts.rank, d.id LIMIT ? OFFSET ?`
		args = []any{matchExpr(terms, false), tenantID}
	}

	var total int64
	if err := i.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 || int64(page.Offset()) >= total {
		return []model.ProjectionRecord{}, total, nil
	}
	recs, err := i.queryDocs(ctx, selQ, append(args, page.Size, page.Offset())...)
	return recs, total, err
}

// Suggest returns up to limit documents whose words start with the words of prefix.
func (i *Index) Suggest(ctx context.Context, tenantID, prefix string, limit int) ([]model.ProjectionRecord, error) {
	terms := tokens(prefix)
	if len(terms) == 0 {
		return []model.ProjectionRecord{}, nil
	}
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}
	if limit > query.MaxPageSize {
		limit = query.MaxPageSize
	}
	q := `SELECT ` + docColumns + ` FROM student_fts JOIN student_docs d ON d.id = student_fts.id
	WHERE student_fts MATCH ? AND d.tenant_id = ? AND d.deleted = 0
	ORDER BY student_fts.rank, d.id LIMIT ?`
	return i.queryDocs(ctx, q, matchExpr(terms, true), tenantID, limit)
}

func (i *Index) queryDocs(ctx context.Context, q string, args ...any) ([]model.ProjectionRecord, error) {
	rows, err := i.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.ProjectionRecord{}
	for rows.Next() {
		rec, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (i *Index) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func watermarkTx(ctx context.Context, tx *sql.Tx, id string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `SELECT last_applied_seq FROM student_docs WHERE id = ?`, id).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

type scanner interface{ Scan(dest ...any) error }

func scanDoc(row scanner) (model.ProjectionRecord, error) {
	var (
		r                model.ProjectionRecord
		created, updated int64
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.Username, &r.Name, &r.Surname, &r.Email, &r.Faculty,
		&r.Department, &r.InternshipStatus, &r.LastAppliedSeq, &created, &updated)
	if err != nil {
		return r, err
	}
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return r, nil
}

// tokens splits text into lower-cased words of letters and digits; everything
// else, FTS5 syntax included, acts as a separator.
func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// matchExpr quotes every token and ANDs them. With prefix set the last token
// becomes a prefix query.
func matchExpr(terms []string, prefix bool) string {
	parts := make([]string, len(terms))
	for n, t := range terms {
		parts[n] = `"` + t + `"`
	}
	if prefix {
		parts[len(parts)-1] += "*"
	}
	return strings.Join(parts, " ")
}
