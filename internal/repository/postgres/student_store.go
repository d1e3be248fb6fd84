package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/query"
	"github.com/jackc/pgx/v5"
)

// StructuredSinkName identifies the Postgres read model in logs and gap reports.
const StructuredSinkName = "structured"

const recordColumns = `id, tenant_id, username, name, surname, email, faculty, department, internship_status, last_applied_seq, created_at, updated_at`

// StudentStore implements repository.StudentStore over the student_projection table.
// Deleted rows stay as tombstones (deleted=true) so their watermark survives.
type StudentStore struct{ db *DB }

// NewStudentStore constructs the structured projection store.
func NewStudentStore(db *DB) *StudentStore { return &StudentStore{db: db} }

// Name returns the sink name.
func (s *StudentStore) Name() string { return StructuredSinkName }

// Watermark returns the last applied seq for aggregateID, 0 if unknown.
func (s *StudentStore) Watermark(ctx context.Context, aggregateID string) (int64, error) {
	const q = `SELECT last_applied_seq FROM student_projection WHERE id=$1`
	var seq int64
	if err := s.db.Pool.QueryRow(ctx, q, aggregateID).Scan(&seq); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return seq, nil
}

// Watermarks returns every watermark including tombstones.
func (s *StudentStore) Watermarks(ctx context.Context) (map[string]int64, error) {
	const q = `SELECT id, last_applied_seq FROM student_projection`
	rows, err := s.db.Pool.Query(ctx, q)
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
		if err = rows.Scan(&id, &seq); err != nil {
			return nil, err
		}
		out[id] = seq
	}
	return out, rows.Err()
}

// Get returns a live record of tenantID.
func (s *StudentStore) Get(ctx context.Context, tenantID, aggregateID string) (*model.ProjectionRecord, error) {
	const q = `SELECT ` + recordColumns + ` FROM student_projection WHERE id=$1 AND tenant_id=$2 AND deleted=false`
	rec, err := scanRecord(s.db.Pool.QueryRow(ctx, q, aggregateID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert writes rec unless a newer seq is already stored.
func (s *StudentStore) Upsert(ctx context.Context, rec model.ProjectionRecord) error {
	const q = `
INSERT INTO student_projection (` + recordColumns + `, deleted)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,false)
ON CONFLICT (id) DO UPDATE SET
  tenant_id=EXCLUDED.tenant_id, username=EXCLUDED.username, name=EXCLUDED.name, surname=EXCLUDED.surname,
  email=EXCLUDED.email, faculty=EXCLUDED.faculty, department=EXCLUDED.department,
  internship_status=EXCLUDED.internship_status, last_applied_seq=EXCLUDED.last_applied_seq,
  updated_at=EXCLUDED.updated_at, deleted=false
WHERE student_projection.last_applied_seq < EXCLUDED.last_applied_seq`
	_, err := s.db.Pool.Exec(ctx, q, rec.ID, rec.TenantID, rec.Username, rec.Name, rec.Surname, rec.Email,
		rec.Faculty, rec.Department, rec.InternshipStatus, rec.LastAppliedSeq, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// Delete turns the row into a tombstone carrying seq.
func (s *StudentStore) Delete(ctx context.Context, tenantID, aggregateID string, seq int64) error {
	const q = `
INSERT INTO student_projection (id, tenant_id, last_applied_seq, deleted, created_at, updated_at)
VALUES ($1,$2,$3,true,now(),now())
ON CONFLICT (id) DO UPDATE SET
  deleted=true, username='', name='', surname='', email='', faculty='', department='', internship_status='',
  last_applied_seq=EXCLUDED.last_applied_seq, updated_at=now()
WHERE student_projection.last_applied_seq < EXCLUDED.last_applied_seq`
	_, err := s.db.Pool.Exec(ctx, q, aggregateID, tenantID, seq)
	return err
}

// Reset drops rows of tenantID, or of every tenant when tenantID is empty.
func (s *StudentStore) Reset(ctx context.Context, tenantID string) error {
	const q = `DELETE FROM student_projection WHERE ($1 = '' OR tenant_id=$1)`
	_, err := s.db.Pool.Exec(ctx, q, tenantID)
	return err
}

// Find translates pred into a WHERE clause and returns one page plus the total.
func (s *StudentStore) Find(
	ctx context.Context, pred query.Predicate, page model.PageRequest,
) ([]model.ProjectionRecord, int64, error) {
	page = query.Normalize(page)
	where, args, err := whereClause(pred)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err = s.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM student_projection WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 || int64(page.Offset()) >= total {
		return []model.ProjectionRecord{}, total, nil
	}

	q := fmt.Sprintf(`SELECT %s FROM student_projection WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		recordColumns, where, orderBy(page), len(args)+1, len(args)+2)
	args = append(args, page.Size, page.Offset())
	rows, err := s.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.ProjectionRecord, 0, page.Size)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

// whereClause renders the equality terms of pred as positional parameters.
// Live rows only; column names come from a fixed whitelist.
func whereClause(pred query.Predicate) (string, []any, error) {
	parts := []string{"deleted=false"}
	var args []any
	for _, t := range pred.Terms() {
		if !query.Filterable(t.Field()) {
			return "", nil, fmt.Errorf("filter on %q: %w", t.Field(), errs.ErrValidation)
		}
		args = append(args, t.Value())
		parts = append(parts, fmt.Sprintf("%s=$%d", t.Field(), len(args)))
	}
	return strings.Join(parts, " AND "), args, nil
}

func orderBy(page model.PageRequest) string {
	dir := "ASC"
	if page.Direction == model.Desc {
		dir = "DESC"
	}
	if page.SortBy == query.FieldID {
		return "id " + dir
	}
	return page.SortBy + " " + dir + ", id " + dir
}

func scanRecord(row pgx.Row) (model.ProjectionRecord, error) {
	var r model.ProjectionRecord
	err := row.Scan(&r.ID, &r.TenantID, &r.Username, &r.Name, &r.Surname, &r.Email, &r.Faculty,
		&r.Department, &r.InternshipStatus, &r.LastAppliedSeq, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}
