package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/and161185/lotus-core/internal/errs"
	"github.com/and161185/lotus-core/internal/model"
	"github.com/and161185/lotus-core/internal/query"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var recordCols = []string{"id", "tenant_id", "username", "name", "surname", "email", "faculty", "department",
	"internship_status", "last_applied_seq", "created_at", "updated_at"}

func TestStudentStore_Find_TranslatesPredicate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStudentStore(db)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM student_projection WHERE deleted=false AND tenant_id=\$1 AND faculty=\$2`).
		WithArgs("t1", "Eng").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`FROM student_projection WHERE deleted=false AND tenant_id=\$1 AND faculty=\$2 ORDER BY surname DESC, id DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("t1", "Eng", 2, 2).
		WillReturnRows(pgxmock.NewRows(recordCols).
			AddRow("s3", "t1", "adams", "Ann", "Adams", "a@x.io", "Eng", "CS", "", int64(1), ts, ts))

	recs, total, err := s.Find(context.Background(),
		query.FromFilter("t1", model.Filter{Faculty: "Eng"}),
		model.PageRequest{Page: 1, Size: 2, SortBy: "Surname", Direction: "DESC"})
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, recs, 1)
	require.Equal(t, "Adams", recs[0].Surname)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentStore_Find_PageOutOfRange_SkipsSelect(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStudentStore(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM student_projection WHERE deleted=false AND tenant_id=\$1`).
		WithArgs("t1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))

	recs, total, err := s.Find(context.Background(), query.FromFilter("t1", model.Filter{}),
		model.PageRequest{Page: 50, Size: 10})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Empty(t, recs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentStore_Find_UnknownField_Validation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStudentStore(db)

	_, _, err := s.Find(context.Background(), query.Eq("password; DROP TABLE x", "1"), model.PageRequest{})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestStudentStore_Watermark_MissingRow_Zero(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStudentStore(db)

	mock.ExpectQuery(`SELECT last_applied_seq FROM student_projection WHERE id=\$1`).
		WithArgs("s1").
		WillReturnError(pgx.ErrNoRows)
	wm, err := s.Watermark(context.Background(), "s1")
	require.NoError(t, err)
	require.Zero(t, wm)
}

func TestStudentStore_Get_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStudentStore(db)

	mock.ExpectQuery(`FROM student_projection WHERE id=\$1 AND tenant_id=\$2 AND deleted=false`).
		WithArgs("s1", "t2").
		WillReturnError(pgx.ErrNoRows)
	_, err := s.Get(context.Background(), "t2", "s1")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStudentStore_Upsert_And_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStudentStore(db)
	ctx := context.Background()

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := model.ProjectionRecord{ID: "s1", TenantID: "t1", Username: "jdoe", Name: "John", Surname: "Doe",
		Email: "j@x.io", Faculty: "Eng", LastAppliedSeq: 2, CreatedAt: ts, UpdatedAt: ts}

	mock.ExpectExec(`INSERT INTO student_projection .* ON CONFLICT \(id\) DO UPDATE SET .* WHERE student_projection.last_applied_seq < EXCLUDED.last_applied_seq`).
		WithArgs("s1", "t1", "jdoe", "John", "Doe", "j@x.io", "Eng", "", "", int64(2), ts, ts).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Upsert(ctx, rec))

	mock.ExpectExec(`INSERT INTO student_projection \(id, tenant_id, last_applied_seq, deleted, created_at, updated_at\).*` +
		`deleted=true.* WHERE student_projection.last_applied_seq < EXCLUDED.last_applied_seq`).
		WithArgs("s1", "t1", int64(3)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.Delete(ctx, "t1", "s1", 3))

	mock.ExpectExec(`DELETE FROM student_projection WHERE \(\$1 = '' OR tenant_id=\$1\)`).
		WithArgs("").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	require.NoError(t, s.Reset(ctx, ""))
	require.NoError(t, mock.ExpectationsWereMet())
}
