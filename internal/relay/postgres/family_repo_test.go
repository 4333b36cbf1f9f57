package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"famtable/internal/errs"
	"famtable/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func TestFamilyRepo_Get_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewFamilyRepo(db)

	ctx := context.Background()
	updated := time.Now()

	mock.ExpectQuery(`SELECT family_id, blob, last_updated FROM families WHERE family_id=\$1`).
		WithArgs("fam-1").
		WillReturnRows(pgxmock.NewRows([]string{"family_id", "blob", "last_updated"}).
			AddRow("fam-1", "s.n.ct", updated))

	rec, err := r.Get(ctx, "fam-1")
	require.NoError(t, err)
	require.Equal(t, "fam-1", rec.FamilyID)
	require.Equal(t, model.Envelope("s.n.ct"), rec.Blob)
	require.Equal(t, updated, rec.LastUpdated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFamilyRepo_Get_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewFamilyRepo(db)

	mock.ExpectQuery(`SELECT family_id, blob, last_updated FROM families WHERE family_id=\$1`).
		WithArgs("missing").
		WillReturnError(errors.New("no rows in result set"))

	_, err := r.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestFamilyRepo_Get_MapsNoRows(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewFamilyRepo(db)

	mock.ExpectQuery(`SELECT family_id, blob, last_updated FROM families WHERE family_id=\$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := r.Get(context.Background(), "missing")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestFamilyRepo_Put_Upsert(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewFamilyRepo(db)

	mock.ExpectExec(`INSERT INTO families \(family_id, blob, last_updated\) VALUES \(\$1,\$2,now\(\)\)`).
		WithArgs("fam-1", "s.n.ct").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Put(context.Background(), "fam-1", model.Envelope("s.n.ct")))
	require.NoError(t, mock.ExpectationsWereMet())
}
