package migrate

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var files = fstest.MapFS{
	"0002_indexes.sql":   {Data: []byte("CREATE INDEX b ON t (b);")},
	"0001_documents.sql": {Data: []byte("CREATE TABLE t (b TEXT);")},
	"README.md":          {Data: []byte("not a migration")},
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("0001_documents.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("0002_indexes.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE INDEX b ON t`).WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("0002_indexes.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	applied, err := Up(context.Background(), mock, files)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002_indexes.sql"}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	only := fstest.MapFS{"0001_documents.sql": files["0001_documents.sql"]}

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("0001_documents.sql").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE t`).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := Up(context.Background(), mock, only)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0001_documents.sql")
	assert.Empty(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpFailsWhenTableCannotBeCreated(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnError(errors.New("permission denied"))

	_, err = Up(context.Background(), mock, files)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
