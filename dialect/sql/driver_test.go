package sql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloq"
	"github.com/syssam/veloq/dialect"
)

func TestWithVars(t *testing.T) {
	ctx := context.Background()

	t.Run("pool", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		db.SetMaxOpenConns(1)
		drv := OpenDB(dialect.Postgres, db)

		mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("SET foo = 'baz'").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
		mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
		rows := &Rows{}
		require.NoError(t, drv.Query(WithVar(WithVar(ctx, "foo", "bar"), "foo", "baz"), "SELECT 1", []any{}, rows))
		require.NoError(t, rows.Close(), "closing the rows resets the variable and releases the connection")

		mock.ExpectExec("SET foo = 'qux'").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO users DEFAULT VALUES").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
		require.NoError(t, drv.Exec(WithVar(ctx, "foo", "qux"), "INSERT INTO users DEFAULT VALUES", []any{}, nil))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("session", func(t *testing.T) {
		s, mock := mockSession(t, dialect.MySQL)
		expect(mock, "START TRANSACTION", "SET tenant = 'acme'", "DELETE FROM users", "SET tenant = NULL", "COMMIT")
		err := s.Atomic(ctx, func(ctx context.Context) error {
			return s.Exec(WithVar(ctx, "tenant", "acme"), "DELETE FROM users", []any{}, nil)
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet(), "the variable does not outlive the statement on the session")
	})

	t.Run("value from context", func(t *testing.T) {
		wctx := WithVar(WithVar(ctx, "foo", "bar"), "foo", "baz")
		v, ok := VarFromContext(wctx, "foo")
		require.True(t, ok)
		require.Equal(t, "baz", v)
		_, ok = VarFromContext(wctx, "bar")
		require.False(t, ok)
	})

	t.Run("invalid name", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		drv := OpenDB(dialect.Postgres, db)
		err = drv.Query(WithVar(ctx, "foo; DROP TABLE users; --", "bar"), "SELECT 1", []any{}, &Rows{})
		require.ErrorContains(t, err, "invalid session variable name")
		require.NoError(t, mock.ExpectationsWereMet(), "no statement runs")
	})
}

func TestSessionVarStatement(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{value: "hello", want: "SET v = 'hello'"},
		{value: "it's", want: "SET v = 'it''s'"},
		{value: `path\to`, want: `SET v = 'path\\to'`},
		{value: "'; DROP TABLE users; --", want: "SET v = '''; DROP TABLE users; --'"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, sessionVar{name: "v", value: tt.value}.stmt())
		})
	}
	for name, valid := range map[string]bool{
		"foo":                      true,
		"schema.table":             true,
		"_private":                 true,
		"":                         false,
		"123foo":                   false,
		"foo bar":                  false,
		"foo;DROP TABLE":           false,
		string(make([]byte, 129)): false,
	} {
		assert.Equal(t, valid, identRe.MatchString(name), "%q", name)
	}
}

func TestOpenDB(t *testing.T) {
	for _, d := range []string{dialect.Postgres, dialect.MySQL, dialect.SQLite} {
		t.Run(d, func(t *testing.T) {
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			drv := OpenDB(d, db)
			assert.Equal(t, d, drv.Dialect())
			assert.Same(t, db, drv.DB())
		})
	}
}

func TestDriverQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	t.Run("args", func(t *testing.T) {
		mock.ExpectQuery(`SELECT name FROM users WHERE id = \$1`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alice"))
		rows := &Rows{}
		require.NoError(t, drv.Query(context.Background(), "SELECT name FROM users WHERE id = $1", []any{1}, rows))
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("unclassified error", func(t *testing.T) {
		expectedErr := errors.New("database error")
		mock.ExpectQuery("SELECT").WillReturnError(expectedErr)
		err := drv.Query(context.Background(), "SELECT", []any{}, &Rows{})
		require.ErrorIs(t, err, expectedErr)
		require.False(t, veloq.IsDriverError(err), "unclassified errors are not tagged")
	})
	t.Run("syntax error", func(t *testing.T) {
		mock.ExpectQuery("SELEC").WillReturnError(&pq.Error{Code: "42601", Message: `syntax error at or near "SELEC"`})
		err := drv.Query(context.Background(), "SELEC 1", []any{}, &Rows{})
		require.True(t, veloq.IsProgrammingError(err))
		var pqErr *pq.Error
		require.ErrorAs(t, err, &pqErr)
		require.Equal(t, pq.ErrorCode("42601"), pqErr.Code)
	})
	t.Run("invalid destination", func(t *testing.T) {
		require.ErrorContains(t, drv.Query(context.Background(), "SELECT 1", []any{}, nil), "invalid type")
	})
	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := drv.Query(ctx, "SELECT 1", []any{}, &Rows{})
		require.ErrorIs(t, err, context.Canceled)
		assert.True(t, veloq.IsOperationalError(err))
		assert.True(t, isConnFault(err))
	})
}

func TestDriverExec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	t.Run("result", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET name = \$1 WHERE id = \$2`).
			WithArgs("Alice", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		var res Result
		require.NoError(t, drv.Exec(context.Background(), "UPDATE users SET name = $1 WHERE id = $2", []any{"Alice", 1}, &res))
		n, err := res.RowsAffected()
		require.NoError(t, err)
		require.Equal(t, int64(1), n)
	})
	t.Run("foreign key", func(t *testing.T) {
		expectedErr := &pq.Error{Code: "23503", Message: `update or delete on table "users" violates foreign key constraint "posts_user_id_fkey"`}
		mock.ExpectExec("DELETE").WillReturnError(expectedErr)
		err := drv.Exec(context.Background(), "DELETE FROM users", []any{}, nil)
		require.True(t, veloq.IsIntegrityError(err))
		require.True(t, IsForeignKeyConstraintError(err))
		require.ErrorIs(t, err, expectedErr)
		require.Contains(t, err.Error(), expectedErr.Message)
	})
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriverTx(t *testing.T) {
	ctx := context.Background()
	open := func(t *testing.T) (*Driver, sqlmock.Sqlmock) {
		db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return OpenDB(dialect.Postgres, db), mock
	}

	t.Run("commit", func(t *testing.T) {
		drv, mock := open(t)
		expect(mock, "BEGIN", "INSERT INTO users DEFAULT VALUES", "COMMIT")
		tx, err := drv.Tx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Exec(ctx, "INSERT INTO users DEFAULT VALUES", []any{}, nil))
		require.NoError(t, tx.Commit())
		require.ErrorIs(t, tx.Commit(), sql.ErrTxDone)
		require.ErrorIs(t, tx.Rollback(), sql.ErrTxDone)
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("rollback", func(t *testing.T) {
		drv, mock := open(t)
		expect(mock, "BEGIN")
		mock.ExpectExec("INSERT INTO users DEFAULT VALUES").WillReturnError(errors.New("error"))
		expect(mock, "ROLLBACK")
		tx, err := drv.Tx(ctx)
		require.NoError(t, err)
		require.Error(t, tx.Exec(ctx, "INSERT INTO users DEFAULT VALUES", []any{}, nil))
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("query", func(t *testing.T) {
		drv, mock := open(t)
		expect(mock, "BEGIN")
		mock.ExpectQuery("SELECT id FROM users").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
		expect(mock, "COMMIT")
		tx, err := drv.Tx(ctx)
		require.NoError(t, err)
		rows := &Rows{}
		require.NoError(t, tx.Query(ctx, "SELECT id FROM users", []any{}, rows))
		require.NoError(t, rows.Close())
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})
	t.Run("session frame", func(t *testing.T) {
		drv, mock := open(t)
		expect(mock, "BEGIN", `SAVEPOINT "s2_1"`, `ROLLBACK TO SAVEPOINT "s2_1"`, `RELEASE SAVEPOINT "s2_1"`, "COMMIT")
		s, err := drv.Session(ctx)
		require.NoError(t, err)
		defer s.Close()
		err = s.Atomic(ctx, func(ctx context.Context) error {
			tx, err := s.Tx(ctx)
			if err != nil {
				return err
			}
			require.Equal(t, FrameSavepoint, tx.Frame().Kind)
			require.Equal(t, 2, s.Depth())
			return tx.Rollback()
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDriverSession(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	drv := OpenDB(dialect.SQLite, db)
	sess, err := drv.Session(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dialect.SQLite, sess.Dialect())
	assert.False(t, sess.InTransaction())
	require.NoError(t, sess.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func BenchmarkDriver(b *testing.B) {
	db, mock, err := sqlmock.New()
	if err != nil {
		b.Fatal(err)
	}
	defer db.Close()
	drv := OpenDB(dialect.Postgres, db)

	b.Run("Query", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
			rows := &Rows{}
			_ = drv.Query(context.Background(), "SELECT 1", []any{}, rows)
			rows.Close()
		}
	})
	b.Run("Tx", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			expect(mock, "BEGIN", "COMMIT")
			tx, _ := drv.Tx(context.Background())
			tx.Commit()
		}
	})
}
