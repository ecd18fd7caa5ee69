package veloq_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/veloq"
)

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := veloq.NewNotFoundError("authors")
		assert.Equal(t, "veloq: authors not found", err.Error())
	})

	t.Run("Is", func(t *testing.T) {
		err := veloq.NewNotFoundError("books")
		assert.True(t, errors.Is(err, veloq.ErrNotFound))
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := veloq.NewNotFoundError("reviews")
		assert.True(t, veloq.IsNotFound(err))

		// Wrapped error
		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, veloq.IsNotFound(wrapped))

		// Sentinel error
		assert.True(t, veloq.IsNotFound(veloq.ErrNotFound))

		assert.False(t, veloq.IsNotFound(errors.New("other error")))
		assert.False(t, veloq.IsNotFound(nil))
	})
}

func TestNotSingularError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := veloq.NewNotSingularError("authors", 2)
		assert.Equal(t, "veloq: authors not singular (got 2 results, expected 1)", err.Error())
		assert.Equal(t, 2, err.Count())
	})

	t.Run("IsNotSingular", func(t *testing.T) {
		err := fmt.Errorf("only: %w", veloq.NewNotSingularError("books", 3))
		assert.True(t, veloq.IsNotSingular(err))
		assert.True(t, errors.Is(err, veloq.ErrNotSingular))
		assert.False(t, veloq.IsNotFound(err))
		assert.False(t, veloq.IsNotSingular(nil))
	})
}

func TestNotLoadedError(t *testing.T) {
	err := veloq.NewNotLoadedError("books")
	assert.Equal(t, `veloq: edge "books" was not loaded`, err.Error())
	assert.True(t, veloq.IsNotLoaded(fmt.Errorf("list: %w", err)))
	assert.False(t, veloq.IsNotLoaded(veloq.ErrNotFound))
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		msg   string
		check func(error) bool
	}{
		{
			name:  "build",
			err:   veloq.NewBuildError("join", "%s joined before FROM", "books"),
			msg:   "veloq: build join: books joined before FROM",
			check: veloq.IsBuildError,
		},
		{
			name:  "build without op",
			err:   veloq.NewBuildError("", "empty projection"),
			msg:   "veloq: build: empty projection",
			check: veloq.IsBuildError,
		},
		{
			name:  "compile",
			err:   veloq.NewCompileError("unknown alias %q", "t9"),
			msg:   `veloq: compile: unknown alias "t9"`,
			check: veloq.IsCompileError,
		},
		{
			name:  "transaction state",
			err:   veloq.NewTransactionStateError("commit", "no open transaction"),
			msg:   "veloq: commit: no open transaction",
			check: veloq.IsTransactionStateError,
		},
		{
			name:  "prefetch path",
			err:   &veloq.PrefetchPathError{Level: 1, Table: "tags", Prev: "authors", Msg: "tags holds no foreign key to authors"},
			msg:   "veloq: prefetch path level 1 (authors -> tags): tags holds no foreign key to authors",
			check: veloq.IsPrefetchPathError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.msg)
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New(tt.msg)))
			assert.False(t, tt.check(nil))
		})
	}
}

func TestJoinErrors(t *testing.T) {
	none := &veloq.NoImplicitJoinError{From: "authors", To: "tags"}
	assert.Equal(t, `veloq: no foreign key between "authors" and "tags", an explicit predicate is required`, none.Error())
	assert.True(t, errors.Is(none, veloq.ErrJoin))
	assert.True(t, veloq.IsNoImplicitJoin(none))
	assert.False(t, veloq.IsAmbiguousJoin(none))

	amb := &veloq.AmbiguousJoinError{From: "users", To: "messages", Candidates: []string{"sender_id", "recipient_id"}}
	assert.Equal(t, `veloq: ambiguous join between "users" and "messages" (candidates: sender_id, recipient_id), an explicit predicate is required`, amb.Error())
	assert.True(t, errors.Is(fmt.Errorf("join: %w", amb), veloq.ErrJoin))
	assert.True(t, veloq.IsAmbiguousJoin(amb))
	assert.False(t, veloq.IsNoImplicitJoin(amb))
}

func TestDriverErrors(t *testing.T) {
	cause := errors.New(`duplicate key value violates unique constraint "authors_pkey"`)
	err := error(&veloq.IntegrityError{DriverError: veloq.DriverError{Err: cause}, Constraint: veloq.ConstraintUnique})

	assert.Equal(t, cause.Error(), err.Error(), "the backend message is kept")
	assert.True(t, errors.Is(err, cause))
	assert.True(t, veloq.IsDriverError(err))
	assert.True(t, veloq.IsIntegrityError(fmt.Errorf("exec: %w", err)))
	assert.False(t, veloq.IsOperationalError(err))

	var ie *veloq.IntegrityError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, veloq.ConstraintUnique, ie.Constraint)

	for _, err := range []error{
		&veloq.OperationalError{DriverError: veloq.DriverError{Err: cause}},
		&veloq.ProgrammingError{DriverError: veloq.DriverError{Err: cause}},
		&veloq.InterfaceError{DriverError: veloq.DriverError{Err: cause}},
	} {
		assert.True(t, veloq.IsDriverError(err))
		assert.False(t, veloq.IsIntegrityError(err))
	}
	assert.True(t, veloq.IsOperationalError(&veloq.OperationalError{DriverError: veloq.DriverError{Err: cause}}))
	assert.True(t, veloq.IsProgrammingError(&veloq.ProgrammingError{DriverError: veloq.DriverError{Err: cause}}))
	assert.True(t, veloq.IsInterfaceError(&veloq.InterfaceError{DriverError: veloq.DriverError{Err: cause}}))
	assert.False(t, veloq.IsDriverError(cause))
	assert.False(t, veloq.IsDriverError(nil))
}

func TestRollbackError(t *testing.T) {
	cause := errors.New("insert failed")
	rb := errors.New("connection reset")
	err := &veloq.RollbackError{Err: cause, Rollback: rb}

	assert.Equal(t, "veloq: insert failed: rollback failed: connection reset", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, rb))
}

func TestSessionBroken(t *testing.T) {
	err := fmt.Errorf("exec: %w", veloq.ErrSessionBroken)
	assert.True(t, errors.Is(err, veloq.ErrSessionBroken))
	assert.False(t, veloq.IsTransactionStateError(err))
}

func BenchmarkErrors(b *testing.B) {
	b.Run("IsNotFound", func(b *testing.B) {
		err := fmt.Errorf("wrapped: %w", veloq.NewNotFoundError("authors"))
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = veloq.IsNotFound(err)
		}
	})
	b.Run("IsIntegrityError", func(b *testing.B) {
		err := fmt.Errorf("exec: %w", &veloq.IntegrityError{DriverError: veloq.DriverError{Err: errors.New("x")}})
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			_ = veloq.IsIntegrityError(err)
		}
	})
}
