package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VicenzaTech/psm-backend/internal/repository"
	"github.com/VicenzaTech/psm-backend/internal/repository/repotest"
	"github.com/VicenzaTech/psm-backend/internal/testutil"
)

func TestPostgresRepositories_Contract(t *testing.T) {
	repotest.Run(t, func(t *testing.T) repository.Repositories {
		return New(testutil.OpenSchemaPool(t, "repo_contract"))
	})
}

func TestMapError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, mapError(nil))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows), repository.ErrNotFound)

	uv := mapError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: repository.ConstraintActiveStage})
	require.ErrorIs(t, uv, repository.ErrUniqueViolation)
	assert.Equal(t, repository.ConstraintActiveStage, repository.ViolatedConstraint(uv))

	fk := mapError(&pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: "production_plans_production_line_id_fkey"})
	assert.ErrorIs(t, fk, repository.ErrNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, mapError(other))
}

func TestWhereBuilder(t *testing.T) {
	t.Parallel()

	var w where
	assert.Equal(t, "", w.String())

	w.add("status = $%d", "DRAFT")
	w.add("customer = $%d", "Acme")
	assert.Equal(t, " WHERE status = $1 AND customer = $2", w.String())
	assert.Equal(t, []any{"DRAFT", "Acme"}, w.args)
}
