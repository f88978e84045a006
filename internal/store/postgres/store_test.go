package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://keeper:pw@db:5432/keeper?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "keeper", User: "keeper", Password: "pw"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p@h:6543/d?sslmode=require",
		DSN(ClientConfig{Host: "h", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://keeper:p%40ss%2Fw@db:5432/keeper?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "keeper", User: "keeper", Password: "p@ss/w"}))
}

func TestMigrationFilesOrdered(t *testing.T) {
	names, err := migrationFiles(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "001_audit.sql", names[0])
	assert.IsIncreasing(t, names)
}

func TestListClause(t *testing.T) {
	base := "SELECT id FROM t WHERE 1=1"

	q, args := listClause(base, domain.ListOpts{})
	assert.Equal(t, base+" ORDER BY created_at DESC, id DESC", q)
	assert.Empty(t, args)

	since := time.Unix(100, 0)
	until := time.Unix(200, 0)
	q, args = listClause(base, domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20})
	assert.Equal(t, base+" AND created_at >= $1 AND created_at < $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{since, until, 10, 20}, args)

	q, args = listClause(base, domain.ListOpts{Until: &until})
	assert.Equal(t, base+" AND created_at < $1 ORDER BY created_at DESC, id DESC", q)
	assert.Equal(t, []any{until}, args)
}

func TestAmountText(t *testing.T) {
	assert.Equal(t, "0", amountText(nil))
	v := parseAmount("1000000000000000000000")
	assert.Equal(t, "1000000000000000000000", amountText(v))
	assert.Zero(t, parseAmount("garbage").Sign())
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_audit.sql")
	assert.NoError(t, err)
	assert.Contains(t, string(data), "rollover_transactions")
	assert.Contains(t, string(data), "arbitrage_transactions")
}
