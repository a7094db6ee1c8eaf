package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScripts_OrderedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"pg/002_index.sql": {Data: []byte("CREATE INDEX i ON t (a);")},
		"pg/001_table.sql": {Data: []byte("CREATE TABLE t (a INT);\n")},
		"pg/003_empty.sql": {Data: []byte("  \n")},
		"pg/README.md":     {Data: []byte("notes")},
		"pg/sub/004_x.sql": {Data: []byte("SELECT 1;")},
	}

	got, err := scripts(fsys, "pg")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "001_table.sql", got[0].name)
	assert.Equal(t, "CREATE TABLE t (a INT);", got[0].body)
	assert.Equal(t, "002_index.sql", got[1].name)

	_, err = scripts(fsys, "missing")
	assert.Error(t, err)
}

func TestScripts_EmbeddedSchemas(t *testing.T) {
	ledger, err := scripts(ledgerSchema, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, ledger)
	assert.Contains(t, ledger[0].body, "trade_ledger")

	samples, err := scripts(samplesSchema, "clickhouse")
	require.NoError(t, err)
	require.NotEmpty(t, samples)
	for _, s := range samples {
		stmts, err := splitStatements(s.body)
		require.NoError(t, err, s.name)
		assert.NotEmpty(t, stmts, s.name)
	}
}

func TestSplitStatements(t *testing.T) {
	body := `-- samples; with a semicolon in a comment
CREATE TABLE a (x String DEFAULT 'a;b');
  -- indented comment
INSERT INTO a VALUES ('it''s'), ('back\'slash;');

SELECT 1`

	stmts, err := splitStatements(body)
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE TABLE a (x String DEFAULT 'a;b')", stmts[0])
	assert.Equal(t, `INSERT INTO a VALUES ('it''s'), ('back\'slash;')`, stmts[1])
	assert.Equal(t, "SELECT 1", stmts[2])
}

func TestSplitStatements_UnterminatedLiteral(t *testing.T) {
	_, err := splitStatements("SELECT 'open;")
	assert.Error(t, err)
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/mirror")
	require.NoError(t, err)
	assert.Equal(t, "mirror", db)

	_, err = databaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
