package hugindb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tveitane/hugindb/pkg/config"
	"github.com/tveitane/hugindb/pkg/cypher"
)

func openTestDB(t *testing.T, mutate func(*config.Config)) *DB {
	t.Helper()
	cfg := config.Default()
	cfg.Query.Timeout = 0
	if mutate != nil {
		mutate(cfg)
	}
	db, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Engine = "floppy"
	_, err := Open(cfg)
	require.Error(t, err)
}

func TestExecuteRoundTrip(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	_, err := db.Execute(ctx, `CREATE (n:Person {name: "Hugin", age: 30})`)
	require.NoError(t, err)

	res, err := db.ExecuteWithParams(ctx,
		"MATCH (n:Person) WHERE n.name = $name RETURN n.age AS age",
		map[string]any{"name": "Hugin"})
	require.NoError(t, err)
	assert.Equal(t, []string{"age"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(30), res.Rows[0][0])
}

func TestExecuteSurfacesTypedErrors(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	_, err := db.Execute(ctx, "MATCH (n RETURN n")
	var synErr *cypher.SyntaxError
	require.ErrorAs(t, err, &synErr)

	_, err = db.Execute(ctx, "MATCH (n) RETURN m")
	var planErr *cypher.PlanError
	require.ErrorAs(t, err, &planErr)
}

func TestPlanCacheReuse(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	query := "MATCH (n:Person) RETURN n.name AS name"
	_, err := db.Execute(ctx, query)
	require.NoError(t, err)
	// Formatting and keyword case differences hit the same entry.
	_, err = db.Execute(ctx, "match  (n:Person)\nRETURN n.name AS name")
	require.NoError(t, err)

	stats := db.Stats()
	assert.Equal(t, uint64(1), stats.PlanCache.Hits)
	assert.Equal(t, 1, stats.PlanCache.Size)
}

func TestLabelCaseDistinguishesCachedPlans(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	_, err := db.Execute(ctx, "CREATE (:Person {name: 'Alice'})")
	require.NoError(t, err)

	result, err := db.Execute(ctx, "MATCH (n:Person) RETURN count(n) AS c")
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(1), result.Rows[0][0])

	// Labels are case-sensitive, so the lowercase variant must not reuse
	// the cached :Person plan.
	result, err = db.Execute(ctx, "MATCH (n:person) RETURN count(n) AS c")
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, int64(0), result.Rows[0][0])
}

func TestCacheDisabledByConfig(t *testing.T) {
	db := openTestDB(t, func(cfg *config.Config) {
		cfg.Query.CacheEnabled = false
	})
	ctx := context.Background()

	_, err := db.Execute(ctx, "MATCH (n) RETURN n")
	require.NoError(t, err)
	_, err = db.Execute(ctx, "MATCH (n) RETURN n")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), db.Stats().PlanCache.Hits)
}

func TestFunctionChangeInvalidatesCachedPlans(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	_, err := db.Execute(ctx, "MATCH (n) RETURN n")
	require.NoError(t, err)
	require.Equal(t, 1, db.Stats().PlanCache.Size)

	_, err = db.Execute(ctx, "CREATE FUNCTION double(x) AS x * 2")
	require.NoError(t, err)
	assert.Equal(t, 0, db.Stats().PlanCache.Size)

	// The new function resolves through the facade.
	res, err := db.Execute(ctx, "RETURN double(21) AS v")
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Rows[0][0])

	_, err = db.Execute(ctx, "DROP FUNCTION double")
	require.NoError(t, err)
	assert.Equal(t, 0, db.Stats().PlanCache.Size)
}

func TestCoordinatorAllowsConcurrentStatements(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	// Writers are serialized against each other and against readers; every
	// created node must survive the interleaving.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := db.Execute(ctx, "CREATE (n:Worker)")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := db.Execute(ctx, "MATCH (n:Worker) RETURN count(*)")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	res, err := db.Execute(ctx, "MATCH (n:Worker) RETURN count(*) AS c")
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.Rows[0][0])
}

func TestCancelledStatementSurfacesTimeout(t *testing.T) {
	db := openTestDB(t, nil)
	_, err := db.Execute(context.Background(), "UNWIND range(1, 100) AS x CREATE (n:Row {v: x})")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = db.Execute(ctx, "MATCH (n:Row) RETURN n")
	require.Error(t, err)
	var timeoutErr *cypher.TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestConfiguredTimeoutApplies(t *testing.T) {
	db := openTestDB(t, func(cfg *config.Config) {
		cfg.Query.Timeout = time.Nanosecond
	})
	_, err := db.Execute(context.Background(), "UNWIND range(1, 1000) AS x RETURN x")
	require.Error(t, err)
	var timeoutErr *cypher.TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestBadgerEngineSelectionPersists(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.Engine = config.EngineBadger
	cfg.Database.DataDir = dir

	db, err := Open(cfg)
	require.NoError(t, err)
	_, err = db.Execute(context.Background(), `CREATE (n:Keep {name: "x"})`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	res, err := db.Execute(context.Background(), "MATCH (n:Keep) RETURN n.name AS name")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "x", res.Rows[0][0])
}

func TestStatsCountsQueries(t *testing.T) {
	db := openTestDB(t, nil)
	ctx := context.Background()

	_, _ = db.Execute(ctx, "CREATE (n:A)")
	_, _ = db.Execute(ctx, "MATCH (n RETURN")

	stats := db.Stats()
	assert.Equal(t, uint64(2), stats.QueriesExecuted)
	assert.Equal(t, uint64(1), stats.QueriesFailed)
	assert.Equal(t, int64(1), stats.Nodes)
}

func TestClosedDatabaseRefusesStatements(t *testing.T) {
	db := openTestDB(t, nil)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.Execute(context.Background(), "MATCH (n) RETURN n")
	assert.ErrorIs(t, err, ErrClosed)
}
