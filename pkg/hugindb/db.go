// Package hugindb provides the main API for embedded HuginDB usage.
//
// A DB ties the pieces together: a storage engine (in-memory or Badger),
// the Cypher pipeline, the plan cache and the statement coordinator. The
// HTTP server and the CLI are thin shells over this package; embedding
// applications can use it directly.
//
// Example Usage:
//
//	cfg := config.Default()
//	db, err := hugindb.Open(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	result, err := db.Execute(ctx, `CREATE (n:Person {name: "Hugin"})`)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err = db.ExecuteWithParams(ctx,
//		"MATCH (n:Person) WHERE n.name = $name RETURN n",
//		map[string]any{"name": "Hugin"})
//
// Concurrency:
//
// The coordinator hands out a shared token to read-only statements and an
// exclusive token to anything that mutates data or catalogs. Readers run
// concurrently; a writer waits for in-flight readers and blocks new ones
// for the duration of its statement. The token is per statement, not per
// transaction; HuginDB has no multi-statement transactions.
package hugindb

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tveitane/hugindb/pkg/cache"
	"github.com/tveitane/hugindb/pkg/config"
	"github.com/tveitane/hugindb/pkg/cypher"
	"github.com/tveitane/hugindb/pkg/storage"
)

// ErrClosed is returned by operations on a closed database.
var ErrClosed = errors.New("database is closed")

// DB is a HuginDB database instance.
//
// All methods are safe for concurrent use.
type DB struct {
	config   *config.Config
	engine   storage.Engine
	registry *cypher.FunctionRegistry
	plans    *cache.PlanCache

	// stmtMu is the statement coordinator: read-only plans take the read
	// side, mutating and catalog plans take the write side.
	stmtMu sync.RWMutex

	closeMu sync.Mutex
	closed  bool

	queriesExecuted atomic.Uint64
	queriesFailed   atomic.Uint64
}

// Open initializes a database from the configuration. A nil config means
// config.Default(). The configuration is validated before any state is
// touched.
func Open(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var engine storage.Engine
	switch cfg.Database.Engine {
	case config.EngineBadger:
		badgerEngine, err := storage.NewBadgerEngine(storage.BadgerOptions{
			DataDir: cfg.Database.DataDir,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent storage: %w", err)
		}
		engine = badgerEngine
		log.Printf("[hugindb] persistent storage at %s", cfg.Database.DataDir)
	default:
		engine = storage.NewMemoryEngine()
		log.Printf("[hugindb] in-memory storage (data will not persist)")
	}

	plans := cache.NewPlanCache(cfg.Query.CacheSize, cfg.Query.CacheTTL)
	plans.SetEnabled(cfg.Query.CacheEnabled)

	return &DB{
		config:   cfg,
		engine:   engine,
		registry: cypher.NewFunctionRegistry(),
		plans:    plans,
	}, nil
}

// Execute runs a Cypher statement without parameters.
func (db *DB) Execute(ctx context.Context, query string) (*cypher.Result, error) {
	return db.ExecuteWithParams(ctx, query, nil)
}

// ExecuteWithParams runs a Cypher statement with the given parameters.
//
// The statement is parsed and planned (or fetched from the plan cache),
// admitted by the coordinator, and executed under the configured timeout.
// Errors come back as the pipeline's typed errors; errors.As works across
// this boundary.
func (db *DB) ExecuteWithParams(ctx context.Context, query string, params map[string]any) (*cypher.Result, error) {
	db.closeMu.Lock()
	if db.closed {
		db.closeMu.Unlock()
		return nil, ErrClosed
	}
	db.closeMu.Unlock()

	start := time.Now()
	result, err := db.execute(ctx, query, params)

	elapsed := time.Since(start)
	db.queriesExecuted.Add(1)
	if err != nil {
		db.queriesFailed.Add(1)
	}
	if db.config.Logging.QueryLogEnabled {
		log.Printf("[query] %s (%v) err=%v", query, elapsed, err)
	} else if t := db.config.Logging.SlowQueryThreshold; t > 0 && elapsed >= t {
		log.Printf("[query] slow statement (%v > %v): %s", elapsed, t, query)
	}
	return result, err
}

func (db *DB) execute(ctx context.Context, query string, params map[string]any) (*cypher.Result, error) {
	plan, err := db.planFor(query)
	if err != nil {
		return nil, err
	}

	if timeout := db.config.Query.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	// Coordinator token for the statement duration.
	if plan.ReadOnly {
		db.stmtMu.RLock()
		defer db.stmtMu.RUnlock()
	} else {
		db.stmtMu.Lock()
		defer db.stmtMu.Unlock()
	}

	result, err := cypher.Run(ctx, db.engine, db.registry, plan, params)
	if err != nil {
		return nil, err
	}

	// Function resolution happens at plan time, so a catalog change
	// invalidates every cached plan.
	if changesFunctions(plan) {
		db.plans.Clear()
	}
	return result, nil
}

// planFor returns a compiled plan for the query, consulting the cache
// first. Catalog statements are planned fresh every time; caching them
// would defeat their own invalidation.
func (db *DB) planFor(query string) (*cypher.Plan, error) {
	key := db.plans.Key(cache.Normalize(query))
	if cached, ok := db.plans.Get(key); ok {
		return cached.(*cypher.Plan), nil
	}

	stmt, err := cypher.Parse(query)
	if err != nil {
		return nil, err
	}
	plan, err := cypher.NewPlanner(db.engine, db.registry).Plan(stmt)
	if err != nil {
		return nil, err
	}

	if plan.Admin == nil {
		db.plans.Put(key, plan)
	}
	return plan, nil
}

func changesFunctions(plan *cypher.Plan) bool {
	switch plan.Admin.(type) {
	case *cypher.CreateFunctionStatement, *cypher.DropFunctionStatement:
		return true
	}
	return false
}

// Stats reports counters for monitoring.
type Stats struct {
	QueriesExecuted uint64
	QueriesFailed   uint64
	Nodes           int64
	Relationships   int64
	PlanCache       cache.Stats
}

// Stats returns a snapshot of database statistics.
func (db *DB) Stats() Stats {
	return Stats{
		QueriesExecuted: db.queriesExecuted.Load(),
		QueriesFailed:   db.queriesFailed.Load(),
		Nodes:           db.engine.NodeCount(),
		Relationships:   db.engine.RelationshipCount(),
		PlanCache:       db.plans.Stats(),
	}
}

// Config returns the configuration the database was opened with.
func (db *DB) Config() *config.Config {
	return db.config
}

// Close releases the storage engine. Further calls are no-ops; statements
// issued after Close fail with ErrClosed.
func (db *DB) Close() error {
	db.closeMu.Lock()
	defer db.closeMu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	// Wait out in-flight statements before tearing down storage.
	db.stmtMu.Lock()
	defer db.stmtMu.Unlock()

	return db.engine.Close()
}
