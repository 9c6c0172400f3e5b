// Package dbtransport dispatches the db_* Effect family (spec §6) over
// github.com/jackc/pgx/v5's pgxpool, grounded on the teacher's own
// PostgresStore: one pgxpool.Pool dialed from a DSN at construction,
// queries issued with pool.Exec/QueryRow/Query the same way
// store/postgres.go's SaveFunction/GetFunction/ListFunctions do.
//
// zerver's Effect carries its own SQL (ztypes.DBQuery) rather than the
// teacher's fixed table-specific statements, so db_get/db_put/db_del work
// against a single conventional key/value table addressed by Target (the
// row key) and Payload (the value, for db_put), while db_query/db_scan run
// the Effect's own SQL text verbatim.
package dbtransport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/zerver/internal/executor"
	"github.com/oriys/zerver/internal/reqcontext"
	"github.com/oriys/zerver/internal/ztypes"
)

// Transport implements executor.EffectRunner for the db_* Effect family.
type Transport struct {
	pool *pgxpool.Pool
}

// New builds a Transport backed by a connection pool dialed from dsn,
// matching NewPostgresStore's fail-fast construction (the pool is pinged
// once up front so a bad DSN surfaces at startup, not on the first Effect).
func New(ctx context.Context, dsn string) (*Transport, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Transport{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (t *Transport) Close() { t.pool.Close() }

var _ executor.EffectRunner = (*Transport)(nil)

func (t *Transport) Run(effect ztypes.Effect, ctx *reqcontext.Context, cancel <-chan struct{}, park executor.ParkSink) ztypes.EffectResult {
	timeout := effect.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()

	switch effect.Kind {
	case ztypes.EffectDBGet:
		return t.get(reqCtx, effect)
	case ztypes.EffectDBPut:
		return t.put(reqCtx, effect)
	case ztypes.EffectDBDel:
		return t.del(reqCtx, effect)
	case ztypes.EffectDBQuery:
		return t.query(reqCtx, effect)
	case ztypes.EffectDBScan:
		return t.scan(reqCtx, effect)
	}
	return ztypes.Failure(ztypes.NewError(ztypes.ErrInternal, "db", effect.Target))
}

func (t *Transport) get(ctx context.Context, effect ztypes.Effect) ztypes.EffectResult {
	var value []byte
	err := t.pool.QueryRow(ctx,
		`SELECT value FROM zerver_kv WHERE key = $1`, effect.Target,
	).Scan(&value)
	if err == pgx.ErrNoRows {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrNotFound, "db", effect.Target))
	}
	if err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "db", effect.Target))
	}
	return ztypes.Success(value, ztypes.OwnerCaller)
}

func (t *Transport) put(ctx context.Context, effect ztypes.Effect) ztypes.EffectResult {
	_, err := t.pool.Exec(ctx,
		`INSERT INTO zerver_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		effect.Target, effect.Payload,
	)
	if err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "db", effect.Target))
	}
	return ztypes.Success(nil, ztypes.OwnerArena)
}

func (t *Transport) del(ctx context.Context, effect ztypes.Effect) ztypes.EffectResult {
	ct, err := t.pool.Exec(ctx, `DELETE FROM zerver_kv WHERE key = $1`, effect.Target)
	if err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "db", effect.Target))
	}
	if ct.RowsAffected() == 0 {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrNotFound, "db", effect.Target))
	}
	return ztypes.Success(nil, ztypes.OwnerArena)
}

func (t *Transport) query(ctx context.Context, effect ztypes.Effect) ztypes.EffectResult {
	if effect.Query == nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrBadRequest, "db", effect.Target))
	}
	rows, err := t.pool.Query(ctx, effect.Query.SQL, effect.Query.Params...)
	if err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "db", effect.Target))
	}
	defer rows.Close()
	return collectRows(rows, effect.Target)
}

func (t *Transport) scan(ctx context.Context, effect ztypes.Effect) ztypes.EffectResult {
	rows, err := t.pool.Query(ctx,
		`SELECT key, value FROM zerver_kv WHERE key LIKE $1 ORDER BY key`,
		effect.Target+"%",
	)
	if err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "db", effect.Target))
	}
	defer rows.Close()

	type entry struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var raw []byte
		if err := rows.Scan(&e.Key, &raw); err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "db", effect.Target))
		}
		e.Value = raw
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "db", effect.Target))
	}

	out, err := json.Marshal(entries)
	if err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrInternal, "db", effect.Target))
	}
	return ztypes.Success(out, ztypes.OwnerCaller)
}

func collectRows(rows pgx.Rows, target string) ztypes.EffectResult {
	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "db", target))
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrUpstreamUnavailable, "db", target))
	}

	data, err := json.Marshal(out)
	if err != nil {
		return ztypes.Failure(ztypes.NewError(ztypes.ErrInternal, "db", target))
	}
	return ztypes.Success(data, ztypes.OwnerCaller)
}
