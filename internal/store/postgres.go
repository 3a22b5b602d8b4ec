package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/db"
	"github.com/sells-group/dealflow/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const activeDealColumns = `d.id, d.name, d.stage, d.amount,
	 d.owner_id, e.name, d.account_id, a.name,
	 d.expected_close_date, d.last_contact_date, d.created_at, d.updated_at`

// preparedStatements lists queries to prepare on each new connection for
// the store operations every run executes.
var preparedStatements = map[string]string{
	"list_active_deals": `SELECT ` + activeDealColumns + `
	 FROM deals d
	 JOIN employees e ON e.id = d.owner_id
	 JOIN accounts a ON a.id = d.account_id
	 WHERE d.stage NOT IN ($1, $2)
	 ORDER BY d.updated_at`,
	"update_deal_stage": `UPDATE deals SET stage = $1, updated_at = $2, last_contact_date = $2 WHERE id = $3 AND stage = $4`,
	"invalidate_cache":  `DELETE FROM deal_cache WHERE cache_key = ANY($1)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS employees (
	id    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name  TEXT NOT NULL,
	email TEXT
);

CREATE TABLE IF NOT EXISTS accounts (
	id     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name   TEXT NOT NULL,
	domain TEXT
);

CREATE TABLE IF NOT EXISTS deals (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                TEXT NOT NULL,
	stage               TEXT NOT NULL DEFAULT 'Prospecting',
	amount              DOUBLE PRECISION NOT NULL DEFAULT 0,
	owner_id            TEXT NOT NULL REFERENCES employees(id),
	account_id          TEXT NOT NULL REFERENCES accounts(id),
	expected_close_date TIMESTAMPTZ,
	last_contact_date   TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deals_stage ON deals(stage);
CREATE INDEX IF NOT EXISTS idx_deals_account_id ON deals(account_id);
CREATE INDEX IF NOT EXISTS idx_deals_owner_id ON deals(owner_id);

CREATE TABLE IF NOT EXISTS progression_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	params      JSONB NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	stats       JSONB,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_progression_runs_status ON progression_runs(status);

CREATE TABLE IF NOT EXISTS deal_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deal_cache_expires_at ON deal_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListActiveDeals(ctx context.Context) ([]model.Deal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+activeDealColumns+`
		 FROM deals d
		 JOIN employees e ON e.id = d.owner_id
		 JOIN accounts a ON a.id = d.account_id
		 WHERE d.stage NOT IN ($1, $2)
		 ORDER BY d.updated_at`,
		string(model.StageClosedWon), string(model.StageClosedLost),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDealRow(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, eris.Wrap(rows.Err(), "postgres: list active deals iterate")
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+activeDealColumns+`
		 FROM deals d
		 JOIN employees e ON e.id = d.owner_id
		 JOIN accounts a ON a.id = d.account_id
		 WHERE d.id = $1`,
		dealID,
	)
	d, err := scanDealRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrDealNotFound, "postgres: get deal %s", dealID)
		}
		return nil, err
	}
	return d, nil
}

func (s *PostgresStore) UpdateDealStage(ctx context.Context, dealID string, from, to model.Stage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE deals SET stage = $1, updated_at = $2, last_contact_date = $2 WHERE id = $3 AND stage = $4`,
		string(to), time.Now().UTC(), dealID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update deal stage %s", dealID)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows: either the deal is gone or another writer moved it.
	var current string
	err = s.pool.QueryRow(ctx, `SELECT stage FROM deals WHERE id = $1`, dealID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrDealNotFound, "postgres: update deal stage %s", dealID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: recheck deal stage %s", dealID)
	}
	return eris.Wrapf(ErrStaleStage, "postgres: deal %s is now %q, expected %q", dealID, current, from)
}

func (s *PostgresStore) InvalidateDealCache(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM deal_cache WHERE cache_key = ANY($1)`, keys)
	return eris.Wrap(err, "postgres: invalidate deal cache")
}

func (s *PostgresStore) CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO progression_runs (id, params, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, paramsJSON, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Params:    params,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, stats *model.RunStatistics) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run stats")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE progression_runs SET status = $1, stats = $2, finished_at = $3 WHERE id = $4`,
		string(status), statsJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// scanDealRow scans one joined deal row from either QueryRow or Query.
func scanDealRow(row pgx.Row) (*model.Deal, error) {
	var d model.Deal
	err := row.Scan(
		&d.ID, &d.Name, &d.Stage, &d.Amount,
		&d.OwnerID, &d.OwnerName, &d.AccountID, &d.AccountName,
		&d.ExpectedCloseDate, &d.LastContactDate, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan deal")
	}
	return &d, nil
}
