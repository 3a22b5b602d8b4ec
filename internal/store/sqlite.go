package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dealflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS employees (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	email TEXT
);

CREATE TABLE IF NOT EXISTS accounts (
	id     TEXT PRIMARY KEY,
	name   TEXT NOT NULL,
	domain TEXT
);

CREATE TABLE IF NOT EXISTS deals (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	stage               TEXT NOT NULL DEFAULT 'Prospecting',
	amount              REAL NOT NULL DEFAULT 0,
	owner_id            TEXT NOT NULL REFERENCES employees(id),
	account_id          TEXT NOT NULL REFERENCES accounts(id),
	expected_close_date DATETIME,
	last_contact_date   DATETIME,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_deals_stage ON deals(stage);
CREATE INDEX IF NOT EXISTS idx_deals_account_id ON deals(account_id);
CREATE INDEX IF NOT EXISTS idx_deals_owner_id ON deals(owner_id);

CREATE TABLE IF NOT EXISTS progression_runs (
	id          TEXT PRIMARY KEY,
	params      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	stats       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_progression_runs_status ON progression_runs(status);

CREATE TABLE IF NOT EXISTS deal_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deal_cache_expires_at ON deal_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteDealColumns = `d.id, d.name, d.stage, d.amount,
	 d.owner_id, e.name, d.account_id, a.name,
	 d.expected_close_date, d.last_contact_date, d.created_at, d.updated_at`

func (s *SQLiteStore) ListActiveDeals(ctx context.Context) ([]model.Deal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteDealColumns+`
		 FROM deals d
		 JOIN employees e ON e.id = d.owner_id
		 JOIN accounts a ON a.id = d.account_id
		 WHERE d.stage NOT IN (?, ?)
		 ORDER BY d.updated_at`,
		string(model.StageClosedWon), string(model.StageClosedLost),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active deals")
	}
	defer rows.Close()

	var deals []model.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, eris.Wrap(rows.Err(), "sqlite: list active deals iterate")
}

func (s *SQLiteStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDealColumns+`
		 FROM deals d
		 JOIN employees e ON e.id = d.owner_id
		 JOIN accounts a ON a.id = d.account_id
		 WHERE d.id = ?`,
		dealID,
	)
	d, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrDealNotFound, "sqlite: get deal %s", dealID)
	}
	return d, err
}

func (s *SQLiteStore) UpdateDealStage(ctx context.Context, dealID string, from, to model.Stage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE deals SET stage = ?, updated_at = ?, last_contact_date = ? WHERE id = ? AND stage = ?`,
		string(to), time.Now().UTC(), time.Now().UTC(), dealID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update deal stage %s", dealID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT stage FROM deals WHERE id = ?`, dealID).Scan(&current)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrDealNotFound, "sqlite: update deal stage %s", dealID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: recheck deal stage %s", dealID)
	}
	return eris.Wrapf(ErrStaleStage, "sqlite: deal %s is now %q, expected %q", dealID, current, from)
}

func (s *SQLiteStore) InvalidateDealCache(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query := `DELETE FROM deal_cache WHERE cache_key IN (?` + repeatPlaceholder(len(keys)-1) + `)`
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return eris.Wrap(err, "sqlite: invalidate deal cache")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO progression_runs (id, params, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(paramsJSON), string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Params:    params,
		Status:    model.RunStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, stats *model.RunStatistics) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run stats")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE progression_runs SET status = ?, stats = ?, finished_at = ? WHERE id = ?`,
		string(status), string(statsJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// seed helpers used by the CLI migrate path and tests.

func (s *SQLiteStore) InsertEmployee(ctx context.Context, id, name, email string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO employees (id, name, email) VALUES (?, ?, ?)`,
		id, name, email,
	)
	return eris.Wrap(err, "sqlite: insert employee")
}

func (s *SQLiteStore) InsertAccount(ctx context.Context, id, name, domain string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO accounts (id, name, domain) VALUES (?, ?, ?)`,
		id, name, domain,
	)
	return eris.Wrap(err, "sqlite: insert account")
}

func (s *SQLiteStore) InsertDeal(ctx context.Context, d model.Deal) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deals (id, name, stage, amount, owner_id, account_id, expected_close_date, last_contact_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.Stage), d.Amount, d.OwnerID, d.AccountID,
		d.ExpectedCloseDate, d.LastContactDate, now, now,
	)
	return eris.Wrapf(err, "sqlite: insert deal %s", d.ID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

type scannable interface {
	Scan(dest ...any) error
}

func scanDeal(row scannable) (*model.Deal, error) {
	var d model.Deal
	var closeDate, lastContact sql.NullTime

	err := row.Scan(
		&d.ID, &d.Name, &d.Stage, &d.Amount,
		&d.OwnerID, &d.OwnerName, &d.AccountID, &d.AccountName,
		&closeDate, &lastContact, &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan deal")
	}
	if closeDate.Valid {
		d.ExpectedCloseDate = &closeDate.Time
	}
	if lastContact.Valid {
		d.LastContactDate = &lastContact.Time
	}
	return &d, nil
}
