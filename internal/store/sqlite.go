package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/relgraph/internal/model"
	"github.com/sells-group/relgraph/internal/normalize"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// ErrCacheMissing is returned by OpenReadOnly when no cache file exists yet.
var ErrCacheMissing = eris.New("sqlite: cache does not exist")

// OpenReadOnly opens an existing cache without creating, migrating or
// changing its journal mode. A missing file yields ErrCacheMissing.
func OpenReadOnly(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, eris.New("sqlite: cache path is empty")
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrCacheMissing, "sqlite: open %s", path)
	} else if err != nil {
		return nil, eris.Wrapf(err, "sqlite: stat %s", path)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: exec PRAGMA busy_timeout")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extractions (
	email              TEXT PRIMARY KEY,
	company            TEXT,
	role               TEXT,
	topics             TEXT NOT NULL DEFAULT '[]',
	confidence         REAL NOT NULL DEFAULT 0,
	source_message_ids TEXT NOT NULL DEFAULT '[]',
	model              TEXT NOT NULL DEFAULT '',
	input_tokens       INTEGER NOT NULL DEFAULT 0,
	output_tokens      INTEGER NOT NULL DEFAULT 0,
	cost_usd           REAL NOT NULL DEFAULT 0,
	run_id             TEXT,
	extracted_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS message_bodies (
	message_id TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS budget_runs (
	id           TEXT PRIMARY KEY,
	budget_usd   REAL NOT NULL,
	resume       INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'running',
	stop_reason  TEXT NOT NULL DEFAULT '',
	processed    INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	total_cost   REAL NOT NULL DEFAULT 0,
	started_at   DATETIME NOT NULL,
	finished_at  DATETIME
);

CREATE INDEX IF NOT EXISTS idx_extractions_run_id ON extractions(run_id);
CREATE INDEX IF NOT EXISTS idx_budget_runs_started_at ON budget_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Message bodies ---

// GetBody returns a cached body. The bool is false on a cache miss.
func (s *SQLiteStore) GetBody(ctx context.Context, messageID string) (string, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM message_bodies WHERE message_id = ?`, messageID,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: get body %s", messageID)
	}
	return body, true, nil
}

func (s *SQLiteStore) PutBody(ctx context.Context, messageID, body string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_bodies (message_id, body, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(message_id) DO UPDATE SET body = excluded.body, fetched_at = excluded.fetched_at`,
		messageID, body, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put body %s", messageID)
}

// --- Extractions ---

func (s *SQLiteStore) ExtractedEmails(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email FROM extractions`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: extracted emails")
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extracted email")
		}
		out[email] = true
	}
	return out, eris.Wrap(rows.Err(), "sqlite: extracted emails iterate")
}

const extractionColumns = `email, company, role, topics, confidence, source_message_ids, model,
	input_tokens, output_tokens, cost_usd, run_id, extracted_at`

// GetExtraction returns the cached record for an address, or nil if none.
func (s *SQLiteStore) GetExtraction(ctx context.Context, email string) (*model.ExtractionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE email = ?`,
		normalize.Email(email),
	)
	rec, err := scanExtraction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) ListExtractions(ctx context.Context) ([]model.ExtractionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions ORDER BY email`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extractions")
	}
	defer rows.Close()

	var out []model.ExtractionRecord
	for rows.Next() {
		rec, err := scanExtraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list extractions iterate")
}

// SaveExtraction upserts a record outside of any budget run.
func (s *SQLiteStore) SaveExtraction(ctx context.Context, rec *model.ExtractionRecord) error {
	return upsertExtraction(ctx, s.db, rec)
}

// --- Budget runs ---

func (s *SQLiteStore) CreateBudgetRun(ctx context.Context, budgetUSD float64, resume bool) (*model.BudgetRun, error) {
	run := &model.BudgetRun{
		ID:        uuid.New().String(),
		BudgetUSD: budgetUSD,
		Resume:    resume,
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_runs (id, budget_usd, resume, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.BudgetUSD, boolToInt(resume), string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert budget run")
	}
	return run, nil
}

// CommitExtraction upserts the record and advances the run's counters in a
// single transaction, so an interrupted run never holds half a contact.
func (s *SQLiteStore) CommitExtraction(ctx context.Context, runID string, rec *model.ExtractionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin commit extraction")
	}
	defer tx.Rollback() //nolint:errcheck

	rec.RunID = runID
	if err := upsertExtraction(ctx, tx, rec); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE budget_runs
		 SET processed = processed + 1,
		     total_tokens = total_tokens + ?,
		     total_cost = total_cost + ?
		 WHERE id = ?`,
		rec.InputTokens+rec.OutputTokens, rec.CostUSD, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update budget run %s", runID)
	}
	if err := checkRowsAffected(res, "budget run", runID); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit extraction")
}

func (s *SQLiteStore) RecordSkip(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE budget_runs SET skipped = skipped + 1 WHERE id = ?`, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record skip %s", runID)
	}
	return checkRowsAffected(res, "budget run", runID)
}

// FinishBudgetRun marks the run completed and returns its final state.
func (s *SQLiteStore) FinishBudgetRun(ctx context.Context, runID string, reason model.StopReason) (*model.BudgetRun, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE budget_runs SET status = ?, stop_reason = ?, finished_at = ? WHERE id = ?`,
		string(model.RunStatusCompleted), string(reason), time.Now().UTC(), runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: finish budget run %s", runID)
	}
	if err := checkRowsAffected(res, "budget run", runID); err != nil {
		return nil, err
	}
	return s.GetBudgetRun(ctx, runID)
}

const budgetRunColumns = `id, budget_usd, resume, status, stop_reason, processed, skipped,
	total_tokens, total_cost, started_at, finished_at`

func (s *SQLiteStore) GetBudgetRun(ctx context.Context, runID string) (*model.BudgetRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+budgetRunColumns+` FROM budget_runs WHERE id = ?`, runID,
	)
	run, err := scanBudgetRun(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("budget run not found: %s", runID)
	}
	return run, err
}

// ListBudgetRuns returns the most recent runs first.
func (s *SQLiteStore) ListBudgetRuns(ctx context.Context, limit int) ([]model.BudgetRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+budgetRunColumns+` FROM budget_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list budget runs")
	}
	defer rows.Close()

	var runs []model.BudgetRun
	for rows.Next() {
		r, err := scanBudgetRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list budget runs iterate")
}

// AverageCostPerContact returns the mean cost of billed extractions and how
// many contributed to it.
func (s *SQLiteStore) AverageCostPerContact(ctx context.Context) (float64, int, error) {
	var avg float64
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(cost_usd), 0), COUNT(*) FROM extractions WHERE cost_usd > 0`,
	).Scan(&avg, &n)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: average cost")
	}
	return avg, n, nil
}

// helpers

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertExtraction(ctx context.Context, db execer, rec *model.ExtractionRecord) error {
	rec.Email = normalize.Email(rec.Email)
	if rec.Email == "" {
		return eris.New("sqlite: extraction record without email")
	}
	if rec.ExtractedAt.IsZero() {
		rec.ExtractedAt = time.Now().UTC()
	}

	topics, err := json.Marshal(nonNil(rec.Topics))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal topics")
	}
	sources, err := json.Marshal(nonNil(rec.SourceMessageIDs))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal source ids")
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO extractions (`+extractionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
			company = excluded.company,
			role = excluded.role,
			topics = excluded.topics,
			confidence = excluded.confidence,
			source_message_ids = excluded.source_message_ids,
			model = excluded.model,
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			cost_usd = excluded.cost_usd,
			run_id = excluded.run_id,
			extracted_at = excluded.extracted_at`,
		rec.Email, nullString(rec.Company), nullString(rec.Role), string(topics), rec.Confidence,
		string(sources), rec.Model, rec.InputTokens, rec.OutputTokens, rec.CostUSD,
		nullIfEmpty(rec.RunID), rec.ExtractedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert extraction %s", rec.Email)
}

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

type scannable interface {
	Scan(dest ...any) error
}

func scanExtraction(row scannable) (*model.ExtractionRecord, error) {
	var rec model.ExtractionRecord
	var company, role, runID sql.NullString
	var topics, sources string

	err := row.Scan(&rec.Email, &company, &role, &topics, &rec.Confidence, &sources, &rec.Model,
		&rec.InputTokens, &rec.OutputTokens, &rec.CostUSD, &runID, &rec.ExtractedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan extraction")
	}
	if company.Valid {
		rec.Company = &company.String
	}
	if role.Valid {
		rec.Role = &role.String
	}
	rec.RunID = runID.String
	if err := json.Unmarshal([]byte(topics), &rec.Topics); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal topics")
	}
	if err := json.Unmarshal([]byte(sources), &rec.SourceMessageIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal source ids")
	}
	return &rec, nil
}

func scanBudgetRun(row scannable) (*model.BudgetRun, error) {
	var r model.BudgetRun
	var resume int
	var status, reason string
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.BudgetUSD, &resume, &status, &reason, &r.Processed, &r.Skipped,
		&r.TotalTokens, &r.TotalCost, &r.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan budget run")
	}
	r.Resume = resume != 0
	r.Status = model.RunStatus(status)
	r.StopReason = model.StopReason(reason)
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
