package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/devicelab-dev/uiagent/pkg/core"
	"github.com/devicelab-dev/uiagent/pkg/logger"
)

// SQL implements Store on sqlite (modernc) or postgres (pgx).
type SQL struct {
	db      *sqlx.DB
	dialect string
	now     func() time.Time
}

// OpenSQLite opens (or creates) a sqlite database. ":memory:" is allowed.
func OpenSQLite(dsn string) (*SQL, error) {
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	return newSQL(db, "sqlite")
}

// OpenPostgres connects to postgres through the pgx stdlib driver.
func OpenPostgres(dsn string) (*SQL, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQL(db, "postgres")
}

func newSQL(db *sqlx.DB, dialect string) (*SQL, error) {
	s := &SQL{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info("run store opened (%s)", dialect)
	return s, nil
}

func (s *SQL) migrate() error {
	ts := "TIMESTAMP"
	if s.dialect == "postgres" {
		ts = "TIMESTAMPTZ"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			instruction TEXT NOT NULL,
			device_id TEXT NOT NULL,
			state TEXT NOT NULL,
			timeout_seconds INTEGER NOT NULL DEFAULT 0,
			setup_command TEXT NOT NULL DEFAULT '',
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			test_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			started_at ` + ts + ` NOT NULL,
			ended_at ` + ts + `,
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_test ON runs(test_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS steps (
			run_id TEXT NOT NULL,
			idx INTEGER NOT NULL,
			screenshot TEXT NOT NULL DEFAULT '',
			action_response TEXT NOT NULL DEFAULT '',
			verdict_response TEXT NOT NULL DEFAULT '',
			thought TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT '',
			command TEXT NOT NULL DEFAULT '',
			verdict_kind TEXT NOT NULL DEFAULT 'pass',
			verdict_reason TEXT NOT NULL DEFAULT '',
			suppressed BOOLEAN NOT NULL DEFAULT FALSE,
			issues TEXT,
			issues_analyzed_at ` + ts + `,
			created_at ` + ts + ` NOT NULL,
			PRIMARY KEY (run_id, idx)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, stmt)
		}
	}
	return nil
}

// Close closes the database
func (s *SQL) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks
func (s *SQL) DB() *sqlx.DB {
	return s.db
}

type runRow struct {
	ID        string       `db:"id"`
	TestID    string       `db:"test_id"`
	UserID    string       `db:"user_id"`
	Status    string       `db:"status"`
	Reason    string       `db:"reason"`
	StartedAt time.Time    `db:"started_at"`
	EndedAt   sql.NullTime `db:"ended_at"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}

func (r runRow) toRun() *core.TestRun {
	run := &core.TestRun{
		ID:        r.ID,
		TestID:    r.TestID,
		UserID:    r.UserID,
		Status:    core.RunStatus(r.Status),
		Reason:    r.Reason,
		StartedAt: r.StartedAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time
		run.EndedAt = &t
	}
	return run
}

type stepRow struct {
	RunID            string         `db:"run_id"`
	Index            int            `db:"idx"`
	Screenshot       string         `db:"screenshot"`
	ActionResponse   string         `db:"action_response"`
	VerdictResponse  string         `db:"verdict_response"`
	Thought          string         `db:"thought"`
	Action           string         `db:"action"`
	Command          string         `db:"command"`
	VerdictKind      string         `db:"verdict_kind"`
	VerdictReason    string         `db:"verdict_reason"`
	Suppressed       bool           `db:"suppressed"`
	Issues           sql.NullString `db:"issues"`
	IssuesAnalyzedAt sql.NullTime   `db:"issues_analyzed_at"`
	CreatedAt        time.Time      `db:"created_at"`
}

func (r stepRow) toStep() (core.Step, error) {
	st := core.Step{
		Index:           r.Index,
		Screenshot:      r.Screenshot,
		ActionResponse:  r.ActionResponse,
		VerdictResponse: r.VerdictResponse,
		Thought:         r.Thought,
		Action:          r.Action,
		Command:         r.Command,
		Verdict:         core.Verdict{Kind: core.ParseVerdictKind(r.VerdictKind), Reason: r.VerdictReason},
		Suppressed:      r.Suppressed,
		Timestamp:       r.CreatedAt,
	}
	if r.Issues.Valid {
		if err := json.Unmarshal([]byte(r.Issues.String), &st.Issues); err != nil {
			return core.Step{}, fmt.Errorf("decode issues of step %d: %w", r.Index, err)
		}
	}
	if r.IssuesAnalyzedAt.Valid {
		t := r.IssuesAnalyzedAt.Time
		st.IssuesAnalyzedAt = &t
	}
	return st, nil
}

func (s *SQL) CreateTest(ctx context.Context, t *core.Test) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO tests (id, user_id, name, instruction, device_id, state, timeout_seconds, setup_command, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.UserID, t.Name, t.Instruction, t.DeviceID, string(t.State), t.TimeoutSeconds, t.SetupCommand, createdAt)
	return s.mapErr(err)
}

func (s *SQL) GetTest(ctx context.Context, id string) (*core.Test, error) {
	var t core.Test
	err := s.db.GetContext(ctx, &t, s.db.Rebind(
		`SELECT id, user_id, name, instruction, device_id, state, timeout_seconds, setup_command, created_at
		 FROM tests WHERE id = ?`), id)
	if err != nil {
		return nil, s.mapErr(err)
	}
	return &t, nil
}

func (s *SQL) CreateRun(ctx context.Context, run *core.TestRun) error {
	var ended interface{}
	if run.EndedAt != nil {
		ended = *run.EndedAt
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO runs (id, test_id, user_id, status, reason, started_at, ended_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.TestID, run.UserID, string(run.Status), run.Reason, run.StartedAt, ended, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return s.mapErr(err)
	}
	for _, st := range run.Steps {
		if err := s.insertStep(ctx, s.db, run.ID, st); err != nil {
			return err
		}
	}
	return nil
}

const runColumns = `id, test_id, user_id, status, reason, started_at, ended_at, created_at, updated_at`

func (s *SQL) GetRun(ctx context.Context, id string) (*core.TestRun, error) {
	var row runRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+runColumns+` FROM runs WHERE id = ?`), id); err != nil {
		return nil, s.mapErr(err)
	}
	run := row.toRun()

	var steps []stepRow
	if err := s.db.SelectContext(ctx, &steps, s.db.Rebind(
		`SELECT * FROM steps WHERE run_id = ? ORDER BY idx`), id); err != nil {
		return nil, err
	}
	run.Steps = make([]core.Step, 0, len(steps))
	for _, sr := range steps {
		st, err := sr.toStep()
		if err != nil {
			return nil, err
		}
		run.Steps = append(run.Steps, st)
	}
	return run, nil
}

func (s *SQL) ListRuns(ctx context.Context, testID string) ([]*core.TestRun, error) {
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT `+runColumns+` FROM runs WHERE test_id = ? ORDER BY created_at DESC, id DESC`), testID); err != nil {
		return nil, err
	}
	out := make([]*core.TestRun, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRun())
	}
	return out, nil
}

func (s *SQL) AppendStep(ctx context.Context, runID string, step core.Step) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE runs SET updated_at = ? WHERE id = ?`), s.now(), runID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := s.insertStep(ctx, tx, runID, step); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) insertStep(ctx context.Context, ex sqlx.ExtContext, runID string, st core.Step) error {
	var issues interface{}
	if st.Issues != nil {
		b, err := json.Marshal(st.Issues)
		if err != nil {
			return err
		}
		issues = string(b)
	}
	var analyzed interface{}
	if st.IssuesAnalyzedAt != nil {
		analyzed = *st.IssuesAnalyzedAt
	}
	ts := st.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := ex.ExecContext(ctx, ex.Rebind(
		`INSERT INTO steps (run_id, idx, screenshot, action_response, verdict_response, thought, action, command,
		   verdict_kind, verdict_reason, suppressed, issues, issues_analyzed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		runID, st.Index, st.Screenshot, st.ActionResponse, st.VerdictResponse, st.Thought, st.Action, st.Command,
		st.Verdict.Kind.String(), st.Verdict.Reason, st.Suppressed, issues, analyzed, ts)
	return s.mapErr(err)
}

func (s *SQL) UpdateStepIssues(ctx context.Context, runID string, index int, issues []core.Issue, at time.Time) error {
	if issues == nil {
		issues = []core.Issue{}
	}
	b, err := json.Marshal(issues)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE steps SET issues = ?, issues_analyzed_at = ? WHERE run_id = ? AND idx = ?`),
		string(b), at, runID, index)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQL) SetStatus(ctx context.Context, runID string, status core.RunStatus, reason string) error {
	if err := checkTerminal(status); err != nil {
		return err
	}
	now := s.now()
	query := `UPDATE runs SET status = ?, ended_at = ?, updated_at = ?`
	args := []interface{}{string(status), now, now}
	if reason != "" {
		query += `, reason = ?`
		args = append(args, reason)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, runID, string(core.RunRunning))

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM runs WHERE id = ?`), runID); err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrRunNotRunning
}

func (s *SQL) mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

var _ Store = (*SQL)(nil)
