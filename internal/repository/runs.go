package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/csf-extractor/constants"
	"github.com/joseph-ayodele/csf-extractor/internal/common"
	"github.com/joseph-ayodele/csf-extractor/internal/entity"
	"github.com/joseph-ayodele/csf-extractor/internal/export"
)

const (
	runsTable = "runs"
	rowsTable = "run_rows"
)

// Run is a persisted batch.
type Run struct {
	ID         uuid.UUID
	Operator   string
	Status     constants.RunStatus
	Files      int
	Failures   int
	StartedAt  time.Time
	FinishedAt time.Time
	Rows       []entity.ReportRow
}

// Batch rebuilds the batch a run was recorded from.
func (r Run) Batch() entity.Batch {
	return entity.Batch{
		RunID:      r.ID,
		Operator:   r.Operator,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Rows:       r.Rows,
	}
}

type RunRepository interface {
	StartRun(ctx context.Context, runID uuid.UUID, operator string, files int, startedAt time.Time) error
	RecordBatch(ctx context.Context, batch entity.Batch) error
	GetRun(ctx context.Context, runID uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

type RunStore struct {
	db  *DB
	log *slog.Logger
}

func NewRunStore(db *DB, log *slog.Logger) *RunStore {
	if log == nil {
		log = slog.Default()
	}
	return &RunStore{db: db, log: log}
}

func (s *RunStore) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.db.Dialect)
}

// Migrate creates the run tables when missing.
func (s *RunStore) Migrate(ctx context.Context) error {
	b := s.builder()
	stmts := []*entsql.TableBuilder{
		b.CreateTable(runsTable).IfNotExists().
			Columns(
				entsql.Column("id").Type("varchar(36)").Attr("NOT NULL"),
				entsql.Column("operator").Type("text").Attr("NOT NULL"),
				entsql.Column("status").Type("varchar(16)").Attr("NOT NULL"),
				entsql.Column("files").Type("integer").Attr("NOT NULL"),
				entsql.Column("failures").Type("integer").Attr("NOT NULL DEFAULT 0"),
				entsql.Column("started_at").Type("varchar(40)").Attr("NOT NULL"),
				entsql.Column("finished_at").Type("varchar(40)"),
			).
			PrimaryKey("id"),
		b.CreateTable(rowsTable).IfNotExists().
			Columns(
				entsql.Column("run_id").Type("varchar(36)").Attr("NOT NULL"),
				entsql.Column("position").Type("integer").Attr("NOT NULL"),
				entsql.Column("filename").Type("text").Attr("NOT NULL"),
				entsql.Column("method").Type("varchar(16)").Attr("NOT NULL"),
				entsql.Column("verification_url").Type("text"),
				entsql.Column("error").Type("text"),
				entsql.Column("fields").Type("text").Attr("NOT NULL"),
				entsql.Column("duration_ms").Type("bigint").Attr("NOT NULL DEFAULT 0"),
			).
			PrimaryKey("run_id", "position").
			ForeignKeys(
				entsql.ForeignKey().Columns("run_id").
					Reference(entsql.Reference().Table(runsTable).Columns("id")).
					OnDelete("CASCADE"),
			),
	}
	for _, t := range stmts {
		q, args := t.Query()
		if _, err := s.db.Driver.DB().ExecContext(ctx, q, args...); err != nil {
			s.log.Error("migrate failed", "err", err)
			return fmt.Errorf("%w: migrate: %w", common.ErrDatabase, err)
		}
	}
	s.log.Info("run store migrated", "dialect", s.db.Dialect)
	return nil
}

// StartRun inserts a RUNNING record.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, operator string, files int, startedAt time.Time) error {
	q, args := s.builder().Insert(runsTable).
		Columns("id", "operator", "status", "files", "failures", "started_at").
		Values(runID.String(), operator, string(constants.RunStatusRunning), files, 0, formatTime(startedAt)).
		Query()
	if _, err := s.db.Driver.DB().ExecContext(ctx, q, args...); err != nil {
		s.log.Error("run start failed", "run_id", runID, "err", err)
		return fmt.Errorf("%w: start run: %w", common.ErrDatabase, err)
	}
	s.log.Info("run started", "run_id", runID, "files", files)
	return nil
}

// RecordBatch stores the rows and the final status of a run, creating the
// run record if StartRun was never called.
func (s *RunStore) RecordBatch(ctx context.Context, batch entity.Batch) error {
	if err := export.ValidateRows(batch.Rows); err != nil {
		return err
	}

	tx, err := s.db.Driver.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", common.ErrDatabase, err)
	}
	defer func() { _ = tx.Rollback() }()

	status := runStatus(batch)
	exists, err := s.runExists(ctx, tx, batch.RunID)
	if err != nil {
		return err
	}
	var q string
	var args []any
	if exists {
		q, args = s.builder().Update(runsTable).
			Set("status", string(status)).
			Set("files", len(batch.Rows)).
			Set("failures", batch.Failures()).
			Set("finished_at", formatTime(batch.FinishedAt)).
			Where(entsql.EQ("id", batch.RunID.String())).
			Query()
	} else {
		q, args = s.builder().Insert(runsTable).
			Columns("id", "operator", "status", "files", "failures", "started_at", "finished_at").
			Values(batch.RunID.String(), batch.Operator, string(status), len(batch.Rows), batch.Failures(),
				formatTime(batch.StartedAt), formatTime(batch.FinishedAt)).
			Query()
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		s.log.Error("run finish failed", "run_id", batch.RunID, "err", err)
		return fmt.Errorf("%w: finish run: %w", common.ErrDatabase, err)
	}

	if len(batch.Rows) > 0 {
		ins := s.builder().Insert(rowsTable).
			Columns("run_id", "position", "filename", "method", "verification_url", "error", "fields", "duration_ms")
		for i, r := range batch.Rows {
			fields, err := json.Marshal(r.Fields)
			if err != nil {
				return fmt.Errorf("marshal fields of %s: %w", r.Filename, err)
			}
			ins = ins.Values(batch.RunID.String(), i, r.Filename, string(r.Method), r.VerificationURL, r.Err,
				string(fields), r.Duration.Milliseconds())
		}
		q, args := ins.Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			s.log.Error("run rows insert failed", "run_id", batch.RunID, "err", err)
			return fmt.Errorf("%w: insert rows: %w", common.ErrDatabase, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", common.ErrDatabase, err)
	}
	s.log.Info("run recorded", "run_id", batch.RunID, "status", status, "rows", len(batch.Rows))
	return nil
}

func (s *RunStore) runExists(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error) {
	q, args := s.builder().Select("id").
		From(s.builder().Table(runsTable)).
		Where(entsql.EQ("id", id.String())).
		Query()
	var got string
	err := tx.QueryRowContext(ctx, q, args...).Scan(&got)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%w: lookup run: %w", common.ErrDatabase, err)
	}
	return true, nil
}

var runColumns = []string{"id", "operator", "status", "files", "failures", "started_at", "finished_at"}

// GetRun loads a run and its rows in report order.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	q, args := s.builder().Select(runColumns...).
		From(s.builder().Table(runsTable)).
		Where(entsql.EQ("id", runID.String())).
		Query()
	run, err := scanRun(s.db.Driver.DB().QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("run %s", runID), common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get run: %w", common.ErrDatabase, err)
	}

	q, args = s.builder().Select("filename", "method", "verification_url", "error", "fields", "duration_ms").
		From(s.builder().Table(rowsTable)).
		Where(entsql.EQ("run_id", runID.String())).
		OrderBy("position").
		Query()
	rows, err := s.db.Driver.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: get rows: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r                entity.ReportRow
			method, fields   string
			verifyURL, errTx sql.NullString
			durationMS       int64
		)
		if err := rows.Scan(&r.Filename, &method, &verifyURL, &errTx, &fields, &durationMS); err != nil {
			return nil, fmt.Errorf("%w: scan row: %w", common.ErrDatabase, err)
		}
		if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", r.Filename, err)
		}
		r.Method = constants.Method(method)
		r.VerificationURL = verifyURL.String
		r.Err = errTx.String
		r.Duration = time.Duration(durationMS) * time.Millisecond
		run.Rows = append(run.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %w", common.ErrDatabase, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs without their rows.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	q, args := s.builder().Select(runColumns...).
		From(s.builder().Table(runsTable)).
		OrderExpr(entsql.Expr("started_at DESC")).
		Limit(limit).
		Query()
	rows, err := s.db.Driver.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list runs: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan run: %w", common.ErrDatabase, err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		id, status, started string
		finished            sql.NullString
		run                 Run
	)
	if err := sc.Scan(&id, &run.Operator, &status, &run.Files, &run.Failures, &started, &finished); err != nil {
		return nil, err
	}
	var err error
	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("run id %q: %w", id, err)
	}
	run.Status = constants.RunStatus(status)
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if finished.Valid && finished.String != "" {
		if run.FinishedAt, err = parseTime(finished.String); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

// runStatus is FAILED only when every document failed.
func runStatus(b entity.Batch) constants.RunStatus {
	if len(b.Rows) > 0 && b.Failures() == len(b.Rows) {
		return constants.RunStatusFailed
	}
	return constants.RunStatusCompleted
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t, nil
}
