package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/orcworks/orc/internal/plan"
)

//go:embed schema.sql
var schemaSQL string

// AttemptRow is one queryable row of attempt history, grounded on the
// teacher's learning.TaskExecution but reshaped around plan.AttemptRecord's
// fields instead of a QC-review-specific execution record.
type AttemptRow struct {
	ID            int64
	PlanID        string
	NodeID        string
	ProducerID    string
	AttemptNumber int
	TriggerType   plan.TriggerType
	Status        plan.AttemptStatus
	FailedPhase   plan.Step
	ExitCode      *int
	Error         string
	StartedAt     time.Time
	EndedAt       time.Time
	WallClockMs   int64
	CPUTimeMs     int64
	LogFilePath   string
	WorkSummary   *plan.WorkSummary
}

// Ledger is the supplementary SQLite-backed history store (spec.md §2 C9):
// it answers cross-run queries like "every failed attempt for producerId
// X" that the authoritative JSON snapshot answers only by loading and
// scanning every plan file. Grounded on the teacher's internal/learning
// Store, adapted from task-execution/QC records to attempt-history rows.
type Ledger struct {
	db     *sql.DB
	dbPath string
}

// NewLedger opens (creating if necessary) the ledger database at dbPath and
// applies the embedded schema. dbPath == ":memory:" is supported for tests.
func NewLedger(dbPath string) (*Ledger, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	l := &Ledger{db: db, dbPath: dbPath}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return l, nil
}

func (l *Ledger) initSchema() error {
	if _, err := l.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute ledger schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// RecordPlanCreated inserts (or, on restart replay, ignores a duplicate
// of) the plan_runs row for a newly created Plan.
func (l *Ledger) RecordPlanCreated(ctx context.Context, p *plan.Plan) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO plan_runs (plan_id, name, base_branch, target_branch, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Spec.Name, p.BaseBranch, p.TargetBranch, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert plan run: %w", err)
	}
	return nil
}

// RecordPlanEnded updates a plan_runs row with its final rollup status.
func (l *Ledger) RecordPlanEnded(ctx context.Context, planID string, status plan.PlanStatus, endedAt time.Time) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE plan_runs SET ended_at = ?, final_status = ? WHERE plan_id = ?`,
		endedAt, string(status), planID,
	)
	if err != nil {
		return fmt.Errorf("update plan run: %w", err)
	}
	return nil
}

// RecordAttempt appends one AttemptRecord as a queryable row. Attempt rows
// are append-only, mirroring plan.NodeState.AttemptHistory's own immutability.
func (l *Ledger) RecordAttempt(ctx context.Context, planID, nodeID, producerID string, rec plan.AttemptRecord) error {
	var summaryJSON string
	if rec.WorkSummary == nil {
		summaryJSON = "null"
	} else {
		data, err := json.Marshal(rec.WorkSummary)
		if err != nil {
			return fmt.Errorf("marshal work summary: %w", err)
		}
		summaryJSON = string(data)
	}

	var exitCode any
	if rec.ExitCode != nil {
		exitCode = *rec.ExitCode
	}

	wallClockMs := int64(0)
	cpuTimeMs := int64(0)
	if rec.Metrics != nil {
		wallClockMs = rec.Metrics.WallClock.Milliseconds()
		cpuTimeMs = rec.Metrics.CPUTimeMs
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO attempts
			(plan_id, node_id, producer_id, attempt_number, trigger_type, status, failed_phase,
			 exit_code, error, started_at, ended_at, wall_clock_ms, cpu_time_ms, log_file_path, work_summary_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		planID, nodeID, producerID, rec.AttemptNumber, string(rec.TriggerType), string(rec.Status), string(rec.FailedPhase),
		exitCode, rec.Error, rec.StartedAt, rec.EndedAt, wallClockMs, cpuTimeMs, rec.LogFilePath, summaryJSON,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	return nil
}

// GetAttemptsByProducer returns every recorded attempt across all plan runs
// for a given producerId, most recent first — the query spec.md §9 Open
// Question (b) singles out as the motivating reason for a queryable store
// alongside the JSON snapshots.
func (l *Ledger) GetAttemptsByProducer(ctx context.Context, producerID string) ([]AttemptRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, plan_id, node_id, producer_id, attempt_number, trigger_type, status, failed_phase,
		       exit_code, error, started_at, ended_at, wall_clock_ms, cpu_time_ms, log_file_path, work_summary_json
		FROM attempts WHERE producer_id = ? ORDER BY id DESC`, producerID)
	if err != nil {
		return nil, fmt.Errorf("query attempts by producer: %w", err)
	}
	defer rows.Close()
	return scanAttemptRows(rows)
}

// GetAttemptsForNode returns every attempt recorded for one plan/node pair,
// in attempt order. The Runner's read APIs do not call it; they read the
// in-memory NodeState history.
func (l *Ledger) GetAttemptsForNode(ctx context.Context, planID, nodeID string) ([]AttemptRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, plan_id, node_id, producer_id, attempt_number, trigger_type, status, failed_phase,
		       exit_code, error, started_at, ended_at, wall_clock_ms, cpu_time_ms, log_file_path, work_summary_json
		FROM attempts WHERE plan_id = ? AND node_id = ? ORDER BY attempt_number ASC`, planID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("query attempts for node: %w", err)
	}
	defer rows.Close()
	return scanAttemptRows(rows)
}

// GetRunCount returns how many attempts have ever been recorded for
// producerID, across separate Plan runs.
func (l *Ledger) GetRunCount(ctx context.Context, producerID string) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM attempts WHERE producer_id = ?`, producerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return count, nil
}

func scanAttemptRows(rows *sql.Rows) ([]AttemptRow, error) {
	var out []AttemptRow
	for rows.Next() {
		var r AttemptRow
		var triggerType, status, failedPhase, errMsg, logPath, summaryJSON sql.NullString
		var exitCode sql.NullInt64
		if err := rows.Scan(
			&r.ID, &r.PlanID, &r.NodeID, &r.ProducerID, &r.AttemptNumber,
			&triggerType, &status, &failedPhase, &exitCode, &errMsg,
			&r.StartedAt, &r.EndedAt, &r.WallClockMs, &r.CPUTimeMs, &logPath, &summaryJSON,
		); err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		r.TriggerType = plan.TriggerType(triggerType.String)
		r.Status = plan.AttemptStatus(status.String)
		r.FailedPhase = plan.Step(failedPhase.String)
		r.Error = errMsg.String
		r.LogFilePath = logPath.String
		if exitCode.Valid {
			v := int(exitCode.Int64)
			r.ExitCode = &v
		}
		if summaryJSON.Valid && summaryJSON.String != "" && summaryJSON.String != "null" {
			var ws plan.WorkSummary
			if err := json.Unmarshal([]byte(summaryJSON.String), &ws); err != nil {
				return nil, fmt.Errorf("unmarshal work summary: %w", err)
			}
			r.WorkSummary = &ws
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
