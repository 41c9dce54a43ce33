package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/promptloom/loom/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflow definitions ---

func (s *LibSQLStore) CreateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_definitions (id, name, definition, created_at, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
		def.ID, nullStr(def.Name), string(doc),
	)
	return err
}

func (s *LibSQLStore) GetDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT definition FROM workflow_definitions WHERE id = ?`, id,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow definition", id)
	}
	if err != nil {
		return nil, err
	}
	def := &schema.WorkflowDefinition{}
	if err := json.Unmarshal([]byte(doc), def); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return def, nil
}

func (s *LibSQLStore) UpdateDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_definitions SET name = ?, definition = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		nullStr(def.Name), string(doc), def.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow definition", def.ID)
}

func (s *LibSQLStore) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*schema.WorkflowDefinition, error) {
	var where []string
	var args []any

	if filter.NamePrefix != "" {
		where = append(where, "name LIKE ?")
		args = append(args, filter.NamePrefix+"%")
	}

	query := "SELECT definition FROM workflow_definitions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		def := &schema.WorkflowDefinition{}
		if err := json.Unmarshal([]byte(doc), def); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (s *LibSQLStore) DeleteDefinition(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow definition", id)
}

// --- Execution records ---

func (s *LibSQLStore) CreateRecord(ctx context.Context, record *schema.ExecutionRecord) error {
	inputs, err := marshalMapOrDefault(record.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_records (id, workflow_id, caller_id, status, inputs, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.WorkflowID, nullStr(record.CallerID),
		string(record.Status), string(inputs), timeOrNow(record.StartedAt),
	)
	return err
}

func (s *LibSQLStore) FinalizeRecord(ctx context.Context, record *schema.ExecutionRecord) error {
	if !record.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeInvalidStatus,
			"cannot finalize record %q in non-terminal status %q", record.ID, record.Status)
	}
	outputs, err := marshalMapOrDefault(record.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	trace, err := json.Marshal(record.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}
	var errJSON any
	if record.Error != nil {
		b, merr := json.Marshal(record.Error)
		if merr != nil {
			return fmt.Errorf("marshal error: %w", merr)
		}
		errJSON = string(b)
	}

	// Guard in SQL as well: a terminal record is never overwritten.
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_records
		 SET status = ?, outputs = ?, trace = ?, error = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(record.Status), string(outputs), string(trace), errJSON,
		nullTime(record.CompletedAt), record.ID, string(schema.RunStatusRunning),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return schema.NewErrorf(schema.ErrCodeInvalidStatus,
			"record %q is not running; already finalized or missing", record.ID)
	}
	return nil
}

func (s *LibSQLStore) GetRecord(ctx context.Context, id string) (*schema.ExecutionRecord, error) {
	record := &schema.ExecutionRecord{}
	var (
		callerID                       sql.NullString
		inputs, outputs, trace, errDoc sql.NullString
		status                         string
		completedAt                    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, caller_id, status, inputs, outputs, trace, error, started_at, completed_at
		 FROM execution_records WHERE id = ?`, id,
	).Scan(&record.ID, &record.WorkflowID, &callerID, &status,
		&inputs, &outputs, &trace, &errDoc, &record.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution record", id)
	}
	if err != nil {
		return nil, err
	}
	record.CallerID = callerID.String
	record.Status = schema.RunStatus(status)
	if inputs.Valid && inputs.String != "" {
		_ = json.Unmarshal([]byte(inputs.String), &record.Inputs)
	}
	if outputs.Valid && outputs.String != "" {
		_ = json.Unmarshal([]byte(outputs.String), &record.Outputs)
	}
	if trace.Valid && trace.String != "" {
		if err := json.Unmarshal([]byte(trace.String), &record.Trace); err != nil {
			return nil, fmt.Errorf("unmarshal trace: %w", err)
		}
	}
	if errDoc.Valid && errDoc.String != "" {
		record.Error = &schema.LoomError{}
		if err := json.Unmarshal([]byte(errDoc.String), record.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if completedAt.Valid {
		record.CompletedAt = &completedAt.Time
	}
	return record, nil
}

func (s *LibSQLStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*schema.ExecutionRecord, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.CallerID != "" {
		where = append(where, "caller_id = ?")
		args = append(args, filter.CallerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT id FROM execution_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]*schema.ExecutionRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// --- Schedules ---

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sched *Schedule) error {
	inputs, err := marshalMapOrDefault(sched.Inputs)
	if err != nil {
		return fmt.Errorf("marshal schedule inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules (id, workflow_id, caller_id, cron_expr, inputs, enabled, last_run_at, next_run_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.WorkflowID, nullStr(sched.CallerID), sched.CronExpr,
		string(inputs), boolToInt(sched.Enabled),
		nullTime(sched.LastRunAt), nullTime(sched.NextRunAt),
		timeOrNow(sched.CreatedAt), timeOrNow(sched.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	sched := &Schedule{}
	var (
		callerID, inputs, lastError sql.NullString
		enabled                     int
		lastRun, nextRun            sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, caller_id, cron_expr, inputs, enabled, last_run_at, next_run_at, last_error, created_at, updated_at
		 FROM schedules WHERE id = ?`, id,
	).Scan(&sched.ID, &sched.WorkflowID, &callerID, &sched.CronExpr,
		&inputs, &enabled, &lastRun, &nextRun, &lastError, &sched.CreatedAt, &sched.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	if err != nil {
		return nil, err
	}
	sched.CallerID = callerID.String
	sched.Enabled = enabled != 0
	sched.LastError = lastError.String
	if inputs.Valid && inputs.String != "" {
		_ = json.Unmarshal([]byte(inputs.String), &sched.Inputs)
	}
	if lastRun.Valid {
		sched.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		sched.NextRunAt = &nextRun.Time
	}
	return sched, nil
}

func (s *LibSQLStore) UpdateScheduleRun(ctx context.Context, id string, update ScheduleRunUpdate) error {
	var sets []string
	var args []any

	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastError != nil {
		sets = append(sets, "last_error = ?")
		args = append(args, nullStr(*update.LastError))
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE schedules SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.EnabledOnly {
		where = append(where, "enabled = 1")
	}

	query := `SELECT id FROM schedules`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scheds := make([]*Schedule, 0, len(ids))
	for _, id := range ids {
		sched, err := s.GetSchedule(ctx, id)
		if err != nil {
			return nil, err
		}
		scheds = append(scheds, sched)
	}
	return scheds, nil
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.LoomError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}
