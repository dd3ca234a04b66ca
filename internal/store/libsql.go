package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/stepflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a LibSQLStore.
type Option func(*LibSQLStore)

// WithLogger sets the logger used for migration progress.
func WithLogger(l *slog.Logger) Option {
	return func(s *LibSQLStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string, opts ...Option) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	s := &LibSQLStore{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, s.logger)
}

// AppliedMigrations lists the migrations recorded in the database, oldest
// first.
func (s *LibSQLStore) AppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	return appliedMigrations(ctx, s.db)
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	editors, viewers, versions := marshalList(wf.EditorIDs), marshalList(wf.ViewerIDs), marshalList(wf.Versions)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, title, owner_id, editor_ids, viewer_ids, enabled, deleted, current_configuration_id, versions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, nullStr(wf.Title), wf.OwnerID, editors, viewers, boolInt(wf.Enabled), boolInt(wf.Deleted),
		nullStr(wf.CurrentConfigurationID), versions, timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return wrapConflict(err, "workflow", wf.ID)
}

const workflowColumns = `id, title, owner_id, editor_ids, viewer_ids, enabled, deleted, current_configuration_id, versions, created_at, updated_at`

func scanWorkflow(row interface{ Scan(...any) error }) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var (
		title, currentCfg          sql.NullString
		editors, viewers, versions string
		enabled, deleted           int
	)
	if err := row.Scan(&wf.ID, &title, &wf.OwnerID, &editors, &viewers, &enabled, &deleted,
		&currentCfg, &versions, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Title = title.String
	wf.CurrentConfigurationID = currentCfg.String
	wf.Enabled = enabled != 0
	wf.Deleted = deleted != 0
	wf.EditorIDs = unmarshalList(editors)
	wf.ViewerIDs = unmarshalList(viewers)
	wf.Versions = unmarshalList(versions)
	return wf, nil
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.Deleted != nil {
		sets = append(sets, "deleted = ?")
		args = append(args, boolInt(*update.Deleted))
	}
	if update.CurrentConfigurationID != nil {
		sets = append(sets, "current_configuration_id = ?")
		args = append(args, *update.CurrentConfigurationID)
	}
	if update.Versions != nil {
		sets = append(sets, "versions = ?")
		args = append(args, marshalList(update.Versions))
	}
	if update.EditorIDs != nil {
		sets = append(sets, "editor_ids = ?")
		args = append(args, marshalList(update.EditorIDs))
	}
	if update.ViewerIDs != nil {
		sets = append(sets, "viewer_ids = ?")
		args = append(args, marshalList(update.ViewerIDs))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows`
	var where []string
	var args []any

	if !filter.IncludeDeleted {
		where = append(where, "deleted = 0")
	}
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, wf)
	}
	return result, rows.Err()
}

// --- Configurations ---

func (s *LibSQLStore) CreateConfiguration(ctx context.Context, cfg *schema.WorkflowConfiguration) error {
	steps, err := marshalRefs(cfg.ActionSteps)
	if err != nil {
		return fmt.Errorf("marshal action_steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_configurations (id, workflow_id, trigger_step_id, action_steps, version_title, version_notes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID, cfg.WorkflowID, nullStr(cfg.TriggerStepID), steps,
		nullStr(cfg.VersionTitle), nullStr(cfg.VersionNotes), timeOrNow(cfg.CreatedAt), timeOrNow(cfg.UpdatedAt),
	)
	return wrapConflict(err, "configuration", cfg.ID)
}

func (s *LibSQLStore) GetConfiguration(ctx context.Context, id string) (*schema.WorkflowConfiguration, error) {
	cfg := &schema.WorkflowConfiguration{}
	var trigger, title, notes sql.NullString
	var steps string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, trigger_step_id, action_steps, version_title, version_notes, created_at, updated_at
		 FROM workflow_configurations WHERE id = ?`, id,
	).Scan(&cfg.ID, &cfg.WorkflowID, &trigger, &steps, &title, &notes, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("configuration", id)
	}
	if err != nil {
		return nil, err
	}
	cfg.TriggerStepID = trigger.String
	cfg.VersionTitle = title.String
	cfg.VersionNotes = notes.String
	if err := json.Unmarshal([]byte(steps), &cfg.ActionSteps); err != nil {
		return nil, fmt.Errorf("unmarshal action_steps: %w", err)
	}
	return cfg, nil
}

func (s *LibSQLStore) UpdateConfiguration(ctx context.Context, id string, update ConfigurationUpdate) error {
	var sets []string
	var args []any

	if update.TriggerStepID != nil {
		sets = append(sets, "trigger_step_id = ?")
		args = append(args, *update.TriggerStepID)
	}
	if update.ActionSteps != nil || update.ClearSteps {
		steps, err := marshalRefs(update.ActionSteps)
		if err != nil {
			return fmt.Errorf("marshal action_steps: %w", err)
		}
		sets = append(sets, "action_steps = ?")
		args = append(args, steps)
	}
	if update.VersionTitle != nil {
		sets = append(sets, "version_title = ?")
		args = append(args, *update.VersionTitle)
	}
	if update.VersionNotes != nil {
		sets = append(sets, "version_notes = ?")
		args = append(args, *update.VersionNotes)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_configurations SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "configuration", id)
}

// --- Trigger steps ---

func (s *LibSQLStore) CreateTriggerStep(ctx context.Context, step *schema.TriggerStep) error {
	params, err := marshalParams(step.Parameters)
	if err != nil {
		return fmt.Errorf("marshal trigger parameters: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trigger_steps (id, configuration_id, definition_id, parameters, title, comment, connection_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.ConfigurationID, step.DefinitionID, params,
		nullStr(step.Title), nullStr(step.Comment), nullStr(step.ConnectionID),
	)
	return wrapConflict(err, "trigger_step", step.ID)
}

func (s *LibSQLStore) GetTriggerStep(ctx context.Context, id string) (*schema.TriggerStep, error) {
	step := &schema.TriggerStep{}
	var params string
	var title, comment, conn sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, configuration_id, definition_id, parameters, title, comment, connection_id
		 FROM trigger_steps WHERE id = ?`, id,
	).Scan(&step.ID, &step.ConfigurationID, &step.DefinitionID, &params, &title, &comment, &conn)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("trigger_step", id)
	}
	if err != nil {
		return nil, err
	}
	step.Title = title.String
	step.Comment = comment.String
	step.ConnectionID = conn.String
	if err := json.Unmarshal([]byte(params), &step.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal trigger parameters: %w", err)
	}
	return step, nil
}

func (s *LibSQLStore) DeleteTriggerStep(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trigger_steps WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "trigger_step", id)
}

// --- Action steps ---

const actionStepColumns = `id, configuration_id, definition_id, parameters, remote_options, title, comment, connection_id, parent_id, children`

func scanActionStep(row interface{ Scan(...any) error }) (*schema.ActionStep, error) {
	step := &schema.ActionStep{}
	var params string
	var remote, title, comment, conn, parent, children sql.NullString
	if err := row.Scan(&step.ID, &step.ConfigurationID, &step.DefinitionID, &params,
		&remote, &title, &comment, &conn, &parent, &children); err != nil {
		return nil, err
	}
	step.Title = title.String
	step.Comment = comment.String
	step.ConnectionID = conn.String
	step.ParentID = parent.String
	if err := json.Unmarshal([]byte(params), &step.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal step parameters: %w", err)
	}
	if remote.Valid && remote.String != "" {
		_ = json.Unmarshal([]byte(remote.String), &step.RemoteOptions)
	}
	if children.Valid && children.String != "" {
		if err := json.Unmarshal([]byte(children.String), &step.Children); err != nil {
			return nil, fmt.Errorf("unmarshal step children: %w", err)
		}
	}
	return step, nil
}

func (s *LibSQLStore) CreateActionStep(ctx context.Context, step *schema.ActionStep) error {
	params, err := marshalParams(step.Parameters)
	if err != nil {
		return fmt.Errorf("marshal step parameters: %w", err)
	}
	remote, err := nullJSON(step.RemoteOptions)
	if err != nil {
		return fmt.Errorf("marshal remote options: %w", err)
	}
	children, err := nullJSON(step.Children)
	if err != nil {
		return fmt.Errorf("marshal step children: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO action_steps (`+actionStepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.ConfigurationID, step.DefinitionID, params, remote,
		nullStr(step.Title), nullStr(step.Comment), nullStr(step.ConnectionID), nullStr(step.ParentID), children,
	)
	return wrapConflict(err, "action_step", step.ID)
}

func (s *LibSQLStore) GetActionStep(ctx context.Context, id string) (*schema.ActionStep, error) {
	step, err := scanActionStep(s.db.QueryRowContext(ctx,
		`SELECT `+actionStepColumns+` FROM action_steps WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("action_step", id)
	}
	return step, err
}

func (s *LibSQLStore) UpdateActionStep(ctx context.Context, id string, update ActionStepUpdate) error {
	var sets []string
	var args []any

	if update.Parameters != nil {
		params, err := marshalParams(update.Parameters)
		if err != nil {
			return fmt.Errorf("marshal step parameters: %w", err)
		}
		sets = append(sets, "parameters = ?")
		args = append(args, params)
	}
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Comment != nil {
		sets = append(sets, "comment = ?")
		args = append(args, *update.Comment)
	}
	if update.ConnectionID != nil {
		sets = append(sets, "connection_id = ?")
		args = append(args, nullStr(*update.ConnectionID))
	}
	if update.ParentID != nil {
		sets = append(sets, "parent_id = ?")
		args = append(args, nullStr(*update.ParentID))
	}
	if update.Children != nil {
		children, err := nullJSON(*update.Children)
		if err != nil {
			return fmt.Errorf("marshal step children: %w", err)
		}
		sets = append(sets, "children = ?")
		args = append(args, children)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE action_steps SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "action_step", id)
}

func (s *LibSQLStore) DeleteActionStep(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_steps WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "action_step", id)
}

func (s *LibSQLStore) ListActionSteps(ctx context.Context, configurationID string) ([]*schema.ActionStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+actionStepColumns+` FROM action_steps WHERE configuration_id = ? ORDER BY id`, configurationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*schema.ActionStep
	for rows.Next() {
		step, err := scanActionStep(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, step)
	}
	return result, rows.Err()
}

// --- Connections ---

func (s *LibSQLStore) CreateConnection(ctx context.Context, conn *schema.Connection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (id, owner_id, provider, title, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET owner_id=excluded.owner_id, provider=excluded.provider, title=excluded.title`,
		conn.ID, conn.OwnerID, conn.Provider, nullStr(conn.Title), timeOrNow(conn.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetConnection(ctx context.Context, id string) (*schema.Connection, error) {
	conn := &schema.Connection{}
	var title sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, provider, title, created_at FROM connections WHERE id = ?`, id,
	).Scan(&conn.ID, &conn.OwnerID, &conn.Provider, &title, &conn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("connection", id)
	}
	if err != nil {
		return nil, err
	}
	conn.Title = title.String
	return conn, nil
}

// --- Runs ---

const runColumns = `id, workflow_id, configuration_id, status, started_at, finished_at, outputs, error`

func scanRun(row interface{ Scan(...any) error }) (*schema.WorkflowRun, error) {
	run := &schema.WorkflowRun{}
	var status string
	var finished sql.NullTime
	var outputs, runErr sql.NullString
	if err := row.Scan(&run.ID, &run.WorkflowID, &run.ConfigurationID, &status,
		&run.StartedAt, &finished, &outputs, &runErr); err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	if outputs.Valid && outputs.String != "" {
		_ = json.Unmarshal([]byte(outputs.String), &run.Outputs)
	}
	if runErr.Valid && runErr.String != "" {
		run.Error = &schema.ActionError{}
		_ = json.Unmarshal([]byte(runErr.String), run.Error)
	}
	return run, nil
}

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.WorkflowRun) error {
	outputs, err := nullJSON(run.Outputs)
	if err != nil {
		return fmt.Errorf("marshal run outputs: %w", err)
	}
	runErr, err := nullJSON(run.Error)
	if err != nil {
		return fmt.Errorf("marshal run error: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.ConfigurationID, string(run.Status),
		timeOrNow(run.StartedAt), nullTime(run.FinishedAt), outputs, runErr,
	)
	return wrapConflict(err, "run", run.ID)
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.WorkflowRun, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	return run, err
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.FinishedAt != nil {
		sets = append(sets, "finished_at = ?")
		args = append(args, *update.FinishedAt)
	}
	if update.Outputs != nil {
		outputs, err := json.Marshal(update.Outputs)
		if err != nil {
			return fmt.Errorf("marshal run outputs: %w", err)
		}
		sets = append(sets, "outputs = ?")
		args = append(args, string(outputs))
	}
	if update.Error != nil {
		runErr, err := json.Marshal(update.Error)
		if err != nil {
			return fmt.Errorf("marshal run error: %w", err)
		}
		sets = append(sets, "error = ?")
		args = append(args, string(runErr))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.WorkflowRun, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs`
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
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

	var result []*schema.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

// --- Run data ---

// AppendRunData computes the next iteration count and inserts the row inside
// one transaction, so the read-latest-then-write-next sequence cannot
// interleave with another writer for the same step.
func (s *LibSQLStore) AppendRunData(ctx context.Context, data *schema.WorkflowRunData) error {
	value, err := json.Marshal(data.Value)
	if err != nil {
		return fmt.Errorf("marshal run data value: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run data tx: %w", err)
	}
	defer tx.Rollback()

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(iteration_count), -1) + 1 FROM workflow_run_data WHERE run_id = ? AND step_id = ? AND source = ?`,
		data.RunID, data.StepID, string(data.Source),
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("get next iteration count: %w", err)
	}
	data.IterationCount = next
	data.CreatedAt = timeOrNow(data.CreatedAt)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_run_data (id, run_id, step_id, source, key, value, data_type, iteration_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		data.ID, data.RunID, data.StepID, string(data.Source), nullStr(data.Key), string(value),
		nullStr(string(data.DataType)), data.IterationCount, data.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert run data: %w", err)
	}
	return tx.Commit()
}

const runDataColumns = `id, run_id, step_id, source, key, value, data_type, iteration_count, created_at`

func scanRunData(row interface{ Scan(...any) error }) (*schema.WorkflowRunData, error) {
	d := &schema.WorkflowRunData{}
	var source string
	var key, value, dataType sql.NullString
	if err := row.Scan(&d.ID, &d.RunID, &d.StepID, &source, &key, &value, &dataType,
		&d.IterationCount, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Source = schema.DataSource(source)
	d.Key = key.String
	d.DataType = schema.DataType(dataType.String)
	if value.Valid && value.String != "" {
		if err := json.Unmarshal([]byte(value.String), &d.Value); err != nil {
			return nil, fmt.Errorf("unmarshal run data value: %w", err)
		}
	}
	return d, nil
}

func (s *LibSQLStore) LatestRunData(ctx context.Context, runID, stepID string) (*schema.WorkflowRunData, error) {
	d, err := scanRunData(s.db.QueryRowContext(ctx,
		`SELECT `+runDataColumns+` FROM workflow_run_data WHERE run_id = ? AND step_id = ? ORDER BY seq DESC LIMIT 1`,
		runID, stepID))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run_data", runID+"/"+stepID)
	}
	return d, err
}

func (s *LibSQLStore) ListRunData(ctx context.Context, filter RunDataFilter) ([]*schema.WorkflowRunData, error) {
	where := []string{"run_id = ?"}
	args := []any{filter.RunID}
	if filter.StepID != "" {
		where = append(where, "step_id = ?")
		args = append(args, filter.StepID)
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.Key != "" {
		where = append(where, "key = ?")
		args = append(args, filter.Key)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runDataColumns+` FROM workflow_run_data WHERE `+strings.Join(where, " AND ")+` ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*schema.WorkflowRunData
	for rows.Next() {
		d, err := scanRunData(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// --- Run logs ---

func (s *LibSQLStore) AppendRunLog(ctx context.Context, log *schema.WorkflowRunLog) error {
	logErr, err := nullJSON(log.Error)
	if err != nil {
		return fmt.Errorf("marshal run log error: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run log tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM workflow_run_logs WHERE run_id = ?`, log.RunID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next log sequence: %w", err)
	}
	log.Sequence = seq

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO workflow_run_logs (id, run_id, step_id, status, started_at, finished_at, error, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.RunID, log.StepID, string(log.Status), timeOrNow(log.StartedAt),
		nullTime(log.FinishedAt), logErr, log.Sequence,
	); err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListRunLogs(ctx context.Context, runID string) ([]*schema.WorkflowRunLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step_id, status, started_at, finished_at, error, sequence
		 FROM workflow_run_logs WHERE run_id = ? ORDER BY sequence`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*schema.WorkflowRunLog
	for rows.Next() {
		l := &schema.WorkflowRunLog{}
		var status string
		var finished sql.NullTime
		var logErr sql.NullString
		if err := rows.Scan(&l.ID, &l.RunID, &l.StepID, &status, &l.StartedAt, &finished, &logErr, &l.Sequence); err != nil {
			return nil, err
		}
		l.Status = schema.StepStatus(status)
		if finished.Valid {
			l.FinishedAt = &finished.Time
		}
		if logErr.Valid && logErr.String != "" {
			l.Error = &schema.ActionError{}
			_ = json.Unmarshal([]byte(logErr.String), l.Error)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// --- Schedules ---

const scheduleColumns = `id, workflow_id, next_run_at, repeat, start_at, end_at, interval_value, interval_unit, created_at`

func scanSchedule(row interface{ Scan(...any) error }) (*schema.ScheduledWorkflowRun, error) {
	sch := &schema.ScheduledWorkflowRun{}
	var repeat int
	var start, end sql.NullTime
	var interval sql.NullInt64
	var unit sql.NullString
	if err := row.Scan(&sch.ID, &sch.WorkflowID, &sch.NextRunAt, &repeat, &start, &end,
		&interval, &unit, &sch.CreatedAt); err != nil {
		return nil, err
	}
	sch.Repeat = repeat != 0
	if start.Valid {
		sch.StartAt = &start.Time
	}
	if end.Valid {
		sch.EndAt = &end.Time
	}
	sch.Interval = int(interval.Int64)
	sch.IntervalUnit = schema.IntervalUnit(unit.String)
	return sch, nil
}

func (s *LibSQLStore) CreateSchedule(ctx context.Context, sch *schema.ScheduledWorkflowRun) error {
	var interval any
	if sch.Interval > 0 {
		interval = sch.Interval
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_workflow_runs (`+scheduleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sch.ID, sch.WorkflowID, sch.NextRunAt.UTC(), boolInt(sch.Repeat), nullTime(sch.StartAt), nullTime(sch.EndAt),
		interval, nullStr(string(sch.IntervalUnit)), timeOrNow(sch.CreatedAt),
	)
	return wrapConflict(err, "schedule", sch.ID)
}

func (s *LibSQLStore) GetSchedule(ctx context.Context, id string) (*schema.ScheduledWorkflowRun, error) {
	sch, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_workflow_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, storeNotFound("schedule", id)
	}
	return sch, err
}

func (s *LibSQLStore) UpdateScheduleNextRun(ctx context.Context, id string, next time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_workflow_runs SET next_run_at = ? WHERE id = ?`, next.UTC(), id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

func (s *LibSQLStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*schema.ScheduledWorkflowRun, error) {
	// Times are stored as RFC 3339 text, which does not order lexically
	// across fractional seconds; julianday compares them as instants.
	at := now.UTC()
	candidates, err := s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_workflow_runs
		 WHERE julianday(next_run_at) <= julianday(?)
		   AND (start_at IS NULL OR julianday(start_at) <= julianday(?))
		   AND (end_at IS NULL OR julianday(end_at) > julianday(?))`, at, at, at)
	if err != nil {
		return nil, err
	}
	due := candidates[:0]
	for _, sch := range candidates {
		if IsDue(sch, now) {
			due = append(due, sch)
		}
	}
	return due, nil
}

func (s *LibSQLStore) ListSchedules(ctx context.Context, workflowID string) ([]*schema.ScheduledWorkflowRun, error) {
	if workflowID == "" {
		return s.querySchedules(ctx,
			`SELECT `+scheduleColumns+` FROM scheduled_workflow_runs`)
	}
	return s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM scheduled_workflow_runs WHERE workflow_id = ?`, workflowID)
}

func (s *LibSQLStore) querySchedules(ctx context.Context, query string, args ...any) ([]*schema.ScheduledWorkflowRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*schema.ScheduledWorkflowRun
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortSchedules(result)
	return result, nil
}

func (s *LibSQLStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_workflow_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "schedule", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrNotFound, "%s %q not found", resource, id)
}

func storeConflict(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrStore, "%s %q already exists", resource, id)
}

func wrapConflict(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "unique") {
		return storeConflict(resource, id).WithCause(err)
	}
	return err
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
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullJSON(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if t == nil {
			return nil, nil
		}
	case map[string][]string:
		if t == nil {
			return nil, nil
		}
	case *schema.ActionError:
		if t == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func marshalList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	raw, _ := json.Marshal(list)
	return string(raw)
}

func unmarshalList(raw string) []string {
	var list []string
	_ = json.Unmarshal([]byte(raw), &list)
	return list
}

func marshalRefs(refs []schema.ActionStepReference) (string, error) {
	if refs == nil {
		refs = []schema.ActionStepReference{}
	}
	raw, err := json.Marshal(refs)
	return string(raw), err
}

func marshalParams(p schema.Parameters) (string, error) {
	if p == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(p)
	return string(raw), err
}

var _ Store = (*LibSQLStore)(nil)
