package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"heritage-portal/backend/pkg/models"
)

// querier is the subset of pgx operations shared by pgxpool.Pool and pgx.Tx,
// letting the same store methods serve both pooled and transactional use.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresWorkflowStore is a PostgreSQL implementation of the Store interface.
// Conditional writes are expressed as UPDATE ... WHERE version = $n; a zero
// row count means another writer got there first.
type PostgresWorkflowStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewPostgresWorkflowStore creates a new PostgresWorkflowStore.
func NewPostgresWorkflowStore(pool *pgxpool.Pool) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{pool: pool, q: pool}
}

// ExecTx runs fn inside a database transaction. Nested calls reuse the
// already-open transaction.
func (s *PostgresWorkflowStore) ExecTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txStore := &PostgresWorkflowStore{q: tx}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// CreateDefinition stores a new workflow definition.
func (s *PostgresWorkflowStore) CreateDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO workflow_definitions (id, name, kind, steps, active, starts_pending, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		def.ID, def.Name, def.Kind, steps, def.Active, def.StartsPending, def.CreatedAt, def.UpdatedAt)
	return err
}

const definitionColumns = `id, name, kind, steps, active, starts_pending, created_at, updated_at`

func scanDefinition(row pgx.Row) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	var steps []byte
	err := row.Scan(&def.ID, &def.Name, &def.Kind, &steps, &def.Active, &def.StartsPending, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(steps, &def.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &def, nil
}

// GetDefinition retrieves a definition by ID.
func (s *PostgresWorkflowStore) GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	row := s.q.QueryRow(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions WHERE id = $1`, id)
	return scanDefinition(row)
}

// ListDefinitions returns all definitions ordered by creation time.
func (s *PostgresWorkflowStore) ListDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := s.q.Query(ctx, `SELECT `+definitionColumns+` FROM workflow_definitions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// UpdateDefinition replaces a stored definition.
func (s *PostgresWorkflowStore) UpdateDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	steps, err := json.Marshal(def.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE workflow_definitions SET name = $2, kind = $3, steps = $4, active = $5, starts_pending = $6, updated_at = $7
		 WHERE id = $1`,
		def.ID, def.Name, def.Kind, steps, def.Active, def.StartsPending, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: definition %s", models.ErrNotFound, def.ID)
	}
	return nil
}

// CreateInstance stores an instance and its step executions. When called
// outside ExecTx it opens its own transaction so the write stays atomic.
func (s *PostgresWorkflowStore) CreateInstance(ctx context.Context, inst *models.WorkflowInstance, steps []*models.StepExecution) error {
	return s.ExecTx(ctx, func(store Store) error {
		ps := store.(*PostgresWorkflowStore)
		_, err := ps.q.Exec(ctx,
			`INSERT INTO workflow_instances (id, definition_id, subject_id, kind, current_step_index, status, started_by, started_at, completed_at, metadata, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			inst.ID, inst.DefinitionID, inst.SubjectID, inst.Kind, inst.CurrentStepIndex, inst.Status,
			inst.StartedBy, inst.StartedAt, inst.CompletedAt, []byte(inst.Metadata), inst.Version)
		if err != nil {
			return err
		}
		for _, step := range steps {
			_, err := ps.q.Exec(ctx,
				`INSERT INTO step_executions (id, instance_id, step_index, name, required_role, auto_complete, status, assigned_to, started_at, completed_at, comments, version)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				step.ID, step.InstanceID, step.StepIndex, step.Name, step.RequiredRole, step.AutoComplete,
				step.Status, step.AssignedTo, step.StartedAt, step.CompletedAt, step.Comments, step.Version)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

const instanceColumns = `id, definition_id, subject_id, kind, current_step_index, status, started_by, started_at, completed_at, metadata, version`

func scanInstance(row pgx.Row) (*models.WorkflowInstance, error) {
	var inst models.WorkflowInstance
	var metadata []byte
	err := row.Scan(&inst.ID, &inst.DefinitionID, &inst.SubjectID, &inst.Kind, &inst.CurrentStepIndex,
		&inst.Status, &inst.StartedBy, &inst.StartedAt, &inst.CompletedAt, &metadata, &inst.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	inst.Metadata = metadata
	return &inst, nil
}

// GetInstance retrieves an instance by ID.
func (s *PostgresWorkflowStore) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := s.q.QueryRow(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id)
	return scanInstance(row)
}

// FindLiveInstance returns the non-terminal instance for the definition and
// subject, if any.
func (s *PostgresWorkflowStore) FindLiveInstance(ctx context.Context, definitionID, subjectID string) (*models.WorkflowInstance, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM workflow_instances
		 WHERE definition_id = $1 AND subject_id = $2 AND status NOT IN ('completed', 'rejected', 'cancelled')
		 LIMIT 1`,
		definitionID, subjectID)
	return scanInstance(row)
}

// ListInstances returns all instances ordered by start time.
func (s *PostgresWorkflowStore) ListInstances(ctx context.Context) ([]*models.WorkflowInstance, error) {
	rows, err := s.q.Query(ctx, `SELECT `+instanceColumns+` FROM workflow_instances ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// UpdateInstance applies a conditional write on the instance version.
func (s *PostgresWorkflowStore) UpdateInstance(ctx context.Context, inst *models.WorkflowInstance) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE workflow_instances
		 SET current_step_index = $2, status = $3, completed_at = $4, metadata = $5, version = version + 1
		 WHERE id = $1 AND version = $6`,
		inst.ID, inst.CurrentStepIndex, inst.Status, inst.CompletedAt, []byte(inst.Metadata), inst.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: instance %s version %d", models.ErrConflict, inst.ID, inst.Version)
	}
	inst.Version++
	return nil
}

const stepColumns = `id, instance_id, step_index, name, required_role, auto_complete, status, assigned_to, started_at, completed_at, comments, version`

func scanStep(row pgx.Row) (*models.StepExecution, error) {
	var step models.StepExecution
	err := row.Scan(&step.ID, &step.InstanceID, &step.StepIndex, &step.Name, &step.RequiredRole,
		&step.AutoComplete, &step.Status, &step.AssignedTo, &step.StartedAt, &step.CompletedAt,
		&step.Comments, &step.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &step, nil
}

// GetStep retrieves one step execution by instance and index.
func (s *PostgresWorkflowStore) GetStep(ctx context.Context, instanceID string, stepIndex int) (*models.StepExecution, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM step_executions WHERE instance_id = $1 AND step_index = $2`,
		instanceID, stepIndex)
	return scanStep(row)
}

// ListSteps returns an instance's step executions ordered by index.
func (s *PostgresWorkflowStore) ListSteps(ctx context.Context, instanceID string) ([]*models.StepExecution, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+stepColumns+` FROM step_executions WHERE instance_id = $1 ORDER BY step_index`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StepExecution
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, rows.Err()
}

// UpdateStep applies a conditional write on the step version.
func (s *PostgresWorkflowStore) UpdateStep(ctx context.Context, step *models.StepExecution) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE step_executions
		 SET status = $2, assigned_to = $3, started_at = $4, completed_at = $5, comments = $6, version = version + 1
		 WHERE id = $1 AND version = $7`,
		step.ID, step.Status, step.AssignedTo, step.StartedAt, step.CompletedAt, step.Comments, step.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: step %s version %d", models.ErrConflict, step.ID, step.Version)
	}
	step.Version++
	return nil
}

// CreateMember stores a committee member.
func (s *PostgresWorkflowStore) CreateMember(ctx context.Context, m *models.CommitteeMember) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO committee_members (id, user_ref, role, specialization, active, appointed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.UserRef, m.Role, m.Specialization, m.Active, m.AppointedAt)
	return err
}

const memberColumns = `id, user_ref, role, specialization, active, appointed_at`

func scanMember(row pgx.Row) (*models.CommitteeMember, error) {
	var m models.CommitteeMember
	err := row.Scan(&m.ID, &m.UserRef, &m.Role, &m.Specialization, &m.Active, &m.AppointedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// GetMember retrieves a committee member by ID.
func (s *PostgresWorkflowStore) GetMember(ctx context.Context, id string) (*models.CommitteeMember, error) {
	row := s.q.QueryRow(ctx, `SELECT `+memberColumns+` FROM committee_members WHERE id = $1`, id)
	return scanMember(row)
}

// GetMemberByUserRef retrieves a committee member by user reference.
func (s *PostgresWorkflowStore) GetMemberByUserRef(ctx context.Context, userRef string) (*models.CommitteeMember, error) {
	row := s.q.QueryRow(ctx, `SELECT `+memberColumns+` FROM committee_members WHERE user_ref = $1`, userRef)
	return scanMember(row)
}

// ListMembers returns committee members, optionally only active ones.
func (s *PostgresWorkflowStore) ListMembers(ctx context.Context, activeOnly bool) ([]*models.CommitteeMember, error) {
	query := `SELECT ` + memberColumns + ` FROM committee_members`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY appointed_at`

	rows, err := s.q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CommitteeMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMember replaces a stored committee member.
func (s *PostgresWorkflowStore) UpdateMember(ctx context.Context, m *models.CommitteeMember) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE committee_members SET role = $2, specialization = $3, active = $4 WHERE id = $1`,
		m.ID, m.Role, m.Specialization, m.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: member %s", models.ErrNotFound, m.ID)
	}
	return nil
}

// CreateReviews stores a whole review round as one batch.
func (s *PostgresWorkflowStore) CreateReviews(ctx context.Context, reviews []*models.CommitteeReview) error {
	return s.ExecTx(ctx, func(store Store) error {
		ps := store.(*PostgresWorkflowStore)
		for _, r := range reviews {
			_, err := ps.q.Exec(ctx,
				`INSERT INTO committee_reviews (id, subject_id, round, member_id, status, comments, rationale, reviewed_at, version)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				r.ID, r.SubjectID, r.Round, r.MemberID, r.Status, r.Comments, r.Rationale, r.ReviewedAt, r.Version)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// CurrentRound returns the highest review round recorded for the subject.
func (s *PostgresWorkflowStore) CurrentRound(ctx context.Context, subjectID string) (int, error) {
	var round int
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(round), 0) FROM committee_reviews WHERE subject_id = $1`, subjectID).Scan(&round)
	return round, err
}

const reviewColumns = `id, subject_id, round, member_id, status, comments, rationale, reviewed_at, version`

func scanReview(row pgx.Row) (*models.CommitteeReview, error) {
	var r models.CommitteeReview
	err := row.Scan(&r.ID, &r.SubjectID, &r.Round, &r.MemberID, &r.Status, &r.Comments, &r.Rationale, &r.ReviewedAt, &r.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// ListReviews returns the review rows for a subject's round.
func (s *PostgresWorkflowStore) ListReviews(ctx context.Context, subjectID string, round int) ([]*models.CommitteeReview, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+reviewColumns+` FROM committee_reviews WHERE subject_id = $1 AND round = $2 ORDER BY member_id`,
		subjectID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CommitteeReview
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateReview applies a conditional write on the review version.
func (s *PostgresWorkflowStore) UpdateReview(ctx context.Context, r *models.CommitteeReview) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE committee_reviews
		 SET status = $2, comments = $3, rationale = $4, reviewed_at = $5, version = version + 1
		 WHERE id = $1 AND version = $6`,
		r.ID, r.Status, r.Comments, r.Rationale, r.ReviewedAt, r.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: review %s version %d", models.ErrConflict, r.ID, r.Version)
	}
	r.Version++
	return nil
}

// AppendAudit appends an entry to the audit log. There is no corresponding
// update or delete; the log only grows.
func (s *PostgresWorkflowStore) AppendAudit(ctx context.Context, e *models.AuditEntry) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO audit_log (id, subject_type, subject_id, action, actor, before_state, after_state, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.SubjectType, e.SubjectID, e.Action, e.Actor, e.Before, e.After, e.Timestamp)
	return err
}

// ListAudit returns the audit entries recorded for a subject, oldest first.
func (s *PostgresWorkflowStore) ListAudit(ctx context.Context, subjectID string) ([]*models.AuditEntry, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, subject_type, subject_id, action, actor, before_state, after_state, ts
		 FROM audit_log WHERE subject_id = $1 ORDER BY ts, id`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.SubjectType, &e.SubjectID, &e.Action, &e.Actor, &e.Before, &e.After, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (s *PostgresWorkflowStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}
