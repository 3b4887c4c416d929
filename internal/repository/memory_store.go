package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"heritage-portal/backend/pkg/models"
)

// MemoryStore is an in-memory Store used by the engine's unit tests and for
// running the service without a database. Stored records are treated as
// immutable: every write replaces the stored copy, which makes transactional
// snapshots a matter of copying map headers.
type MemoryStore struct {
	mu sync.Mutex

	definitions map[string]*models.WorkflowDefinition
	instances   map[string]*models.WorkflowInstance
	steps       map[string]*models.StepExecution
	members     map[string]*models.CommitteeMember
	reviews     map[string]*models.CommitteeReview
	audit       []*models.AuditEntry

	// inTx marks a transactional view created by ExecTx; views share no
	// maps with the parent and skip locking (the parent holds the lock).
	inTx bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]*models.WorkflowDefinition),
		instances:   make(map[string]*models.WorkflowInstance),
		steps:       make(map[string]*models.StepExecution),
		members:     make(map[string]*models.CommitteeMember),
		reviews:     make(map[string]*models.CommitteeReview),
	}
}

func (s *MemoryStore) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *MemoryStore) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

// ExecTx runs fn against a snapshot view and adopts the snapshot's maps only
// when fn succeeds. Transactions are serialized by the store mutex.
func (s *MemoryStore) ExecTx(ctx context.Context, fn func(Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &MemoryStore{
		definitions: copyMap(s.definitions),
		instances:   copyMap(s.instances),
		steps:       copyMap(s.steps),
		members:     copyMap(s.members),
		reviews:     copyMap(s.reviews),
		audit:       s.audit[:len(s.audit):len(s.audit)],
		inTx:        true,
	}

	if err := fn(tx); err != nil {
		return err
	}

	s.definitions = tx.definitions
	s.instances = tx.instances
	s.steps = tx.steps
	s.members = tx.members
	s.reviews = tx.reviews
	s.audit = tx.audit
	return nil
}

func copyMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// CreateDefinition stores a new workflow definition.
func (s *MemoryStore) CreateDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	s.lock()
	defer s.unlock()
	if _, ok := s.definitions[def.ID]; ok {
		return fmt.Errorf("%w: definition %s already exists", models.ErrConflict, def.ID)
	}
	cp := *def
	s.definitions[def.ID] = &cp
	return nil
}

// GetDefinition retrieves a definition by ID.
func (s *MemoryStore) GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	s.lock()
	defer s.unlock()
	def, ok := s.definitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: definition %s", models.ErrNotFound, id)
	}
	cp := *def
	return &cp, nil
}

// ListDefinitions returns all definitions.
func (s *MemoryStore) ListDefinitions(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	s.lock()
	defer s.unlock()
	out := make([]*models.WorkflowDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		cp := *def
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateDefinition replaces a stored definition.
func (s *MemoryStore) UpdateDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	s.lock()
	defer s.unlock()
	if _, ok := s.definitions[def.ID]; !ok {
		return fmt.Errorf("%w: definition %s", models.ErrNotFound, def.ID)
	}
	cp := *def
	s.definitions[def.ID] = &cp
	return nil
}

// CreateInstance stores an instance together with its step executions.
func (s *MemoryStore) CreateInstance(ctx context.Context, inst *models.WorkflowInstance, steps []*models.StepExecution) error {
	s.lock()
	defer s.unlock()
	if _, ok := s.instances[inst.ID]; ok {
		return fmt.Errorf("%w: instance %s already exists", models.ErrConflict, inst.ID)
	}
	ci := *inst
	s.instances[inst.ID] = &ci
	for _, step := range steps {
		cs := *step
		s.steps[step.ID] = &cs
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *MemoryStore) GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	s.lock()
	defer s.unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", models.ErrNotFound, id)
	}
	cp := *inst
	return &cp, nil
}

// FindLiveInstance returns the non-terminal instance for the definition and
// subject, if any.
func (s *MemoryStore) FindLiveInstance(ctx context.Context, definitionID, subjectID string) (*models.WorkflowInstance, error) {
	s.lock()
	defer s.unlock()
	for _, inst := range s.instances {
		if inst.DefinitionID == definitionID && inst.SubjectID == subjectID && !inst.Status.IsTerminal() {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: no live instance for subject %s", models.ErrNotFound, subjectID)
}

// ListInstances returns all instances.
func (s *MemoryStore) ListInstances(ctx context.Context) ([]*models.WorkflowInstance, error) {
	s.lock()
	defer s.unlock()
	out := make([]*models.WorkflowInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		cp := *inst
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// UpdateInstance applies a conditional write on the instance version.
func (s *MemoryStore) UpdateInstance(ctx context.Context, inst *models.WorkflowInstance) error {
	s.lock()
	defer s.unlock()
	stored, ok := s.instances[inst.ID]
	if !ok {
		return fmt.Errorf("%w: instance %s", models.ErrNotFound, inst.ID)
	}
	if stored.Version != inst.Version {
		return fmt.Errorf("%w: instance %s version %d", models.ErrConflict, inst.ID, inst.Version)
	}
	cp := *inst
	cp.Version++
	s.instances[inst.ID] = &cp
	inst.Version = cp.Version
	return nil
}

// GetStep retrieves one step execution by instance and index.
func (s *MemoryStore) GetStep(ctx context.Context, instanceID string, stepIndex int) (*models.StepExecution, error) {
	s.lock()
	defer s.unlock()
	for _, step := range s.steps {
		if step.InstanceID == instanceID && step.StepIndex == stepIndex {
			cp := *step
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: step %d of instance %s", models.ErrNotFound, stepIndex, instanceID)
}

// ListSteps returns an instance's step executions ordered by index.
func (s *MemoryStore) ListSteps(ctx context.Context, instanceID string) ([]*models.StepExecution, error) {
	s.lock()
	defer s.unlock()
	var out []*models.StepExecution
	for _, step := range s.steps {
		if step.InstanceID == instanceID {
			cp := *step
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

// UpdateStep applies a conditional write on the step version.
func (s *MemoryStore) UpdateStep(ctx context.Context, step *models.StepExecution) error {
	s.lock()
	defer s.unlock()
	stored, ok := s.steps[step.ID]
	if !ok {
		return fmt.Errorf("%w: step %s", models.ErrNotFound, step.ID)
	}
	if stored.Version != step.Version {
		return fmt.Errorf("%w: step %s version %d", models.ErrConflict, step.ID, step.Version)
	}
	cp := *step
	cp.Version++
	s.steps[step.ID] = &cp
	step.Version = cp.Version
	return nil
}

// CreateMember stores a committee member.
func (s *MemoryStore) CreateMember(ctx context.Context, m *models.CommitteeMember) error {
	s.lock()
	defer s.unlock()
	if _, ok := s.members[m.ID]; ok {
		return fmt.Errorf("%w: member %s already exists", models.ErrConflict, m.ID)
	}
	cp := *m
	s.members[m.ID] = &cp
	return nil
}

// GetMember retrieves a committee member by ID.
func (s *MemoryStore) GetMember(ctx context.Context, id string) (*models.CommitteeMember, error) {
	s.lock()
	defer s.unlock()
	m, ok := s.members[id]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", models.ErrNotFound, id)
	}
	cp := *m
	return &cp, nil
}

// GetMemberByUserRef retrieves a committee member by user reference.
func (s *MemoryStore) GetMemberByUserRef(ctx context.Context, userRef string) (*models.CommitteeMember, error) {
	s.lock()
	defer s.unlock()
	for _, m := range s.members {
		if m.UserRef == userRef {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: member for user %s", models.ErrNotFound, userRef)
}

// ListMembers returns committee members, optionally only active ones.
func (s *MemoryStore) ListMembers(ctx context.Context, activeOnly bool) ([]*models.CommitteeMember, error) {
	s.lock()
	defer s.unlock()
	var out []*models.CommitteeMember
	for _, m := range s.members {
		if activeOnly && !m.Active {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AppointedAt.Before(out[j].AppointedAt) })
	return out, nil
}

// UpdateMember replaces a stored committee member.
func (s *MemoryStore) UpdateMember(ctx context.Context, m *models.CommitteeMember) error {
	s.lock()
	defer s.unlock()
	if _, ok := s.members[m.ID]; !ok {
		return fmt.Errorf("%w: member %s", models.ErrNotFound, m.ID)
	}
	cp := *m
	s.members[m.ID] = &cp
	return nil
}

// CreateReviews stores a whole review round as one batch.
func (s *MemoryStore) CreateReviews(ctx context.Context, reviews []*models.CommitteeReview) error {
	s.lock()
	defer s.unlock()
	for _, r := range reviews {
		if _, ok := s.reviews[r.ID]; ok {
			return fmt.Errorf("%w: review %s already exists", models.ErrConflict, r.ID)
		}
	}
	for _, r := range reviews {
		cp := *r
		s.reviews[r.ID] = &cp
	}
	return nil
}

// CurrentRound returns the highest review round recorded for the subject.
func (s *MemoryStore) CurrentRound(ctx context.Context, subjectID string) (int, error) {
	s.lock()
	defer s.unlock()
	round := 0
	for _, r := range s.reviews {
		if r.SubjectID == subjectID && r.Round > round {
			round = r.Round
		}
	}
	return round, nil
}

// ListReviews returns the review rows for a subject's round.
func (s *MemoryStore) ListReviews(ctx context.Context, subjectID string, round int) ([]*models.CommitteeReview, error) {
	s.lock()
	defer s.unlock()
	var out []*models.CommitteeReview
	for _, r := range s.reviews {
		if r.SubjectID == subjectID && r.Round == round {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	return out, nil
}

// UpdateReview applies a conditional write on the review version.
func (s *MemoryStore) UpdateReview(ctx context.Context, r *models.CommitteeReview) error {
	s.lock()
	defer s.unlock()
	stored, ok := s.reviews[r.ID]
	if !ok {
		return fmt.Errorf("%w: review %s", models.ErrNotFound, r.ID)
	}
	if stored.Version != r.Version {
		return fmt.Errorf("%w: review %s version %d", models.ErrConflict, r.ID, r.Version)
	}
	cp := *r
	cp.Version++
	s.reviews[r.ID] = &cp
	r.Version = cp.Version
	return nil
}

// AppendAudit appends an entry to the audit log.
func (s *MemoryStore) AppendAudit(ctx context.Context, e *models.AuditEntry) error {
	s.lock()
	defer s.unlock()
	cp := *e
	s.audit = append(s.audit, &cp)
	return nil
}

// ListAudit returns the audit entries recorded for a subject, oldest first.
func (s *MemoryStore) ListAudit(ctx context.Context, subjectID string) ([]*models.AuditEntry, error) {
	s.lock()
	defer s.unlock()
	var out []*models.AuditEntry
	for _, e := range s.audit {
		if e.SubjectID == subjectID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Ping reports the store as reachable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
