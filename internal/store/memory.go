package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/lgops/internal/domain"
)

// Memory is the in-memory Store used by tests, the benchmark harness
// and local development. A single mutex stands in for row-level
// locking: coarser than Postgres, but the same serialization guarantees
// hold.
type Memory struct {
	mu           sync.Mutex
	lgs          map[uuid.UUID]domain.LGRecord
	instructions map[uuid.UUID]domain.LGInstruction
	approvals    map[uuid.UUID]domain.ApprovalRequest
	contacts     map[uuid.UUID]domain.InternalOwnerContact
	audit        []domain.AuditEntry
	beneSeq      map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		lgs:          make(map[uuid.UUID]domain.LGRecord),
		instructions: make(map[uuid.UUID]domain.LGInstruction),
		approvals:    make(map[uuid.UUID]domain.ApprovalRequest),
		contacts:     make(map[uuid.UUID]domain.InternalOwnerContact),
		beneSeq:      make(map[string]int),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateLG(_ context.Context, lg *domain.LGRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lg.ID == uuid.Nil {
		lg.ID = uuid.New()
	}
	m.lgs[lg.ID] = *lg
	return nil
}

func (m *Memory) GetLG(_ context.Context, id uuid.UUID) (*domain.LGRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lg, ok := m.lgs[id]
	if !ok || lg.Deleted {
		return nil, domain.ErrLGNotFound
	}
	out := lg
	return &out, nil
}

func (m *Memory) ListLGs(_ context.Context, customerID uuid.UUID) ([]domain.LGRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LGRecord
	for _, lg := range m.lgs {
		if lg.CustomerID == customerID && !lg.Deleted {
			out = append(out, lg)
		}
	}
	sortLGs(out)
	return out, nil
}

func (m *Memory) ListLGsByOwner(_ context.Context, ownerContactID uuid.UUID) ([]domain.LGRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LGRecord
	for _, lg := range m.lgs {
		if lg.OwnerContactID == ownerContactID && !lg.Deleted {
			out = append(out, lg)
		}
	}
	sortLGs(out)
	return out, nil
}

func (m *Memory) ListCustomers(_ context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, lg := range m.lgs {
		if !seen[lg.CustomerID] {
			seen[lg.CustomerID] = true
			out = append(out, lg.CustomerID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (m *Memory) NextBeneficiarySeq(_ context.Context, customerID uuid.UUID, beneficiaryCode string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := customerID.String() + "/" + beneficiaryCode
	m.beneSeq[key]++
	return m.beneSeq[key], nil
}

// memTx implements TxView over the locked maps.
type memTx struct {
	m  *Memory
	lg domain.LGRecord
}

func (t *memTx) LG() domain.LGRecord { return t.lg }

func (t *memTx) Instructions(_ context.Context) ([]domain.LGInstruction, error) {
	return t.m.instructionsOf(t.lg.ID), nil
}

func (t *memTx) NextSeq(_ context.Context, typ domain.InstructionType) (int, int, error) {
	global, typeSeq := 0, 0
	for _, in := range t.m.instructions {
		if in.LGID != t.lg.ID {
			continue
		}
		if in.GlobalSeq > global {
			global = in.GlobalSeq
		}
		if in.Type == typ && in.TypeSeq > typeSeq {
			typeSeq = in.TypeSeq
		}
	}
	return global + 1, typeSeq + 1, nil
}

func (m *Memory) ApplyAction(ctx context.Context, lgID uuid.UUID, fn ApplyFunc) (*ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lg, ok := m.lgs[lgID]
	if !ok || lg.Deleted {
		return nil, domain.ErrLGNotFound
	}

	res, err := fn(ctx, &memTx{m: m, lg: lg})
	if err != nil {
		return nil, err
	}

	// Validate before mutating so a failed apply leaves no partial
	// state, mirroring the transactional rollback of the SQL store.
	if res.Approval != nil {
		cur, ok := m.approvals[res.Approval.ID]
		if !ok {
			return nil, domain.ErrApprovalNotFound
		}
		if cur.Status != domain.ApprovalPending {
			return nil, ErrAlreadyResolved
		}
	}
	var cancelled *domain.LGInstruction
	if res.CancelledInstructionID != nil {
		in, ok := m.instructions[*res.CancelledInstructionID]
		if !ok {
			return nil, domain.ErrInstructionNotFound
		}
		cancelled = &in
	}

	m.lgs[lgID] = res.LG
	if res.Instruction != nil {
		if res.Instruction.ID == uuid.Nil {
			res.Instruction.ID = uuid.New()
		}
		m.instructions[res.Instruction.ID] = *res.Instruction
	}
	if cancelled != nil {
		cancelled.Cancelled = true
		cancelled.CancelReason = res.CancelReason
		m.instructions[cancelled.ID] = *cancelled
	}
	if res.Approval != nil {
		m.approvals[res.Approval.ID] = *res.Approval
	}
	return res, nil
}

func (m *Memory) instructionsOf(lgID uuid.UUID) []domain.LGInstruction {
	var out []domain.LGInstruction
	for _, in := range m.instructions {
		if in.LGID == lgID {
			out = append(out, in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GlobalSeq < out[j].GlobalSeq })
	return out
}

func (m *Memory) CreateApproval(_ context.Context, r *domain.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.approvals {
		if a.EntityType == r.EntityType && a.EntityID == r.EntityID && a.Status == domain.ApprovalPending {
			return ErrActionPending
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	m.approvals[r.ID] = *r
	return nil
}

func (m *Memory) GetApproval(_ context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, domain.ErrApprovalNotFound
	}
	out := a
	return &out, nil
}

func (m *Memory) PendingApproval(_ context.Context, entityType string, entityID uuid.UUID) (*domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.approvals {
		if a.EntityType == entityType && a.EntityID == entityID && a.Status == domain.ApprovalPending {
			out := a
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) ResolveApproval(_ context.Context, r *domain.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveApprovalLocked(r)
}

// resolveApprovalLocked enforces first-wins resolution: only a Pending
// request may move to a resolved status.
func (m *Memory) resolveApprovalLocked(r *domain.ApprovalRequest) error {
	cur, ok := m.approvals[r.ID]
	if !ok {
		return domain.ErrApprovalNotFound
	}
	if cur.Status != domain.ApprovalPending {
		return ErrAlreadyResolved
	}
	m.approvals[r.ID] = *r
	return nil
}

func (m *Memory) UpdateApproval(_ context.Context, r *domain.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.approvals[r.ID]
	if !ok {
		return domain.ErrApprovalNotFound
	}
	cur.Reason = r.Reason
	cur.FollowUp = r.FollowUp
	m.approvals[r.ID] = cur
	return nil
}

func (m *Memory) ListApprovals(_ context.Context, f ApprovalFilter) ([]domain.ApprovalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ApprovalRequest
	for _, a := range m.approvals {
		if f.CustomerID != nil && a.CustomerID != *f.CustomerID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetInstruction(_ context.Context, id uuid.UUID) (*domain.LGInstruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instructions[id]
	if !ok {
		return nil, domain.ErrInstructionNotFound
	}
	out := in
	return &out, nil
}

func (m *Memory) ListInstructions(_ context.Context, lgID uuid.UUID) ([]domain.LGInstruction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instructionsOf(lgID), nil
}

func (m *Memory) MarkPrinted(_ context.Context, id uuid.UUID) error {
	return m.mutateInstruction(id, func(in *domain.LGInstruction) { in.IsPrinted = true })
}

func (m *Memory) MarkDelivered(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.mutateInstruction(id, func(in *domain.LGInstruction) { in.DeliveredAt = &at })
}

func (m *Memory) MarkBankReply(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.mutateInstruction(id, func(in *domain.LGInstruction) { in.BankReplyAt = &at })
}

func (m *Memory) mutateInstruction(id uuid.UUID, mutate func(*domain.LGInstruction)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instructions[id]
	if !ok {
		return domain.ErrInstructionNotFound
	}
	mutate(&in)
	m.instructions[id] = in
	return nil
}

func (m *Memory) GetContact(_ context.Context, id uuid.UUID) (*domain.InternalOwnerContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, domain.ErrContactNotFound
	}
	out := c
	return &out, nil
}

func (m *Memory) GetOrCreateContact(_ context.Context, c *domain.InternalOwnerContact) (*domain.InternalOwnerContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contacts {
		if existing.CustomerID == c.CustomerID && existing.Email == c.Email {
			out := existing
			return &out, nil
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.contacts[c.ID] = *c
	out := *c
	return &out, nil
}

func (m *Memory) UpdateContact(_ context.Context, c *domain.InternalOwnerContact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[c.ID]; !ok {
		return domain.ErrContactNotFound
	}
	m.contacts[c.ID] = *c
	return nil
}

func (m *Memory) LogAction(_ context.Context, e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) SeenSince(_ context.Context, actionType string, entityID uuid.UUID, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.audit {
		if e.ActionType == actionType && e.EntityID == entityID && !e.At.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// AuditEntries returns a copy of the audit trail, oldest first.
func (m *Memory) AuditEntries() []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

func sortLGs(lgs []domain.LGRecord) {
	sort.Slice(lgs, func(i, j int) bool { return lgs[i].LGNumber < lgs[j].LGNumber })
}
