// Package store persists LGs, instructions, approval requests, owner
// contacts and the audit trail. Two implementations exist: Postgres
// (production) and an in-memory store (tests, local development). Both
// serialize mutations per LG record and enforce the single-pending
// approval invariant atomically.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/lgops/internal/domain"
)

// ErrActionPending is returned by CreateApproval when the target entity
// already has a Pending request. Postgres surfaces it from the partial
// unique index, the memory store from its own check under lock.
var ErrActionPending = errors.New("a pending approval already exists for this entity")

// ErrAlreadyResolved is returned by ResolveApproval (and by ApplyAction
// when it carries a resolving request) if the request is no longer
// Pending: another actor won the resolution race. The whole transaction
// rolls back, so a lost race never executes the underlying action.
var ErrAlreadyResolved = errors.New("approval request already resolved")

// TxView is the view of one LG inside an ApplyAction transaction. The
// backing row is locked for the duration of the callback.
type TxView interface {
	// LG returns the freshly loaded, locked record.
	LG() domain.LGRecord
	// Instructions lists every instruction of the LG in issue order,
	// cancelled ones included.
	Instructions(ctx context.Context) ([]domain.LGInstruction, error)
	// NextSeq allocates the next global and per-type sequence numbers
	// for an instruction of type t. Valid only until the transaction
	// ends; the row lock makes read-then-increment safe.
	NextSeq(ctx context.Context, t domain.InstructionType) (global, typeSeq int, err error)
}

// ApplyResult is what an ApplyFunc asks the store to persist
// atomically: the updated LG, optionally a new instruction, optionally a
// cancelled instruction, optionally a resolved approval request. A
// carried Approval is persisted only if the stored request is still
// Pending; otherwise the whole transaction fails with
// ErrAlreadyResolved.
type ApplyResult struct {
	LG                     domain.LGRecord
	Instruction            *domain.LGInstruction
	CancelledInstructionID *uuid.UUID
	CancelReason           string
	Approval               *domain.ApprovalRequest
}

// ApplyFunc computes a mutation against the locked LG. Returning an
// error rolls the transaction back and surfaces the error unchanged.
type ApplyFunc func(ctx context.Context, tx TxView) (*ApplyResult, error)

// ApprovalFilter narrows ListApprovals.
type ApprovalFilter struct {
	CustomerID *uuid.UUID
	Status     *domain.ApprovalStatus
}

// Store is the persistence contract consumed by the gate, the scheduler
// and the renewal engine. It embeds the audit log: audit rows live next
// to the entities so the scheduler's logged-action dedup checks read the
// same state the writers produced.
type Store interface {
	CreateLG(ctx context.Context, lg *domain.LGRecord) error
	GetLG(ctx context.Context, id uuid.UUID) (*domain.LGRecord, error)
	ListLGs(ctx context.Context, customerID uuid.UUID) ([]domain.LGRecord, error)
	ListLGsByOwner(ctx context.Context, ownerContactID uuid.UUID) ([]domain.LGRecord, error)
	ListCustomers(ctx context.Context) ([]uuid.UUID, error)
	// NextBeneficiarySeq allocates the next per-beneficiary sequence
	// number used in serials, monotonic per (customer, beneficiary).
	NextBeneficiarySeq(ctx context.Context, customerID uuid.UUID, beneficiaryCode string) (int, error)
	// ApplyAction runs fn with the LG row locked and persists its
	// result in the same transaction.
	ApplyAction(ctx context.Context, lgID uuid.UUID, fn ApplyFunc) (*ApplyResult, error)

	CreateApproval(ctx context.Context, r *domain.ApprovalRequest) error
	GetApproval(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error)
	PendingApproval(ctx context.Context, entityType string, entityID uuid.UUID) (*domain.ApprovalRequest, error)
	// ResolveApproval moves a request out of Pending. It fails with
	// ErrAlreadyResolved unless the stored request is still Pending, so
	// concurrent checkers cannot both resolve the same request.
	ResolveApproval(ctx context.Context, r *domain.ApprovalRequest) error
	// UpdateApproval writes resolution-independent metadata (follow-up
	// state) on an already-resolved request.
	UpdateApproval(ctx context.Context, r *domain.ApprovalRequest) error
	ListApprovals(ctx context.Context, f ApprovalFilter) ([]domain.ApprovalRequest, error)

	GetInstruction(ctx context.Context, id uuid.UUID) (*domain.LGInstruction, error)
	ListInstructions(ctx context.Context, lgID uuid.UUID) ([]domain.LGInstruction, error)
	MarkPrinted(ctx context.Context, id uuid.UUID) error
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkBankReply(ctx context.Context, id uuid.UUID, at time.Time) error

	GetContact(ctx context.Context, id uuid.UUID) (*domain.InternalOwnerContact, error)
	// GetOrCreateContact matches by (customer, email) and creates the
	// contact on first reference.
	GetOrCreateContact(ctx context.Context, c *domain.InternalOwnerContact) (*domain.InternalOwnerContact, error)
	UpdateContact(ctx context.Context, c *domain.InternalOwnerContact) error

	LogAction(ctx context.Context, e domain.AuditEntry) error
	SeenSince(ctx context.Context, actionType string, entityID uuid.UUID, since time.Time) (bool, error)
}
