// Package approval implements the maker-checker gate. Every mutating
// action enters through Submit, which either executes it directly or
// parks it as a Pending approval request for a second pair of eyes.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/lgops/internal/collab"
	"github.com/punchamoorthee/lgops/internal/domain"
	"github.com/punchamoorthee/lgops/internal/instruction"
	"github.com/punchamoorthee/lgops/internal/lifecycle"
	"github.com/punchamoorthee/lgops/internal/store"
)

var actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lgops_actions_total",
	Help: "Gate action attempts by audit action type and outcome.",
}, []string{"action", "outcome"})

type Gate struct {
	store   store.Store
	cfg     collab.ConfigProvider
	audit   collab.AuditLog
	notify  collab.NotificationSender
	emitter *instruction.Emitter
	clock   collab.Clock
	log     *logrus.Logger
}

func NewGate(s store.Store, cfg collab.ConfigProvider, audit collab.AuditLog, notify collab.NotificationSender, emitter *instruction.Emitter, clock collab.Clock, log *logrus.Logger) *Gate {
	return &Gate{store: s, cfg: cfg, audit: audit, notify: notify, emitter: emitter, clock: clock, log: log}
}

// SubmitInput is one maker action against one LG (or, for an
// all-by-owner reassignment, against an owner contact).
type SubmitInput struct {
	LGID       uuid.UUID
	Payload    domain.ActionPayload
	MakerID    string
	DocumentID *uuid.UUID
}

// SubmitResult is either an executed action (LG + instruction) or a
// Pending approval request, never both.
type SubmitResult struct {
	LG          *domain.LGRecord
	Instruction *domain.LGInstruction
	Request     *domain.ApprovalRequest
}

// Executed reports whether the action ran immediately.
func (r *SubmitResult) Executed() bool { return r.Request == nil }

// Submit runs the gate algorithm: mandatory-document check first,
// single-pending check second, then either a Pending request (dual
// control) or direct execution through the lifecycle machine.
func (g *Gate) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	target, err := g.resolveTarget(ctx, in)
	if err != nil {
		return nil, err
	}

	action := in.Payload.ActionType()
	fail := func(cause error) (*SubmitResult, error) {
		g.auditOutcome(ctx, in.MakerID, "SUBMIT_"+string(action), target.entityType, target.entityID, target.customerID, cause)
		return nil, cause
	}

	// 1. Mandatory document policy, before any other side effect.
	if collab.Flag(ctx, g.cfg, target.customerID, collab.DocumentKey(action)) && in.DocumentID == nil {
		return fail(domain.Validationf("action %s requires a supporting document", action))
	}

	// 2. Friendly single-pending check. The store's unique constraint
	// is the authoritative one.
	pending, err := g.store.PendingApproval(ctx, target.entityType, target.entityID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return fail(domain.Preconditionf("action already pending under request %s", pending.ID))
	}

	// 3. Dual control: park a Pending request, no mutation yet.
	if collab.Flag(ctx, g.cfg, target.customerID, collab.KeyDualControl) {
		req, err := g.createRequest(ctx, in, target)
		if err != nil {
			if errors.Is(err, store.ErrActionPending) {
				return fail(domain.Preconditionf("action already pending for this entity"))
			}
			return nil, err
		}
		g.auditOutcome(ctx, in.MakerID, "SUBMIT_"+string(action), target.entityType, target.entityID, target.customerID, nil)
		g.notify.Send(ctx, nil, nil,
			"Approval requested: "+string(action),
			"A "+string(action)+" action awaits a checker.",
			map[string]string{"request_id": req.ID.String()})
		return &SubmitResult{Request: req}, nil
	}

	// 4. Direct execution.
	res, err := g.execute(ctx, in.LGID, in.Payload, in.MakerID, nil)
	if err != nil {
		return fail(err)
	}
	g.auditOutcome(ctx, in.MakerID, string(action), target.entityType, target.entityID, target.customerID, nil)
	return res, nil
}

type target struct {
	entityType string
	entityID   uuid.UUID
	customerID uuid.UUID
	snapshot   json.RawMessage
}

// resolveTarget loads the entity the request locks. An all-by-owner
// reassignment targets the contact; everything else targets the LG.
func (g *Gate) resolveTarget(ctx context.Context, in SubmitInput) (*target, error) {
	var contactID uuid.UUID
	switch p := in.Payload.(type) {
	case domain.ChangeOwnerPayload:
		if p.Scope == domain.ScopeAllByOwner {
			contactID = p.OldOwnerID
		}
	case domain.UpdateContactPayload:
		contactID = p.ContactID
	}
	if contactID != uuid.Nil {
		contact, err := g.store.GetContact(ctx, contactID)
		if err != nil {
			return nil, err
		}
		snap, err := json.Marshal(contact)
		if err != nil {
			return nil, fmt.Errorf("snapshot contact: %w", err)
		}
		return &target{entityType: domain.EntityContact, entityID: contact.ID, customerID: contact.CustomerID, snapshot: snap}, nil
	}

	lg, err := g.store.GetLG(ctx, in.LGID)
	if err != nil {
		return nil, err
	}
	snap, err := json.Marshal(lg)
	if err != nil {
		return nil, fmt.Errorf("snapshot lg: %w", err)
	}
	return &target{entityType: domain.EntityLG, entityID: lg.ID, customerID: lg.CustomerID, snapshot: snap}, nil
}

func (g *Gate) createRequest(ctx context.Context, in SubmitInput, t *target) (*domain.ApprovalRequest, error) {
	payload, err := domain.EncodeAction(in.Payload)
	if err != nil {
		return nil, err
	}
	req := &domain.ApprovalRequest{
		ID:         uuid.New(),
		CustomerID: t.customerID,
		EntityType: t.entityType,
		EntityID:   t.entityID,
		Action:     in.Payload.ActionType(),
		Payload:    payload,
		Snapshot:   t.snapshot,
		DocumentID: in.DocumentID,
		Status:     domain.ApprovalPending,
		MakerID:    in.MakerID,
		FollowUp:   domain.FollowUpNone,
		CreatedAt:  g.clock.Now(),
	}
	if err := g.store.CreateApproval(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Approve executes the stored action against the current entity state,
// inside the same transaction that resolves the request. Drift since
// submission surfaces as a ConcurrencyConflict; the request is then
// marked rejected-on-execution rather than silently swallowed.
func (g *Gate) Approve(ctx context.Context, requestID uuid.UUID, checkerID string) (*SubmitResult, error) {
	req, err := g.store.GetApproval(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.ApprovalPending {
		return nil, domain.Preconditionf("request is %s, not pending", req.Status)
	}
	if checkerID == req.MakerID {
		return nil, domain.Preconditionf("checker must differ from maker")
	}

	payload, err := req.DecodedPayload()
	if err != nil {
		return nil, err
	}

	now := g.clock.Now()
	req.CheckerID = &checkerID
	req.ResolvedAt = &now

	res, err := g.executeApproved(ctx, req, payload, checkerID)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyResolved) {
			return nil, domain.Preconditionf("request was resolved by another actor")
		}
		if domain.IsValidation(err) || domain.IsPrecondition(err) {
			req.Status = domain.ApprovalRejected
			req.Reason = "rejected on execution: " + err.Error()
			if uerr := g.store.ResolveApproval(ctx, req); uerr != nil {
				if errors.Is(uerr, store.ErrAlreadyResolved) {
					return nil, domain.Preconditionf("request was resolved by another actor")
				}
				return nil, uerr
			}
			g.auditOutcome(ctx, checkerID, "APPROVE_"+string(req.Action), req.EntityType, req.EntityID, req.CustomerID, err)
			return nil, &domain.ConcurrencyConflict{
				Detail: fmt.Sprintf("entity changed since submission: %v", err),
				Cause:  err,
			}
		}
		return nil, err
	}

	g.auditOutcome(ctx, checkerID, "APPROVE_"+string(req.Action), req.EntityType, req.EntityID, req.CustomerID, nil)
	g.notify.Send(ctx, nil, nil,
		"Approved: "+string(req.Action),
		"Your "+string(req.Action)+" request was approved.",
		map[string]string{"request_id": req.ID.String(), "maker": req.MakerID})
	res.Request = nil
	return res, nil
}

func (g *Gate) executeApproved(ctx context.Context, req *domain.ApprovalRequest, payload domain.ActionPayload, checkerID string) (*SubmitResult, error) {
	switch p := payload.(type) {
	case domain.ChangeOwnerPayload:
		if p.Scope == domain.ScopeAllByOwner {
			if err := g.ownerSweep(ctx, p, checkerID); err != nil {
				return nil, err
			}
			return &SubmitResult{}, g.markApproved(ctx, req)
		}
	case domain.UpdateContactPayload:
		if err := g.applyContactUpdate(ctx, p); err != nil {
			return nil, err
		}
		return &SubmitResult{}, g.markApproved(ctx, req)
	}
	return g.execute(ctx, req.EntityID, payload, checkerID, req)
}

func (g *Gate) markApproved(ctx context.Context, req *domain.ApprovalRequest) error {
	req.Status = domain.ApprovalApproved
	return g.store.ResolveApproval(ctx, req)
}

func (g *Gate) applyContactUpdate(ctx context.Context, p domain.UpdateContactPayload) error {
	c, err := g.store.GetContact(ctx, p.ContactID)
	if err != nil {
		return err
	}
	if p.Email != nil {
		c.Email = *p.Email
	}
	if p.Phone != nil {
		c.Phone = *p.Phone
	}
	if p.ManagerEmail != nil {
		c.ManagerEmail = *p.ManagerEmail
	}
	c.UpdatedAt = g.clock.Now()
	return g.store.UpdateContact(ctx, c)
}

// Reject resolves a request without touching the entity.
func (g *Gate) Reject(ctx context.Context, requestID uuid.UUID, checkerID, reason string) error {
	return g.resolve(ctx, requestID, domain.ApprovalRejected, checkerID, reason, func(req *domain.ApprovalRequest) error {
		if checkerID == req.MakerID {
			return domain.Preconditionf("checker must differ from maker")
		}
		req.CheckerID = &checkerID
		return nil
	})
}

// Withdraw lets the maker pull back their own pending request.
func (g *Gate) Withdraw(ctx context.Context, requestID uuid.UUID, makerID string) error {
	return g.resolve(ctx, requestID, domain.ApprovalWithdrawn, makerID, "withdrawn by maker", func(req *domain.ApprovalRequest) error {
		if makerID != req.MakerID {
			return domain.Preconditionf("only the maker may withdraw a request")
		}
		return nil
	})
}

func (g *Gate) resolve(ctx context.Context, requestID uuid.UUID, status domain.ApprovalStatus, actorID, reason string, check func(*domain.ApprovalRequest) error) error {
	req, err := g.store.GetApproval(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status != domain.ApprovalPending {
		return domain.Preconditionf("request is %s, not pending", req.Status)
	}
	if err := check(req); err != nil {
		return err
	}

	now := g.clock.Now()
	req.Status = status
	req.Reason = reason
	req.ResolvedAt = &now
	if err := g.store.ResolveApproval(ctx, req); err != nil {
		if errors.Is(err, store.ErrAlreadyResolved) {
			return domain.Preconditionf("request was resolved by another actor")
		}
		return err
	}
	g.auditOutcome(ctx, actorID, string(status)+"_"+string(req.Action), req.EntityType, req.EntityID, req.CustomerID, nil)
	return nil
}

// execute runs one lifecycle action under the LG row lock and persists
// the updated record, its instruction, and the resolved request in one
// transaction.
func (g *Gate) execute(ctx context.Context, lgID uuid.UUID, payload domain.ActionPayload, actorID string, req *domain.ApprovalRequest) (*SubmitResult, error) {
	switch p := payload.(type) {
	case domain.ChangeOwnerPayload:
		if p.Scope == domain.ScopeAllByOwner {
			if err := g.ownerSweep(ctx, p, actorID); err != nil {
				return nil, err
			}
			return &SubmitResult{}, nil
		}
	case domain.UpdateContactPayload:
		if err := g.applyContactUpdate(ctx, p); err != nil {
			return nil, err
		}
		return &SubmitResult{}, nil
	}

	now := g.clock.Now()
	res, err := g.store.ApplyAction(ctx, lgID, func(ctx context.Context, tx store.TxView) (*store.ApplyResult, error) {
		lg := tx.LG()
		rules := g.rules(ctx, lg.CustomerID)

		instructions, err := tx.Instructions(ctx)
		if err != nil {
			return nil, err
		}
		last := latestNonCancelled(instructions)

		tr, err := lifecycle.Apply(lg, payload, last, now, rules)
		if err != nil {
			return nil, err
		}

		out := &store.ApplyResult{LG: tr.Updated}
		if tr.HasInstruction() {
			var approvalID *uuid.UUID
			if req != nil {
				approvalID = &req.ID
			}
			in, err := g.emitter.Emit(ctx, tx, tr, actorID, approvalID, now)
			if err != nil {
				return nil, err
			}
			out.Instruction = in
		}
		if tr.CancelledInstructionID != nil {
			out.CancelledInstructionID = tr.CancelledInstructionID
			if p, ok := payload.(domain.CancelInstructionPayload); ok {
				out.CancelReason = p.Reason
			}
		}
		if req != nil {
			req.Status = domain.ApprovalApproved
			if out.Instruction != nil {
				id := out.Instruction.ID
				req.InstructionID = &id
			}
			out.Approval = req
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	lg := res.LG
	return &SubmitResult{LG: &lg, Instruction: res.Instruction}, nil
}

// ownerSweep reassigns every LG held by the old owner, one lock at a
// time. A failure on one LG aborts the sweep; already reassigned LGs
// keep their new owner (reassignment is idempotent per record).
func (g *Gate) ownerSweep(ctx context.Context, p domain.ChangeOwnerPayload, actorID string) error {
	lgs, err := g.store.ListLGsByOwner(ctx, p.OldOwnerID)
	if err != nil {
		return err
	}
	single := domain.ChangeOwnerPayload{Scope: domain.ScopeSingleLG, OldOwnerID: p.OldOwnerID, NewOwnerID: p.NewOwnerID}
	for _, lg := range lgs {
		if _, err := g.execute(ctx, lg.ID, single, actorID, nil); err != nil {
			return fmt.Errorf("reassign %s: %w", lg.LGNumber, err)
		}
	}
	return nil
}

func (g *Gate) rules(ctx context.Context, customerID uuid.UUID) lifecycle.Rules {
	return lifecycle.Rules{
		AmendGraceDays:   collab.Days(ctx, g.cfg, customerID, collab.KeyAmendGraceDays, 35),
		CancelWindowDays: collab.Days(ctx, g.cfg, customerID, collab.KeyCancelWindowDays, 3),
	}
}

// auditOutcome writes the success or failure entry for an attempt. An
// audit outage must not block the action, so errors are only logged.
func (g *Gate) auditOutcome(ctx context.Context, actorID, action, entityType string, entityID, customerID uuid.UUID, cause error) {
	details := map[string]string{"outcome": "ok"}
	if cause != nil {
		details["outcome"] = "failed"
		details["error"] = cause.Error()
	}
	actionsTotal.WithLabelValues(action, details["outcome"]).Inc()
	entry := domain.AuditEntry{
		ActorID:    actorID,
		ActionType: action,
		EntityType: entityType,
		EntityID:   entityID,
		CustomerID: customerID,
		Details:    details,
		At:         g.clock.Now(),
	}
	if err := g.audit.LogAction(ctx, entry); err != nil {
		g.log.WithError(err).WithField("action", action).Error("audit write failed")
	}
}

func latestNonCancelled(instructions []domain.LGInstruction) *domain.LGInstruction {
	for i := len(instructions) - 1; i >= 0; i-- {
		if !instructions[i].Cancelled {
			out := instructions[i]
			return &out
		}
	}
	return nil
}
