// Package renewal batch-extends guarantees nearing expiry. Auto-renewal
// LGs are extended inside their configured window; non-auto-renewal LGs
// get a forced extension once they cross the forced-renewal threshold.
// Both paths bypass the approval gate (scheduled system action) but run
// through the same lifecycle rules and instruction emitter, so the audit
// trail only differs in the actor field.
package renewal

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/lgops/internal/collab"
	"github.com/punchamoorthee/lgops/internal/domain"
	"github.com/punchamoorthee/lgops/internal/instruction"
	"github.com/punchamoorthee/lgops/internal/lifecycle"
	"github.com/punchamoorthee/lgops/internal/store"
)

// fallbackPeriodDays extends LGs whose recorded period is missing.
const fallbackPeriodDays = 365

type Engine struct {
	store   store.Store
	cfg     collab.ConfigProvider
	audit   collab.AuditLog
	emitter *instruction.Emitter
	clock   collab.Clock
	log     *logrus.Logger
}

func NewEngine(s store.Store, cfg collab.ConfigProvider, audit collab.AuditLog, emitter *instruction.Emitter, clock collab.Clock, log *logrus.Logger) *Engine {
	return &Engine{store: s, cfg: cfg, audit: audit, emitter: emitter, clock: clock, log: log}
}

// Result is the outcome of one batch: how many LGs were touched and the
// consolidated printable artifact, empty when nothing was eligible.
type Result struct {
	Count    int
	Artifact []byte
}

// RunAutoRenewal renews every eligible LG of one customer. A failure on
// one LG is logged and skipped; the batch continues.
func (e *Engine) RunAutoRenewal(ctx context.Context, customerID uuid.UUID) (*Result, error) {
	now := e.clock.Now()
	autoDays := collab.Days(ctx, e.cfg, customerID, collab.KeyAutoRenewDays, 30)
	forcedDays := collab.Days(ctx, e.cfg, customerID, collab.KeyForcedRenewDays, 15)

	lgs, err := e.store.ListLGs(ctx, customerID)
	if err != nil {
		return nil, err
	}

	var artifact bytes.Buffer
	res := &Result{}
	for _, lg := range lgs {
		if lg.Status != domain.StatusValid {
			continue
		}
		days := lg.DaysToExpiry(now)
		var forced bool
		switch {
		case lg.AutoRenewal && days <= autoDays:
			forced = false
		case !lg.AutoRenewal && days <= forcedDays:
			forced = true
		default:
			continue
		}

		in, err := e.extendOne(ctx, lg, forced, now)
		if err != nil {
			e.log.WithFields(logrus.Fields{
				"lg_number":   lg.LGNumber,
				"customer_id": customerID,
			}).WithError(err).Error("renewal skipped")
			e.auditRenewal(ctx, lg, forced, err)
			continue
		}
		res.Count++
		if len(in.Letter) > 0 {
			artifact.Write(in.Letter)
			artifact.WriteString("\n\f\n")
		}
		e.auditRenewal(ctx, lg, forced, nil)
	}
	res.Artifact = artifact.Bytes()
	return res, nil
}

func (e *Engine) extendOne(ctx context.Context, lg domain.LGRecord, forced bool, now time.Time) (*domain.LGInstruction, error) {
	period := lg.PeriodDays
	if period <= 0 {
		period = fallbackPeriodDays
	}
	payload := domain.ExtendPayload{
		NewExpiryDate: lg.ExpiryDate.AddDate(0, 0, period),
		Forced:        forced,
	}

	res, err := e.store.ApplyAction(ctx, lg.ID, func(ctx context.Context, tx store.TxView) (*store.ApplyResult, error) {
		tr, err := lifecycle.Apply(tx.LG(), payload, nil, now, lifecycle.Rules{})
		if err != nil {
			return nil, err
		}
		in, err := e.emitter.Emit(ctx, tx, tr, domain.SystemActor, nil, now)
		if err != nil {
			return nil, err
		}
		return &store.ApplyResult{LG: tr.Updated, Instruction: in}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.Instruction, nil
}

// GenerateBankReminders emits REM instructions for the given
// delivered-but-unanswered instructions and returns a combined printable
// artifact. Human-triggered; the reminders are printed and couriered,
// not auto-sent.
func (e *Engine) GenerateBankReminders(ctx context.Context, customerID uuid.UUID, instructionIDs []uuid.UUID, actorID string) (*Result, error) {
	now := e.clock.Now()
	var artifact bytes.Buffer
	res := &Result{}

	for _, id := range instructionIDs {
		original, err := e.store.GetInstruction(ctx, id)
		if err != nil {
			return nil, err
		}
		if original.CustomerID != customerID {
			return nil, domain.Preconditionf("instruction %s does not belong to this customer", original.Serial)
		}
		if original.Cancelled || original.DeliveredAt == nil || original.BankReplyAt != nil {
			return nil, domain.Preconditionf("instruction %s is not awaiting a bank reply", original.Serial)
		}

		applied, err := e.store.ApplyAction(ctx, original.LGID, func(ctx context.Context, tx store.TxView) (*store.ApplyResult, error) {
			lg := tx.LG()
			all, err := tx.Instructions(ctx)
			if err != nil {
				return nil, err
			}
			in, err := e.emitter.EmitReminder(ctx, tx, lg, *original, reminderCount(all, original.Serial)+1, actorID, now)
			if err != nil {
				return nil, err
			}
			return &store.ApplyResult{LG: lg, Instruction: in}, nil
		})
		if err != nil {
			return nil, err
		}

		res.Count++
		if len(applied.Instruction.Letter) > 0 {
			artifact.Write(applied.Instruction.Letter)
			artifact.WriteString("\n\f\n")
		}
	}
	res.Artifact = artifact.Bytes()
	return res, nil
}

func reminderCount(all []domain.LGInstruction, originalSerial string) int {
	n := 0
	for _, in := range all {
		if in.Type == domain.InstrReminder && in.Details["original_serial"] == originalSerial {
			n++
		}
	}
	return n
}

func (e *Engine) auditRenewal(ctx context.Context, lg domain.LGRecord, forced bool, cause error) {
	action := "AUTO_RENEW"
	if forced {
		action = "FORCED_RENEW"
	}
	details := map[string]string{"outcome": "ok", "lg_number": lg.LGNumber}
	if cause != nil {
		details["outcome"] = "failed"
		details["error"] = cause.Error()
	}
	entry := domain.AuditEntry{
		ActorID:    domain.SystemActor,
		ActionType: action,
		EntityType: domain.EntityLG,
		EntityID:   lg.ID,
		CustomerID: lg.CustomerID,
		Details:    details,
		At:         e.clock.Now(),
	}
	if err := e.audit.LogAction(ctx, entry); err != nil {
		e.log.WithError(err).Error("audit write failed")
	}
}
