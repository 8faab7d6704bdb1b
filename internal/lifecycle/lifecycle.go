// Package lifecycle owns the per-action precondition checks and the
// resulting status, operational-status and amount transitions of an LG.
// Apply is pure: it never touches storage, so the same rules run under a
// gate submission, an approval execution, or a scheduler pass.
package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/lgops/internal/domain"
)

const dateLayout = "2006-01-02"

// Rules are the configurable day windows a transition depends on.
type Rules struct {
	AmendGraceDays   int
	CancelWindowDays int
}

// Transition is the outcome of one applied action: the updated record,
// the instruction type documenting it (empty for owner changes, which
// leave no bank-facing paper), the letter placeholder values, and the
// reversal delta captured from the pre-action state.
type Transition struct {
	Updated                domain.LGRecord
	Type                   domain.InstructionType
	Details                map[string]string
	Delta                  domain.ReversalDelta
	CancelledInstructionID *uuid.UUID
}

// HasInstruction reports whether this transition emits an instruction.
func (t *Transition) HasInstruction() bool { return t.Type != "" }

// Apply runs one action against a copy of the LG. lastInstr is the most
// recent non-cancelled instruction for the LG (nil if none); it is only
// consulted for cancellation. Callers surface failures as-is, nothing is
// retried here.
func Apply(lg domain.LGRecord, p domain.ActionPayload, lastInstr *domain.LGInstruction, now time.Time, rules Rules) (*Transition, error) {
	tr := &Transition{
		Delta: domain.CaptureDelta(&lg),
		Details: map[string]string{
			"lg_number":        lg.LGNumber,
			"beneficiary_name": lg.BeneficiaryName,
			"issuing_bank":     lg.IssuingBank,
			"currency":         lg.Currency,
			"amount_formatted": lg.Amount.StringFixed(2),
		},
	}

	switch v := p.(type) {
	case domain.ExtendPayload:
		if err := requireValid(&lg); err != nil {
			return nil, err
		}
		if !v.NewExpiryDate.After(lg.ExpiryDate) {
			return nil, domain.Preconditionf("new expiry %s must be after current expiry %s",
				v.NewExpiryDate.Format(dateLayout), lg.ExpiryDate.Format(dateLayout))
		}
		tr.Details["old_expiry_date"] = lg.ExpiryDate.Format(dateLayout)
		tr.Details["new_expiry_date"] = v.NewExpiryDate.Format(dateLayout)
		if v.Forced {
			tr.Details["forced_renewal"] = "true"
		}
		lg.ExpiryDate = v.NewExpiryDate
		lg.ReminderTier = domain.ReminderNone
		tr.Type = domain.InstrExtend

	case domain.ReleasePayload:
		if err := requireValid(&lg); err != nil {
			return nil, err
		}
		tr.Details["reason"] = v.Reason
		lg.Status = domain.StatusReleased
		tr.Type = domain.InstrRelease

	case domain.LiquidatePayload:
		if err := requireValid(&lg); err != nil {
			return nil, err
		}
		switch v.Kind {
		case domain.LiquidationFull:
			if v.NewAmount != nil {
				return nil, domain.Validationf("full liquidation must not carry a new amount")
			}
			tr.Details["liquidation_kind"] = "full"
			tr.Details["liquidated_amount_formatted"] = lg.Amount.StringFixed(2)
			lg.Status = domain.StatusLiquidated
			// The guarantee is fully drawn; the delta keeps the prior
			// amount for cancellation.
			lg.Amount = decimal.Zero
		case domain.LiquidationPartial:
			if v.NewAmount == nil {
				return nil, domain.Validationf("partial liquidation requires a new amount")
			}
			if !v.NewAmount.IsPositive() || v.NewAmount.GreaterThanOrEqual(lg.Amount) {
				return nil, domain.Validationf("partial liquidation amount must satisfy 0 < amount < %s", lg.Amount.StringFixed(2))
			}
			tr.Details["liquidation_kind"] = "partial"
			tr.Details["new_amount_formatted"] = v.NewAmount.StringFixed(2)
			lg.Amount = *v.NewAmount
		default:
			return nil, domain.Validationf("unknown liquidation kind %q", v.Kind)
		}
		tr.Type = domain.InstrLiquidate

	case domain.DecreasePayload:
		if err := requireValid(&lg); err != nil {
			return nil, err
		}
		if !v.Amount.IsPositive() || v.Amount.GreaterThanOrEqual(lg.Amount) {
			return nil, domain.Validationf("decrease amount must satisfy 0 < amount < %s", lg.Amount.StringFixed(2))
		}
		lg.Amount = lg.Amount.Sub(v.Amount)
		tr.Details["decrease_formatted"] = v.Amount.StringFixed(2)
		tr.Details["new_amount_formatted"] = lg.Amount.StringFixed(2)
		tr.Type = domain.InstrDecrease

	case domain.ActivatePayload:
		if !lg.IsAdvancePayment() {
			return nil, domain.Preconditionf("activation applies to advance payment guarantees only")
		}
		if err := requireValid(&lg); err != nil {
			return nil, err
		}
		if lg.OperationalStatus != domain.OpNonOperative {
			return nil, domain.Preconditionf("guarantee is already operative")
		}
		if !v.PaymentAmount.IsPositive() {
			return nil, domain.Validationf("payment amount must be positive")
		}
		lg.OperationalStatus = domain.OpOperative
		tr.Details["payment_amount_formatted"] = v.PaymentAmount.StringFixed(2)
		tr.Details["payment_date"] = v.PaymentDate.Format(dateLayout)
		tr.Details["payment_reference"] = v.PaymentReference
		tr.Type = domain.InstrActivate

	case domain.AmendPayload:
		if err := amendable(&lg, now, rules); err != nil {
			return nil, err
		}
		if err := applyAmend(&lg, v, tr); err != nil {
			return nil, err
		}
		tr.Type = domain.InstrAmend

	case domain.ChangeOwnerPayload:
		if lg.OwnerContactID != v.OldOwnerID {
			return nil, domain.Preconditionf("guarantee is not owned by the given contact")
		}
		lg.OwnerContactID = v.NewOwnerID
		// Owner reassignment is internal bookkeeping: no instruction,
		// nothing is sent to the bank.

	case domain.CancelInstructionPayload:
		if err := cancellable(&lg, v, lastInstr, now, rules); err != nil {
			return nil, err
		}
		lastInstr.Delta.Restore(&lg)
		id := v.InstructionID
		tr.CancelledInstructionID = &id
		tr.Details["cancelled_serial"] = lastInstr.Serial
		tr.Details["reason"] = v.Reason
		tr.Type = domain.InstrCancel

	default:
		return nil, domain.Validationf("unsupported action payload %T", p)
	}

	lg.UpdatedAt = now
	if lg.Status != domain.StatusLiquidated && !lg.Amount.IsPositive() {
		return nil, domain.Validationf("amount must stay positive outside full liquidation")
	}
	tr.Updated = lg
	return tr, nil
}

func requireValid(lg *domain.LGRecord) error {
	if lg.Status != domain.StatusValid {
		return domain.Preconditionf("status must be %s, is %s", domain.StatusValid, lg.Status)
	}
	return nil
}

// amendable allows amendment of a Valid LG, or an Expired one still
// inside the grace window.
func amendable(lg *domain.LGRecord, now time.Time, rules Rules) error {
	if lg.Status == domain.StatusValid {
		return nil
	}
	if lg.Status == domain.StatusExpired {
		grace := lg.ExpiryDate.AddDate(0, 0, rules.AmendGraceDays)
		if now.Before(grace) {
			return nil
		}
		return domain.Preconditionf("amendment grace window of %d days has passed", rules.AmendGraceDays)
	}
	return domain.Preconditionf("status must be %s or recently %s, is %s",
		domain.StatusValid, domain.StatusExpired, lg.Status)
}

func applyAmend(lg *domain.LGRecord, v domain.AmendPayload, tr *Transition) error {
	changed := false
	if v.Amount != nil {
		if !v.Amount.IsPositive() {
			return domain.Validationf("amended amount must be positive")
		}
		tr.Details["new_amount_formatted"] = v.Amount.StringFixed(2)
		lg.Amount = *v.Amount
		changed = true
	}
	if v.Currency != nil {
		lg.Currency = *v.Currency
		tr.Details["new_currency"] = *v.Currency
		changed = true
	}
	if v.ExpiryDate != nil {
		tr.Details["old_expiry_date"] = lg.ExpiryDate.Format(dateLayout)
		tr.Details["new_expiry_date"] = v.ExpiryDate.Format(dateLayout)
		lg.ExpiryDate = *v.ExpiryDate
		changed = true
	}
	if v.Conditions != nil {
		lg.Conditions = *v.Conditions
		changed = true
	}
	if !changed {
		return domain.Validationf("amendment must change at least one field")
	}
	return nil
}

func cancellable(lg *domain.LGRecord, v domain.CancelInstructionPayload, lastInstr *domain.LGInstruction, now time.Time, rules Rules) error {
	if lastInstr == nil {
		return domain.Preconditionf("guarantee has no cancellable instruction")
	}
	if lastInstr.ID != v.InstructionID {
		return domain.Preconditionf("only the latest non-cancelled instruction %s may be cancelled", lastInstr.Serial)
	}
	deadline := lastInstr.IssuedAt.AddDate(0, 0, rules.CancelWindowDays)
	if now.After(deadline) {
		return domain.Preconditionf("cancellation window of %d days has passed", rules.CancelWindowDays)
	}
	return nil
}

// Expire marks a Valid LG whose expiry date has passed. This is a system
// fact recorded by the scheduler, not a user action, so it lives outside
// Apply and emits no instruction.
func Expire(lg domain.LGRecord, now time.Time) (domain.LGRecord, bool) {
	if lg.Status != domain.StatusValid || !now.After(lg.ExpiryDate) {
		return lg, false
	}
	lg.Status = domain.StatusExpired
	lg.UpdatedAt = now
	return lg, true
}
