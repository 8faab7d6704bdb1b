package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActionType identifies one of the closed set of mutating actions.
type ActionType string

const (
	ActionExtend            ActionType = "EXTEND"
	ActionRelease           ActionType = "RELEASE"
	ActionLiquidate         ActionType = "LIQUIDATE"
	ActionDecrease          ActionType = "DECREASE"
	ActionActivate          ActionType = "ACTIVATE"
	ActionAmend             ActionType = "AMEND"
	ActionChangeOwner       ActionType = "CHANGE_OWNER"
	ActionCancelInstruction ActionType = "CANCEL_INSTRUCTION"
	ActionUpdateContact     ActionType = "UPDATE_CONTACT"
)

// ActionPayload is the tagged union of action-specific parameters.
// One variant per action type keeps lifecycle dispatch exhaustive.
type ActionPayload interface {
	ActionType() ActionType
}

type ExtendPayload struct {
	NewExpiryDate time.Time `json:"new_expiry_date"`
	// Forced marks a scheduler-driven forced renewal of a
	// non-auto-renewal LG.
	Forced bool `json:"forced,omitempty"`
}

func (ExtendPayload) ActionType() ActionType { return ActionExtend }

type ReleasePayload struct {
	Reason string `json:"reason"`
}

func (ReleasePayload) ActionType() ActionType { return ActionRelease }

// LiquidationKind selects full or partial liquidation.
type LiquidationKind string

const (
	LiquidationFull    LiquidationKind = "FULL"
	LiquidationPartial LiquidationKind = "PARTIAL"
)

type LiquidatePayload struct {
	Kind      LiquidationKind  `json:"kind"`
	NewAmount *decimal.Decimal `json:"new_amount,omitempty"`
}

func (LiquidatePayload) ActionType() ActionType { return ActionLiquidate }

type DecreasePayload struct {
	Amount decimal.Decimal `json:"amount"`
}

func (DecreasePayload) ActionType() ActionType { return ActionDecrease }

type ActivatePayload struct {
	PaymentAmount    decimal.Decimal `json:"payment_amount"`
	PaymentDate      time.Time       `json:"payment_date"`
	PaymentReference string          `json:"payment_reference"`
}

func (ActivatePayload) ActionType() ActionType { return ActionActivate }

// AmendPayload carries an arbitrary subset of mutable fields; nil fields
// are left untouched.
type AmendPayload struct {
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Currency   *string          `json:"currency,omitempty"`
	ExpiryDate *time.Time       `json:"expiry_date,omitempty"`
	Conditions *string          `json:"conditions,omitempty"`
}

func (AmendPayload) ActionType() ActionType { return ActionAmend }

// OwnerScope selects one LG or every LG held by the old owner.
type OwnerScope string

const (
	ScopeSingleLG   OwnerScope = "SINGLE_LG"
	ScopeAllByOwner OwnerScope = "ALL_BY_OLD_OWNER"
)

type ChangeOwnerPayload struct {
	Scope      OwnerScope `json:"scope"`
	OldOwnerID uuid.UUID  `json:"old_owner_id"`
	NewOwnerID uuid.UUID  `json:"new_owner_id"`
}

func (ChangeOwnerPayload) ActionType() ActionType { return ActionChangeOwner }

type CancelInstructionPayload struct {
	InstructionID uuid.UUID `json:"instruction_id"`
	Reason        string    `json:"reason"`
}

func (CancelInstructionPayload) ActionType() ActionType { return ActionCancelInstruction }

// UpdateContactPayload edits an internal owner contact's details. It
// targets the contact entity, not an LG, but passes through the same
// maker-checker gate.
type UpdateContactPayload struct {
	ContactID    uuid.UUID `json:"contact_id"`
	Email        *string   `json:"email,omitempty"`
	Phone        *string   `json:"phone,omitempty"`
	ManagerEmail *string   `json:"manager_email,omitempty"`
}

func (UpdateContactPayload) ActionType() ActionType { return ActionUpdateContact }

type actionEnvelope struct {
	Type ActionType      `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeAction wraps a payload in its persistence envelope.
func EncodeAction(p ActionPayload) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", p.ActionType(), err)
	}
	return json.Marshal(actionEnvelope{Type: p.ActionType(), Data: data})
}

// DecodeAction restores a payload from its persistence envelope. The
// switch is exhaustive over the closed action set.
func DecodeAction(raw json.RawMessage) (ActionPayload, error) {
	var env actionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode action envelope: %w", err)
	}

	var p ActionPayload
	switch env.Type {
	case ActionExtend:
		p = &ExtendPayload{}
	case ActionRelease:
		p = &ReleasePayload{}
	case ActionLiquidate:
		p = &LiquidatePayload{}
	case ActionDecrease:
		p = &DecreasePayload{}
	case ActionActivate:
		p = &ActivatePayload{}
	case ActionAmend:
		p = &AmendPayload{}
	case ActionChangeOwner:
		p = &ChangeOwnerPayload{}
	case ActionCancelInstruction:
		p = &CancelInstructionPayload{}
	case ActionUpdateContact:
		p = &UpdateContactPayload{}
	default:
		return nil, Validationf("unknown action type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return indirect(p), nil
}

// indirect returns the value form so payloads compare and switch the
// same whether they were built in code or decoded from storage.
func indirect(p ActionPayload) ActionPayload {
	switch v := p.(type) {
	case *ExtendPayload:
		return *v
	case *ReleasePayload:
		return *v
	case *LiquidatePayload:
		return *v
	case *DecreasePayload:
		return *v
	case *ActivatePayload:
		return *v
	case *AmendPayload:
		return *v
	case *ChangeOwnerPayload:
		return *v
	case *CancelInstructionPayload:
		return *v
	case *UpdateContactPayload:
		return *v
	}
	return p
}
