package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InstructionType is the fixed enumeration of instruction codes used in
// serial numbers.
type InstructionType string

const (
	InstrExtend    InstructionType = "EXT"
	InstrRelease   InstructionType = "REL"
	InstrLiquidate InstructionType = "LIQ"
	InstrDecrease  InstructionType = "DEC"
	InstrAmend     InstructionType = "AMD"
	InstrActivate  InstructionType = "ACT"
	InstrReminder  InstructionType = "REM"
	InstrCancel    InstructionType = "CXL"
)

// RequiresPrint reports whether instructions of this type must be
// physically printed and delivered to the bank.
func (t InstructionType) RequiresPrint() bool {
	switch t {
	case InstrRelease, InstrLiquidate, InstrDecrease, InstrActivate:
		return true
	}
	return false
}

// ReversalDelta is the typed snapshot of the LG fields an instruction
// changed, captured at creation time so cancellation is a structural
// revert rather than dict surgery.
type ReversalDelta struct {
	Amount            decimal.Decimal   `json:"amount"`
	ExpiryDate        time.Time         `json:"expiry_date"`
	Status            LGStatus          `json:"status"`
	OperationalStatus OperationalStatus `json:"operational_status"`
	Currency          string            `json:"currency"`
	Conditions        string            `json:"conditions"`
	OwnerContactID    uuid.UUID         `json:"owner_contact_id"`
	ReminderTier      int               `json:"reminder_tier"`
}

// CaptureDelta snapshots the reversible fields of an LG.
func CaptureDelta(lg *LGRecord) ReversalDelta {
	return ReversalDelta{
		Amount:            lg.Amount,
		ExpiryDate:        lg.ExpiryDate,
		Status:            lg.Status,
		OperationalStatus: lg.OperationalStatus,
		Currency:          lg.Currency,
		Conditions:        lg.Conditions,
		OwnerContactID:    lg.OwnerContactID,
		ReminderTier:      lg.ReminderTier,
	}
}

// Restore writes the delta back onto the LG.
func (d ReversalDelta) Restore(lg *LGRecord) {
	lg.Amount = d.Amount
	lg.ExpiryDate = d.ExpiryDate
	lg.Status = d.Status
	lg.OperationalStatus = d.OperationalStatus
	lg.Currency = d.Currency
	lg.Conditions = d.Conditions
	lg.OwnerContactID = d.OwnerContactID
	lg.ReminderTier = d.ReminderTier
}

// LGInstruction is the durable, numbered record of one executed action.
// Serial numbers are unique per LG and never reused, even after
// cancellation; rows are never deleted.
type LGInstruction struct {
	ID                uuid.UUID         `json:"id"`
	LGID              uuid.UUID         `json:"lg_id"`
	CustomerID        uuid.UUID         `json:"customer_id"`
	Type              InstructionType   `json:"type"`
	Serial            string            `json:"serial"`
	GlobalSeq         int               `json:"global_seq"`
	TypeSeq           int               `json:"type_seq"`
	SubCode           string            `json:"sub_code"`
	Details           map[string]string `json:"details"`
	Delta             ReversalDelta     `json:"delta"`
	ApprovalRequestID *uuid.UUID        `json:"approval_request_id,omitempty"`
	ActorID           string            `json:"actor_id"`
	Letter            []byte            `json:"-"`
	IsPrinted         bool              `json:"is_printed"`
	Cancelled         bool              `json:"cancelled"`
	CancelReason      string            `json:"cancel_reason,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
	BankReplyAt       *time.Time        `json:"bank_reply_at,omitempty"`
	IssuedAt          time.Time         `json:"issued_at"`
}
