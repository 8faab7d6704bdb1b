package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the lifecycle state of a dual-control request.
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
	ApprovalWithdrawn ApprovalStatus = "WITHDRAWN"
	ApprovalExpired   ApprovalStatus = "EXPIRED"
)

// FollowUpState is the print-reminder progress persisted on the request
// itself so it survives restarts.
type FollowUpState string

const (
	FollowUpNone       FollowUpState = "NONE"
	FollowUpReminder   FollowUpState = "REMINDER_SENT"
	FollowUpEscalation FollowUpState = "ESCALATION_SENT"
)

// Entity types an approval request may target.
const (
	EntityLG      = "lg"
	EntityContact = "contact"
)

// ApprovalRequest records one maker-checker request. For a given entity
// at most one request may be Pending at any time.
type ApprovalRequest struct {
	ID            uuid.UUID       `json:"id"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	EntityType    string          `json:"entity_type"`
	EntityID      uuid.UUID       `json:"entity_id"`
	Action        ActionType      `json:"action"`
	Payload       json.RawMessage `json:"payload"`
	Snapshot      json.RawMessage `json:"snapshot"`
	DocumentID    *uuid.UUID      `json:"document_id,omitempty"`
	Status        ApprovalStatus  `json:"status"`
	MakerID       string          `json:"maker_id"`
	CheckerID     *string         `json:"checker_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	FollowUp      FollowUpState   `json:"follow_up"`
	InstructionID *uuid.UUID      `json:"instruction_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`
}

// DecodedPayload returns the typed action payload stored on the request.
func (r *ApprovalRequest) DecodedPayload() (ActionPayload, error) {
	return DecodeAction(r.Payload)
}
