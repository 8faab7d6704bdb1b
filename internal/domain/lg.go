package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LGStatus is the lifecycle status of a guarantee.
type LGStatus string

const (
	StatusValid      LGStatus = "VALID"
	StatusReleased   LGStatus = "RELEASED"
	StatusLiquidated LGStatus = "LIQUIDATED"
	StatusExpired    LGStatus = "EXPIRED"
)

// OperationalStatus only carries meaning for advance-payment guarantees.
// The only legal move is NON_OPERATIVE -> OPERATIVE.
type OperationalStatus string

const (
	OpOperative    OperationalStatus = "OPERATIVE"
	OpNonOperative OperationalStatus = "NON_OPERATIVE"
)

// LGType is the guarantee category.
type LGType string

const (
	TypePerformance    LGType = "PERFORMANCE"
	TypeAdvancePayment LGType = "ADVANCE_PAYMENT"
	TypeBidBond        LGType = "BID_BOND"
	TypeFinancial      LGType = "FINANCIAL"
)

// ReminderTier tracks which renewal reminder has fired within the
// current eligibility window. Cleared when the LG is extended.
const (
	ReminderNone   = 0
	ReminderFirst  = 1
	ReminderSecond = 2
)

// LGRecord is the requester's record of one letter of guarantee.
// It is mutated exclusively through the lifecycle state machine and is
// never physically deleted.
type LGRecord struct {
	ID                uuid.UUID         `json:"id"`
	LGNumber          string            `json:"lg_number"`
	CustomerID        uuid.UUID         `json:"customer_id"`
	BeneficiaryCode   string            `json:"beneficiary_code"`
	BeneficiaryName   string            `json:"beneficiary_name"`
	CategoryCode      string            `json:"category_code"`
	LGType            LGType            `json:"lg_type"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	IssuingBank       string            `json:"issuing_bank"`
	CommunicationBank string            `json:"communication_bank"`
	Status            LGStatus          `json:"status"`
	OperationalStatus OperationalStatus `json:"operational_status"`
	AutoRenewal       bool              `json:"auto_renewal"`
	IssueDate         time.Time         `json:"issue_date"`
	ExpiryDate        time.Time         `json:"expiry_date"`
	PeriodDays        int               `json:"period_days"`
	Conditions        string            `json:"conditions"`
	OwnerContactID    uuid.UUID         `json:"owner_contact_id"`
	SequenceNumber    int               `json:"sequence_number"`
	ReminderTier      int               `json:"reminder_tier"`
	Deleted           bool              `json:"deleted"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// IsAdvancePayment reports whether operational status applies to this LG.
func (lg *LGRecord) IsAdvancePayment() bool {
	return lg.LGType == TypeAdvancePayment
}

// DaysToExpiry is the whole number of days from now until expiry,
// negative once the expiry date has passed.
func (lg *LGRecord) DaysToExpiry(now time.Time) int {
	return int(lg.ExpiryDate.Sub(now).Hours() / 24)
}

// InternalOwnerContact is the denormalized contact responsible for one or
// more LGs. Created lazily on first reference.
type InternalOwnerContact struct {
	ID           uuid.UUID `json:"id"`
	CustomerID   uuid.UUID `json:"customer_id"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone"`
	ManagerEmail string    `json:"manager_email"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AuditEntry is one row of the append-only action log. Every state
// transition, approval decision, and scheduler action writes exactly one,
// on success and on failure alike.
type AuditEntry struct {
	ID         uuid.UUID         `json:"id"`
	ActorID    string            `json:"actor_id"`
	ActionType string            `json:"action_type"`
	EntityType string            `json:"entity_type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	CustomerID uuid.UUID         `json:"customer_id"`
	Details    map[string]string `json:"details"`
	At         time.Time         `json:"at"`
}

// SystemActor marks scheduler-driven mutations in the audit trail.
const SystemActor = "system"
