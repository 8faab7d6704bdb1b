// Package collab declares the narrow contracts of the external
// collaborators the core consumes. Implementations beyond the defaults
// here are out of scope; the core only ever sees these interfaces.
package collab

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/lgops/internal/domain"
)

// Clock abstracts wall time so day-threshold logic is deterministic
// under test.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// DocumentMeta describes an uploaded supporting document.
type DocumentMeta struct {
	CustomerID uuid.UUID
	FileName   string
	MimeType   string
	UploadedBy string
}

// DocumentStore persists supporting documents and answers the
// per-customer mandatory-document policy.
type DocumentStore interface {
	CreateDocument(ctx context.Context, meta DocumentMeta, data []byte) (uuid.UUID, error)
}

// LetterRenderer produces printable letter bytes from a template and a
// placeholder map.
type LetterRenderer interface {
	RenderLetter(ctx context.Context, templateID string, placeholders map[string]string) ([]byte, error)
}

// NotificationSender delivers best-effort notifications. A false return
// means the send failed; callers log and move on, the scheduler's next
// pass is the retry.
type NotificationSender interface {
	Send(ctx context.Context, to, cc []string, subject, body string, data map[string]string) bool
}

// AuditLog is the append-only action trail. SeenSince answers the
// scheduler's "already fired in this window" dedup checks.
type AuditLog interface {
	LogAction(ctx context.Context, e domain.AuditEntry) error
	SeenSince(ctx context.Context, actionType string, entityID uuid.UUID, since time.Time) (bool, error)
}

// ConfigProvider supplies per-customer effective configuration: day
// thresholds, mandatory-document flags, capability flags.
type ConfigProvider interface {
	EffectiveConfig(ctx context.Context, customerID uuid.UUID, key string) (string, bool)
}

// Configuration keys used across the core.
const (
	KeyDualControl        = "dual_control_enabled"
	KeyCancelWindowDays   = "cancel_window_days"
	KeyAmendGraceDays     = "amend_grace_days"
	KeyPrintReminderDays  = "print_reminder_days"
	KeyPrintEscalateDays  = "print_escalation_days"
	KeyAutoRenewDays      = "auto_renew_days"
	KeyForcedRenewDays    = "forced_renew_days"
	KeyRenewFirstOffset   = "renew_first_offset_days"
	KeyRenewSecondOffset  = "renew_second_offset_days"
	KeyUndeliveredMinDays = "undelivered_min_days"
	KeyUndeliveredMaxDays = "undelivered_max_days"
	KeyBankReminderDays   = "bank_reminder_days"
	KeyStaleApprovalDays  = "stale_approval_days"

	// Mandatory-document flags are looked up per action as
	// require_document_<ACTION>.
	keyDocPrefix = "require_document_"
)

// DocumentKey returns the mandatory-document config key for an action.
func DocumentKey(action domain.ActionType) string {
	return keyDocPrefix + string(action)
}
