package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/lgops/internal/collab"
	"github.com/punchamoorthee/lgops/internal/domain"
	"github.com/punchamoorthee/lgops/internal/instruction"
	"github.com/punchamoorthee/lgops/internal/renewal"
	"github.com/punchamoorthee/lgops/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type sentMail struct {
	to      []string
	cc      []string
	subject string
}

type captureNotifier struct{ sent []sentMail }

func (n *captureNotifier) Send(_ context.Context, to, cc []string, subject, body string, data map[string]string) bool {
	n.sent = append(n.sent, sentMail{to: to, cc: cc, subject: subject})
	return true
}

type fixture struct {
	passes *Passes
	store  *store.Memory
	cfg    *collab.StaticConfig
	clock  *fakeClock
	notify *captureNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	mem := store.NewMemory()
	cfg := collab.NewStaticConfig(collab.DefaultThresholds())
	clock := &fakeClock{now: testNow}
	notify := &captureNotifier{}
	emitter := instruction.NewEmitter(collab.NewTemplateRenderer(), log)
	engine := renewal.NewEngine(mem, cfg, mem, emitter, clock, log)

	return &fixture{
		passes: &Passes{
			Store:   mem,
			Cfg:     cfg,
			Notify:  notify,
			Renewal: engine,
			Clock:   clock,
			Log:     log,
		},
		store:  mem,
		cfg:    cfg,
		clock:  clock,
		notify: notify,
	}
}

func (f *fixture) seedLG(t *testing.T, customerID uuid.UUID, n int, auto bool, daysToExpiry int) domain.LGRecord {
	t.Helper()
	ctx := context.Background()
	contact, err := f.store.GetOrCreateContact(ctx, &domain.InternalOwnerContact{
		CustomerID:   customerID,
		Email:        "owner@example.com",
		ManagerEmail: "manager@example.com",
	})
	if err != nil {
		t.Fatalf("GetOrCreateContact: %v", err)
	}
	lg := domain.LGRecord{
		ID:              uuid.New(),
		LGNumber:        "LG-2026-0000" + string(rune('0'+n)),
		CustomerID:      customerID,
		BeneficiaryCode: "BEN01",
		BeneficiaryName: "Beneficiary Corp",
		CategoryCode:    "CAT1",
		LGType:          domain.TypePerformance,
		Amount:          decimal.NewFromInt(100000),
		Currency:        "USD",
		IssuingBank:     "First National Bank",
		Status:          domain.StatusValid,
		AutoRenewal:     auto,
		ExpiryDate:      f.clock.now.AddDate(0, 0, daysToExpiry),
		PeriodDays:      365,
		OwnerContactID:  contact.ID,
		SequenceNumber:  n,
	}
	if err := f.store.CreateLG(ctx, &lg); err != nil {
		t.Fatalf("CreateLG: %v", err)
	}
	return lg
}

func TestExpirySweepPassIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	expired := f.seedLG(t, customerID, 1, false, -1)
	alive := f.seedLG(t, customerID, 2, false, 60)

	if err := f.passes.ExpirySweepPass(ctx); err != nil {
		t.Fatalf("ExpirySweepPass: %v", err)
	}
	got, _ := f.store.GetLG(ctx, expired.ID)
	if got.Status != domain.StatusExpired {
		t.Errorf("status = %s, want EXPIRED", got.Status)
	}
	got, _ = f.store.GetLG(ctx, alive.ID)
	if got.Status != domain.StatusValid {
		t.Errorf("alive LG status = %s", got.Status)
	}

	entriesAfterFirst := len(f.store.AuditEntries())

	// The second sweep the same day changes nothing.
	if err := f.passes.ExpirySweepPass(ctx); err != nil {
		t.Fatalf("second ExpirySweepPass: %v", err)
	}
	if len(f.store.AuditEntries()) != entriesAfterFirst {
		t.Error("second sweep wrote new audit entries")
	}
}

func TestRenewalReminderUserPassTiers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	// Auto window 30, first offset 7, second offset 3: tier 1 at 37
	// days out, tier 2 at 33.
	lg := f.seedLG(t, customerID, 1, true, 35)

	if err := f.passes.RenewalReminderUserPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notify.sent))
	}
	got, _ := f.store.GetLG(ctx, lg.ID)
	if got.ReminderTier != domain.ReminderFirst {
		t.Errorf("tier = %d, want 1", got.ReminderTier)
	}

	// Same day again: nothing new.
	if err := f.passes.RenewalReminderUserPass(ctx); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Errorf("rerun fired %d extra notifications", len(f.notify.sent)-1)
	}

	// Four days later the second threshold is crossed.
	f.clock.now = f.clock.now.AddDate(0, 0, 4)
	if err := f.passes.RenewalReminderUserPass(ctx); err != nil {
		t.Fatalf("tier 2 run: %v", err)
	}
	if len(f.notify.sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(f.notify.sent))
	}
	got, _ = f.store.GetLG(ctx, lg.ID)
	if got.ReminderTier != domain.ReminderSecond {
		t.Errorf("tier = %d, want 2", got.ReminderTier)
	}
}

func TestRenewalReminderUserPassSingleFireDeepInWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// 23 days out with threshold 30 and offset 7: already past both
	// reminder thresholds, still exactly one notification.
	f.seedLG(t, uuid.New(), 1, true, 23)

	if err := f.passes.RenewalReminderUserPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notify.sent))
	}
	if err := f.passes.RenewalReminderUserPass(ctx); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Errorf("rerun fired again, notifications = %d", len(f.notify.sent))
	}
}

func TestRenewalReminderTierClearedByExtension(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	lg := f.seedLG(t, customerID, 1, true, 35)

	if err := f.passes.RenewalReminderUserPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}

	// Six days later the LG is inside the auto-renewal window; the
	// extension clears the tier so the next window starts clean.
	f.clock.now = f.clock.now.AddDate(0, 0, 6)
	if err := f.passes.AutoRenewalPass(ctx); err != nil {
		t.Fatalf("AutoRenewalPass: %v", err)
	}
	got, _ := f.store.GetLG(ctx, lg.ID)
	if got.ReminderTier != domain.ReminderNone {
		t.Errorf("tier after extension = %d, want 0", got.ReminderTier)
	}
}

func TestRenewalReminderOwnerPassDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedLG(t, uuid.New(), 1, true, 35)

	if err := f.passes.RenewalReminderOwnerPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notify.sent))
	}
	if got := f.notify.sent[0].to[0]; got != "manager@example.com" {
		t.Errorf("recipient = %s, want the manager", got)
	}

	if err := f.passes.RenewalReminderOwnerPass(ctx); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Error("owner reminder re-fired inside the same window")
	}
}

func (f *fixture) seedApprovedUnprinted(t *testing.T, lg domain.LGRecord, resolvedDaysAgo int) *domain.ApprovalRequest {
	t.Helper()
	ctx := context.Background()

	res, err := f.store.ApplyAction(ctx, lg.ID, func(ctx context.Context, tx store.TxView) (*store.ApplyResult, error) {
		return &store.ApplyResult{
			LG: tx.LG(),
			Instruction: &domain.LGInstruction{
				LGID:       lg.ID,
				CustomerID: lg.CustomerID,
				Type:       domain.InstrRelease,
				Serial:     "BEN01-CAT1-0001-REL-ORIGINAL",
				GlobalSeq:  1,
				TypeSeq:    1,
				Details:    map[string]string{},
				IssuedAt:   f.clock.now.AddDate(0, 0, -resolvedDaysAgo),
			},
		}, nil
	})
	if err != nil {
		t.Fatalf("seed instruction: %v", err)
	}

	checker := "checker-1"
	resolved := f.clock.now.AddDate(0, 0, -resolvedDaysAgo)
	req := &domain.ApprovalRequest{
		ID:            uuid.New(),
		CustomerID:    lg.CustomerID,
		EntityType:    domain.EntityLG,
		EntityID:      lg.ID,
		Action:        domain.ActionRelease,
		Status:        domain.ApprovalApproved,
		MakerID:       "maker-1",
		CheckerID:     &checker,
		FollowUp:      domain.FollowUpNone,
		InstructionID: &res.Instruction.ID,
		CreatedAt:     resolved.AddDate(0, 0, -1),
		ResolvedAt:    &resolved,
	}
	if err := f.store.CreateApproval(ctx, req); err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}
	return req
}

func TestPrintReminderPassProgression(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lg := f.seedLG(t, uuid.New(), 1, false, 120)
	req := f.seedApprovedUnprinted(t, lg, 3)

	// Three days since approval: past the reminder threshold (2), short
	// of escalation (5).
	if err := f.passes.PrintReminderPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notify.sent))
	}
	if got := f.notify.sent[0].to; len(got) != 1 || got[0] != "maker-1" {
		t.Errorf("reminder recipients = %v, want maker only", got)
	}
	got, _ := f.store.GetApproval(ctx, req.ID)
	if got.FollowUp != domain.FollowUpReminder {
		t.Errorf("follow-up = %s, want REMINDER_SENT", got.FollowUp)
	}

	// Rerun the same day: state blocks a duplicate.
	if err := f.passes.PrintReminderPass(ctx); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Error("reminder re-sent")
	}

	// Three more days: escalation pulls in the checker.
	f.clock.now = f.clock.now.AddDate(0, 0, 3)
	if err := f.passes.PrintReminderPass(ctx); err != nil {
		t.Fatalf("escalation run: %v", err)
	}
	if len(f.notify.sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(f.notify.sent))
	}
	if got := f.notify.sent[1].to; len(got) != 2 || got[1] != "checker-1" {
		t.Errorf("escalation recipients = %v, want maker and checker", got)
	}
	reqAfter, _ := f.store.GetApproval(ctx, req.ID)
	if reqAfter.FollowUp != domain.FollowUpEscalation {
		t.Errorf("follow-up = %s, want ESCALATION_SENT", reqAfter.FollowUp)
	}

	// Terminal: nothing further fires.
	f.clock.now = f.clock.now.AddDate(0, 0, 10)
	if err := f.passes.PrintReminderPass(ctx); err != nil {
		t.Fatalf("terminal run: %v", err)
	}
	if len(f.notify.sent) != 2 {
		t.Error("escalated request fired again")
	}
}

func TestPrintReminderPassSkipsPrinted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lg := f.seedLG(t, uuid.New(), 1, false, 120)
	req := f.seedApprovedUnprinted(t, lg, 3)

	if err := f.store.MarkPrinted(ctx, *req.InstructionID); err != nil {
		t.Fatalf("MarkPrinted: %v", err)
	}
	if err := f.passes.PrintReminderPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(f.notify.sent) != 0 {
		t.Errorf("printed instruction still chased: %d notifications", len(f.notify.sent))
	}
}

func TestStaleApprovalPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lg := f.seedLG(t, uuid.New(), 1, false, 120)

	stale := &domain.ApprovalRequest{
		ID:         uuid.New(),
		CustomerID: lg.CustomerID,
		EntityType: domain.EntityLG,
		EntityID:   lg.ID,
		Action:     domain.ActionRelease,
		Status:     domain.ApprovalPending,
		MakerID:    "maker-1",
		CreatedAt:  f.clock.now.AddDate(0, 0, -31),
	}
	if err := f.store.CreateApproval(ctx, stale); err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	fresh := &domain.ApprovalRequest{
		ID:         uuid.New(),
		CustomerID: lg.CustomerID,
		EntityType: domain.EntityLG,
		EntityID:   uuid.New(),
		Action:     domain.ActionExtend,
		Status:     domain.ApprovalPending,
		MakerID:    "maker-2",
		CreatedAt:  f.clock.now.AddDate(0, 0, -2),
	}
	if err := f.store.CreateApproval(ctx, fresh); err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	if err := f.passes.StaleApprovalPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	got, _ := f.store.GetApproval(ctx, stale.ID)
	if got.Status != domain.ApprovalExpired {
		t.Errorf("stale status = %s, want EXPIRED", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("stale request has no resolution time")
	}
	got, _ = f.store.GetApproval(ctx, fresh.ID)
	if got.Status != domain.ApprovalPending {
		t.Errorf("fresh status = %s, want PENDING", got.Status)
	}
}

func TestBankReminderPassDedup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lg := f.seedLG(t, uuid.New(), 1, false, 120)
	req := f.seedApprovedUnprinted(t, lg, 20)

	if err := f.store.MarkPrinted(ctx, *req.InstructionID); err != nil {
		t.Fatalf("MarkPrinted: %v", err)
	}
	if err := f.store.MarkDelivered(ctx, *req.InstructionID, f.clock.now.AddDate(0, 0, -12)); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}

	candidates, err := f.passes.BankReminderCandidates(ctx, lg.CustomerID)
	if err != nil {
		t.Fatalf("BankReminderCandidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(candidates))
	}

	if err := f.passes.BankReminderPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notify.sent))
	}

	// Within 24h the same instruction is not chased again.
	if err := f.passes.BankReminderPass(ctx); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Error("bank reminder re-fired within a day")
	}

	// A bank reply removes the candidate entirely.
	f.clock.now = f.clock.now.AddDate(0, 0, 2)
	if err := f.store.MarkBankReply(ctx, *req.InstructionID, f.clock.now); err != nil {
		t.Fatalf("MarkBankReply: %v", err)
	}
	candidates, err = f.passes.BankReminderCandidates(ctx, lg.CustomerID)
	if err != nil {
		t.Fatalf("BankReminderCandidates: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("candidates after reply = %d, want 0", len(candidates))
	}
}

func TestUndeliveredReportPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lg := f.seedLG(t, uuid.New(), 1, false, 120)
	req := f.seedApprovedUnprinted(t, lg, 5)

	if err := f.store.MarkPrinted(ctx, *req.InstructionID); err != nil {
		t.Fatalf("MarkPrinted: %v", err)
	}

	if err := f.passes.UndeliveredReportPass(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(f.notify.sent))
	}
	if got := f.notify.sent[0].to[0]; got != "owner@example.com" {
		t.Errorf("recipient = %s, want the owner contact", got)
	}

	// Delivered instructions drop out of the digest.
	if err := f.store.MarkDelivered(ctx, *req.InstructionID, f.clock.now); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := f.passes.UndeliveredReportPass(ctx); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(f.notify.sent) != 1 {
		t.Error("delivered instruction still reported")
	}
}

// staleListStore serves list results from a snapshot taken before
// another process expired the LG, while reads inside the row lock see
// the current state.
type staleListStore struct {
	*store.Memory
	snapshot []domain.LGRecord
}

func (s *staleListStore) ListLGs(_ context.Context, _ uuid.UUID) ([]domain.LGRecord, error) {
	return s.snapshot, nil
}

func TestExpirySweepPassStaleListWritesNoAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	customerID := uuid.New()
	lg := f.seedLG(t, customerID, 1, false, -1)

	stale := lg // still VALID, already past expiry
	if err := f.passes.ExpirySweepPass(ctx); err != nil {
		t.Fatalf("ExpirySweepPass: %v", err)
	}
	got, _ := f.store.GetLG(ctx, lg.ID)
	if got.Status != domain.StatusExpired {
		t.Fatalf("status = %s, want EXPIRED", got.Status)
	}
	entries := len(f.store.AuditEntries())

	f.passes.Store = &staleListStore{Memory: f.store, snapshot: []domain.LGRecord{stale}}
	if err := f.passes.ExpirySweepPass(ctx); err != nil {
		t.Fatalf("sweep over stale list: %v", err)
	}
	if len(f.store.AuditEntries()) != entries {
		t.Error("sweep over stale list wrote new audit entries")
	}
	got, _ = f.store.GetLG(ctx, lg.ID)
	if got.Status != domain.StatusExpired {
		t.Errorf("status = %s after stale sweep", got.Status)
	}
}
