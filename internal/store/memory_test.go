package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/lgops/internal/domain"
)

func seedLG(t *testing.T, m *Memory) domain.LGRecord {
	t.Helper()
	lg := domain.LGRecord{
		ID:              uuid.New(),
		LGNumber:        "LG-2026-00001",
		CustomerID:      uuid.New(),
		BeneficiaryCode: "BEN01",
		CategoryCode:    "CAT1",
		LGType:          domain.TypePerformance,
		Amount:          decimal.NewFromInt(100000),
		Currency:        "USD",
		Status:          domain.StatusValid,
		ExpiryDate:      time.Now().AddDate(0, 6, 0),
		OwnerContactID:  uuid.New(),
		SequenceNumber:  1,
	}
	if err := m.CreateLG(context.Background(), &lg); err != nil {
		t.Fatalf("CreateLG: %v", err)
	}
	return lg
}

func TestMemorySinglePendingApproval(t *testing.T) {
	m := NewMemory()
	lg := seedLG(t, m)
	ctx := context.Background()

	first := &domain.ApprovalRequest{
		ID:         uuid.New(),
		CustomerID: lg.CustomerID,
		EntityType: domain.EntityLG,
		EntityID:   lg.ID,
		Action:     domain.ActionDecrease,
		Status:     domain.ApprovalPending,
		MakerID:    "maker-1",
		CreatedAt:  time.Now(),
	}
	if err := m.CreateApproval(ctx, first); err != nil {
		t.Fatalf("first CreateApproval: %v", err)
	}

	second := &domain.ApprovalRequest{
		ID:         uuid.New(),
		CustomerID: lg.CustomerID,
		EntityType: domain.EntityLG,
		EntityID:   lg.ID,
		Action:     domain.ActionRelease,
		Status:     domain.ApprovalPending,
		MakerID:    "maker-2",
		CreatedAt:  time.Now(),
	}
	if err := m.CreateApproval(ctx, second); !errors.Is(err, ErrActionPending) {
		t.Fatalf("second CreateApproval = %v, want ErrActionPending", err)
	}

	// Resolving the first frees the slot.
	first.Status = domain.ApprovalWithdrawn
	if err := m.ResolveApproval(ctx, first); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}
	if err := m.CreateApproval(ctx, second); err != nil {
		t.Fatalf("CreateApproval after resolution: %v", err)
	}
}

func TestMemoryPendingApprovalNilWhenNone(t *testing.T) {
	m := NewMemory()
	lg := seedLG(t, m)

	req, err := m.PendingApproval(context.Background(), domain.EntityLG, lg.ID)
	if err != nil {
		t.Fatalf("PendingApproval: %v", err)
	}
	if req != nil {
		t.Fatalf("PendingApproval = %+v, want nil", req)
	}
}

func TestMemorySequencesNeverReused(t *testing.T) {
	m := NewMemory()
	lg := seedLG(t, m)
	ctx := context.Background()

	emit := func() *domain.LGInstruction {
		res, err := m.ApplyAction(ctx, lg.ID, func(ctx context.Context, tx TxView) (*ApplyResult, error) {
			global, typeSeq, err := tx.NextSeq(ctx, domain.InstrExtend)
			if err != nil {
				return nil, err
			}
			return &ApplyResult{
				LG: tx.LG(),
				Instruction: &domain.LGInstruction{
					LGID:      lg.ID,
					Type:      domain.InstrExtend,
					GlobalSeq: global,
					TypeSeq:   typeSeq,
					Serial:    "x",
					IssuedAt:  time.Now(),
				},
			}, nil
		})
		if err != nil {
			t.Fatalf("ApplyAction: %v", err)
		}
		return res.Instruction
	}

	first := emit()
	if first.GlobalSeq != 1 || first.TypeSeq != 1 {
		t.Fatalf("first seqs = (%d, %d), want (1, 1)", first.GlobalSeq, first.TypeSeq)
	}

	// Cancel the first; counters must still advance past it.
	_, err := m.ApplyAction(ctx, lg.ID, func(ctx context.Context, tx TxView) (*ApplyResult, error) {
		id := first.ID
		return &ApplyResult{LG: tx.LG(), CancelledInstructionID: &id, CancelReason: "test"}, nil
	})
	if err != nil {
		t.Fatalf("cancel ApplyAction: %v", err)
	}

	second := emit()
	if second.GlobalSeq != 2 || second.TypeSeq != 2 {
		t.Errorf("seqs after cancel = (%d, %d), want (2, 2)", second.GlobalSeq, second.TypeSeq)
	}

	cancelled, err := m.GetInstruction(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetInstruction: %v", err)
	}
	if !cancelled.Cancelled || cancelled.CancelReason != "test" {
		t.Errorf("cancelled instruction = %+v", cancelled)
	}
}

func TestMemoryApplyActionRollsBackOnError(t *testing.T) {
	m := NewMemory()
	lg := seedLG(t, m)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := m.ApplyAction(ctx, lg.ID, func(ctx context.Context, tx TxView) (*ApplyResult, error) {
		mutated := tx.LG()
		mutated.Status = domain.StatusReleased
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ApplyAction = %v, want boom", err)
	}

	got, err := m.GetLG(ctx, lg.ID)
	if err != nil {
		t.Fatalf("GetLG: %v", err)
	}
	if got.Status != domain.StatusValid {
		t.Errorf("status = %s, want unchanged VALID", got.Status)
	}
	ins, _ := m.ListInstructions(ctx, lg.ID)
	if len(ins) != 0 {
		t.Errorf("instructions persisted on failed action: %d", len(ins))
	}
}

func TestMemoryBeneficiarySeqMonotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	customerID := uuid.New()

	for want := 1; want <= 3; want++ {
		got, err := m.NextBeneficiarySeq(ctx, customerID, "BEN01")
		if err != nil {
			t.Fatalf("NextBeneficiarySeq: %v", err)
		}
		if got != want {
			t.Errorf("seq = %d, want %d", got, want)
		}
	}
	// Independent counter per beneficiary.
	got, err := m.NextBeneficiarySeq(ctx, customerID, "BEN02")
	if err != nil {
		t.Fatalf("NextBeneficiarySeq: %v", err)
	}
	if got != 1 {
		t.Errorf("BEN02 seq = %d, want 1", got)
	}
}

func TestMemoryGetOrCreateContact(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	customerID := uuid.New()

	first, err := m.GetOrCreateContact(ctx, &domain.InternalOwnerContact{
		CustomerID: customerID,
		Email:      "owner@example.com",
		Phone:      "+1-555-0100",
	})
	if err != nil {
		t.Fatalf("GetOrCreateContact: %v", err)
	}

	again, err := m.GetOrCreateContact(ctx, &domain.InternalOwnerContact{
		CustomerID: customerID,
		Email:      "owner@example.com",
	})
	if err != nil {
		t.Fatalf("GetOrCreateContact: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("same (customer, email) produced a second contact")
	}

	other, err := m.GetOrCreateContact(ctx, &domain.InternalOwnerContact{
		CustomerID: uuid.New(),
		Email:      "owner@example.com",
	})
	if err != nil {
		t.Fatalf("GetOrCreateContact: %v", err)
	}
	if other.ID == first.ID {
		t.Errorf("different customer reused the contact")
	}
}

func TestMemorySeenSince(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	entityID := uuid.New()
	now := time.Now()

	err := m.LogAction(ctx, domain.AuditEntry{
		ActorID:    domain.SystemActor,
		ActionType: "RENEWAL_OWNER_REMINDER",
		EntityType: domain.EntityLG,
		EntityID:   entityID,
		CustomerID: uuid.New(),
		At:         now.Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("LogAction: %v", err)
	}

	seen, err := m.SeenSince(ctx, "RENEWAL_OWNER_REMINDER", entityID, now.Add(-24*time.Hour))
	if err != nil || !seen {
		t.Errorf("SeenSince inside window = (%v, %v), want (true, nil)", seen, err)
	}
	seen, err = m.SeenSince(ctx, "RENEWAL_OWNER_REMINDER", entityID, now.Add(-time.Hour))
	if err != nil || seen {
		t.Errorf("SeenSince outside window = (%v, %v), want (false, nil)", seen, err)
	}
	seen, err = m.SeenSince(ctx, "OTHER_ACTION", entityID, now.Add(-24*time.Hour))
	if err != nil || seen {
		t.Errorf("SeenSince other action = (%v, %v), want (false, nil)", seen, err)
	}
}

func TestMemoryConcurrentPendingCollapse(t *testing.T) {
	m := NewMemory()
	lg := seedLG(t, m)
	ctx := context.Background()

	const submitters = 16
	var wg sync.WaitGroup
	var created atomic.Int64
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := m.CreateApproval(ctx, &domain.ApprovalRequest{
				CustomerID: lg.CustomerID,
				EntityType: domain.EntityLG,
				EntityID:   lg.ID,
				Action:     domain.ActionRelease,
				Status:     domain.ApprovalPending,
				MakerID:    fmt.Sprintf("maker-%d", n),
				CreatedAt:  time.Now(),
			})
			if err == nil {
				created.Add(1)
			} else if !errors.Is(err, ErrActionPending) {
				t.Errorf("CreateApproval: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if created.Load() != 1 {
		t.Errorf("pending requests created = %d, want 1", created.Load())
	}
}

func TestMemoryConcurrentSeqAllocation(t *testing.T) {
	m := NewMemory()
	lg := seedLG(t, m)
	ctx := context.Background()

	const emitters = 16
	var wg sync.WaitGroup
	for i := 0; i < emitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ApplyAction(ctx, lg.ID, func(ctx context.Context, tx TxView) (*ApplyResult, error) {
				global, typeSeq, err := tx.NextSeq(ctx, domain.InstrExtend)
				if err != nil {
					return nil, err
				}
				return &ApplyResult{
					LG: tx.LG(),
					Instruction: &domain.LGInstruction{
						LGID:       lg.ID,
						CustomerID: lg.CustomerID,
						Type:       domain.InstrExtend,
						Serial:     fmt.Sprintf("BEN01-CAT1-%04d-EXT-ORIGINAL", global),
						GlobalSeq:  global,
						TypeSeq:    typeSeq,
						IssuedAt:   time.Now(),
					},
				}, nil
			})
			if err != nil {
				t.Errorf("ApplyAction: %v", err)
			}
		}()
	}
	wg.Wait()

	ins, err := m.ListInstructions(ctx, lg.ID)
	if err != nil {
		t.Fatalf("ListInstructions: %v", err)
	}
	if len(ins) != emitters {
		t.Fatalf("instructions = %d, want %d", len(ins), emitters)
	}
	seen := make(map[int]bool)
	for _, in := range ins {
		if seen[in.GlobalSeq] {
			t.Errorf("global seq %d allocated twice", in.GlobalSeq)
		}
		seen[in.GlobalSeq] = true
	}
	for i := 1; i <= emitters; i++ {
		if !seen[i] {
			t.Errorf("global seq %d never allocated", i)
		}
	}
}

func TestMemoryResolveApprovalFirstWins(t *testing.T) {
	m := NewMemory()
	lg := seedLG(t, m)
	ctx := context.Background()

	req := &domain.ApprovalRequest{
		ID:         uuid.New(),
		CustomerID: lg.CustomerID,
		EntityType: domain.EntityLG,
		EntityID:   lg.ID,
		Action:     domain.ActionDecrease,
		Status:     domain.ApprovalPending,
		MakerID:    "maker-1",
		CreatedAt:  time.Now(),
	}
	if err := m.CreateApproval(ctx, req); err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	checker := "checker-1"
	req.Status = domain.ApprovalApproved
	req.CheckerID = &checker
	if err := m.ResolveApproval(ctx, req); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}

	other := "checker-2"
	req.CheckerID = &other
	if err := m.ResolveApproval(ctx, req); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("second ResolveApproval = %v, want ErrAlreadyResolved", err)
	}
	got, err := m.GetApproval(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetApproval: %v", err)
	}
	if got.CheckerID == nil || *got.CheckerID != checker {
		t.Error("first resolution overwritten")
	}

	// A carried resolution fails the whole action, leaving the LG untouched.
	stale := *got
	stale.CheckerID = &other
	_, err = m.ApplyAction(ctx, lg.ID, func(ctx context.Context, tx TxView) (*ApplyResult, error) {
		mutated := tx.LG()
		mutated.Amount = mutated.Amount.Sub(decimal.NewFromInt(10000))
		return &ApplyResult{LG: mutated, Approval: &stale}, nil
	})
	if !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("ApplyAction with resolved request = %v, want ErrAlreadyResolved", err)
	}
	after, err := m.GetLG(ctx, lg.ID)
	if err != nil {
		t.Fatalf("GetLG: %v", err)
	}
	if !after.Amount.Equal(lg.Amount) {
		t.Errorf("amount = %s, want unchanged %s", after.Amount, lg.Amount)
	}
}
