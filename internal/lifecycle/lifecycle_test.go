package lifecycle

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/lgops/internal/domain"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func validLG() domain.LGRecord {
	return domain.LGRecord{
		ID:                uuid.New(),
		LGNumber:          "LG-2026-00001",
		CustomerID:        uuid.New(),
		BeneficiaryCode:   "BEN01",
		BeneficiaryName:   "Beneficiary Corp",
		CategoryCode:      "CAT1",
		LGType:            domain.TypePerformance,
		Amount:            decimal.NewFromInt(100000),
		Currency:          "USD",
		IssuingBank:       "First National Bank",
		Status:            domain.StatusValid,
		OperationalStatus: domain.OpOperative,
		IssueDate:         testNow.AddDate(0, -6, 0),
		ExpiryDate:        testNow.AddDate(0, 6, 0),
		PeriodDays:        365,
		OwnerContactID:    uuid.New(),
		SequenceNumber:    1,
	}
}

func TestApplyExtend(t *testing.T) {
	lg := validLG()
	lg.ReminderTier = domain.ReminderFirst
	newExpiry := lg.ExpiryDate.AddDate(1, 0, 0)

	tr, err := Apply(lg, domain.ExtendPayload{NewExpiryDate: newExpiry}, nil, testNow, Rules{})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if !tr.Updated.ExpiryDate.Equal(newExpiry) {
		t.Errorf("expiry = %v, want %v", tr.Updated.ExpiryDate, newExpiry)
	}
	if tr.Updated.ReminderTier != domain.ReminderNone {
		t.Errorf("reminder tier = %d, want cleared", tr.Updated.ReminderTier)
	}
	if tr.Type != domain.InstrExtend {
		t.Errorf("instruction type = %s, want %s", tr.Type, domain.InstrExtend)
	}
	if tr.Details["old_expiry_date"] == "" || tr.Details["new_expiry_date"] == "" {
		t.Error("extend details missing expiry dates")
	}
}

func TestApplyExtendRejectsEarlierDate(t *testing.T) {
	lg := validLG()
	_, err := Apply(lg, domain.ExtendPayload{NewExpiryDate: lg.ExpiryDate.AddDate(0, -1, 0)}, nil, testNow, Rules{})
	if !domain.IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestApplyPartialLiquidation(t *testing.T) {
	lg := validLG()
	newAmount := decimal.NewFromInt(40000)

	tr, err := Apply(lg, domain.LiquidatePayload{Kind: domain.LiquidationPartial, NewAmount: &newAmount}, nil, testNow, Rules{})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if !tr.Updated.Amount.Equal(newAmount) {
		t.Errorf("amount = %s, want 40000", tr.Updated.Amount)
	}
	if tr.Updated.Status != domain.StatusValid {
		t.Errorf("status = %s, want %s", tr.Updated.Status, domain.StatusValid)
	}
	if tr.Type != domain.InstrLiquidate {
		t.Errorf("instruction type = %s, want %s", tr.Type, domain.InstrLiquidate)
	}
}

func TestApplyFullLiquidation(t *testing.T) {
	lg := validLG()
	tr, err := Apply(lg, domain.LiquidatePayload{Kind: domain.LiquidationFull}, nil, testNow, Rules{})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if tr.Updated.Status != domain.StatusLiquidated {
		t.Errorf("status = %s, want %s", tr.Updated.Status, domain.StatusLiquidated)
	}
	if !tr.Updated.Amount.IsZero() {
		t.Errorf("amount = %s, want 0", tr.Updated.Amount)
	}
	if !tr.Delta.Amount.Equal(lg.Amount) {
		t.Errorf("delta amount = %s, want %s", tr.Delta.Amount, lg.Amount)
	}
}

func TestApplyPreconditions(t *testing.T) {
	amount := decimal.NewFromInt(10000)
	tooMuch := decimal.NewFromInt(200000)

	tests := []struct {
		name           string
		mutate         func(*domain.LGRecord)
		payload        domain.ActionPayload
		wantValidation bool
	}{
		{
			name:    "release on released LG",
			mutate:  func(lg *domain.LGRecord) { lg.Status = domain.StatusReleased },
			payload: domain.ReleasePayload{Reason: "contract complete"},
		},
		{
			name:    "extend on expired LG",
			mutate:  func(lg *domain.LGRecord) { lg.Status = domain.StatusExpired },
			payload: domain.ExtendPayload{NewExpiryDate: testNow.AddDate(1, 0, 0)},
		},
		{
			name:    "activate non advance payment",
			payload: domain.ActivatePayload{PaymentAmount: amount, PaymentDate: testNow},
		},
		{
			name: "activate already operative",
			mutate: func(lg *domain.LGRecord) {
				lg.LGType = domain.TypeAdvancePayment
				lg.OperationalStatus = domain.OpOperative
			},
			payload: domain.ActivatePayload{PaymentAmount: amount, PaymentDate: testNow},
		},
		{
			name:           "full liquidation with amount",
			payload:        domain.LiquidatePayload{Kind: domain.LiquidationFull, NewAmount: &amount},
			wantValidation: true,
		},
		{
			name:           "partial liquidation above current amount",
			payload:        domain.LiquidatePayload{Kind: domain.LiquidationPartial, NewAmount: &tooMuch},
			wantValidation: true,
		},
		{
			name:           "decrease above current amount",
			payload:        domain.DecreasePayload{Amount: tooMuch},
			wantValidation: true,
		},
		{
			name:           "amend with no fields",
			payload:        domain.AmendPayload{},
			wantValidation: true,
		},
		{
			name:    "change owner with wrong old owner",
			payload: domain.ChangeOwnerPayload{Scope: domain.ScopeSingleLG, OldOwnerID: uuid.New(), NewOwnerID: uuid.New()},
		},
		{
			name:    "cancel with no instruction",
			payload: domain.CancelInstructionPayload{InstructionID: uuid.New(), Reason: "typo"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lg := validLG()
			if tt.mutate != nil {
				tt.mutate(&lg)
			}
			_, err := Apply(lg, tt.payload, nil, testNow, Rules{AmendGraceDays: 35, CancelWindowDays: 3})
			if err == nil {
				t.Fatal("expected error, got none")
			}
			if tt.wantValidation && !domain.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
			if !tt.wantValidation && !domain.IsPrecondition(err) {
				t.Errorf("expected precondition error, got %v", err)
			}
		})
	}
}

func TestApplyActivate(t *testing.T) {
	lg := validLG()
	lg.LGType = domain.TypeAdvancePayment
	lg.OperationalStatus = domain.OpNonOperative

	tr, err := Apply(lg, domain.ActivatePayload{
		PaymentAmount:    decimal.NewFromInt(25000),
		PaymentDate:      testNow,
		PaymentReference: "WIRE-123",
	}, nil, testNow, Rules{})
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if tr.Updated.OperationalStatus != domain.OpOperative {
		t.Errorf("operational status = %s, want %s", tr.Updated.OperationalStatus, domain.OpOperative)
	}
	if tr.Details["payment_reference"] != "WIRE-123" {
		t.Errorf("payment_reference detail = %q", tr.Details["payment_reference"])
	}
}

func TestApplyAmend(t *testing.T) {
	t.Run("valid LG", func(t *testing.T) {
		lg := validLG()
		amount := decimal.NewFromInt(120000)
		tr, err := Apply(lg, domain.AmendPayload{Amount: &amount}, nil, testNow, Rules{AmendGraceDays: 35})
		if err != nil {
			t.Fatalf("Apply returned error: %v", err)
		}
		if !tr.Updated.Amount.Equal(amount) {
			t.Errorf("amount = %s, want 120000", tr.Updated.Amount)
		}
		if tr.Updated.Status != domain.StatusValid {
			t.Errorf("status changed to %s", tr.Updated.Status)
		}
	})

	t.Run("expired inside grace window", func(t *testing.T) {
		lg := validLG()
		lg.Status = domain.StatusExpired
		lg.ExpiryDate = testNow.AddDate(0, 0, -10)
		conditions := "updated terms"
		_, err := Apply(lg, domain.AmendPayload{Conditions: &conditions}, nil, testNow, Rules{AmendGraceDays: 35})
		if err != nil {
			t.Fatalf("Apply returned error: %v", err)
		}
	})

	t.Run("expired past grace window", func(t *testing.T) {
		lg := validLG()
		lg.Status = domain.StatusExpired
		lg.ExpiryDate = testNow.AddDate(0, 0, -40)
		conditions := "updated terms"
		_, err := Apply(lg, domain.AmendPayload{Conditions: &conditions}, nil, testNow, Rules{AmendGraceDays: 35})
		if !domain.IsPrecondition(err) {
			t.Fatalf("expected precondition error, got %v", err)
		}
	})
}

func TestApplyCancelRestoresDelta(t *testing.T) {
	lg := validLG()
	original := lg

	// Decrease first, then cancel the decrease.
	tr, err := Apply(lg, domain.DecreasePayload{Amount: decimal.NewFromInt(30000)}, nil, testNow, Rules{})
	if err != nil {
		t.Fatalf("decrease failed: %v", err)
	}
	instr := domain.LGInstruction{
		ID:       uuid.New(),
		LGID:     lg.ID,
		Type:     tr.Type,
		Serial:   "BEN01-CAT1-0001-DEC-ORIGINAL",
		Delta:    tr.Delta,
		IssuedAt: testNow,
	}

	cancelTr, err := Apply(tr.Updated, domain.CancelInstructionPayload{
		InstructionID: instr.ID,
		Reason:        "entered in error",
	}, &instr, testNow.AddDate(0, 0, 1), Rules{CancelWindowDays: 3})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !cancelTr.Updated.Amount.Equal(original.Amount) {
		t.Errorf("amount after cancel = %s, want %s", cancelTr.Updated.Amount, original.Amount)
	}
	if cancelTr.CancelledInstructionID == nil || *cancelTr.CancelledInstructionID != instr.ID {
		t.Error("cancelled instruction id not recorded")
	}
	if cancelTr.Type != domain.InstrCancel {
		t.Errorf("instruction type = %s, want %s", cancelTr.Type, domain.InstrCancel)
	}
}

func TestApplyCancelWindowExpired(t *testing.T) {
	lg := validLG()
	instr := domain.LGInstruction{
		ID:       uuid.New(),
		LGID:     lg.ID,
		Type:     domain.InstrDecrease,
		Delta:    domain.CaptureDelta(&lg),
		IssuedAt: testNow.AddDate(0, 0, -5),
	}
	_, err := Apply(lg, domain.CancelInstructionPayload{InstructionID: instr.ID, Reason: "too late"},
		&instr, testNow, Rules{CancelWindowDays: 3})
	if !domain.IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestExpire(t *testing.T) {
	lg := validLG()
	lg.ExpiryDate = testNow.AddDate(0, 0, -1)

	expired, ok := Expire(lg, testNow)
	if !ok || expired.Status != domain.StatusExpired {
		t.Fatalf("Expire = (%s, %v), want (EXPIRED, true)", expired.Status, ok)
	}

	// Idempotent: the second sweep leaves it alone.
	_, ok = Expire(expired, testNow)
	if ok {
		t.Error("Expire reported a change on an already-expired LG")
	}

	_, ok = Expire(validLG(), testNow)
	if ok {
		t.Error("Expire reported a change on an unexpired LG")
	}
}
