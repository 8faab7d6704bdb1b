// Package instruction turns a lifecycle transition into the durable,
// numbered instruction record and its printable letter.
package instruction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/lgops/internal/collab"
	"github.com/punchamoorthee/lgops/internal/domain"
	"github.com/punchamoorthee/lgops/internal/lifecycle"
	"github.com/punchamoorthee/lgops/internal/serial"
	"github.com/punchamoorthee/lgops/internal/store"
)

type Emitter struct {
	renderer collab.LetterRenderer
	log      *logrus.Logger
}

func NewEmitter(renderer collab.LetterRenderer, log *logrus.Logger) *Emitter {
	return &Emitter{renderer: renderer, log: log}
}

// Emit builds the instruction documenting tr inside an open ApplyAction
// transaction. Serial counters come from the locked row, so concurrent
// submissions for the same LG cannot collide. A render failure is
// logged and leaves the letter empty; the instruction itself always
// lands.
func (e *Emitter) Emit(ctx context.Context, tx store.TxView, tr *lifecycle.Transition, actorID string, approvalID *uuid.UUID, now time.Time) (*domain.LGInstruction, error) {
	lg := tr.Updated
	global, typeSeq, err := tx.NextSeq(ctx, tr.Type)
	if err != nil {
		return nil, err
	}

	in := &domain.LGInstruction{
		ID:                uuid.New(),
		LGID:              lg.ID,
		CustomerID:        lg.CustomerID,
		Type:              tr.Type,
		Serial:            serial.Format(lg.BeneficiaryCode, lg.CategoryCode, lg.SequenceNumber, tr.Type, serial.SubOriginal),
		GlobalSeq:         global,
		TypeSeq:           typeSeq,
		SubCode:           serial.SubOriginal,
		Details:           tr.Details,
		Delta:             tr.Delta,
		ApprovalRequestID: approvalID,
		ActorID:           actorID,
		IssuedAt:          now,
	}
	in.Details["serial"] = in.Serial

	e.render(ctx, in)
	return in, nil
}

// EmitReminder issues a REM instruction re-sending an earlier original.
// reminderNo is 1 for the first reminder of that original, 2 for the
// second, and so on.
func (e *Emitter) EmitReminder(ctx context.Context, tx store.TxView, lg domain.LGRecord, original domain.LGInstruction, reminderNo int, actorID string, now time.Time) (*domain.LGInstruction, error) {
	global, typeSeq, err := tx.NextSeq(ctx, domain.InstrReminder)
	if err != nil {
		return nil, err
	}

	sub := serial.Sub(reminderNo)
	details := map[string]string{
		"lg_number":        lg.LGNumber,
		"beneficiary_name": lg.BeneficiaryName,
		"issuing_bank":     lg.IssuingBank,
		"currency":         lg.Currency,
		"amount_formatted": lg.Amount.StringFixed(2),
		"original_serial":  original.Serial,
		"original_type":    string(original.Type),
	}
	in := &domain.LGInstruction{
		ID:         uuid.New(),
		LGID:       lg.ID,
		CustomerID: lg.CustomerID,
		Type:       domain.InstrReminder,
		Serial:     serial.Format(lg.BeneficiaryCode, lg.CategoryCode, lg.SequenceNumber, domain.InstrReminder, sub),
		GlobalSeq:  global,
		TypeSeq:    typeSeq,
		SubCode:    sub,
		Details:    details,
		Delta:      domain.CaptureDelta(&lg),
		ActorID:    actorID,
		IssuedAt:   now,
	}
	in.Details["serial"] = in.Serial

	e.render(ctx, in)
	return in, nil
}

// render fills in the printable letter. Best-effort: the audit trail
// and serial are the source of truth, the letter can be re-rendered.
func (e *Emitter) render(ctx context.Context, in *domain.LGInstruction) {
	letter, err := e.renderer.RenderLetter(ctx, templateFor(in.Type), in.Details)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"serial": in.Serial,
			"type":   in.Type,
		}).WithError(err).Error("letter render failed, instruction issued without letter")
		return
	}
	in.Letter = letter
}

func templateFor(t domain.InstructionType) string {
	return "instruction_" + string(t)
}
