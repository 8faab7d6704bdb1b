package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/lgops/internal/collab"
	"github.com/punchamoorthee/lgops/internal/domain"
	"github.com/punchamoorthee/lgops/internal/lifecycle"
	"github.com/punchamoorthee/lgops/internal/renewal"
	"github.com/punchamoorthee/lgops/internal/store"
)

// Audit action types written by scheduler passes, also used as dedup
// keys by SeenSince.
const (
	auditLGExpired       = "LG_EXPIRED"
	auditOwnerReminder   = "RENEWAL_OWNER_REMINDER"
	auditBankReminder    = "BANK_REMINDER_NOTICE"
	auditApprovalExpired = "APPROVAL_EXPIRED"
)

// Passes holds the shared dependencies of every scheduled pass.
type Passes struct {
	Store   store.Store
	Cfg     collab.ConfigProvider
	Notify  collab.NotificationSender
	Renewal *renewal.Engine
	Clock   collab.Clock
	Log     *logrus.Logger
}

// Jobs bundles every pass at the given interval, in the order they
// should settle within one cycle: sweeps first, notifications after.
func (p *Passes) Jobs(every time.Duration) []Job {
	return []Job{
		{Name: "expiry_sweep", Every: every, Run: p.ExpirySweepPass},
		{Name: "auto_renewal", Every: every, Run: p.AutoRenewalPass},
		{Name: "renewal_reminder_user", Every: every, Run: p.RenewalReminderUserPass},
		{Name: "renewal_reminder_owner", Every: every, Run: p.RenewalReminderOwnerPass},
		{Name: "print_reminder", Every: every, Run: p.PrintReminderPass},
		{Name: "undelivered_report", Every: every, Run: p.UndeliveredReportPass},
		{Name: "bank_reminder", Every: every, Run: p.BankReminderPass},
		{Name: "stale_approval", Every: every, Run: p.StaleApprovalPass},
	}
}

// ExpirySweepPass moves past-expiry Valid LGs to Expired. Safe to rerun:
// an already-expired LG is left untouched.
func (p *Passes) ExpirySweepPass(ctx context.Context) error {
	now := p.Clock.Now()
	return p.eachCustomerLG(ctx, "expiry_sweep", func(lg domain.LGRecord) error {
		if _, ok := lifecycle.Expire(lg, now); !ok {
			return nil
		}
		expired := false
		_, err := p.Store.ApplyAction(ctx, lg.ID, func(ctx context.Context, tx store.TxView) (*store.ApplyResult, error) {
			updated, ok := lifecycle.Expire(tx.LG(), now)
			if !ok {
				return &store.ApplyResult{LG: tx.LG()}, nil
			}
			expired = true
			return &store.ApplyResult{LG: updated}, nil
		})
		if err != nil {
			return err
		}
		if !expired {
			// Another process expired it between the list and the lock.
			return nil
		}
		p.logAudit(ctx, domain.AuditEntry{
			ActorID:    domain.SystemActor,
			ActionType: auditLGExpired,
			EntityType: domain.EntityLG,
			EntityID:   lg.ID,
			CustomerID: lg.CustomerID,
			Details:    map[string]string{"lg_number": lg.LGNumber},
			At:         now,
		})
		return nil
	})
}

// AutoRenewalPass runs the renewal engine for every customer.
func (p *Passes) AutoRenewalPass(ctx context.Context) error {
	customers, err := p.Store.ListCustomers(ctx)
	if err != nil {
		return err
	}
	for _, cid := range customers {
		res, err := p.Renewal.RunAutoRenewal(ctx, cid)
		if err != nil {
			passFailures.WithLabelValues("auto_renewal").Inc()
			p.Log.WithField("customer_id", cid).WithError(err).Error("auto-renewal batch failed")
			continue
		}
		if res.Count > 0 {
			p.Log.WithFields(logrus.Fields{
				"customer_id": cid,
				"renewed":     res.Count,
			}).Info("auto-renewal batch complete")
		}
	}
	return nil
}

// RenewalReminderUserPass notifies the responsible owner contact as an
// LG approaches its renewal window. With user accounts out of scope,
// the contact's own email stands in for the user/admin recipients and
// the manager address (owner pass below) for the internal-owner
// escalation. The fired tier is persisted on the record under the row
// lock, so each tier fires once per window; extending the LG resets
// the tier.
func (p *Passes) RenewalReminderUserPass(ctx context.Context) error {
	now := p.Clock.Now()
	return p.eachCustomerLG(ctx, "renewal_reminder_user", func(lg domain.LGRecord) error {
		if lg.Status != domain.StatusValid {
			return nil
		}
		tier := p.reminderTierDue(ctx, &lg, now)
		if tier <= lg.ReminderTier {
			return nil
		}
		res, err := p.Store.ApplyAction(ctx, lg.ID, func(ctx context.Context, tx store.TxView) (*store.ApplyResult, error) {
			cur := tx.LG()
			due := p.reminderTierDue(ctx, &cur, now)
			if due <= cur.ReminderTier {
				return &store.ApplyResult{LG: cur}, nil
			}
			cur.ReminderTier = due
			return &store.ApplyResult{LG: cur}, nil
		})
		if err != nil {
			return err
		}
		if res.LG.ReminderTier == lg.ReminderTier {
			// Raced with an extension; the window restarted.
			return nil
		}
		contact, err := p.Store.GetContact(ctx, lg.OwnerContactID)
		if err != nil {
			return err
		}
		subject := fmt.Sprintf("LG %s expires in %d days", lg.LGNumber, lg.DaysToExpiry(now))
		p.send(ctx, []string{contact.Email}, nil, subject, map[string]string{
			"lg_number":   lg.LGNumber,
			"expiry_date": lg.ExpiryDate.Format("2006-01-02"),
			"tier":        fmt.Sprintf("%d", res.LG.ReminderTier),
		})
		return nil
	})
}

// RenewalReminderOwnerPass escalates the same approach-of-expiry signal
// to the contact's manager, once per window. The dedup key is the audit
// trail itself: a prior reminder inside the current window suppresses
// the next one, and an extension moves the window start forward, which
// clears the suppression.
func (p *Passes) RenewalReminderOwnerPass(ctx context.Context) error {
	now := p.Clock.Now()
	return p.eachCustomerLG(ctx, "renewal_reminder_owner", func(lg domain.LGRecord) error {
		if lg.Status != domain.StatusValid {
			return nil
		}
		threshold := p.firstReminderThreshold(ctx, &lg)
		if lg.DaysToExpiry(now) > threshold {
			return nil
		}
		windowStart := lg.ExpiryDate.AddDate(0, 0, -threshold)
		seen, err := p.Store.SeenSince(ctx, auditOwnerReminder, lg.ID, windowStart)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
		contact, err := p.Store.GetContact(ctx, lg.OwnerContactID)
		if err != nil {
			return err
		}
		subject := fmt.Sprintf("LG %s approaching expiry", lg.LGNumber)
		p.send(ctx, []string{contact.ManagerEmail}, []string{contact.Email}, subject, map[string]string{
			"lg_number":   lg.LGNumber,
			"expiry_date": lg.ExpiryDate.Format("2006-01-02"),
		})
		p.logAudit(ctx, domain.AuditEntry{
			ActorID:    domain.SystemActor,
			ActionType: auditOwnerReminder,
			EntityType: domain.EntityLG,
			EntityID:   lg.ID,
			CustomerID: lg.CustomerID,
			Details:    map[string]string{"lg_number": lg.LGNumber},
			At:         now,
		})
		return nil
	})
}

// PrintReminderPass chases approved instructions that still have not
// been printed. First the maker is reminded, then after the escalation
// threshold the checker is pulled in. Progress lives on the approval
// request, so a restart never re-sends a tier.
func (p *Passes) PrintReminderPass(ctx context.Context) error {
	now := p.Clock.Now()
	status := domain.ApprovalApproved
	reqs, err := p.Store.ListApprovals(ctx, store.ApprovalFilter{Status: &status})
	if err != nil {
		return err
	}
	for i := range reqs {
		req := &reqs[i]
		if req.InstructionID == nil || req.ResolvedAt == nil || req.FollowUp == domain.FollowUpEscalation {
			continue
		}
		in, err := p.Store.GetInstruction(ctx, *req.InstructionID)
		if err != nil {
			passFailures.WithLabelValues("print_reminder").Inc()
			p.Log.WithField("approval_id", req.ID).WithError(err).Error("print reminder skipped")
			continue
		}
		if !in.Type.RequiresPrint() || in.IsPrinted || in.Cancelled {
			continue
		}

		age := int(now.Sub(*req.ResolvedAt).Hours() / 24)
		remindDays := collab.Days(ctx, p.Cfg, req.CustomerID, collab.KeyPrintReminderDays, 2)
		escalateDays := collab.Days(ctx, p.Cfg, req.CustomerID, collab.KeyPrintEscalateDays, 5)

		var next domain.FollowUpState
		to := []string{req.MakerID}
		switch {
		case age >= escalateDays:
			next = domain.FollowUpEscalation
			if req.CheckerID != nil {
				to = append(to, *req.CheckerID)
			}
		case age >= remindDays && req.FollowUp == domain.FollowUpNone:
			next = domain.FollowUpReminder
		default:
			continue
		}

		subject := fmt.Sprintf("Instruction %s awaiting print", in.Serial)
		p.send(ctx, to, nil, subject, map[string]string{
			"serial":   in.Serial,
			"age_days": fmt.Sprintf("%d", age),
		})
		req.FollowUp = next
		if err := p.Store.UpdateApproval(ctx, req); err != nil {
			passFailures.WithLabelValues("print_reminder").Inc()
			p.Log.WithField("approval_id", req.ID).WithError(err).Error("follow-up state not persisted")
		}
	}
	return nil
}

// UndeliveredReportPass mails each owner contact a digest of printed
// instructions whose courier delivery has not been confirmed. Items
// younger than the minimum age are left alone; items past the maximum
// are presumed lost to history and dropped from the digest.
func (p *Passes) UndeliveredReportPass(ctx context.Context) error {
	now := p.Clock.Now()
	customers, err := p.Store.ListCustomers(ctx)
	if err != nil {
		return err
	}
	for _, cid := range customers {
		minDays := collab.Days(ctx, p.Cfg, cid, collab.KeyUndeliveredMinDays, 3)
		maxDays := collab.Days(ctx, p.Cfg, cid, collab.KeyUndeliveredMaxDays, 30)

		lgs, err := p.Store.ListLGs(ctx, cid)
		if err != nil {
			passFailures.WithLabelValues("undelivered_report").Inc()
			p.Log.WithField("customer_id", cid).WithError(err).Error("undelivered report skipped")
			continue
		}
		perOwner := make(map[uuid.UUID][]string)
		for _, lg := range lgs {
			ins, err := p.Store.ListInstructions(ctx, lg.ID)
			if err != nil {
				passFailures.WithLabelValues("undelivered_report").Inc()
				p.Log.WithField("lg_number", lg.LGNumber).WithError(err).Error("undelivered report skipped")
				continue
			}
			for _, in := range ins {
				if !in.Type.RequiresPrint() || !in.IsPrinted || in.Cancelled || in.DeliveredAt != nil {
					continue
				}
				age := int(now.Sub(in.IssuedAt).Hours() / 24)
				if age < minDays || age > maxDays {
					continue
				}
				perOwner[lg.OwnerContactID] = append(perOwner[lg.OwnerContactID], in.Serial)
			}
		}
		for ownerID, serials := range perOwner {
			contact, err := p.Store.GetContact(ctx, ownerID)
			if err != nil {
				passFailures.WithLabelValues("undelivered_report").Inc()
				p.Log.WithField("contact_id", ownerID).WithError(err).Error("undelivered report skipped")
				continue
			}
			p.send(ctx, []string{contact.Email}, nil, "Undelivered bank instructions", map[string]string{
				"serials": strings.Join(serials, ", "),
				"count":   fmt.Sprintf("%d", len(serials)),
			})
		}
	}
	return nil
}

// BankReminderCandidates lists delivered instructions the bank has not
// replied to after the customer's chase threshold. Shared with the API
// so the manual reminder-generation endpoint offers the same set this
// pass notifies about.
func (p *Passes) BankReminderCandidates(ctx context.Context, customerID uuid.UUID) ([]domain.LGInstruction, error) {
	now := p.Clock.Now()
	bankDays := collab.Days(ctx, p.Cfg, customerID, collab.KeyBankReminderDays, 10)

	lgs, err := p.Store.ListLGs(ctx, customerID)
	if err != nil {
		return nil, err
	}
	var out []domain.LGInstruction
	for _, lg := range lgs {
		ins, err := p.Store.ListInstructions(ctx, lg.ID)
		if err != nil {
			return nil, err
		}
		for _, in := range ins {
			if in.Cancelled || in.DeliveredAt == nil || in.BankReplyAt != nil {
				continue
			}
			if int(now.Sub(*in.DeliveredAt).Hours()/24) < bankDays {
				continue
			}
			out = append(out, in)
		}
	}
	return out, nil
}

// BankReminderPass notifies owner contacts about unanswered
// instructions, at most once per day per instruction. Generating the
// actual REM letters stays a human decision.
func (p *Passes) BankReminderPass(ctx context.Context) error {
	now := p.Clock.Now()
	customers, err := p.Store.ListCustomers(ctx)
	if err != nil {
		return err
	}
	for _, cid := range customers {
		candidates, err := p.BankReminderCandidates(ctx, cid)
		if err != nil {
			passFailures.WithLabelValues("bank_reminder").Inc()
			p.Log.WithField("customer_id", cid).WithError(err).Error("bank reminder pass skipped")
			continue
		}
		for _, in := range candidates {
			seen, err := p.Store.SeenSince(ctx, auditBankReminder, in.ID, now.Add(-24*time.Hour))
			if err != nil || seen {
				continue
			}
			lg, err := p.Store.GetLG(ctx, in.LGID)
			if err != nil {
				continue
			}
			contact, err := p.Store.GetContact(ctx, lg.OwnerContactID)
			if err != nil {
				continue
			}
			subject := fmt.Sprintf("No bank reply for instruction %s", in.Serial)
			p.send(ctx, []string{contact.Email}, nil, subject, map[string]string{
				"serial":       in.Serial,
				"delivered_at": in.DeliveredAt.Format("2006-01-02"),
			})
			p.logAudit(ctx, domain.AuditEntry{
				ActorID:    domain.SystemActor,
				ActionType: auditBankReminder,
				EntityType: "instruction",
				EntityID:   in.ID,
				CustomerID: in.CustomerID,
				Details:    map[string]string{"serial": in.Serial},
				At:         now,
			})
		}
	}
	return nil
}

// StaleApprovalPass expires Pending requests nobody actioned. The maker
// must resubmit; an expired request no longer blocks new submissions.
func (p *Passes) StaleApprovalPass(ctx context.Context) error {
	now := p.Clock.Now()
	status := domain.ApprovalPending
	reqs, err := p.Store.ListApprovals(ctx, store.ApprovalFilter{Status: &status})
	if err != nil {
		return err
	}
	for i := range reqs {
		req := &reqs[i]
		staleDays := collab.Days(ctx, p.Cfg, req.CustomerID, collab.KeyStaleApprovalDays, 30)
		if int(now.Sub(req.CreatedAt).Hours()/24) < staleDays {
			continue
		}
		req.Status = domain.ApprovalExpired
		req.Reason = "expired without checker action"
		resolved := now
		req.ResolvedAt = &resolved
		if err := p.Store.ResolveApproval(ctx, req); err != nil {
			if errors.Is(err, store.ErrAlreadyResolved) {
				// A checker got there between the list and the expiry.
				continue
			}
			passFailures.WithLabelValues("stale_approval").Inc()
			p.Log.WithField("approval_id", req.ID).WithError(err).Error("stale approval not expired")
			continue
		}
		p.send(ctx, []string{req.MakerID}, nil,
			fmt.Sprintf("Approval request for %s expired", req.Action),
			map[string]string{"approval_id": req.ID.String()})
		p.logAudit(ctx, domain.AuditEntry{
			ActorID:    domain.SystemActor,
			ActionType: auditApprovalExpired,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			CustomerID: req.CustomerID,
			Details:    map[string]string{"action": string(req.Action)},
			At:         now,
		})
	}
	return nil
}

// reminderTierDue maps days-to-expiry onto the highest reminder tier
// that should have fired by now. Thresholds sit ahead of the renewal
// window so users hear about an upcoming renewal before it happens.
func (p *Passes) reminderTierDue(ctx context.Context, lg *domain.LGRecord, now time.Time) int {
	base := p.renewBaseDays(ctx, lg)
	first := collab.Days(ctx, p.Cfg, lg.CustomerID, collab.KeyRenewFirstOffset, 7)
	second := collab.Days(ctx, p.Cfg, lg.CustomerID, collab.KeyRenewSecondOffset, 3)
	d := lg.DaysToExpiry(now)
	switch {
	case d <= base+second:
		return domain.ReminderSecond
	case d <= base+first:
		return domain.ReminderFirst
	}
	return domain.ReminderNone
}

func (p *Passes) firstReminderThreshold(ctx context.Context, lg *domain.LGRecord) int {
	return p.renewBaseDays(ctx, lg) + collab.Days(ctx, p.Cfg, lg.CustomerID, collab.KeyRenewFirstOffset, 7)
}

func (p *Passes) renewBaseDays(ctx context.Context, lg *domain.LGRecord) int {
	if lg.AutoRenewal {
		return collab.Days(ctx, p.Cfg, lg.CustomerID, collab.KeyAutoRenewDays, 30)
	}
	return collab.Days(ctx, p.Cfg, lg.CustomerID, collab.KeyForcedRenewDays, 15)
}

// eachCustomerLG applies fn to every LG of every customer, isolating
// per-item failures.
func (p *Passes) eachCustomerLG(ctx context.Context, pass string, fn func(lg domain.LGRecord) error) error {
	customers, err := p.Store.ListCustomers(ctx)
	if err != nil {
		return err
	}
	for _, cid := range customers {
		lgs, err := p.Store.ListLGs(ctx, cid)
		if err != nil {
			passFailures.WithLabelValues(pass).Inc()
			p.Log.WithField("customer_id", cid).WithError(err).Error("customer skipped")
			continue
		}
		for _, lg := range lgs {
			if err := fn(lg); err != nil {
				passFailures.WithLabelValues(pass).Inc()
				p.Log.WithFields(logrus.Fields{
					"pass":      pass,
					"lg_number": lg.LGNumber,
				}).WithError(err).Error("item skipped")
			}
		}
	}
	return nil
}

// Audit writes are best effort outside the row lock.
func (p *Passes) logAudit(ctx context.Context, e domain.AuditEntry) {
	if err := p.Store.LogAction(ctx, e); err != nil {
		p.Log.WithField("action", e.ActionType).WithError(err).Warn("audit entry not written")
	}
}

func (p *Passes) send(ctx context.Context, to, cc []string, subject string, data map[string]string) {
	if !p.Notify.Send(ctx, to, cc, subject, subject, data) {
		p.Log.WithField("subject", subject).Warn("notification not delivered")
	}
}
