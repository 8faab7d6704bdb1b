package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/lgops/internal/domain"
)

// Postgres is the production Store. Per-LG serialization uses
// SELECT ... FOR UPDATE on the lg_records row; the single-pending
// approval invariant rests on a partial unique index surfaced as
// SQLSTATE 23505.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Close() {
	s.pool.Close()
}

var _ Store = (*Postgres)(nil)

const lgColumns = `id, lg_number, customer_id, beneficiary_code, beneficiary_name,
	category_code, lg_type, amount::text, currency, issuing_bank, communication_bank,
	status, operational_status, auto_renewal, issue_date, expiry_date, period_days,
	conditions, owner_contact_id, sequence_number, reminder_tier, deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLG(row rowScanner) (*domain.LGRecord, error) {
	var lg domain.LGRecord
	var amount string
	err := row.Scan(&lg.ID, &lg.LGNumber, &lg.CustomerID, &lg.BeneficiaryCode, &lg.BeneficiaryName,
		&lg.CategoryCode, &lg.LGType, &amount, &lg.Currency, &lg.IssuingBank, &lg.CommunicationBank,
		&lg.Status, &lg.OperationalStatus, &lg.AutoRenewal, &lg.IssueDate, &lg.ExpiryDate, &lg.PeriodDays,
		&lg.Conditions, &lg.OwnerContactID, &lg.SequenceNumber, &lg.ReminderTier, &lg.Deleted,
		&lg.CreatedAt, &lg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	lg.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &lg, nil
}

func (s *Postgres) CreateLG(ctx context.Context, lg *domain.LGRecord) error {
	if lg.ID == uuid.Nil {
		lg.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lg_records (id, lg_number, customer_id, beneficiary_code, beneficiary_name,
			category_code, lg_type, amount, currency, issuing_bank, communication_bank,
			status, operational_status, auto_renewal, issue_date, expiry_date, period_days,
			conditions, owner_contact_id, sequence_number, reminder_tier, deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8::numeric,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		lg.ID, lg.LGNumber, lg.CustomerID, lg.BeneficiaryCode, lg.BeneficiaryName,
		lg.CategoryCode, lg.LGType, lg.Amount.String(), lg.Currency, lg.IssuingBank, lg.CommunicationBank,
		lg.Status, lg.OperationalStatus, lg.AutoRenewal, lg.IssueDate, lg.ExpiryDate, lg.PeriodDays,
		lg.Conditions, lg.OwnerContactID, lg.SequenceNumber, lg.ReminderTier, lg.Deleted,
		lg.CreatedAt, lg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert lg: %w", err)
	}
	return nil
}

func (s *Postgres) GetLG(ctx context.Context, id uuid.UUID) (*domain.LGRecord, error) {
	lg, err := scanLG(s.pool.QueryRow(ctx,
		`SELECT `+lgColumns+` FROM lg_records WHERE id = $1 AND NOT deleted`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLGNotFound
		}
		return nil, fmt.Errorf("get lg: %w", err)
	}
	return lg, nil
}

func (s *Postgres) ListLGs(ctx context.Context, customerID uuid.UUID) ([]domain.LGRecord, error) {
	return s.queryLGs(ctx,
		`SELECT `+lgColumns+` FROM lg_records WHERE customer_id = $1 AND NOT deleted ORDER BY lg_number`,
		customerID)
}

func (s *Postgres) ListLGsByOwner(ctx context.Context, ownerContactID uuid.UUID) ([]domain.LGRecord, error) {
	return s.queryLGs(ctx,
		`SELECT `+lgColumns+` FROM lg_records WHERE owner_contact_id = $1 AND NOT deleted ORDER BY lg_number`,
		ownerContactID)
}

func (s *Postgres) queryLGs(ctx context.Context, sql string, args ...any) ([]domain.LGRecord, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query lgs: %w", err)
	}
	defer rows.Close()

	var out []domain.LGRecord
	for rows.Next() {
		lg, err := scanLG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lg)
	}
	return out, rows.Err()
}

func (s *Postgres) ListCustomers(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT customer_id FROM lg_records WHERE NOT deleted`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Postgres) NextBeneficiarySeq(ctx context.Context, customerID uuid.UUID, beneficiaryCode string) (int, error) {
	var seq int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO beneficiary_sequences (customer_id, beneficiary_code, seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (customer_id, beneficiary_code) DO UPDATE SET seq = beneficiary_sequences.seq + 1
		RETURNING seq`,
		customerID, beneficiaryCode).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("allocate beneficiary seq: %w", err)
	}
	return seq, nil
}

// pgTx is the TxView over one locked lg_records row.
type pgTx struct {
	tx pgx.Tx
	lg domain.LGRecord
}

func (t *pgTx) LG() domain.LGRecord { return t.lg }

func (t *pgTx) Instructions(ctx context.Context) ([]domain.LGInstruction, error) {
	return queryInstructions(ctx, t.tx,
		`SELECT `+instructionColumns+` FROM lg_instructions WHERE lg_id = $1 ORDER BY global_seq`, t.lg.ID)
}

func (t *pgTx) NextSeq(ctx context.Context, typ domain.InstructionType) (int, int, error) {
	var global, typeSeq int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(global_seq), 0) + 1,
		       COALESCE(MAX(type_seq) FILTER (WHERE type = $2), 0) + 1
		FROM lg_instructions WHERE lg_id = $1`,
		t.lg.ID, typ).Scan(&global, &typeSeq)
	if err != nil {
		return 0, 0, fmt.Errorf("allocate serial counters: %w", err)
	}
	return global, typeSeq, nil
}

func (s *Postgres) ApplyAction(ctx context.Context, lgID uuid.UUID, fn ApplyFunc) (*ApplyResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// 1. Lock the LG row for the whole read-then-write.
	lg, err := scanLG(tx.QueryRow(ctx,
		`SELECT `+lgColumns+` FROM lg_records WHERE id = $1 AND NOT deleted FOR UPDATE`, lgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLGNotFound
		}
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}

	// 2. Compute the mutation against the live, locked state.
	res, err := fn(ctx, &pgTx{tx: tx, lg: *lg})
	if err != nil {
		return nil, err
	}

	// 3. Persist the updated record.
	u := res.LG
	_, err = tx.Exec(ctx, `
		UPDATE lg_records SET amount = $2::numeric, currency = $3, status = $4,
			operational_status = $5, expiry_date = $6, conditions = $7,
			owner_contact_id = $8, reminder_tier = $9, auto_renewal = $10, updated_at = $11
		WHERE id = $1`,
		u.ID, u.Amount.String(), u.Currency, u.Status,
		u.OperationalStatus, u.ExpiryDate, u.Conditions,
		u.OwnerContactID, u.ReminderTier, u.AutoRenewal, u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("lg update failed: %w", err)
	}

	// 4. Insert the instruction documenting the transition, if any.
	if res.Instruction != nil {
		if err := insertInstruction(ctx, tx, res.Instruction); err != nil {
			return nil, err
		}
	}

	// 5. Mark a cancelled instruction, if any.
	if res.CancelledInstructionID != nil {
		ct, err := tx.Exec(ctx,
			`UPDATE lg_instructions SET cancelled = TRUE, cancel_reason = $2 WHERE id = $1`,
			*res.CancelledInstructionID, res.CancelReason)
		if err != nil {
			return nil, fmt.Errorf("instruction cancel failed: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return nil, domain.ErrInstructionNotFound
		}
	}

	// 6. Resolve the triggering approval request in the same tx. If a
	// concurrent checker resolved it first, the whole tx rolls back and
	// the action does not execute a second time.
	if res.Approval != nil {
		if err := resolveApproval(ctx, tx, res.Approval); err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return res, nil
}

const instructionColumns = `id, lg_id, customer_id, type, serial, global_seq, type_seq, sub_code,
	details, delta, approval_request_id, actor_id, letter, is_printed, cancelled, cancel_reason,
	delivered_at, bank_reply_at, issued_at`

func insertInstruction(ctx context.Context, tx pgx.Tx, in *domain.LGInstruction) error {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	details, err := json.Marshal(in.Details)
	if err != nil {
		return fmt.Errorf("marshal instruction details: %w", err)
	}
	delta, err := json.Marshal(in.Delta)
	if err != nil {
		return fmt.Errorf("marshal instruction delta: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO lg_instructions (id, lg_id, customer_id, type, serial, global_seq, type_seq,
			sub_code, details, delta, approval_request_id, actor_id, letter, is_printed,
			cancelled, cancel_reason, delivered_at, bank_reply_at, issued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		in.ID, in.LGID, in.CustomerID, in.Type, in.Serial, in.GlobalSeq, in.TypeSeq,
		in.SubCode, details, delta, in.ApprovalRequestID, in.ActorID, in.Letter, in.IsPrinted,
		in.Cancelled, in.CancelReason, in.DeliveredAt, in.BankReplyAt, in.IssuedAt)
	if err != nil {
		return fmt.Errorf("instruction insert failed: %w", err)
	}
	return nil
}

func scanInstruction(row rowScanner) (*domain.LGInstruction, error) {
	var in domain.LGInstruction
	var details, delta []byte
	err := row.Scan(&in.ID, &in.LGID, &in.CustomerID, &in.Type, &in.Serial, &in.GlobalSeq, &in.TypeSeq,
		&in.SubCode, &details, &delta, &in.ApprovalRequestID, &in.ActorID, &in.Letter, &in.IsPrinted,
		&in.Cancelled, &in.CancelReason, &in.DeliveredAt, &in.BankReplyAt, &in.IssuedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(details, &in.Details); err != nil {
		return nil, fmt.Errorf("unmarshal instruction details: %w", err)
	}
	if err := json.Unmarshal(delta, &in.Delta); err != nil {
		return nil, fmt.Errorf("unmarshal instruction delta: %w", err)
	}
	return &in, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryInstructions(ctx context.Context, q querier, sql string, args ...any) ([]domain.LGInstruction, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query instructions: %w", err)
	}
	defer rows.Close()

	var out []domain.LGInstruction
	for rows.Next() {
		in, err := scanInstruction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func (s *Postgres) GetInstruction(ctx context.Context, id uuid.UUID) (*domain.LGInstruction, error) {
	in, err := scanInstruction(s.pool.QueryRow(ctx,
		`SELECT `+instructionColumns+` FROM lg_instructions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInstructionNotFound
		}
		return nil, fmt.Errorf("get instruction: %w", err)
	}
	return in, nil
}

func (s *Postgres) ListInstructions(ctx context.Context, lgID uuid.UUID) ([]domain.LGInstruction, error) {
	return queryInstructions(ctx, s.pool,
		`SELECT `+instructionColumns+` FROM lg_instructions WHERE lg_id = $1 ORDER BY global_seq`, lgID)
}

func (s *Postgres) MarkPrinted(ctx context.Context, id uuid.UUID) error {
	return s.execInstruction(ctx, `UPDATE lg_instructions SET is_printed = TRUE WHERE id = $1`, id)
}

func (s *Postgres) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.execInstruction(ctx, `UPDATE lg_instructions SET delivered_at = $2 WHERE id = $1`, id, at)
}

func (s *Postgres) MarkBankReply(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.execInstruction(ctx, `UPDATE lg_instructions SET bank_reply_at = $2 WHERE id = $1`, id, at)
}

func (s *Postgres) execInstruction(ctx context.Context, sql string, args ...any) error {
	ct, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("instruction update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInstructionNotFound
	}
	return nil
}

const approvalColumns = `id, customer_id, entity_type, entity_id, action, payload, snapshot,
	document_id, status, maker_id, checker_id, reason, follow_up, instruction_id, created_at, resolved_at`

func (s *Postgres) CreateApproval(ctx context.Context, r *domain.ApprovalRequest) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approval_requests (id, customer_id, entity_type, entity_id, action, payload,
			snapshot, document_id, status, maker_id, checker_id, reason, follow_up,
			instruction_id, created_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		r.ID, r.CustomerID, r.EntityType, r.EntityID, r.Action, []byte(r.Payload),
		[]byte(r.Snapshot), r.DocumentID, r.Status, r.MakerID, r.CheckerID, r.Reason, r.FollowUp,
		r.InstructionID, r.CreatedAt, r.ResolvedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActionPending
		}
		return fmt.Errorf("approval insert failed: %w", err)
	}
	return nil
}

func scanApproval(row rowScanner) (*domain.ApprovalRequest, error) {
	var r domain.ApprovalRequest
	var payload, snapshot []byte
	err := row.Scan(&r.ID, &r.CustomerID, &r.EntityType, &r.EntityID, &r.Action, &payload, &snapshot,
		&r.DocumentID, &r.Status, &r.MakerID, &r.CheckerID, &r.Reason, &r.FollowUp,
		&r.InstructionID, &r.CreatedAt, &r.ResolvedAt)
	if err != nil {
		return nil, err
	}
	r.Payload = payload
	r.Snapshot = snapshot
	return &r, nil
}

func (s *Postgres) GetApproval(ctx context.Context, id uuid.UUID) (*domain.ApprovalRequest, error) {
	r, err := scanApproval(s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrApprovalNotFound
		}
		return nil, fmt.Errorf("get approval: %w", err)
	}
	return r, nil
}

func (s *Postgres) PendingApproval(ctx context.Context, entityType string, entityID uuid.UUID) (*domain.ApprovalRequest, error) {
	r, err := scanApproval(s.pool.QueryRow(ctx,
		`SELECT `+approvalColumns+` FROM approval_requests
		 WHERE entity_type = $1 AND entity_id = $2 AND status = 'PENDING'`,
		entityType, entityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("pending approval lookup: %w", err)
	}
	return r, nil
}

type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// resolveApproval is the only write that moves a request out of
// Pending. The status guard makes resolution first-wins: a second
// checker's UPDATE matches zero rows.
func resolveApproval(ctx context.Context, ex executor, r *domain.ApprovalRequest) error {
	ct, err := ex.Exec(ctx, `
		UPDATE approval_requests SET status = $2, checker_id = $3, reason = $4, follow_up = $5,
			instruction_id = $6, resolved_at = $7
		WHERE id = $1 AND status = 'PENDING'`,
		r.ID, r.Status, r.CheckerID, r.Reason, r.FollowUp, r.InstructionID, r.ResolvedAt)
	if err != nil {
		return fmt.Errorf("approval resolve failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

func (s *Postgres) ResolveApproval(ctx context.Context, r *domain.ApprovalRequest) error {
	return resolveApproval(ctx, s.pool, r)
}

func (s *Postgres) UpdateApproval(ctx context.Context, r *domain.ApprovalRequest) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE approval_requests SET reason = $2, follow_up = $3
		WHERE id = $1`,
		r.ID, r.Reason, r.FollowUp)
	if err != nil {
		return fmt.Errorf("approval update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrApprovalNotFound
	}
	return nil
}

func (s *Postgres) ListApprovals(ctx context.Context, f ApprovalFilter) ([]domain.ApprovalRequest, error) {
	sql := `SELECT ` + approvalColumns + ` FROM approval_requests WHERE TRUE`
	args := []any{}
	if f.CustomerID != nil {
		args = append(args, *f.CustomerID)
		sql += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		sql += fmt.Sprintf(" AND status = $%d", len(args))
	}
	sql += " ORDER BY created_at"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []domain.ApprovalRequest
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Postgres) GetContact(ctx context.Context, id uuid.UUID) (*domain.InternalOwnerContact, error) {
	var c domain.InternalOwnerContact
	err := s.pool.QueryRow(ctx, `
		SELECT id, customer_id, email, phone, manager_email, created_at, updated_at
		FROM owner_contacts WHERE id = $1`, id).
		Scan(&c.ID, &c.CustomerID, &c.Email, &c.Phone, &c.ManagerEmail, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrContactNotFound
		}
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

func (s *Postgres) GetOrCreateContact(ctx context.Context, c *domain.InternalOwnerContact) (*domain.InternalOwnerContact, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	var out domain.InternalOwnerContact
	err := s.pool.QueryRow(ctx, `
		INSERT INTO owner_contacts (id, customer_id, email, phone, manager_email, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (customer_id, email) DO UPDATE SET email = owner_contacts.email
		RETURNING id, customer_id, email, phone, manager_email, created_at, updated_at`,
		c.ID, c.CustomerID, c.Email, c.Phone, c.ManagerEmail, c.CreatedAt).
		Scan(&out.ID, &out.CustomerID, &out.Email, &out.Phone, &out.ManagerEmail, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create contact: %w", err)
	}
	return &out, nil
}

func (s *Postgres) UpdateContact(ctx context.Context, c *domain.InternalOwnerContact) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE owner_contacts SET email = $2, phone = $3, manager_email = $4, updated_at = $5
		WHERE id = $1`,
		c.ID, c.Email, c.Phone, c.ManagerEmail, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("contact update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrContactNotFound
	}
	return nil
}

func (s *Postgres) LogAction(ctx context.Context, e domain.AuditEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_id, action_type, entity_type, entity_id, customer_id, details, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		e.ID, e.ActorID, e.ActionType, e.EntityType, e.EntityID, e.CustomerID, details, e.At)
	if err != nil {
		return fmt.Errorf("audit insert failed: %w", err)
	}
	return nil
}

func (s *Postgres) SeenSince(ctx context.Context, actionType string, entityID uuid.UUID, since time.Time) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM audit_log WHERE action_type = $1 AND entity_id = $2 AND at >= $3)`,
		actionType, entityID, since).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("audit lookup: %w", err)
	}
	return seen, nil
}
