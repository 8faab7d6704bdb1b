// Package api is the HTTP surface: JSON handlers over the approval
// gate, the renewal engine and the store.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/lgops/internal/approval"
	"github.com/punchamoorthee/lgops/internal/collab"
	"github.com/punchamoorthee/lgops/internal/domain"
	"github.com/punchamoorthee/lgops/internal/renewal"
	"github.com/punchamoorthee/lgops/internal/scheduler"
	"github.com/punchamoorthee/lgops/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lgops_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lgops_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const dateLayout = "2006-01-02"

type Handler struct {
	store   store.Store
	gate    *approval.Gate
	renewal *renewal.Engine
	passes  *scheduler.Passes
	docs    collab.DocumentStore
	log     *logrus.Logger
}

func NewHandler(s store.Store, gate *approval.Gate, ren *renewal.Engine, passes *scheduler.Passes, docs collab.DocumentStore, log *logrus.Logger) *Handler {
	return &Handler{store: s, gate: gate, renewal: ren, passes: passes, docs: docs, log: log}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createLGRequest struct {
	LGNumber          string `json:"lg_number"`
	CustomerID        string `json:"customer_id"`
	BeneficiaryCode   string `json:"beneficiary_code"`
	BeneficiaryName   string `json:"beneficiary_name"`
	CategoryCode      string `json:"category_code"`
	LGType            string `json:"lg_type"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	IssuingBank       string `json:"issuing_bank"`
	CommunicationBank string `json:"communication_bank"`
	AutoRenewal       bool   `json:"auto_renewal"`
	IssueDate         string `json:"issue_date"`
	ExpiryDate        string `json:"expiry_date"`
	PeriodDays        int    `json:"period_days"`
	Conditions        string `json:"conditions"`
	Owner             struct {
		Email        string `json:"email"`
		Phone        string `json:"phone"`
		ManagerEmail string `json:"manager_email"`
	} `json:"owner"`
	ActorID string `json:"actor_id"`
}

func (h *Handler) CreateLG(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/lgs"))
	defer timer.ObserveDuration()

	var req createLGRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "POST", "/lgs")
		return
	}
	lg, err := h.buildLG(r, &req)
	if err != nil {
		h.respondError(w, "POST", "/lgs", err)
		return
	}
	if err := h.store.CreateLG(r.Context(), lg); err != nil {
		h.respondError(w, "POST", "/lgs", err)
		return
	}
	h.audit(r, req.ActorID, "LG_CREATED", lg.ID, lg.CustomerID, map[string]string{"lg_number": lg.LGNumber})

	httpRequestsTotal.WithLabelValues("POST", "/lgs", "201").Inc()
	w.Header().Set("Location", fmt.Sprintf("/api/v1/lgs/%s", lg.ID))
	respondWithJSON(w, http.StatusCreated, lg)
}

func (h *Handler) buildLG(r *http.Request, req *createLGRequest) (*domain.LGRecord, error) {
	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		return nil, domain.Validationf("customer_id must be a UUID")
	}
	if req.LGNumber == "" || req.BeneficiaryCode == "" || req.CategoryCode == "" {
		return nil, domain.Validationf("lg_number, beneficiary_code and category_code are required")
	}
	if req.Owner.Email == "" {
		return nil, domain.Validationf("owner.email is required")
	}
	lgType := domain.LGType(req.LGType)
	switch lgType {
	case domain.TypePerformance, domain.TypeAdvancePayment, domain.TypeBidBond, domain.TypeFinancial:
	default:
		return nil, domain.Validationf("unknown lg_type %q", req.LGType)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, domain.Validationf("amount must be a positive decimal")
	}
	issueDate, err := time.Parse(dateLayout, req.IssueDate)
	if err != nil {
		return nil, domain.Validationf("issue_date must be YYYY-MM-DD")
	}
	expiryDate, err := time.Parse(dateLayout, req.ExpiryDate)
	if err != nil {
		return nil, domain.Validationf("expiry_date must be YYYY-MM-DD")
	}
	if !expiryDate.After(issueDate) {
		return nil, domain.Validationf("expiry_date must be after issue_date")
	}

	contact, err := h.store.GetOrCreateContact(r.Context(), &domain.InternalOwnerContact{
		CustomerID:   customerID,
		Email:        req.Owner.Email,
		Phone:        req.Owner.Phone,
		ManagerEmail: req.Owner.ManagerEmail,
	})
	if err != nil {
		return nil, err
	}
	seq, err := h.store.NextBeneficiarySeq(r.Context(), customerID, req.BeneficiaryCode)
	if err != nil {
		return nil, err
	}

	opStatus := domain.OpOperative
	if lgType == domain.TypeAdvancePayment {
		opStatus = domain.OpNonOperative
	}
	return &domain.LGRecord{
		ID:                uuid.New(),
		LGNumber:          req.LGNumber,
		CustomerID:        customerID,
		BeneficiaryCode:   req.BeneficiaryCode,
		BeneficiaryName:   req.BeneficiaryName,
		CategoryCode:      req.CategoryCode,
		LGType:            lgType,
		Amount:            amount,
		Currency:          req.Currency,
		IssuingBank:       req.IssuingBank,
		CommunicationBank: req.CommunicationBank,
		Status:            domain.StatusValid,
		OperationalStatus: opStatus,
		AutoRenewal:       req.AutoRenewal,
		IssueDate:         issueDate,
		ExpiryDate:        expiryDate,
		PeriodDays:        req.PeriodDays,
		Conditions:        req.Conditions,
		OwnerContactID:    contact.ID,
		SequenceNumber:    seq,
	}, nil
}

func (h *Handler) GetLG(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, "GET", "/lgs/{id}", err)
		return
	}
	lg, err := h.store.GetLG(r.Context(), id)
	if err != nil {
		h.respondError(w, "GET", "/lgs/{id}", err)
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/lgs/{id}", "200").Inc()
	respondWithJSON(w, http.StatusOK, lg)
}

func (h *Handler) ListLGs(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(r.URL.Query().Get("customer_id"))
	if err != nil {
		h.respondError(w, "GET", "/lgs", domain.Validationf("customer_id query parameter must be a UUID"))
		return
	}
	lgs, err := h.store.ListLGs(r.Context(), customerID)
	if err != nil {
		h.respondError(w, "GET", "/lgs", err)
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/lgs", "200").Inc()
	respondWithJSON(w, http.StatusOK, lgs)
}

func (h *Handler) ListLGInstructions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, "GET", "/lgs/{id}/instructions", err)
		return
	}
	if _, err := h.store.GetLG(r.Context(), id); err != nil {
		h.respondError(w, "GET", "/lgs/{id}/instructions", err)
		return
	}
	ins, err := h.store.ListInstructions(r.Context(), id)
	if err != nil {
		h.respondError(w, "GET", "/lgs/{id}/instructions", err)
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/lgs/{id}/instructions", "200").Inc()
	respondWithJSON(w, http.StatusOK, ins)
}

type actionRequest struct {
	Action     json.RawMessage `json:"action"`
	MakerID    string          `json:"maker_id"`
	DocumentID *uuid.UUID      `json:"document_id,omitempty"`
}

// SubmitAction is the single entry point for every lifecycle action.
// 200 means the action executed immediately; 202 means it is parked as
// a Pending approval request.
func (h *Handler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/lgs/{id}/actions"))
	defer timer.ObserveDuration()

	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, "POST", "/lgs/{id}/actions", err)
		return
	}
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "POST", "/lgs/{id}/actions")
		return
	}
	if req.MakerID == "" {
		h.respondError(w, "POST", "/lgs/{id}/actions", domain.Validationf("maker_id is required"))
		return
	}
	payload, err := domain.DecodeAction(req.Action)
	if err != nil {
		h.respondError(w, "POST", "/lgs/{id}/actions", domain.Validationf("invalid action: %v", err))
		return
	}

	res, err := h.gate.Submit(r.Context(), approval.SubmitInput{
		LGID:       id,
		Payload:    payload,
		MakerID:    req.MakerID,
		DocumentID: req.DocumentID,
	})
	if err != nil {
		h.respondError(w, "POST", "/lgs/{id}/actions", err)
		return
	}
	if res.Executed() {
		httpRequestsTotal.WithLabelValues("POST", "/lgs/{id}/actions", "200").Inc()
		respondWithJSON(w, http.StatusOK, res)
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/lgs/{id}/actions", "202").Inc()
	respondWithJSON(w, http.StatusAccepted, res)
}

func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	var filter store.ApprovalFilter
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		cid, err := uuid.Parse(raw)
		if err != nil {
			h.respondError(w, "GET", "/approvals", domain.Validationf("customer_id query parameter must be a UUID"))
			return
		}
		filter.CustomerID = &cid
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.ApprovalStatus(raw)
		filter.Status = &status
	}
	reqs, err := h.store.ListApprovals(r.Context(), filter)
	if err != nil {
		h.respondError(w, "GET", "/approvals", err)
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/approvals", "200").Inc()
	respondWithJSON(w, http.StatusOK, reqs)
}

type decisionRequest struct {
	CheckerID string `json:"checker_id"`
	MakerID   string `json:"maker_id"`
	Reason    string `json:"reason"`
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decisionInput(w, r, "/approvals/{id}/approve")
	if !ok {
		return
	}
	if req.CheckerID == "" {
		h.respondError(w, "POST", "/approvals/{id}/approve", domain.Validationf("checker_id is required"))
		return
	}
	res, err := h.gate.Approve(r.Context(), id, req.CheckerID)
	if err != nil {
		h.respondError(w, "POST", "/approvals/{id}/approve", err)
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/approvals/{id}/approve", "200").Inc()
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decisionInput(w, r, "/approvals/{id}/reject")
	if !ok {
		return
	}
	if req.CheckerID == "" {
		h.respondError(w, "POST", "/approvals/{id}/reject", domain.Validationf("checker_id is required"))
		return
	}
	if err := h.gate.Reject(r.Context(), id, req.CheckerID, req.Reason); err != nil {
		h.respondError(w, "POST", "/approvals/{id}/reject", err)
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/approvals/{id}/reject", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (h *Handler) WithdrawRequest(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decisionInput(w, r, "/approvals/{id}/withdraw")
	if !ok {
		return
	}
	if req.MakerID == "" {
		h.respondError(w, "POST", "/approvals/{id}/withdraw", domain.Validationf("maker_id is required"))
		return
	}
	if err := h.gate.Withdraw(r.Context(), id, req.MakerID); err != nil {
		h.respondError(w, "POST", "/approvals/{id}/withdraw", err)
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/approvals/{id}/withdraw", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (h *Handler) decisionInput(w http.ResponseWriter, r *http.Request, endpoint string) (uuid.UUID, *decisionRequest, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, "POST", endpoint, err)
		return uuid.Nil, nil, false
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "POST", endpoint)
		return uuid.Nil, nil, false
	}
	return id, &req, true
}

type courierRequest struct {
	At string `json:"at"`
}

func (h *Handler) MarkPrinted(w http.ResponseWriter, r *http.Request) {
	h.instructionMark(w, r, "/instructions/{id}/printed", func(id uuid.UUID, _ time.Time) error {
		return h.store.MarkPrinted(r.Context(), id)
	})
}

func (h *Handler) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	h.instructionMark(w, r, "/instructions/{id}/delivered", func(id uuid.UUID, at time.Time) error {
		return h.store.MarkDelivered(r.Context(), id, at)
	})
}

func (h *Handler) MarkBankReply(w http.ResponseWriter, r *http.Request) {
	h.instructionMark(w, r, "/instructions/{id}/bank-reply", func(id uuid.UUID, at time.Time) error {
		return h.store.MarkBankReply(r.Context(), id, at)
	})
}

func (h *Handler) instructionMark(w http.ResponseWriter, r *http.Request, endpoint string, mark func(uuid.UUID, time.Time) error) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, "POST", endpoint, err)
		return
	}
	at := time.Now()
	var req courierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.At != "" {
		at, err = time.Parse(dateLayout, req.At)
		if err != nil {
			h.respondError(w, "POST", endpoint, domain.Validationf("at must be YYYY-MM-DD"))
			return
		}
	}
	if err := mark(id, at); err != nil {
		h.respondError(w, "POST", endpoint, err)
		return
	}
	httpRequestsTotal.WithLabelValues("POST", endpoint, "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetLetter serves the rendered letter bytes of one instruction.
func (h *Handler) GetLetter(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, "GET", "/instructions/{id}/letter", err)
		return
	}
	in, err := h.store.GetInstruction(r.Context(), id)
	if err != nil {
		h.respondError(w, "GET", "/instructions/{id}/letter", err)
		return
	}
	if len(in.Letter) == 0 {
		h.respondError(w, "GET", "/instructions/{id}/letter", domain.Preconditionf("instruction %s has no rendered letter", in.Serial))
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/instructions/{id}/letter", "200").Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(in.Letter)
}

// RunRenewals triggers the renewal batch for one customer on demand,
// outside the scheduler's cadence.
func (h *Handler) RunRenewals(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/customers/{id}/renewals/run"))
	defer timer.ObserveDuration()

	customerID, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, "POST", "/customers/{id}/renewals/run", err)
		return
	}
	res, err := h.renewal.RunAutoRenewal(r.Context(), customerID)
	if err != nil {
		h.respondError(w, "POST", "/customers/{id}/renewals/run", err)
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/customers/{id}/renewals/run", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"renewed":  res.Count,
		"artifact": string(res.Artifact),
	})
}

func (h *Handler) ListBankReminderCandidates(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, "GET", "/customers/{id}/bank-reminders", err)
		return
	}
	candidates, err := h.passes.BankReminderCandidates(r.Context(), customerID)
	if err != nil {
		h.respondError(w, "GET", "/customers/{id}/bank-reminders", err)
		return
	}
	httpRequestsTotal.WithLabelValues("GET", "/customers/{id}/bank-reminders", "200").Inc()
	respondWithJSON(w, http.StatusOK, candidates)
}

type bankReminderRequest struct {
	InstructionIDs []uuid.UUID `json:"instruction_ids"`
	ActorID        string      `json:"actor_id"`
}

func (h *Handler) GenerateBankReminders(w http.ResponseWriter, r *http.Request) {
	customerID, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, "POST", "/customers/{id}/bank-reminders/generate", err)
		return
	}
	var req bankReminderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondBadRequest(w, "POST", "/customers/{id}/bank-reminders/generate")
		return
	}
	if len(req.InstructionIDs) == 0 || req.ActorID == "" {
		h.respondError(w, "POST", "/customers/{id}/bank-reminders/generate", domain.Validationf("instruction_ids and actor_id are required"))
		return
	}
	res, err := h.renewal.GenerateBankReminders(r.Context(), customerID, req.InstructionIDs, req.ActorID)
	if err != nil {
		h.respondError(w, "POST", "/customers/{id}/bank-reminders/generate", err)
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/customers/{id}/bank-reminders/generate", "200").Inc()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"generated": res.Count,
		"artifact":  string(res.Artifact),
	})
}

const maxDocumentBytes = 10 << 20

// UploadDocument stores a supporting document and returns its id for
// use as document_id on a subsequent action submission.
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/documents"))
	defer timer.ObserveDuration()

	customerID, err := uuid.Parse(r.URL.Query().Get("customer_id"))
	if err != nil {
		h.respondError(w, "POST", "/documents", domain.Validationf("customer_id must be a UUID"))
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes+1))
	if err != nil || len(data) == 0 {
		h.respondError(w, "POST", "/documents", domain.Validationf("document body is required"))
		return
	}
	if len(data) > maxDocumentBytes {
		h.respondError(w, "POST", "/documents", domain.Validationf("document exceeds %d bytes", maxDocumentBytes))
		return
	}

	id, err := h.docs.CreateDocument(r.Context(), collab.DocumentMeta{
		CustomerID: customerID,
		FileName:   r.URL.Query().Get("file_name"),
		MimeType:   r.Header.Get("Content-Type"),
		UploadedBy: r.URL.Query().Get("actor_id"),
	}, data)
	if err != nil {
		h.respondError(w, "POST", "/documents", err)
		return
	}
	httpRequestsTotal.WithLabelValues("POST", "/documents", "201").Inc()
	respondWithJSON(w, http.StatusCreated, map[string]string{"document_id": id.String()})
}

func (h *Handler) audit(r *http.Request, actorID, action string, entityID, customerID uuid.UUID, details map[string]string) {
	err := h.store.LogAction(r.Context(), domain.AuditEntry{
		ActorID:    actorID,
		ActionType: action,
		EntityType: domain.EntityLG,
		EntityID:   entityID,
		CustomerID: customerID,
		Details:    details,
		At:         time.Now(),
	})
	if err != nil {
		h.log.WithError(err).Error("audit write failed")
	}
}

func pathID(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[key])
	if err != nil {
		return uuid.Nil, domain.Validationf("%s must be a UUID", key)
	}
	return id, nil
}

// respondError maps domain errors to HTTP status codes: validation 422,
// precondition and conflict 409, not-found 404, everything else 500.
func (h *Handler) respondError(w http.ResponseWriter, method, endpoint string, err error) {
	var code int
	switch {
	case errors.Is(err, domain.ErrLGNotFound),
		errors.Is(err, domain.ErrApprovalNotFound),
		errors.Is(err, domain.ErrInstructionNotFound),
		errors.Is(err, domain.ErrContactNotFound):
		code = http.StatusNotFound
	case errors.Is(err, store.ErrActionPending):
		code = http.StatusConflict
	case domain.IsValidation(err):
		code = http.StatusUnprocessableEntity
	case domain.IsPrecondition(err), domain.IsConflict(err):
		code = http.StatusConflict
	default:
		code = http.StatusInternalServerError
		h.log.WithFields(logrus.Fields{
			"method":   method,
			"endpoint": endpoint,
		}).WithError(err).Error("request failed")
	}
	httpRequestsTotal.WithLabelValues(method, endpoint, fmt.Sprintf("%d", code)).Inc()
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "Internal Server Error"
	}
	respondWithError(w, code, msg)
}

func (h *Handler) respondBadRequest(w http.ResponseWriter, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, "400").Inc()
	respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
