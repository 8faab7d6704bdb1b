package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every endpoint under /api/v1, plus /health and
// /metrics at the root.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()

	apiV1.HandleFunc("/lgs", h.CreateLG).Methods("POST")
	apiV1.HandleFunc("/lgs", h.ListLGs).Methods("GET")
	apiV1.HandleFunc("/lgs/{id}", h.GetLG).Methods("GET")
	apiV1.HandleFunc("/lgs/{id}/instructions", h.ListLGInstructions).Methods("GET")
	apiV1.HandleFunc("/lgs/{id}/actions", h.SubmitAction).Methods("POST")

	apiV1.HandleFunc("/documents", h.UploadDocument).Methods("POST")

	apiV1.HandleFunc("/approvals", h.ListApprovals).Methods("GET")
	apiV1.HandleFunc("/approvals/{id}/approve", h.ApproveRequest).Methods("POST")
	apiV1.HandleFunc("/approvals/{id}/reject", h.RejectRequest).Methods("POST")
	apiV1.HandleFunc("/approvals/{id}/withdraw", h.WithdrawRequest).Methods("POST")

	apiV1.HandleFunc("/instructions/{id}/printed", h.MarkPrinted).Methods("POST")
	apiV1.HandleFunc("/instructions/{id}/delivered", h.MarkDelivered).Methods("POST")
	apiV1.HandleFunc("/instructions/{id}/bank-reply", h.MarkBankReply).Methods("POST")
	apiV1.HandleFunc("/instructions/{id}/letter", h.GetLetter).Methods("GET")

	apiV1.HandleFunc("/customers/{id}/renewals/run", h.RunRenewals).Methods("POST")
	apiV1.HandleFunc("/customers/{id}/bank-reminders", h.ListBankReminderCandidates).Methods("GET")
	apiV1.HandleFunc("/customers/{id}/bank-reminders/generate", h.GenerateBankReminders).Methods("POST")

	return r
}
