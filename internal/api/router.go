package api

import "net/http"

func NewRouter(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Health)

	mux.HandleFunc("POST /v1/requests", h.CreateRequest)
	mux.HandleFunc("GET /v1/requests/{id}", h.GetRequest)
	mux.HandleFunc("GET /v1/customers", h.ListCustomers)
	mux.HandleFunc("GET /v1/customers/{id}", h.GetCustomer)

	mux.HandleFunc("POST /v1/workflows/{id}/start", h.StartWorkflow)
	mux.HandleFunc("POST /v1/workflows/{id}/approval", h.SubmitApproval)
	mux.HandleFunc("GET /v1/workflows/{id}/status", h.GetStatus)
	mux.HandleFunc("GET /v1/workflows/{id}/events", h.GetEvents)
	mux.HandleFunc("GET /v1/workflows/{id}/summary", h.GetSummary)
	mux.HandleFunc("GET /v1/workflows/{id}/receipt", h.GetReceipt)
	mux.HandleFunc("GET /v1/approvals/pending", h.ListPending)

	mux.HandleFunc("POST /v1/demo/quick-run/{scenario}", h.QuickRun)
	mux.HandleFunc("GET /debug/metrics", h.DebugMetrics)
	return mux
}
