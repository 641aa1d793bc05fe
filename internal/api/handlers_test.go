package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/davidahmann/creditgate/internal/auth"
	"github.com/davidahmann/creditgate/internal/workflow"
	"github.com/davidahmann/creditgate/pkg/types"
)

func TestHealthNeedsNoAuth(t *testing.T) {
	ts := newTestServer(t)
	res := ts.do(t, http.MethodGet, "/healthz", "", "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var body map[string]string
	decode(t, res, &body)
	if body["service"] != ServiceName || body["version"] != "test" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	ts := newTestServer(t)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/v1/customers"},
		{http.MethodPost, "/v1/workflows/REQ001/start"},
		{http.MethodGet, "/v1/workflows/REQ001/status"},
		{http.MethodGet, "/debug/metrics"},
	}
	for _, p := range paths {
		res := ts.do(t, p.method, p.path, "", "")
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", p.method, p.path, res.Code)
		}
	}
	res := ts.do(t, http.MethodGet, "/v1/customers", "wrong", "")
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.Code)
	}
}

func TestCreateAndGetRequest(t *testing.T) {
	ts := newTestServer(t)
	body := `{"customer_id":"CUST002","request_type":"LIMIT_INCREASE","requested_limit":150000000,"reason":"Expansion","requestor":{"name":"Asha","email":"asha@example.com"}}`
	res := ts.do(t, http.MethodPost, "/v1/requests", testToken, body)
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.Code, res.Body.String())
	}
	var created types.CreditRequest
	decode(t, res, &created)
	if !strings.HasPrefix(created.RequestID, "REQ-") {
		t.Fatalf("expected generated id, got %q", created.RequestID)
	}

	res = ts.do(t, http.MethodGet, "/v1/requests/"+created.RequestID, testToken, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var got types.CreditRequest
	decode(t, res, &got)
	if got.CustomerID != "CUST002" || got.RequestedLimit == nil || *got.RequestedLimit != 150_000_000 {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	ts := newTestServer(t)
	cases := map[string]struct {
		body string
		want int
	}{
		"invalid json":     {`{`, http.StatusBadRequest},
		"bad kind":         {`{"customer_id":"CUST001","request_type":"CLOSE","reason":"x","requestor":{"email":"a@b.co"}}`, http.StatusBadRequest},
		"negative limit":   {`{"customer_id":"CUST001","request_type":"LIMIT_INCREASE","requested_limit":-5,"reason":"x","requestor":{"email":"a@b.co"}}`, http.StatusBadRequest},
		"no limit":         {`{"customer_id":"CUST002","request_type":"LIMIT_INCREASE","reason":"x","requestor":{"email":"a@b.co"}}`, http.StatusCreated},
		"unknown customer": {`{"customer_id":"NOPE","request_type":"UNBLOCK","reason":"x","requestor":{"email":"a@b.co"}}`, http.StatusNotFound},
	}
	for name, tc := range cases {
		res := ts.do(t, http.MethodPost, "/v1/requests", testToken, tc.body)
		if res.Code != tc.want {
			t.Fatalf("%s: expected %d, got %d: %s", name, tc.want, res.Code, res.Body.String())
		}
	}
}

func TestCustomers(t *testing.T) {
	ts := newTestServer(t)
	res := ts.do(t, http.MethodGet, "/v1/customers", testToken, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var list struct {
		Customers []types.CustomerSnapshot `json:"customers"`
	}
	decode(t, res, &list)
	if len(list.Customers) != 3 || list.Customers[0].CustomerID != "CUST001" {
		t.Fatalf("unexpected customers: %+v", list.Customers)
	}

	res = ts.do(t, http.MethodGet, "/v1/customers/CUST003", testToken, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	res = ts.do(t, http.MethodGet, "/v1/customers/CUST999", testToken, "")
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestStartApproveAndSummarize(t *testing.T) {
	ts := newTestServer(t)

	res := ts.do(t, http.MethodPost, "/v1/workflows/REQ001/start", testToken, "")
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	var started map[string]string
	decode(t, res, &started)
	if started["status"] != string(types.RunRunning) || started["monitor_url"] != "/v1/workflows/REQ001/status" {
		t.Fatalf("unexpected start body: %v", started)
	}

	res = ts.do(t, http.MethodPost, "/v1/workflows/REQ001/start", testToken, "")
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second start, got %d", res.Code)
	}

	res = ts.do(t, http.MethodGet, "/v1/workflows/REQ001/summary", testToken, "")
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 before completion, got %d", res.Code)
	}
	var notReady map[string]string
	decode(t, res, &notReady)
	if notReady["status"] != string(types.RunRunning) {
		t.Fatalf("expected running status, got %v", notReady)
	}

	token, err := auth.IssueToken([]byte(testSecret), "priya", "priya@example.com", auth.RoleApprover, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	res = ts.do(t, http.MethodPost, "/v1/workflows/REQ001/approval", token, `{"decision":"APPROVE","comments":"Payment verified"}`)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}
	ts.service.Wait()

	res = ts.do(t, http.MethodGet, "/v1/workflows/REQ001/status", testToken, "")
	var run types.WorkflowRun
	decode(t, res, &run)
	if run.Status != types.RunCompleted || run.State != types.StateCompleted {
		t.Fatalf("unexpected run: %+v", run)
	}

	res = ts.do(t, http.MethodGet, "/v1/workflows/REQ001/summary", testToken, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var summary types.WorkflowSummary
	decode(t, res, &summary)
	if summary.FinalDecision != types.FinalApproved || summary.FinalBlocked {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	res = ts.do(t, http.MethodGet, "/v1/workflows/REQ001/events", testToken, "")
	var events struct {
		Events     []types.WorkflowEvent `json:"events"`
		ChainValid bool                  `json:"chain_valid"`
	}
	decode(t, res, &events)
	if len(events.Events) != 5 || !events.ChainValid {
		t.Fatalf("expected 5 chained events, got %d valid=%v", len(events.Events), events.ChainValid)
	}
	if got := events.Events[2].Payload["submitted_by"]; got != "priya@example.com" {
		t.Fatalf("expected approver email on decision, got %v", got)
	}

	res = ts.do(t, http.MethodGet, "/v1/workflows/REQ001/receipt", testToken, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var report workflow.ReceiptReport
	decode(t, res, &report)
	if !report.Verified || report.Grade.Grade != "A" {
		t.Fatalf("unexpected receipt report: %+v", report)
	}

	res = ts.do(t, http.MethodPost, "/v1/workflows/REQ001/approval", testToken, `{"decision":"REJECT","comments":"late"}`)
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 after the decision was consumed, got %d", res.Code)
	}
}

func TestApprovalRequiresApproverRole(t *testing.T) {
	ts := newTestServer(t)
	token, err := auth.IssueToken([]byte(testSecret), "viewer-1", "", auth.RoleViewer, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	res := ts.do(t, http.MethodPost, "/v1/workflows/REQ001/approval", token, `{"decision":"APPROVE"}`)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res.Code)
	}
	res = ts.do(t, http.MethodGet, "/v1/workflows/REQ001/status", token, "")
	if res.Code != http.StatusOK {
		t.Fatalf("viewer should read status, got %d", res.Code)
	}
}

func TestApprovalValidation(t *testing.T) {
	ts := newTestServer(t)
	res := ts.do(t, http.MethodPost, "/v1/workflows/REQ001/approval", testToken, `{"decision":"MAYBE"}`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	res = ts.do(t, http.MethodPost, "/v1/workflows/REQ001/approval", testToken, `not json`)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	res = ts.do(t, http.MethodPost, "/v1/workflows/NOPE/approval", testToken, `{"decision":"APPROVE"}`)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
	res = ts.do(t, http.MethodPost, "/v1/workflows/REQ001/approval", testToken, `{"decision":"APPROVE_WITH_CHANGES","comments":"unblock with weekly review"}`)
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for a change without a limit, got %d: %s", res.Code, res.Body.String())
	}
}

func TestUnknownWorkflow(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/v1/workflows/NOPE/status", "/v1/workflows/NOPE/summary", "/v1/workflows/NOPE/receipt", "/v1/requests/NOPE"} {
		res := ts.do(t, http.MethodGet, path, testToken, "")
		if res.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, res.Code)
		}
	}
	res := ts.do(t, http.MethodPost, "/v1/workflows/NOPE/start", testToken, "")
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on start, got %d", res.Code)
	}

	res = ts.do(t, http.MethodGet, "/v1/workflows/NOPE/events", testToken, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty events, got %d", res.Code)
	}
	var events struct {
		Events []types.WorkflowEvent `json:"events"`
	}
	decode(t, res, &events)
	if events.Events == nil || len(events.Events) != 0 {
		t.Fatalf("expected empty list, got %v", events.Events)
	}
}

func TestNotStartedStatus(t *testing.T) {
	ts := newTestServer(t)
	res := ts.do(t, http.MethodGet, "/v1/workflows/REQ001/status", testToken, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var run types.WorkflowRun
	decode(t, res, &run)
	if run.Status != types.RunNotStarted {
		t.Fatalf("expected not_started, got %s", run.Status)
	}
}

func TestQuickRunAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	res := ts.do(t, http.MethodPost, "/v1/demo/quick-run/limit-increase", testToken, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var summary types.WorkflowSummary
	decode(t, res, &summary)
	if summary.FinalCreditLimit != 150_000_000 {
		t.Fatalf("expected 150M limit, got %v", summary.FinalCreditLimit)
	}

	res = ts.do(t, http.MethodPost, "/v1/demo/quick-run/unknown", testToken, "")
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown scenario, got %d", res.Code)
	}

	res = ts.do(t, http.MethodGet, "/debug/metrics", testToken, "")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var metrics struct {
		Metrics []metricPoint `json:"metrics"`
	}
	decode(t, res, &metrics)
	var completed int64
	for _, p := range metrics.Metrics {
		if p.Name == "creditgate.runs.completed" {
			completed += p.Value
		}
	}
	if completed != 1 {
		t.Fatalf("expected one completed run, got %d", completed)
	}
}

func TestPendingApprovals(t *testing.T) {
	ts := newTestServer(t)
	res := ts.do(t, http.MethodPost, "/v1/workflows/REQ001/start", testToken, "")
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		res = ts.do(t, http.MethodGet, "/v1/approvals/pending", testToken, "")
		var body struct {
			Pending []string `json:"pending"`
		}
		decode(t, res, &body)
		if len(body.Pending) == 1 && body.Pending[0] == "REQ001" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("REQ001 never became pending: %v", body.Pending)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
