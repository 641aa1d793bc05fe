// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/davidahmann/creditgate/internal/store"
	"github.com/davidahmann/creditgate/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store from newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Requests", func(t *testing.T) { testRequests(t, newStore(t)) })
	t.Run("Customers", func(t *testing.T) { testCustomers(t, newStore(t)) })
	t.Run("Runs", func(t *testing.T) { testRuns(t, newStore(t)) })
	t.Run("ConcurrentBeginRun", func(t *testing.T) { testConcurrentBeginRun(t, newStore(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("Decisions", func(t *testing.T) { testDecisions(t, newStore(t)) })
	t.Run("Receipts", func(t *testing.T) { testReceipts(t, newStore(t)) })
	t.Run("Outbox", func(t *testing.T) { testOutbox(t, newStore(t)) })
	t.Run("SeedDemo", func(t *testing.T) { testSeedDemo(t, newStore(t)) })
}

var base = time.Date(2025, 1, 15, 9, 30, 0, 123456789, time.UTC)

func seedRequest(t *testing.T, s store.Store, id string) types.CreditRequest {
	t.Helper()
	limit := 150_000_000.0
	req := types.CreditRequest{
		RequestID:      id,
		CustomerID:     "CUST002",
		Kind:           types.RequestLimitIncrease,
		RequestedLimit: &limit,
		Reason:         "Expanding business relationship.",
		Requestor:      types.Requestor{Name: "Demo User", Email: "demo@company.com"},
		CreatedAt:      base,
	}
	require.NoError(t, s.PutRequest(context.Background(), req))
	return req
}

func testRequests(t *testing.T, s store.Store) {
	ctx := context.Background()
	req := seedRequest(t, s, "REQ-1")

	got, err := s.GetRequest(ctx, "REQ-1")
	require.NoError(t, err)
	assert.Equal(t, req.Kind, got.Kind)
	require.NotNil(t, got.RequestedLimit)
	assert.Equal(t, *req.RequestedLimit, *got.RequestedLimit)
	assert.True(t, req.CreatedAt.Equal(got.CreatedAt))

	assert.ErrorIs(t, s.PutRequest(ctx, req), store.ErrExists)
	_, err = s.GetRequest(ctx, "REQ-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testCustomers(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, snap := range store.DemoCustomers() {
		require.NoError(t, s.PutCustomer(ctx, snap))
	}
	got, err := s.GetCustomer(ctx, "CUST003")
	require.NoError(t, err)
	assert.Equal(t, store.DemoCustomers()[2], got)

	updated := got
	updated.CreditBlock = false
	require.NoError(t, s.PutCustomer(ctx, updated))
	got, err = s.GetCustomer(ctx, "CUST003")
	require.NoError(t, err)
	assert.False(t, got.CreditBlock)

	list, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "CUST001", list[0].CustomerID)
	assert.Equal(t, "CUST003", list[2].CustomerID)

	_, err = s.GetCustomer(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRuns(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedRequest(t, s, "REQ-1")

	_, err := s.GetRun(ctx, "REQ-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	run, err := s.BeginRun(ctx, "REQ-1", base)
	require.NoError(t, err)
	assert.Equal(t, types.RunRunning, run.Status)
	assert.Equal(t, types.StateCreated, run.State)
	assert.Equal(t, 1, run.Attempt)

	_, err = s.BeginRun(ctx, "REQ-1", base)
	assert.ErrorIs(t, err, store.ErrRunActive)

	ended := base.Add(time.Minute)
	run.Status = types.RunCompleted
	run.State = types.StateCompleted
	run.EndedAt = &ended
	run.Result = &types.WorkflowSummary{RequestID: "REQ-1", FinalDecision: types.FinalApproved, FinalCreditLimit: 130_000_000}
	require.NoError(t, s.UpdateRun(ctx, run))

	got, err := s.GetRun(ctx, "REQ-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.True(t, ended.Equal(*got.EndedAt))
	require.NotNil(t, got.Result)
	assert.Equal(t, 130_000_000.0, got.Result.FinalCreditLimit)

	again, err := s.BeginRun(ctx, "REQ-1", ended)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Attempt)
	assert.Nil(t, again.EndedAt)
	assert.Nil(t, again.Result)

	assert.ErrorIs(t, s.UpdateRun(ctx, types.WorkflowRun{RequestID: "REQ-none", StartedAt: base}), store.ErrNotFound)
}

func testConcurrentBeginRun(t *testing.T, s store.Store) {
	ctx := context.Background()
	seedRequest(t, s, "REQ-1")

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		active  int
		unknown []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.BeginRun(ctx, "REQ-1", base)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case err == store.ErrRunActive:
				active++
			default:
				unknown = append(unknown, err)
			}
		}()
	}
	wg.Wait()
	require.Empty(t, unknown)
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, active)
}

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()

	events, err := s.ListEvents(ctx, "REQ-1")
	require.NoError(t, err)
	assert.Empty(t, events)
	_, err = s.LastEvent(ctx, "REQ-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	payload, err := store.NormalizePayload(map[string]any{"confidence": 0.7, "signals": []string{"High overdue: 31.5%"}})
	require.NoError(t, err)
	for i, st := range []types.Stage{types.StageTrigger, types.StageAnalysis} {
		require.NoError(t, s.AppendEvent(ctx, "REQ-1", types.WorkflowEvent{
			Seq:       int64(i + 1),
			Attempt:   1,
			Stage:     st,
			Status:    types.EventCompleted,
			Actor:     types.ActorAI,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Payload:   payload,
			Digest:    "sha256:" + string(st),
		}))
	}
	assert.ErrorIs(t, s.AppendEvent(ctx, "REQ-1", types.WorkflowEvent{Seq: 2, Timestamp: base, Digest: "x"}), store.ErrExists)

	events, err = s.ListEvents(ctx, "REQ-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.StageTrigger, events[0].Stage)
	assert.True(t, base.Equal(events[0].Timestamp))
	assert.Equal(t, json.Number("0.7"), events[1].Payload["confidence"])

	last, err := s.LastEvent(ctx, "REQ-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), last.Seq)
	assert.Equal(t, "sha256:ANALYSIS", last.Digest)
}

func testDecisions(t *testing.T, s store.Store) {
	ctx := context.Background()
	limit := 60_000_000.0

	_, err := s.GetDecision(ctx, "REQ-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec := store.DecisionRecord{
		RequestID: "REQ-1",
		Decision: types.ApprovalDecision{
			Decision:      types.DecisionApproveWithChanges,
			ApprovedLimit: &limit,
			Comments:      "trimmed",
			SubmittedBy:   "approver@company.com",
			SubmittedAt:   base,
		},
		UpdatedAt: base,
	}
	require.NoError(t, s.PutDecision(ctx, rec))

	rec.Consumed = true
	require.NoError(t, s.PutDecision(ctx, rec))
	got, err := s.GetDecision(ctx, "REQ-1")
	require.NoError(t, err)
	assert.True(t, got.Consumed)
	assert.Equal(t, types.DecisionApproveWithChanges, got.Decision.Decision)
	require.NotNil(t, got.Decision.ApprovedLimit)
	assert.Equal(t, limit, *got.Decision.ApprovedLimit)

	require.NoError(t, s.DeleteDecision(ctx, "REQ-1"))
	_, err = s.GetDecision(ctx, "REQ-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testReceipts(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, err := s.GetReceipt(ctx, "REQ-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	for attempt := 1; attempt <= 2; attempt++ {
		require.NoError(t, s.PutReceipt(ctx, types.Receipt{
			ReceiptID:  "sha256:r" + string(rune('0'+attempt)),
			RequestID:  "REQ-1",
			Attempt:    attempt,
			EventsHead: "sha256:head",
			BodyJSON:   []byte(`{"attempt":1}`),
			BodyDigest: "sha256:r",
			KeyID:      "k1",
			Sig:        []byte{0x01, 0x02},
			CreatedAt:  base.Format(time.RFC3339),
		}))
	}
	got, err := s.GetReceipt(ctx, "REQ-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, []byte{0x01, 0x02}, got.Sig)
	assert.Equal(t, `{"attempt":1}`, string(got.BodyJSON))
}

func testOutbox(t *testing.T, s store.Store) {
	ctx := context.Background()
	mk := func(id string, created time.Time, next time.Time, status string) store.OutboxRecord {
		return store.OutboxRecord{
			NotificationID: id,
			RequestID:      "REQ-1",
			Recipient:      "demo@company.com",
			Subject:        "Credit Request REQ-1 - APPROVED",
			Body:           "body",
			Status:         status,
			NextAttemptAt:  next,
			CreatedAt:      created,
			UpdatedAt:      created,
		}
	}
	require.NoError(t, s.PutOutbox(ctx, mk("n2", base.Add(time.Second), base, store.OutboxPending)))
	require.NoError(t, s.PutOutbox(ctx, mk("n1", base, base, store.OutboxPending)))
	require.NoError(t, s.PutOutbox(ctx, mk("n3", base, base.Add(time.Hour), store.OutboxPending)))
	require.NoError(t, s.PutOutbox(ctx, mk("n4", base, base, store.OutboxSent)))

	due, err := s.ListOutboxDue(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "n1", due[0].NotificationID)
	assert.Equal(t, "n2", due[1].NotificationID)

	limited, err := s.ListOutboxDue(ctx, base.Add(time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	rec := due[0]
	msg := "smtp down"
	sent := base.Add(2 * time.Minute)
	rec.AttemptCount = 2
	rec.LastError = &msg
	rec.Status = store.OutboxSent
	rec.SentAt = &sent
	require.NoError(t, s.PutOutbox(ctx, rec))

	got, err := s.GetOutbox(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, store.OutboxSent, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, msg, *got.LastError)
	require.NotNil(t, got.SentAt)
	assert.True(t, sent.Equal(*got.SentAt))

	_, err = s.GetOutbox(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testSeedDemo(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, store.SeedDemo(ctx, s, base))
	require.NoError(t, store.SeedDemo(ctx, s, base.Add(time.Hour)))

	req, err := s.GetRequest(ctx, "REQ001")
	require.NoError(t, err)
	assert.Equal(t, types.RequestUnblock, req.Kind)
	assert.True(t, base.Equal(req.CreatedAt))

	list, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
