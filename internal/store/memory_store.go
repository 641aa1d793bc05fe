package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/davidahmann/creditgate/pkg/types"
)

type InMemoryStore struct {
	mu sync.Mutex

	requests  map[string]types.CreditRequest
	customers map[string]types.CustomerSnapshot
	runs      map[string]types.WorkflowRun
	events    map[string][]types.WorkflowEvent
	decisions map[string]DecisionRecord
	receipts  map[string][]types.Receipt
	outbox    map[string]OutboxRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests:  make(map[string]types.CreditRequest),
		customers: make(map[string]types.CustomerSnapshot),
		runs:      make(map[string]types.WorkflowRun),
		events:    make(map[string][]types.WorkflowEvent),
		decisions: make(map[string]DecisionRecord),
		receipts:  make(map[string][]types.Receipt),
		outbox:    make(map[string]OutboxRecord),
	}
}

func (s *InMemoryStore) PutRequest(_ context.Context, req types.CreditRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.RequestID]; ok {
		return ErrExists
	}
	s.requests[req.RequestID] = cloneRequest(req)
	return nil
}

func (s *InMemoryStore) GetRequest(_ context.Context, requestID string) (types.CreditRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return types.CreditRequest{}, ErrNotFound
	}
	return cloneRequest(req), nil
}

func (s *InMemoryStore) PutCustomer(_ context.Context, snap types.CustomerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[snap.CustomerID] = snap
	return nil
}

func (s *InMemoryStore) GetCustomer(_ context.Context, customerID string) (types.CustomerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.customers[customerID]
	if !ok {
		return types.CustomerSnapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *InMemoryStore) ListCustomers(_ context.Context) ([]types.CustomerSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.CustomerSnapshot, 0, len(s.customers))
	for _, snap := range s.customers {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func (s *InMemoryStore) BeginRun(_ context.Context, requestID string, at time.Time) (types.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, exists := s.runs[requestID]
	if exists && prev.Status == types.RunRunning {
		return types.WorkflowRun{}, ErrRunActive
	}
	run := types.WorkflowRun{
		RequestID: requestID,
		Status:    types.RunRunning,
		State:     types.StateCreated,
		Attempt:   prev.Attempt + 1,
		StartedAt: at.UTC(),
	}
	s.runs[requestID] = run
	return run, nil
}

func (s *InMemoryStore) UpdateRun(_ context.Context, run types.WorkflowRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RequestID]; !ok {
		return ErrNotFound
	}
	s.runs[run.RequestID] = run
	return nil
}

func (s *InMemoryStore) GetRun(_ context.Context, requestID string) (types.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[requestID]
	if !ok {
		return types.WorkflowRun{}, ErrNotFound
	}
	return run, nil
}

func (s *InMemoryStore) AppendEvent(_ context.Context, requestID string, ev types.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.events[requestID]
	if n := len(list); n > 0 && list[n-1].Seq >= ev.Seq {
		return ErrExists
	}
	s.events[requestID] = append(list, ev)
	return nil
}

func (s *InMemoryStore) ListEvents(_ context.Context, requestID string) ([]types.WorkflowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.events[requestID]
	out := make([]types.WorkflowEvent, len(list))
	copy(out, list)
	return out, nil
}

func (s *InMemoryStore) LastEvent(_ context.Context, requestID string) (types.WorkflowEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.events[requestID]
	if len(list) == 0 {
		return types.WorkflowEvent{}, ErrNotFound
	}
	return list[len(list)-1], nil
}

func (s *InMemoryStore) PutDecision(_ context.Context, rec DecisionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[rec.RequestID] = rec
	return nil
}

func (s *InMemoryStore) GetDecision(_ context.Context, requestID string) (DecisionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.decisions[requestID]
	if !ok {
		return DecisionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) DeleteDecision(_ context.Context, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.decisions, requestID)
	return nil
}

func (s *InMemoryStore) PutReceipt(_ context.Context, receipt types.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.receipts[receipt.RequestID] {
		if r.ReceiptID == receipt.ReceiptID {
			return nil
		}
	}
	s.receipts[receipt.RequestID] = append(s.receipts[receipt.RequestID], receipt)
	return nil
}

// GetReceipt returns the receipt of the latest attempt.
func (s *InMemoryStore) GetReceipt(_ context.Context, requestID string) (types.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.receipts[requestID]
	if len(list) == 0 {
		return types.Receipt{}, ErrNotFound
	}
	latest := list[0]
	for _, r := range list[1:] {
		if r.Attempt > latest.Attempt {
			latest = r
		}
	}
	return latest, nil
}

func (s *InMemoryStore) PutOutbox(_ context.Context, rec OutboxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox[rec.NotificationID] = rec
	return nil
}

func (s *InMemoryStore) GetOutbox(_ context.Context, notificationID string) (OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.outbox[notificationID]
	if !ok {
		return OutboxRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) ListOutboxDue(_ context.Context, now time.Time, limit int) ([]OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []OutboxRecord{}
	for _, rec := range s.outbox {
		if rec.Status != OutboxPending || rec.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRequest(req types.CreditRequest) types.CreditRequest {
	if req.RequestedLimit != nil {
		v := *req.RequestedLimit
		req.RequestedLimit = &v
	}
	return req
}
