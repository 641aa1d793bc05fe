package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davidahmann/creditgate/internal/gateway"
	"github.com/davidahmann/creditgate/internal/store"
)

type flakyMailer struct {
	calls int
	fail  int
	sent  []Message
}

func (m *flakyMailer) Send(_ context.Context, msg Message) error {
	m.calls++
	if m.calls <= m.fail {
		return errors.New("421 try again later")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func queue(t *testing.T, s store.Store, now time.Time) string {
	t.Helper()
	n := NewOutboxNotifier(s)
	n.Now = func() time.Time { return now }
	res, err := n.Send(gateway.WithRequestID(context.Background(), "REQ001"), "demo@company.com", "Credit Request REQ001 - APPROVED", "Your request was approved.")
	if err != nil || !res.Success {
		t.Fatalf("send: res=%+v err=%v", res, err)
	}
	due, err := s.ListOutboxDue(context.Background(), now, 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("due: %+v err=%v", due, err)
	}
	if due[0].RequestID != "REQ001" {
		t.Fatalf("expected request id on outbox row, got %q", due[0].RequestID)
	}
	return due[0].NotificationID
}

func TestProcessOutboxDue_RetryThenSuccess(t *testing.T) {
	s := store.NewInMemoryStore()
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	id := queue(t, s, now)

	mailer := &flakyMailer{fail: 1}
	if n, err := ProcessOutboxDue(context.Background(), s, mailer, now, 10); err != nil || n != 1 {
		t.Fatalf("process: n=%d err=%v", n, err)
	}

	afterFail, err := s.GetOutbox(context.Background(), id)
	if err != nil || afterFail.AttemptCount != 1 || afterFail.Status != store.OutboxPending || afterFail.LastError == nil {
		t.Fatalf("unexpected after fail: %+v err=%v", afterFail, err)
	}
	if !afterFail.NextAttemptAt.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("expected retry in 5s, got %v", afterFail.NextAttemptAt)
	}

	// Not yet due.
	if n, err := ProcessOutboxDue(context.Background(), s, mailer, now.Add(time.Second), 10); err != nil || n != 0 {
		t.Fatalf("early pass: n=%d err=%v", n, err)
	}

	later := now.Add(6 * time.Second)
	if n, err := ProcessOutboxDue(context.Background(), s, mailer, later, 10); err != nil || n != 1 {
		t.Fatalf("process2: n=%d err=%v", n, err)
	}

	final, err := s.GetOutbox(context.Background(), id)
	if err != nil || final.Status != store.OutboxSent || final.SentAt == nil {
		t.Fatalf("unexpected final: %+v err=%v", final, err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].To != "demo@company.com" {
		t.Fatalf("unexpected sent: %+v", mailer.sent)
	}
}

func TestProcessOutboxDue_NilMailer(t *testing.T) {
	s := store.NewInMemoryStore()
	if n, err := ProcessOutboxDue(context.Background(), s, nil, time.Now(), 10); err != nil || n != 0 {
		t.Fatalf("expected no-op, got n=%d err=%v", n, err)
	}
	if _, err := ProcessOutboxDue(context.Background(), nil, &flakyMailer{}, time.Now(), 10); err == nil {
		t.Fatalf("expected missing store error")
	}
}

func TestNextAttemptCapped(t *testing.T) {
	if got := nextAttempt(0); got != 5*time.Second {
		t.Fatalf("expected 5s, got %v", got)
	}
	if got := nextAttempt(1); got != 10*time.Second {
		t.Fatalf("expected 10s, got %v", got)
	}
	if got := nextAttempt(64); got != 5*time.Minute {
		t.Fatalf("expected cap 5m, got %v", got)
	}
}

func TestRunOutboxWorker(t *testing.T) {
	s := store.NewInMemoryStore()
	id := queue(t, s, time.Now().UTC().Add(-time.Second))

	mailer := &flakyMailer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		RunOutboxWorker(ctx, s, mailer, 5*time.Millisecond, nil)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rec, err := s.GetOutbox(context.Background(), id)
		if err == nil && rec.Status == store.OutboxSent {
			cancel()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker did not deliver in time")
}
