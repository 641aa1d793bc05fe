// Package sqlstore implements store.Store on database/sql. It speaks
// SQLite by default; pgstore reuses it with Postgres placeholders.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/creditgate/internal/store"
	"github.com/davidahmann/creditgate/pkg/types"
)

type Store struct {
	db     *sql.DB
	driver store.DBDriver
}

func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	// One connection keeps the pragma in force and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return NewWithDriver(db, store.DBSQLite)
}

func NewWithDriver(db *sql.DB, driver store.DBDriver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) q(query string) string {
	if s.driver == store.DBPostgres {
		return store.Rebind(query)
	}
	return query
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) PutRequest(ctx context.Context, req types.CreditRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO credit_requests(request_id, customer_id, request_type, body_json, created_at)
VALUES(?, ?, ?, ?, ?)
ON CONFLICT(request_id) DO NOTHING`), req.RequestID, req.CustomerID, string(req.Kind), string(body), store.FormatTime(req.CreatedAt))
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrExists)
}

func (s *Store) GetRequest(ctx context.Context, requestID string) (types.CreditRequest, error) {
	var body string
	row := s.db.QueryRowContext(ctx, s.q(`SELECT body_json FROM credit_requests WHERE request_id = ?`), requestID)
	if err := row.Scan(&body); err != nil {
		return types.CreditRequest{}, notFound(err)
	}
	var req types.CreditRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return types.CreditRequest{}, fmt.Errorf("decode request %s: %w", requestID, err)
	}
	return req, nil
}

func (s *Store) PutCustomer(ctx context.Context, snap types.CustomerSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO customers(customer_id, name, snapshot_json, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(customer_id) DO UPDATE SET name = excluded.name, snapshot_json = excluded.snapshot_json, updated_at = excluded.updated_at`),
		snap.CustomerID, snap.Name, string(body), store.FormatTime(time.Now()))
	return err
}

func (s *Store) GetCustomer(ctx context.Context, customerID string) (types.CustomerSnapshot, error) {
	var body string
	row := s.db.QueryRowContext(ctx, s.q(`SELECT snapshot_json FROM customers WHERE customer_id = ?`), customerID)
	if err := row.Scan(&body); err != nil {
		return types.CustomerSnapshot{}, notFound(err)
	}
	var snap types.CustomerSnapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return types.CustomerSnapshot{}, fmt.Errorf("decode customer %s: %w", customerID, err)
	}
	return snap, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]types.CustomerSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot_json FROM customers ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.CustomerSnapshot{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var snap types.CustomerSnapshot
		if err := json.Unmarshal([]byte(body), &snap); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// BeginRun is a single upsert guarded by status, so two processes racing
// on the same request cannot both win.
func (s *Store) BeginRun(ctx context.Context, requestID string, at time.Time) (types.WorkflowRun, error) {
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO workflow_runs(request_id, status, state, attempt, started_at, ended_at, failure_reason, result_json)
VALUES(?, 'running', 'Created', 1, ?, NULL, '', NULL)
ON CONFLICT(request_id) DO UPDATE SET
  status = 'running',
  state = 'Created',
  attempt = workflow_runs.attempt + 1,
  started_at = excluded.started_at,
  ended_at = NULL,
  failure_reason = '',
  result_json = NULL
WHERE workflow_runs.status <> 'running'`), requestID, store.FormatTime(at))
	if err != nil {
		return types.WorkflowRun{}, err
	}
	if err := expectAffected(res, store.ErrRunActive); err != nil {
		return types.WorkflowRun{}, err
	}
	return s.GetRun(ctx, requestID)
}

func (s *Store) UpdateRun(ctx context.Context, run types.WorkflowRun) error {
	var ended *string
	if run.EndedAt != nil {
		v := store.FormatTime(*run.EndedAt)
		ended = &v
	}
	var result *string
	if run.Result != nil {
		raw, err := json.Marshal(run.Result)
		if err != nil {
			return err
		}
		v := string(raw)
		result = &v
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE workflow_runs
SET status = ?, state = ?, attempt = ?, started_at = ?, ended_at = ?, failure_reason = ?, result_json = ?
WHERE request_id = ?`),
		string(run.Status), string(run.State), run.Attempt, store.FormatTime(run.StartedAt), ended, run.FailureReason, result, run.RequestID)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrNotFound)
}

func (s *Store) GetRun(ctx context.Context, requestID string) (types.WorkflowRun, error) {
	var (
		run           types.WorkflowRun
		status, state string
		started       string
		ended, result sql.NullString
	)
	row := s.db.QueryRowContext(ctx, s.q(`SELECT request_id, status, state, attempt, started_at, ended_at, failure_reason, result_json
FROM workflow_runs WHERE request_id = ?`), requestID)
	if err := row.Scan(&run.RequestID, &status, &state, &run.Attempt, &started, &ended, &run.FailureReason, &result); err != nil {
		return types.WorkflowRun{}, notFound(err)
	}
	run.Status = types.RunStatus(status)
	run.State = types.RunState(state)

	var err error
	if run.StartedAt, err = store.ParseTime(started); err != nil {
		return types.WorkflowRun{}, err
	}
	if ended.Valid {
		t, err := store.ParseTime(ended.String)
		if err != nil {
			return types.WorkflowRun{}, err
		}
		run.EndedAt = &t
	}
	if result.Valid {
		var summary types.WorkflowSummary
		if err := json.Unmarshal([]byte(result.String), &summary); err != nil {
			return types.WorkflowRun{}, fmt.Errorf("decode run result %s: %w", requestID, err)
		}
		run.Result = &summary
	}
	return run, nil
}

func (s *Store) AppendEvent(ctx context.Context, requestID string, ev types.WorkflowEvent) error {
	payload, err := store.EncodePayload(ev.Payload)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO workflow_events(request_id, seq, attempt, step, status, actor, ts, payload_json, prev_digest, digest)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(request_id, seq) DO NOTHING`),
		requestID, ev.Seq, ev.Attempt, string(ev.Stage), string(ev.Status), string(ev.Actor), store.FormatTime(ev.Timestamp), string(payload), ev.PrevDigest, ev.Digest)
	if err != nil {
		return err
	}
	return expectAffected(res, store.ErrExists)
}

const eventColumns = `seq, attempt, step, status, actor, ts, payload_json, prev_digest, digest`

func (s *Store) ListEvents(ctx context.Context, requestID string) ([]types.WorkflowEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+eventColumns+` FROM workflow_events WHERE request_id = ? ORDER BY seq ASC`), requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.WorkflowEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) LastEvent(ctx context.Context, requestID string) (types.WorkflowEvent, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+eventColumns+` FROM workflow_events WHERE request_id = ? ORDER BY seq DESC LIMIT 1`), requestID)
	ev, err := scanEvent(row)
	if err != nil {
		return types.WorkflowEvent{}, notFound(err)
	}
	return ev, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (types.WorkflowEvent, error) {
	var (
		ev                  types.WorkflowEvent
		step, status, actor string
		ts, payload         string
	)
	if err := sc.Scan(&ev.Seq, &ev.Attempt, &step, &status, &actor, &ts, &payload, &ev.PrevDigest, &ev.Digest); err != nil {
		return types.WorkflowEvent{}, err
	}
	ev.Stage = types.Stage(step)
	ev.Status = types.EventStatus(status)
	ev.Actor = types.Actor(actor)
	t, err := store.ParseTime(ts)
	if err != nil {
		return types.WorkflowEvent{}, err
	}
	ev.Timestamp = t
	if ev.Payload, err = store.DecodePayload([]byte(payload)); err != nil {
		return types.WorkflowEvent{}, err
	}
	return ev, nil
}

func (s *Store) PutDecision(ctx context.Context, rec store.DecisionRecord) error {
	body, err := json.Marshal(rec.Decision)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO approval_decisions(request_id, decision_json, consumed, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(request_id) DO UPDATE SET decision_json = excluded.decision_json, consumed = excluded.consumed, updated_at = excluded.updated_at`),
		rec.RequestID, string(body), rec.Consumed, store.FormatTime(rec.UpdatedAt))
	return err
}

func (s *Store) GetDecision(ctx context.Context, requestID string) (store.DecisionRecord, error) {
	var (
		rec           store.DecisionRecord
		body, updated string
	)
	row := s.db.QueryRowContext(ctx, s.q(`SELECT request_id, decision_json, consumed, updated_at FROM approval_decisions WHERE request_id = ?`), requestID)
	if err := row.Scan(&rec.RequestID, &body, &rec.Consumed, &updated); err != nil {
		return store.DecisionRecord{}, notFound(err)
	}
	if err := json.Unmarshal([]byte(body), &rec.Decision); err != nil {
		return store.DecisionRecord{}, fmt.Errorf("decode decision %s: %w", requestID, err)
	}
	t, err := store.ParseTime(updated)
	if err != nil {
		return store.DecisionRecord{}, err
	}
	rec.UpdatedAt = t
	return rec, nil
}

func (s *Store) DeleteDecision(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM approval_decisions WHERE request_id = ?`), requestID)
	return err
}

func (s *Store) PutReceipt(ctx context.Context, r types.Receipt) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO run_receipts(receipt_id, request_id, attempt, events_head, body_json, body_digest, key_id, sig, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(receipt_id) DO NOTHING`),
		r.ReceiptID, r.RequestID, r.Attempt, r.EventsHead, string(r.BodyJSON), r.BodyDigest, r.KeyID, r.Sig, r.CreatedAt)
	return err
}

func (s *Store) GetReceipt(ctx context.Context, requestID string) (types.Receipt, error) {
	var (
		r    types.Receipt
		body string
	)
	row := s.db.QueryRowContext(ctx, s.q(`SELECT receipt_id, request_id, attempt, events_head, body_json, body_digest, key_id, sig, created_at
FROM run_receipts WHERE request_id = ? ORDER BY attempt DESC LIMIT 1`), requestID)
	if err := row.Scan(&r.ReceiptID, &r.RequestID, &r.Attempt, &r.EventsHead, &body, &r.BodyDigest, &r.KeyID, &r.Sig, &r.CreatedAt); err != nil {
		return types.Receipt{}, notFound(err)
	}
	r.BodyJSON = []byte(body)
	return r, nil
}

func (s *Store) PutOutbox(ctx context.Context, rec store.OutboxRecord) error {
	var sent *string
	if rec.SentAt != nil {
		v := store.FormatTime(*rec.SentAt)
		sent = &v
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO notification_outbox(notification_id, request_id, recipient, subject, body, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(notification_id) DO UPDATE SET
  status = excluded.status,
  attempt_count = excluded.attempt_count,
  next_attempt_at = excluded.next_attempt_at,
  last_error = excluded.last_error,
  sent_at = excluded.sent_at,
  updated_at = excluded.updated_at`),
			rec.NotificationID, rec.RequestID, rec.Recipient, rec.Subject, rec.Body, rec.Status, rec.AttemptCount,
			store.FormatTime(rec.NextAttemptAt), rec.LastError, sent, store.FormatTime(rec.CreatedAt), store.FormatTime(rec.UpdatedAt))
		return err
	})
}

const outboxColumns = `notification_id, request_id, recipient, subject, body, status, attempt_count, next_attempt_at, last_error, sent_at, created_at, updated_at`

func (s *Store) GetOutbox(ctx context.Context, notificationID string) (store.OutboxRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+outboxColumns+` FROM notification_outbox WHERE notification_id = ?`), notificationID)
	rec, err := scanOutbox(row)
	if err != nil {
		return store.OutboxRecord{}, notFound(err)
	}
	return rec, nil
}

func (s *Store) ListOutboxDue(ctx context.Context, now time.Time, limit int) ([]store.OutboxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+outboxColumns+` FROM notification_outbox
WHERE status = 'pending' AND next_attempt_at <= ?
ORDER BY created_at ASC
LIMIT ?`), store.FormatTime(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.OutboxRecord{}
	for rows.Next() {
		rec, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanOutbox(sc scanner) (store.OutboxRecord, error) {
	var (
		rec                    store.OutboxRecord
		next, created, updated string
		sent                   sql.NullString
	)
	if err := sc.Scan(&rec.NotificationID, &rec.RequestID, &rec.Recipient, &rec.Subject, &rec.Body, &rec.Status, &rec.AttemptCount,
		&next, &rec.LastError, &sent, &created, &updated); err != nil {
		return store.OutboxRecord{}, err
	}
	var err error
	if rec.NextAttemptAt, err = store.ParseTime(next); err != nil {
		return store.OutboxRecord{}, err
	}
	if rec.CreatedAt, err = store.ParseTime(created); err != nil {
		return store.OutboxRecord{}, err
	}
	if rec.UpdatedAt, err = store.ParseTime(updated); err != nil {
		return store.OutboxRecord{}, err
	}
	if sent.Valid {
		t, err := store.ParseTime(sent.String)
		if err != nil {
			return store.OutboxRecord{}, err
		}
		rec.SentAt = &t
	}
	return rec, nil
}

func expectAffected(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
