// Package workflow runs credit requests through the five-stage pipeline:
// trigger, analysis, approval, ledger update and notification.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/davidahmann/creditgate/internal/approval"
	"github.com/davidahmann/creditgate/internal/audit"
	"github.com/davidahmann/creditgate/internal/eventlog"
	"github.com/davidahmann/creditgate/internal/gateway"
	"github.com/davidahmann/creditgate/internal/intake"
	"github.com/davidahmann/creditgate/internal/policy"
	"github.com/davidahmann/creditgate/internal/store"
	"github.com/davidahmann/creditgate/pkg/types"
)

var (
	// ErrNotFound is store.ErrNotFound so callers can match either.
	ErrNotFound        = store.ErrNotFound
	ErrAlreadyRunning  = errors.New("workflow already running")
	ErrExternalService = errors.New("external service error")
	ErrNotReady        = errors.New("workflow not ready")
)

// NotReadyError carries the run whose summary was asked for too early.
type NotReadyError struct {
	Run types.WorkflowRun
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: request %s is %s", ErrNotReady, e.Run.RequestID, e.Run.Status)
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }

type Deps struct {
	Store    store.Store
	Events   *eventlog.Log
	Policy   *policy.Engine
	Gate     *approval.Gate
	Ledger   gateway.Ledger
	Notifier gateway.Notifier

	// Signer is optional; without it no receipts are issued.
	Signer audit.Signer
	Meter  metric.Meter
	Logger *slog.Logger
	Now    func() time.Time
}

type Engine struct {
	deps    Deps
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics
}

func NewEngine(deps Deps) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("workflow: store is required")
	case deps.Policy == nil:
		return nil, fmt.Errorf("workflow: policy engine is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("workflow: approval gate is required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("workflow: ledger is required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("workflow: notifier is required")
	}
	if deps.Events == nil {
		deps.Events = eventlog.New(deps.Store)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m, err := newMetrics(deps.Meter)
	if err != nil {
		return nil, fmt.Errorf("workflow metrics: %w", err)
	}
	return &Engine{
		deps:    deps,
		logger:  logger.With("component", "workflow"),
		now:     deps.Now,
		metrics: m,
	}, nil
}

// Begin admits a new run for requestID. It is the only place a run is
// created and fails with ErrAlreadyRunning while another run is active.
func (e *Engine) Begin(ctx context.Context, requestID string) (types.WorkflowRun, error) {
	if _, err := e.deps.Store.GetRequest(ctx, requestID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.WorkflowRun{}, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
		}
		return types.WorkflowRun{}, err
	}
	run, err := e.deps.Store.BeginRun(ctx, requestID, e.now())
	if errors.Is(err, store.ErrRunActive) {
		return types.WorkflowRun{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, requestID)
	}
	if err != nil {
		return types.WorkflowRun{}, err
	}
	if err := e.deps.Gate.Reset(ctx, requestID); err != nil {
		return run, e.finishFailed(ctx, &run, fmt.Errorf("reset approval: %w", err))
	}
	e.metrics.started.Add(ctx, 1)
	e.logger.Info("run started", "request_id", requestID, "attempt", run.Attempt)
	return run, nil
}

// Execute begins a run and drives it to a terminal state.
func (e *Engine) Execute(ctx context.Context, requestID string) (types.WorkflowSummary, error) {
	run, err := e.Begin(ctx, requestID)
	if err != nil {
		return types.WorkflowSummary{}, err
	}
	return e.Run(ctx, run)
}

// execution holds what the stages of one run have produced so far.
type execution struct {
	run  types.WorkflowRun
	req  types.CreditRequest
	snap types.CustomerSnapshot
	rec  types.Recommendation
	dec  types.ApprovalDecision
	lo   ledgerOutcome
}

// Run drives a run returned by Begin through every stage. Only the approval
// wait observes ctx cancellation; gateway calls always run to completion.
func (e *Engine) Run(ctx context.Context, run types.WorkflowRun) (types.WorkflowSummary, error) {
	x := &execution{run: run}
	stages := []struct {
		stage types.Stage
		fn    func(context.Context, *execution) error
	}{
		{types.StageTrigger, e.trigger},
		{types.StageAnalysis, e.analyze},
		{types.StageApproval, e.approve},
		{types.StageLedgerUpdate, e.updateLedger},
		{types.StageNotification, e.notify},
	}
	for _, s := range stages {
		if err := s.fn(ctx, x); err != nil {
			var recorded *stageRecorded
			if errors.As(err, &recorded) {
				err = recorded.err
			} else {
				e.recordFailure(ctx, x, s.stage, err)
			}
			return types.WorkflowSummary{}, e.finishFailed(ctx, &x.run, err)
		}
		if err := e.advance(ctx, &x.run, StateAfter(s.stage)); err != nil {
			return types.WorkflowSummary{}, e.finishFailed(ctx, &x.run, err)
		}
	}
	return e.complete(ctx, x)
}

// stageRecorded marks an error whose REJECTED event the stage wrote itself.
type stageRecorded struct{ err error }

func (e *stageRecorded) Error() string { return e.err.Error() }
func (e *stageRecorded) Unwrap() error { return e.err }

func (e *Engine) trigger(ctx context.Context, x *execution) error {
	req, err := e.deps.Store.GetRequest(ctx, x.run.RequestID)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}
	x.req = req
	payload := map[string]any{
		"request_id":   req.RequestID,
		"customer_id":  req.CustomerID,
		"request_type": string(req.Kind),
		"requestor":    map[string]any{"name": req.Requestor.Name, "email": req.Requestor.Email},
		"reason":       req.Reason,
	}
	if req.RequestedLimit != nil {
		payload["requested_limit"] = *req.RequestedLimit
	}
	return e.emit(ctx, x, types.StageTrigger, types.EventCompleted, types.ActorHuman, payload)
}

func (e *Engine) analyze(ctx context.Context, x *execution) error {
	snap, err := e.deps.Store.GetCustomer(ctx, x.req.CustomerID)
	if err != nil {
		return fmt.Errorf("load customer %s: %w", x.req.CustomerID, err)
	}
	if err := intake.ValidateSnapshot(snap); err != nil {
		return err
	}
	x.snap = snap
	x.rec = e.deps.Policy.Recommend(ctx, x.req, snap)

	digest, err := audit.InputDigest(x.req, snap)
	if err != nil {
		return fmt.Errorf("digest analysis input: %w", err)
	}
	payload := map[string]any{
		"request_id":     x.req.RequestID,
		"recommendation": string(x.rec.Kind),
		"confidence":     x.rec.Confidence,
		"rationale":      x.rec.Rationale,
		"key_metrics":    x.rec.KeyMetrics,
		"risk_signals":   x.rec.RiskSignals,
		"matched_rule":   x.rec.MatchedRule,
		"policy_hash":    x.rec.PolicyHash,
		"input_digest":   digest,
	}
	if x.rec.RecommendedLimit != nil {
		payload["recommended_limit"] = *x.rec.RecommendedLimit
	}
	return e.emit(ctx, x, types.StageAnalysis, types.EventCompleted, types.ActorAI, payload)
}

func (e *Engine) approve(ctx context.Context, x *execution) error {
	if err := e.advance(ctx, &x.run, types.StateAwaitingApproval); err != nil {
		return err
	}
	e.logger.Info("awaiting approval", "request_id", x.req.RequestID, "recommendation", x.rec.Kind)
	d, err := e.deps.Gate.AwaitDecision(ctx, x.req.RequestID, x.rec)
	if err != nil {
		return err
	}
	x.dec = d
	payload := map[string]any{
		"request_id":    x.req.RequestID,
		"decision":      string(d.Decision),
		"comments":      d.Comments,
		"submitted_by":  d.SubmittedBy,
		"auto_approved": d.AutoApproved,
	}
	if d.ApprovedLimit != nil {
		payload["approved_limit"] = *d.ApprovedLimit
	}
	return e.emit(ctx, x, types.StageApproval, types.EventCompleted, types.ActorHuman, payload)
}

func (e *Engine) updateLedger(ctx context.Context, x *execution) error {
	ctx = gateway.WithRequestID(context.WithoutCancel(ctx), x.req.RequestID)
	payload := map[string]any{"request_id": x.req.RequestID}

	if !x.dec.Decision.Approved() {
		x.lo = ledgerOutcome{Action: "No action - request rejected"}
		payload["action_taken"] = x.lo.Action
		payload["ledger_called"] = false
		return e.emit(ctx, x, types.StageLedgerUpdate, types.EventCompleted, types.ActorLedger, payload)
	}

	var (
		res   gateway.LedgerResult
		err   error
		limit float64
	)
	switch x.req.Kind {
	case types.RequestUnblock:
		res, err = e.deps.Ledger.SetCreditBlock(ctx, x.req.CustomerID, false, "Approved by credit controller. "+x.dec.Comments)
	case types.RequestLimitIncrease:
		switch {
		case x.dec.ApprovedLimit != nil:
			limit = *x.dec.ApprovedLimit
		case x.rec.RecommendedLimit != nil:
			limit = *x.rec.RecommendedLimit
		case x.req.RequestedLimit != nil:
			limit = *x.req.RequestedLimit
		default:
			return fmt.Errorf("%w: no approved limit for %s", intake.ErrValidation, x.req.RequestID)
		}
		res, err = e.deps.Ledger.SetCreditLimit(ctx, x.req.CustomerID, limit, "Credit limit increase approved. "+x.dec.Comments)
	default:
		x.lo = ledgerOutcome{Action: fmt.Sprintf("%s requests are not applied to the ledger", x.req.Kind)}
		payload["action_taken"] = "No action - " + x.lo.Action
		payload["ledger_called"] = false
		return e.emit(ctx, x, types.StageLedgerUpdate, types.EventCompleted, types.ActorLedger, payload)
	}

	payload["ledger_called"] = true
	if err == nil && !res.Success {
		err = errors.New("ledger reported failure")
	}
	if err != nil {
		failure := fmt.Errorf("%w: ledger update for %s: %v", ErrExternalService, x.req.CustomerID, err)
		payload["success"] = false
		payload["error"] = err.Error()
		if res.ReferenceID != "" {
			payload["reference_id"] = res.ReferenceID
		}
		if emitErr := e.emit(ctx, x, types.StageLedgerUpdate, types.EventRejected, types.ActorLedger, payload); emitErr != nil {
			e.logger.Error("ledger failure event not recorded", "request_id", x.req.RequestID, "error", emitErr)
		}
		return &stageRecorded{err: failure}
	}

	x.lo = ledgerOutcome{Called: true, Action: res.ActionDescription, Result: res, Limit: limit}
	updated := x.snap
	switch x.req.Kind {
	case types.RequestUnblock:
		updated.CreditBlock = false
	case types.RequestLimitIncrease:
		updated.CurrentLimit = limit
	}
	if err := e.deps.Store.PutCustomer(ctx, updated); err != nil {
		return fmt.Errorf("update cached snapshot: %w", err)
	}

	payload["action_taken"] = res.ActionDescription
	payload["reference_id"] = res.ReferenceID
	payload["success"] = true
	return e.emit(ctx, x, types.StageLedgerUpdate, types.EventCompleted, types.ActorLedger, payload)
}

func (e *Engine) notify(ctx context.Context, x *execution) error {
	ctx = gateway.WithRequestID(context.WithoutCancel(ctx), x.req.RequestID)
	subject, body := notificationMessage(x.req, x.dec, x.lo)
	res, err := e.deps.Notifier.Send(ctx, x.req.Requestor.Email, subject, body)
	if err == nil && !res.Success {
		err = errors.New("notifier reported failure")
	}

	payload := map[string]any{
		"request_id":    x.req.RequestID,
		"email_sent_to": x.req.Requestor.Email,
		"subject":       subject,
	}
	if err != nil {
		e.logger.Warn("notification failed", "request_id", x.req.RequestID, "to", x.req.Requestor.Email, "error", err)
		payload["success"] = false
		payload["error"] = err.Error()
		return e.emit(ctx, x, types.StageNotification, types.EventRejected, types.ActorAI, payload)
	}
	payload["success"] = true
	payload["sent_at"] = res.Timestamp.UTC().Format(time.RFC3339Nano)
	return e.emit(ctx, x, types.StageNotification, types.EventCompleted, types.ActorAI, payload)
}

func (e *Engine) complete(ctx context.Context, x *execution) (types.WorkflowSummary, error) {
	ctx = context.WithoutCancel(ctx)
	events, err := e.deps.Events.List(ctx, x.run.RequestID)
	if err != nil {
		return types.WorkflowSummary{}, e.finishFailed(ctx, &x.run, fmt.Errorf("list events: %w", err))
	}
	summary := buildSummary(x.req, x.snap, x.rec, x.dec, x.lo, events)

	if e.deps.Signer != nil {
		if err := e.issueReceipt(ctx, x, summary, events); err != nil {
			return types.WorkflowSummary{}, e.finishFailed(ctx, &x.run, fmt.Errorf("issue receipt: %w", err))
		}
	}

	if err := checkTransition(x.run.State, types.StateCompleted); err != nil {
		return types.WorkflowSummary{}, e.finishFailed(ctx, &x.run, err)
	}
	ended := e.now().UTC()
	done := x.run
	done.State = types.StateCompleted
	done.Status = types.RunCompleted
	done.EndedAt = &ended
	done.Result = &summary
	if err := e.deps.Store.UpdateRun(ctx, done); err != nil {
		return types.WorkflowSummary{}, e.finishFailed(ctx, &x.run, fmt.Errorf("record completion: %w", err))
	}
	x.run = done
	e.metrics.completed.Add(ctx, 1)
	e.logger.Info("run completed", "request_id", x.run.RequestID, "final_decision", summary.FinalDecision)
	return summary, nil
}

func (e *Engine) issueReceipt(ctx context.Context, x *execution, summary types.WorkflowSummary, events []types.WorkflowEvent) error {
	if len(events) == 0 {
		return fmt.Errorf("no events to attest")
	}
	r, err := audit.MakeReceipt(audit.ReceiptInput{
		RequestID:      x.run.RequestID,
		Attempt:        x.run.Attempt,
		EventsHead:     events[len(events)-1].Digest,
		CreatedAt:      store.FormatTime(e.now()),
		RequestKind:    x.req.Kind,
		Recommendation: x.rec,
		Decision: types.ReceiptDecision{
			Decision:     x.dec.Decision,
			SubmittedBy:  x.dec.SubmittedBy,
			AutoApproved: x.dec.AutoApproved,
		},
		Outcome: types.ReceiptOutcome{
			FinalDecision:    summary.FinalDecision,
			FinalCreditLimit: summary.FinalCreditLimit,
			FinalBlocked:     summary.FinalBlocked,
			LedgerReference:  x.lo.Result.ReferenceID,
		},
	}, e.deps.Signer)
	if err != nil {
		return err
	}
	return e.deps.Store.PutReceipt(ctx, r)
}

func (e *Engine) emit(ctx context.Context, x *execution, stage types.Stage, status types.EventStatus, actor types.Actor, payload map[string]any) error {
	_, err := e.deps.Events.Append(context.WithoutCancel(ctx), x.run.RequestID, types.WorkflowEvent{
		Attempt:   x.run.Attempt,
		Stage:     stage,
		Status:    status,
		Timestamp: e.now(),
		Actor:     actor,
		Payload:   payload,
	})
	if err != nil {
		return err
	}
	e.metrics.stageEvent(ctx, stage, status)
	e.logger.Info("stage", "request_id", x.run.RequestID, "stage", stage, "status", status)
	return nil
}

func (e *Engine) advance(ctx context.Context, run *types.WorkflowRun, to types.RunState) error {
	if err := checkTransition(run.State, to); err != nil {
		return err
	}
	next := *run
	next.State = to
	if err := e.deps.Store.UpdateRun(context.WithoutCancel(ctx), next); err != nil {
		return fmt.Errorf("record state %s: %w", to, err)
	}
	*run = next
	return nil
}

// recordFailure writes a best-effort REJECTED event for the stage that
// failed.
func (e *Engine) recordFailure(ctx context.Context, x *execution, stage types.Stage, cause error) {
	actor := types.ActorAI
	switch stage {
	case types.StageTrigger, types.StageApproval:
		actor = types.ActorHuman
	case types.StageLedgerUpdate:
		actor = types.ActorLedger
	}
	payload := map[string]any{
		"request_id": x.run.RequestID,
		"success":    false,
		"error":      cause.Error(),
	}
	if err := e.emit(ctx, x, stage, types.EventRejected, actor, payload); err != nil {
		e.logger.Error("failure event not recorded", "request_id", x.run.RequestID, "stage", stage, "error", err)
	}
}

func (e *Engine) finishFailed(ctx context.Context, run *types.WorkflowRun, cause error) error {
	ctx = context.WithoutCancel(ctx)
	from := run.State
	ended := e.now().UTC()
	run.State = types.StateFailed
	run.Status = types.RunFailed
	run.EndedAt = &ended
	run.FailureReason = cause.Error()
	if err := e.deps.Store.UpdateRun(ctx, *run); err != nil {
		e.logger.Error("failed run not recorded", "request_id", run.RequestID, "error", err)
	}
	// A failed run leaves the request open for a fresh decision.
	if err := e.deps.Gate.Reset(ctx, run.RequestID); err != nil {
		e.logger.Error("approval not reset", "request_id", run.RequestID, "error", err)
	}
	e.metrics.failed.Add(ctx, 1)
	e.logger.Error("run failed", "request_id", run.RequestID, "state", from, "error", cause)
	return cause
}
