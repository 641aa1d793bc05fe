package workflow

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/davidahmann/creditgate/internal/audit"
	"github.com/davidahmann/creditgate/internal/eventlog"
	"github.com/davidahmann/creditgate/internal/intake"
	"github.com/davidahmann/creditgate/internal/store"
	"github.com/davidahmann/creditgate/pkg/types"
)

// Service is the operation surface used by the HTTP API and the CLI.
type Service struct {
	engine *Engine
	intake *intake.Service
	logger *slog.Logger

	runCtx    context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup
}

func NewService(engine *Engine) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	in := intake.NewService(engine.deps.Store, engine.deps.Logger)
	in.Now = engine.now
	return &Service{
		engine:    engine,
		intake:    in,
		logger:    engine.logger,
		runCtx:    ctx,
		cancelAll: cancel,
	}
}

func (s *Service) Engine() *Engine { return s.engine }

// StartWorkflow admits a run synchronously and drives it in the background.
// The background run does not inherit ctx; Shutdown cancels it.
func (s *Service) StartWorkflow(ctx context.Context, requestID string) (types.WorkflowRun, error) {
	run, err := s.engine.Begin(ctx, requestID)
	if err != nil {
		return types.WorkflowRun{}, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.engine.Run(s.runCtx, run); err != nil {
			s.logger.Warn("background run ended with error", "request_id", requestID, "error", err)
		}
	}()
	return run, nil
}

// RunWorkflow executes a run to completion on the caller's goroutine.
func (s *Service) RunWorkflow(ctx context.Context, requestID string) (types.WorkflowSummary, error) {
	return s.engine.Execute(ctx, requestID)
}

// Wait blocks until every background run has ended.
func (s *Service) Wait() { s.wg.Wait() }

// Shutdown cancels background runs still waiting for approval and waits for
// all of them, or for ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancelAll()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) SubmitApproval(ctx context.Context, requestID string, d types.ApprovalDecision) error {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return err
	}
	return s.engine.deps.Gate.SubmitDecision(ctx, requestID, d)
}

// GetStatus returns the current run. A known request that was never started
// reports RunNotStarted.
func (s *Service) GetStatus(ctx context.Context, requestID string) (types.WorkflowRun, error) {
	run, err := s.engine.deps.Store.GetRun(ctx, requestID)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.WorkflowRun{}, err
	}
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return types.WorkflowRun{}, err
	}
	return types.WorkflowRun{RequestID: requestID, Status: types.RunNotStarted, State: types.StateCreated}, nil
}

// GetEvents returns the latest attempt's events; unknown ids yield an empty
// list.
func (s *Service) GetEvents(ctx context.Context, requestID string) ([]types.WorkflowEvent, error) {
	return s.engine.deps.Events.List(ctx, requestID)
}

// GetHistory returns the events of every attempt.
func (s *Service) GetHistory(ctx context.Context, requestID string) ([]types.WorkflowEvent, error) {
	return s.engine.deps.Events.History(ctx, requestID)
}

func (s *Service) GetSummary(ctx context.Context, requestID string) (types.WorkflowSummary, error) {
	run, err := s.GetStatus(ctx, requestID)
	if err != nil {
		return types.WorkflowSummary{}, err
	}
	if run.Status != types.RunCompleted || run.Result == nil {
		return types.WorkflowSummary{}, &NotReadyError{Run: run}
	}
	return *run.Result, nil
}

func (s *Service) VerifyEvents(ctx context.Context, requestID string) error {
	return s.engine.deps.Events.Verify(ctx, requestID)
}

// ReceiptReport is a stored receipt with its verification and audit grade.
type ReceiptReport struct {
	Receipt     types.Receipt     `json:"receipt"`
	Verified    bool              `json:"verified"`
	VerifyError string            `json:"verify_error,omitempty"`
	Grade       audit.GradeResult `json:"grade"`
}

type publicKeyer interface {
	Public() ed25519.PublicKey
}

func (s *Service) GetReceipt(ctx context.Context, requestID string) (ReceiptReport, error) {
	r, err := s.engine.deps.Store.GetReceipt(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ReceiptReport{}, fmt.Errorf("%w: receipt for %s", ErrNotFound, requestID)
		}
		return ReceiptReport{}, err
	}
	report := ReceiptReport{Receipt: r}

	if pk, ok := s.engine.deps.Signer.(publicKeyer); ok && s.engine.deps.Signer.KeyID() == r.KeyID {
		if err := audit.VerifyReceipt(r, pk.Public()); err != nil {
			report.VerifyError = err.Error()
		} else {
			report.Verified = true
		}
	} else {
		report.VerifyError = "no public key for " + r.KeyID
	}

	chainErr := s.VerifyEvents(ctx, requestID)
	if chainErr != nil && !errors.Is(chainErr, eventlog.ErrChainBroken) {
		return ReceiptReport{}, chainErr
	}
	summary, err := s.GetSummary(ctx, requestID)
	if err != nil {
		return ReceiptReport{}, err
	}
	report.Grade = audit.Grade(summary, chainErr == nil)
	return report, nil
}

func (s *Service) CreateRequest(ctx context.Context, req types.CreditRequest) (types.CreditRequest, error) {
	return s.intake.Create(ctx, req)
}

func (s *Service) GetRequest(ctx context.Context, requestID string) (types.CreditRequest, error) {
	req, err := s.engine.deps.Store.GetRequest(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return types.CreditRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	return req, err
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (types.CustomerSnapshot, error) {
	snap, err := s.engine.deps.Store.GetCustomer(ctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return types.CustomerSnapshot{}, fmt.Errorf("%w: customer %s", ErrNotFound, customerID)
	}
	return snap, err
}

func (s *Service) ListCustomers(ctx context.Context) ([]types.CustomerSnapshot, error) {
	return s.engine.deps.Store.ListCustomers(ctx)
}

// PendingApprovals lists requests whose runs are waiting for a decision.
func (s *Service) PendingApprovals() []string {
	return s.engine.deps.Gate.Pending()
}
