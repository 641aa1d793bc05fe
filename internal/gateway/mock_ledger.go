package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.English)

// LedgerCall records one mutation seen by MockLedger.
type LedgerCall struct {
	Op         string
	CustomerID string
	Limit      float64
	Blocked    bool
	Reason     string
}

// MockLedger stands in for the ERP credit master. It keeps the last value
// written per customer and hands out SAP-style references.
type MockLedger struct {
	Currency string
	Now      func() time.Time

	mu     sync.Mutex
	calls  []LedgerCall
	limits map[string]float64
	blocks map[string]bool
	fail   error
}

func NewMockLedger() *MockLedger {
	return &MockLedger{
		Currency: "INR",
		Now:      time.Now,
		limits:   map[string]float64{},
		blocks:   map[string]bool{},
	}
}

// FailWith makes every following call return err. A nil err restores
// normal behaviour.
func (m *MockLedger) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MockLedger) SetCreditLimit(ctx context.Context, customerID string, newLimit float64, reason string) (LedgerResult, error) {
	if err := ctx.Err(); err != nil {
		return LedgerResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, LedgerCall{Op: "limit", CustomerID: customerID, Limit: newLimit, Reason: reason})
	if m.fail != nil {
		return LedgerResult{}, m.fail
	}
	m.limits[customerID] = newLimit
	return LedgerResult{
		Success:           true,
		ReferenceID:       "SAP-LIM-" + shortRef(),
		ActionDescription: amountPrinter.Sprintf("Credit limit updated to %.2f %s. Reason: %s", newLimit, m.Currency, reason),
		Timestamp:         m.Now().UTC(),
	}, nil
}

func (m *MockLedger) SetCreditBlock(ctx context.Context, customerID string, blocked bool, reason string) (LedgerResult, error) {
	if err := ctx.Err(); err != nil {
		return LedgerResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, LedgerCall{Op: "block", CustomerID: customerID, Blocked: blocked, Reason: reason})
	if m.fail != nil {
		return LedgerResult{}, m.fail
	}
	m.blocks[customerID] = blocked
	verb := "released"
	if blocked {
		verb = "activated"
	}
	return LedgerResult{
		Success:           true,
		ReferenceID:       "SAP-BLK-" + shortRef(),
		ActionDescription: fmt.Sprintf("Credit block %s. Reason: %s", verb, reason),
		Timestamp:         m.Now().UTC(),
	}, nil
}

// Calls returns a copy of every call made so far.
func (m *MockLedger) Calls() []LedgerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LedgerCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Limit reports the last limit written for customerID.
func (m *MockLedger) Limit(customerID string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.limits[customerID]
	return v, ok
}

// Blocked reports the last block flag written for customerID.
func (m *MockLedger) Blocked(customerID string) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.blocks[customerID]
	return v, ok
}

func shortRef() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
