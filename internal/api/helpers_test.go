package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/davidahmann/creditgate/internal/approval"
	"github.com/davidahmann/creditgate/internal/audit"
	"github.com/davidahmann/creditgate/internal/auth"
	"github.com/davidahmann/creditgate/internal/gateway"
	"github.com/davidahmann/creditgate/internal/policy"
	"github.com/davidahmann/creditgate/internal/store"
	"github.com/davidahmann/creditgate/internal/workflow"
)

const (
	testToken  = "test-token"
	testSecret = "jwt-secret"
)

type testServer struct {
	router  http.Handler
	service *workflow.Service
	ledger  *gateway.MockLedger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := store.NewInMemoryStore()
	if err := store.SeedDemo(ctx, s, time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	signer, err := audit.NewSignerFromSeed("api-test", bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	ledger := gateway.NewMockLedger()
	engine, err := workflow.NewEngine(workflow.Deps{
		Store:    s,
		Policy:   policy.NewEngine(policy.Default(), nil, logger),
		Gate:     approval.NewGate(s, approval.Config{OnTimeout: approval.OnTimeoutAutoApprove}, logger),
		Ledger:   ledger,
		Notifier: gateway.NewLogNotifier(logger),
		Signer:   signer,
		Meter:    provider.Meter("api-test"),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	svc := workflow.NewService(engine)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })

	h := &Handler{
		Service: svc,
		Auth:    auth.NewAuthenticator(testToken, testSecret),
		Metrics: reader,
		Logger:  logger,
		Version: "test",
	}
	return &testServer{router: NewRouter(h), service: svc, ledger: ledger}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	ts.router.ServeHTTP(res, req)
	return res
}

func decode(t *testing.T, res *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(res.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", res.Body.String(), err)
	}
}
