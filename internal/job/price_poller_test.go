package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"
)

var testTracer = trace.NewNoopTracerProvider().Tracer("test")

func TestNewPricePollerInterval(t *testing.T) {
	poller := NewPricePoller(testTracer, &stubPriceService{}, 2*time.Second)
	if poller.pollInterval != 2*time.Second {
		t.Fatalf("expected 2s interval, got %v", poller.pollInterval)
	}
	if NewPricePoller(testTracer, &stubPriceService{}, 0).pollInterval != time.Minute {
		t.Fatal("expected default interval of 1m")
	}
}

func TestPricePollerStart(t *testing.T) {
	t.Parallel()

	stub := &stubPriceService{symbols: []string{"BTC"}}
	poller := NewPricePoller(testTracer, stub, time.Second)
	poller.staggerDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go poller.Start(ctx)

	eventually(t, func() bool {
		prices, indicators, ohlc := stub.counts()
		return prices > 0 && indicators > 0 && ohlc > 0
	})
}

func TestFetchIndicatorBatch(t *testing.T) {
	stub := &stubPriceService{symbols: []string{"BTC", "ETH"}}
	poller := NewPricePoller(testTracer, stub, time.Second)

	idx := 1
	if err := poller.fetchIndicatorBatch(context.Background(), &idx, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.indicatorSymbols) != 2 || stub.indicatorSymbols[0] != "ETH" || stub.indicatorSymbols[1] != "BTC" {
		t.Fatalf("unexpected symbol order: %+v", stub.indicatorSymbols)
	}
}

func TestFetchOHLCBatch(t *testing.T) {
	stub := &stubPriceService{symbols: []string{"BTC", "ETH"}}
	poller := NewPricePoller(testTracer, stub, time.Second)

	idx := 0
	_ = poller.fetchOHLCBatch(context.Background(), &idx)
	_ = poller.fetchOHLCBatch(context.Background(), &idx)
	_ = poller.fetchOHLCBatch(context.Background(), &idx)

	want := []string{"BTC", "ETH", "BTC"}
	for i, s := range want {
		if stub.ohlcSymbols[i] != s {
			t.Fatalf("unexpected symbols: %+v", stub.ohlcSymbols)
		}
	}
}

func TestFetchBatchWithoutSymbols(t *testing.T) {
	stub := &stubPriceService{}
	poller := NewPricePoller(testTracer, stub, time.Second)

	idx := 0
	if err := poller.fetchOHLCBatch(context.Background(), &idx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stub.ohlcSymbols) != 0 {
		t.Fatal("expected no refresh without symbols")
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

type stubPriceService struct {
	mu                 sync.Mutex
	symbols            []string
	refreshPricesCalls int
	indicatorSymbols   []string
	ohlcSymbols        []string
}

func (s *stubPriceService) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshPricesCalls, len(s.indicatorSymbols), len(s.ohlcSymbols)
}

func (s *stubPriceService) Symbols(ctx context.Context) ([]string, error) {
	return s.symbols, nil
}

func (s *stubPriceService) RefreshPrices(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshPricesCalls++
	return 1, nil
}

func (s *stubPriceService) RefreshIndicators(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicatorSymbols = append(s.indicatorSymbols, symbol)
	return nil
}

func (s *stubPriceService) RefreshDailyOHLC(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ohlcSymbols = append(s.ohlcSymbols, symbol)
	return nil
}
