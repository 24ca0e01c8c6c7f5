package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/history"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

type fakeOrderAPI struct {
	mu        sync.Mutex
	placeFn   func(context.Context, string, string, placeOrderBody) (placedOrder, error)
	cancelFn  func(context.Context, string, string) error
	available int32
	placeKeys []string
}

func (f *fakeOrderAPI) PlaceOrder(ctx context.Context, customerID, key string, body placeOrderBody) (placedOrder, error) {
	f.mu.Lock()
	f.placeKeys = append(f.placeKeys, key)
	f.mu.Unlock()
	if f.placeFn == nil {
		return placedOrder{}, errors.New("unexpected PlaceOrder call")
	}
	return f.placeFn(ctx, customerID, key, body)
}

func (f *fakeOrderAPI) CancelOrder(ctx context.Context, customerID, orderID string) error {
	if f.cancelFn == nil {
		return errors.New("unexpected CancelOrder call")
	}
	return f.cancelFn(ctx, customerID, orderID)
}

func (f *fakeOrderAPI) Availability(context.Context, string, string) (int32, error) {
	return f.available, nil
}

// newStorefrontServer поднимает настоящий HTTP API на in-memory хранилищах.
func newStorefrontServer(t *testing.T, productID string, quantity int32) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	products := memory.NewProductRepository()
	if err := products.Upsert(ctx, domain.Product{
		ID:         productID,
		Name:       "Load Tee",
		PriceMinor: 1000,
		Sizes:      []domain.SizeStock{{Label: domain.OneSizeLabel, Quantity: quantity}},
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	orders := memory.NewOrderRepository()
	timeline := memory.NewTimelineRepository()
	ledger := stock.NewLedger(products, nil, nil)
	recorder := history.NewRecorder(memory.NewOutboxRepository(), timeline, nil, nil)
	svc := checkout.NewService(products, ledger, orders, nil, recorder, checkout.Config{Currency: "USD"}, nil, nil)
	reconciler := reconcile.NewReconciler(orders, timeline, ledger, recorder, nil, nil)

	server := httpapi.NewServer(httpapi.Deps{
		Checkout:    svc,
		Orders:      reconciler,
		Stock:       ledger,
		Idempotency: memory.NewIdempotencyRepository(),
	}, nil)

	srv := httptest.NewServer(server.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func withCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"loadtest"}, args...)
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	flag.CommandLine = fs

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

func testConfig(baseURL string) config {
	return config{
		baseURL:       baseURL,
		total:         30,
		concurrency:   8,
		connections:   4,
		timeout:       2 * time.Second,
		mode:          modePlace,
		productID:     "tee",
		size:          domain.OneSizeLabel,
		qty:           1,
		paymentMethod: "cod",
		customerTag:   "load",
		verifyStock:   true,
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    loadMode
		wantErr string
	}{
		{name: "place", input: "place", want: modePlace},
		{name: "place-cancel", input: " place-cancel ", want: modePlaceCancel},
		{name: "unsupported", input: "create-pay", wantErr: "unsupported mode"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseMode(tc.input)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected mode: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseConfig(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-base-url=http://127.0.0.1:8080/",
			"-mode=place-cancel",
			"-total=12",
			"-concurrency=3",
			"-connections=2",
			"-timeout=2s",
			"-product=tee",
			"-size=M",
			"-qty=2",
			"-payment-method=ONLINE",
			"-customer-tag=stage",
			"-verify-stock=false",
			"-output=/tmp/out.json",
		}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !cfg.totalSet {
				t.Fatalf("expected totalSet=true")
			}
			if cfg.baseURL != "http://127.0.0.1:8080" {
				t.Fatalf("trailing slash must be trimmed: %q", cfg.baseURL)
			}
			if cfg.mode != modePlaceCancel {
				t.Fatalf("unexpected mode: %s", cfg.mode)
			}
			if cfg.total != 12 || cfg.concurrency != 3 || cfg.connections != 2 || cfg.qty != 2 {
				t.Fatalf("unexpected numeric config: %+v", cfg)
			}
			if cfg.paymentMethod != "online" || cfg.size != "M" || cfg.verifyStock {
				t.Fatalf("unexpected order config: %+v", cfg)
			}
			if cfg.timeout != 2*time.Second {
				t.Fatalf("unexpected timeout: %s", cfg.timeout)
			}
		})
	})

	t.Run("duration mode", func(t *testing.T) {
		withCLIArgs(t, []string{
			"-duration=3s",
			"-product=tee",
		}, func() {
			cfg, err := parseConfig()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.duration != 3*time.Second {
				t.Fatalf("unexpected duration: %s", cfg.duration)
			}
			if cfg.totalSet {
				t.Fatalf("expected totalSet=false when -total was not provided")
			}
			if cfg.size != domain.OneSizeLabel || !cfg.verifyStock {
				t.Fatalf("unexpected defaults: %+v", cfg)
			}
		})
	})

	t.Run("validation errors", func(t *testing.T) {
		tests := []struct {
			name    string
			args    []string
			wantErr string
		}{
			{name: "invalid duration", args: []string{"-product=tee", "-duration=bad"}, wantErr: "parse duration"},
			{name: "negative duration", args: []string{"-product=tee", "-duration=-1s"}, wantErr: "duration must be >= 0"},
			{name: "invalid cancel rate", args: []string{"-product=tee", "-cancel-rate=101"}, wantErr: "cancel-rate must be between 0 and 100"},
			{name: "empty total", args: []string{"-product=tee", "-duration=0s", "-total=0"}, wantErr: "total must be > 0"},
			{name: "missing product", args: nil, wantErr: "product is required"},
			{name: "zero qty", args: []string{"-product=tee", "-qty=0"}, wantErr: "qty must be > 0"},
			{name: "bad payment method", args: []string{"-product=tee", "-payment-method=card"}, wantErr: "unsupported payment-method"},
			{name: "empty base url", args: []string{"-product=tee", "-base-url= "}, wantErr: "base-url is required"},
		}

		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				withCLIArgs(t, tc.args, func() {
					_, err := parseConfig()
					if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
						t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
					}
				})
			})
		}
	})
}

func TestDispatchJobs(t *testing.T) {
	t.Run("count mode", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{total: 5})

		var got []int
		for v := range jobs {
			got = append(got, v)
		}
		if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Fatalf("unexpected jobs sequence: %v", got)
		}
	})

	t.Run("duration mode", func(t *testing.T) {
		jobs := make(chan int, 32)
		done := make(chan struct{})
		go func() {
			dispatchJobs(context.Background(), jobs, config{duration: 20 * time.Millisecond})
			close(done)
		}()

		count := 0
		for range jobs {
			count++
		}
		<-done
		if count == 0 {
			t.Fatalf("expected non-zero jobs for duration mode")
		}
	})

	t.Run("duration with explicit max total", func(t *testing.T) {
		jobs := make(chan int, 16)
		dispatchJobs(context.Background(), jobs, config{duration: time.Second, total: 3, totalSet: true})
		count := 0
		for range jobs {
			count++
		}
		if count != 3 {
			t.Fatalf("expected 3 jobs, got %d", count)
		}
	})

	t.Run("cancelled context stops dispatch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		jobs := make(chan int)
		dispatchJobs(ctx, jobs, config{total: 100})
		if _, ok := <-jobs; ok {
			t.Fatalf("expected closed jobs channel")
		}
	})
}

func TestCollectorAndReport(t *testing.T) {
	c := newCollector()
	c.record(methodScenario, 10*time.Millisecond, "201", true)
	c.record(methodScenario, 20*time.Millisecond, "500", false)
	c.record(methodPlace, 15*time.Millisecond, "201", true)

	snap, ok := c.snapshot(methodScenario)
	if !ok {
		t.Fatalf("scenario snapshot missing")
	}
	if snap.Calls != 2 || snap.Success != 1 || snap.Failed != 1 {
		t.Fatalf("unexpected scenario snapshot: %+v", snap)
	}
	if snap.Codes["201"] != 1 || snap.Codes["500"] != 1 {
		t.Fatalf("unexpected codes: %+v", snap.Codes)
	}

	r := c.buildReport(time.Now(), 2*time.Second)
	if r.TotalScenarios != 2 || r.FailedScenarios != 1 {
		t.Fatalf("unexpected report totals: %+v", r)
	}
	if r.RPS <= 0 {
		t.Fatalf("expected positive rps, got %f", r.RPS)
	}
	if _, ok := r.Methods[methodPlace]; !ok {
		t.Fatalf("expected PlaceOrder stats in report")
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := resultCode(nil, http.StatusCreated); got != "201" {
		t.Fatalf("resultCode(nil) = %s, want 201", got)
	}
	if got := errorCode(&apiError{Status: http.StatusConflict, Code: codeStockUnavailable}); got != "409" {
		t.Fatalf("unexpected api error code: %s", got)
	}
	if got := errorCode(&apiError{Code: codeTransportError}); got != codeTransportError {
		t.Fatalf("unexpected transport code: %s", got)
	}
	if got := errorCode(errors.New("boom")); got != codeTransportError {
		t.Fatalf("unexpected plain error code: %s", got)
	}
	if !isStockRejection(&apiError{Status: http.StatusConflict, Code: codeStockUnavailable}) {
		t.Fatalf("409 stock_unavailable must be a stock rejection")
	}
	if isStockRejection(&apiError{Status: http.StatusConflict, Code: "not_cancellable"}) {
		t.Fatalf("other conflicts are not stock rejections")
	}

	if got := ratio(1, 4); got != 0.25 {
		t.Fatalf("ratio mismatch: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("ratio with zero total must be 0, got %f", got)
	}

	values := []float64{10, 20, 30, 40}
	summary := buildLatencySummary(values)
	if summary.P50 <= 0 || summary.P95 <= 0 || summary.Max != 40 {
		t.Fatalf("unexpected latency summary: %+v", summary)
	}
	if p := percentile(values, 95); p <= 0 {
		t.Fatalf("unexpected percentile: %f", p)
	}

	if got := runTarget(config{total: 50}); got != "count:50" {
		t.Fatalf("unexpected run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second}); got != "duration:2s" {
		t.Fatalf("unexpected duration run target: %s", got)
	}
	if got := runTarget(config{duration: 2 * time.Second, total: 10, totalSet: true}); got != "duration:2s,max-total:10" {
		t.Fatalf("unexpected capped duration run target: %s", got)
	}

	if shouldCancelScenario(5, 0) || !shouldCancelScenario(5, 100) || !shouldCancelScenario(105, 10) || shouldCancelScenario(50, 10) {
		t.Fatalf("unexpected cancel sampling")
	}
}

func TestBuildStockReport(t *testing.T) {
	tally := &stockTally{}
	tally.placed.Add(7)
	tally.released.Add(2)
	tally.rejected.Add(3)

	got := buildStockReport(config{productID: "tee", size: "M"}, 10, 5, tally)
	if !got.Consistent || got.Oversold || got.Expected != 5 {
		t.Fatalf("unexpected consistent report: %+v", got)
	}

	got = buildStockReport(config{productID: "tee", size: "M"}, 4, 0, tally)
	if !got.Oversold || got.Consistent {
		t.Fatalf("expected oversold report: %+v", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")

	sample := report{TotalScenarios: 2, SuccessScenarios: 2, Stock: &stockReport{ProductID: "tee", Consistent: true}}
	if err := writeJSONReport(path, sample); err != nil {
		t.Fatalf("writeJSONReport error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}

	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.TotalScenarios != 2 || decoded.Stock == nil || !decoded.Stock.Consistent {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}

	if err := writeJSONReport("../outside.json", sample); err == nil {
		t.Fatalf("expected error for path outside current directory")
	}
}

func TestRunScenario(t *testing.T) {
	c := newCollector()
	cfg := testConfig("http://unused")
	cfg.mode = modePlaceCancel

	api := &fakeOrderAPI{
		placeFn: func(_ context.Context, customerID, key string, body placeOrderBody) (placedOrder, error) {
			if !strings.HasPrefix(customerID, "load-run-1-") {
				t.Errorf("unexpected customer id: %s", customerID)
			}
			if !strings.HasPrefix(key, "lt-place-run-1-") {
				t.Errorf("unexpected idempotency key: %s", key)
			}
			if len(body.Items) != 1 || body.Items[0].ProductID != "tee" || body.PaymentMethod != "cod" {
				t.Errorf("unexpected body: %+v", body)
			}
			return placedOrder{ID: "order-1", Status: "placed"}, nil
		},
		cancelFn: func(_ context.Context, _, orderID string) error {
			if orderID != "order-1" {
				t.Errorf("unexpected order id: %s", orderID)
			}
			return nil
		},
	}

	tally := &stockTally{}
	if err := runScenario(context.Background(), api, cfg, 1, "run-1", c, tally); err != nil {
		t.Fatalf("runScenario failed: %v", err)
	}
	if tally.placed.Load() != 1 || tally.released.Load() != 1 {
		t.Fatalf("unexpected tally: placed=%d released=%d", tally.placed.Load(), tally.released.Load())
	}

	rejecting := &fakeOrderAPI{
		placeFn: func(context.Context, string, string, placeOrderBody) (placedOrder, error) {
			return placedOrder{}, &apiError{Status: http.StatusConflict, Code: codeStockUnavailable}
		},
	}
	if err := runScenario(context.Background(), rejecting, cfg, 2, "run-2", c, tally); err != nil {
		t.Fatalf("stock rejection must not fail the scenario: %v", err)
	}
	if tally.rejected.Load() != 1 {
		t.Fatalf("expected one rejection, got %d", tally.rejected.Load())
	}

	failing := &fakeOrderAPI{
		placeFn: func(context.Context, string, string, placeOrderBody) (placedOrder, error) {
			return placedOrder{}, &apiError{Status: http.StatusServiceUnavailable, Code: "payment_unavailable"}
		},
	}
	if err := runScenario(context.Background(), failing, cfg, 3, "run-3", c, tally); err == nil {
		t.Fatalf("expected 503 to fail the scenario")
	}

	emptyID := &fakeOrderAPI{
		placeFn: func(context.Context, string, string, placeOrderBody) (placedOrder, error) {
			return placedOrder{}, nil
		},
	}
	if err := runScenario(context.Background(), emptyID, cfg, 4, "run-4", c, tally); err == nil || !strings.Contains(err.Error(), "empty order id") {
		t.Fatalf("expected empty id error, got %v", err)
	}

	snap, ok := c.snapshot(methodScenario)
	if !ok || snap.Calls != 4 || snap.Failed != 2 {
		t.Fatalf("unexpected scenario stats: %+v", snap)
	}
}

func TestRun_NoOversellUnderContention(t *testing.T) {
	srv := newStorefrontServer(t, "tee", 10)
	cfg := testConfig(srv.URL)

	result, err := run(context.Background(), cfg, newAPIClient(srv.URL, cfg.connections))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.FailedScenarios != 0 {
		t.Fatalf("unexpected failed scenarios: %+v", result.Methods)
	}
	if result.Stock == nil {
		t.Fatalf("expected stock report")
	}
	s := result.Stock
	if s.Before != 10 || s.After != 0 || s.Placed != 10 || s.Rejected != 20 {
		t.Fatalf("unexpected stock report: %+v", s)
	}
	if s.Oversold || !s.Consistent {
		t.Fatalf("stock must stay consistent: %+v", s)
	}
	if place := result.Methods[methodPlace]; place.Codes["201"] != 10 || place.Codes["409"] != 20 {
		t.Fatalf("unexpected place codes: %+v", place.Codes)
	}
}

func TestRun_PlaceCancelRestoresStock(t *testing.T) {
	srv := newStorefrontServer(t, "tee", 5)
	cfg := testConfig(srv.URL)
	cfg.mode = modePlaceCancel
	cfg.total = 12
	cfg.qty = 2

	result, err := run(context.Background(), cfg, newAPIClient(srv.URL, cfg.connections))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.FailedScenarios != 0 {
		t.Fatalf("unexpected failed scenarios: %+v", result.Methods)
	}
	s := result.Stock
	if s.After != 5 || s.Placed != s.Released || !s.Consistent {
		t.Fatalf("cancelled orders must return all units: %+v", s)
	}
}

func TestAPIClient_Errors(t *testing.T) {
	srv := newStorefrontServer(t, "tee", 1)
	client := newAPIClient(srv.URL+"/", 1)
	ctx := context.Background()

	if _, err := client.Availability(ctx, "missing", domain.OneSizeLabel); err == nil {
		t.Fatalf("expected error for unknown product")
	} else {
		var apiErr *apiError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
			t.Fatalf("expected 404 api error, got %v", err)
		}
	}

	body := newPlaceOrderBody(testConfig(srv.URL), "c-1")
	if _, err := client.PlaceOrder(ctx, "", "", body); err == nil {
		t.Fatalf("expected 401 without customer id")
	}

	order, err := client.PlaceOrder(ctx, "c-1", "k-1", body)
	if err != nil || order.ID == "" {
		t.Fatalf("place failed: order=%+v err=%v", order, err)
	}
	replay, err := client.PlaceOrder(ctx, "c-1", "k-1", body)
	if err != nil || replay.ID != order.ID {
		t.Fatalf("idempotent replay must return the same order: %+v err=%v", replay, err)
	}

	if err := client.CancelOrder(ctx, "c-2", order.ID); err == nil {
		t.Fatalf("expected foreign customer cancel to fail")
	}

	closed := newAPIClient("http://127.0.0.1:1", 1)
	if _, err := closed.Availability(ctx, "tee", domain.OneSizeLabel); errorCode(err) != codeTransportError {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestPrintReport(t *testing.T) {
	r := report{
		TotalScenarios:   2,
		SuccessScenarios: 2,
		Methods: map[string]methodReport{
			methodScenario: {Calls: 2, Success: 2},
			methodPlace:    {Calls: 2, Success: 2},
		},
		Stock: &stockReport{ProductID: "tee", Size: domain.OneSizeLabel, Before: 2, Consistent: true},
	}

	out := captureStdout(t, func() {
		printReport(r, config{mode: modePlace, total: 2})
	})

	if !strings.Contains(out, "Load test summary") {
		t.Fatalf("expected summary header, got: %s", out)
	}
	if !strings.Contains(out, methodPlace) {
		t.Fatalf("expected method section, got: %s", out)
	}
	if !strings.Contains(out, "consistent=true") {
		t.Fatalf("expected stock section, got: %s", out)
	}
}

func TestMainSmoke(t *testing.T) {
	srv := newStorefrontServer(t, "tee", 3)

	dir := t.TempDir()
	outPath := filepath.Join(dir, "main-report.json")

	withCLIArgs(t, []string{
		"-base-url=" + srv.URL,
		"-mode=place",
		"-product=tee",
		"-total=5",
		"-concurrency=2",
		"-connections=1",
		"-timeout=2s",
		"-output=" + outPath,
	}, func() {
		_ = captureStdout(t, main)
	})

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("expected report file from main: %v", err)
	}
	var decoded report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if decoded.Stock == nil || decoded.Stock.After != 0 || !decoded.Stock.Consistent {
		t.Fatalf("unexpected stock in report: %+v", decoded.Stock)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()

	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = oldStdout

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read captured output: %v", err)
	}
	_ = r.Close()

	return string(data)
}
