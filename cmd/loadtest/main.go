package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const (
	headerCustomerID     = "X-Customer-ID"
	headerIdempotencyKey = "Idempotency-Key"
	codeStockUnavailable = "stock_unavailable"
	codeTransportError   = "transport_error"

	methodPlace        = "PlaceOrder"
	methodCancel       = "CancelOrder"
	methodAvailability = "Availability"
	methodScenario     = "scenario"
)

type loadMode string

const (
	modePlace       loadMode = "place"
	modePlaceCancel loadMode = "place-cancel"
)

type config struct {
	baseURL       string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	connections   int
	timeout       time.Duration
	mode          loadMode
	cancelRate    int
	productID     string
	size          string
	qty           int
	paymentMethod string
	customerTag   string
	verifyStock   bool
	outputPath    string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

// stockReport сверяет остаток после прогона с числом принятых и отменённых единиц.
type stockReport struct {
	ProductID  string `json:"product_id"`
	Size       string `json:"size"`
	Before     int32  `json:"before"`
	After      int32  `json:"after"`
	Expected   int64  `json:"expected"`
	Placed     int64  `json:"placed_units"`
	Released   int64  `json:"released_units"`
	Rejected   int64  `json:"rejected_orders"`
	Oversold   bool   `json:"oversold"`
	Consistent bool   `json:"consistent"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
	Stock             *stockReport            `json:"stock,omitempty"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.methods[method]
	if !found {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) snapshot(name string) (methodReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[name]
	if !ok {
		return methodReport{}, false
	}
	return stats.report(), true
}

func (s *methodStats) report() methodReport {
	codesCopy := make(map[string]int64, len(s.codes))
	for code, count := range s.codes {
		codesCopy[code] = count
	}
	return methodReport{
		Calls:     s.calls,
		Success:   s.success,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, s.calls),
		Codes:     codesCopy,
		LatencyMs: buildLatencySummary(s.latencies),
	}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods[methodScenario]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		result.Methods[name] = stats.report()
	}

	return result
}

// stockTally считает единицы, которые сервер подтвердил списанием или возвратом.
type stockTally struct {
	placed   atomic.Int64
	released atomic.Int64
	rejected atomic.Int64
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "storefront API base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "max HTTP connections to the API")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modePlace), "load mode: place | place-cancel")
	flag.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for place mode (0..100)")
	flag.StringVar(&cfg.productID, "product", "", "product id to order")
	flag.StringVar(&cfg.size, "size", "One Size", "size label to order")
	flag.IntVar(&cfg.qty, "qty", 1, "units per order")
	flag.StringVar(&cfg.paymentMethod, "payment-method", "cod", "payment method: cod | online")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	flag.BoolVar(&cfg.verifyStock, "verify-stock", true, "compare availability before and after the run")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	cfg.paymentMethod = strings.ToLower(strings.TrimSpace(cfg.paymentMethod))

	if cfg.baseURL == "" {
		return cfg, errors.New("base-url is required")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.qty <= 0 {
		return cfg, errors.New("qty must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if strings.TrimSpace(cfg.productID) == "" {
		return cfg, errors.New("product is required")
	}
	if cfg.paymentMethod != "cod" && cfg.paymentMethod != "online" {
		return cfg, fmt.Errorf("unsupported payment-method: %s", cfg.paymentMethod)
	}
	if strings.TrimSpace(cfg.customerTag) == "" {
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modePlace:
		return modePlace, nil
	case modePlaceCancel:
		return modePlaceCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := newAPIClient(cfg.baseURL, cfg.connections)
	result, err := run(ctx, cfg, api)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 || (result.Stock != nil && !result.Stock.Consistent) {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, api orderAPI) (report, error) {
	var before int32
	if cfg.verifyStock {
		available, err := callAvailability(ctx, api, cfg, nil)
		if err != nil {
			return report{}, fmt.Errorf("read stock before run: %w", err)
		}
		before = available
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	tally := &stockTally{}

	jobs := make(chan int, cfg.concurrency*2)
	var failures atomic.Int64
	var wg sync.WaitGroup

	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if runErr := runScenario(ctx, api, cfg, id, runID, col, tally); runErr != nil {
					failures.Add(1)
				}
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	duration := time.Since(startedAt)
	result := col.buildReport(startedAt, duration)
	if result.FailedScenarios == 0 && failures.Load() > 0 {
		result.FailedScenarios = failures.Load()
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	if cfg.verifyStock {
		after, err := callAvailability(context.WithoutCancel(ctx), api, cfg, col)
		if err != nil {
			return result, fmt.Errorf("read stock after run: %w", err)
		}
		result.Stock = buildStockReport(cfg, before, after, tally)
	}

	return result, nil
}

func buildStockReport(cfg config, before, after int32, tally *stockTally) *stockReport {
	placed := tally.placed.Load()
	released := tally.released.Load()
	expected := int64(before) - placed + released
	return &stockReport{
		ProductID:  cfg.productID,
		Size:       cfg.size,
		Before:     before,
		After:      after,
		Expected:   expected,
		Placed:     placed,
		Released:   released,
		Rejected:   tally.rejected.Load(),
		Oversold:   placed-released > int64(before) || after < 0,
		Consistent: int64(after) == expected && after >= 0,
	}
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario оформляет заказ и, в зависимости от режима, отменяет его.
// Отказ 409 stock_unavailable под конкуренцией считается корректным исходом.
func runScenario(
	ctx context.Context,
	api orderAPI,
	cfg config,
	index int,
	runID string,
	col *collector,
	tally *stockTally,
) (err error) {
	scenarioStart := time.Now()
	scenarioCode := strconv.Itoa(http.StatusCreated)
	defer func() {
		col.record(methodScenario, time.Since(scenarioStart), scenarioCode, err == nil)
	}()

	customerID := fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index)
	placeKey := fmt.Sprintf("lt-place-%s-%d", runID, index)
	placed, err := callPlaceOrder(ctx, api, cfg, customerID, placeKey, col)
	if err != nil {
		scenarioCode = errorCode(err)
		if isStockRejection(err) {
			tally.rejected.Add(1)
			return nil
		}
		return err
	}
	if placed.ID == "" {
		scenarioCode = "empty_order_id"
		return errors.New("place response returned empty order id")
	}
	tally.placed.Add(int64(cfg.qty))

	if cfg.mode == modePlace && !shouldCancelScenario(index, cfg.cancelRate) {
		return nil
	}

	if err := callCancelOrder(ctx, api, cfg, customerID, placed.ID, col); err != nil {
		scenarioCode = errorCode(err)
		return err
	}
	tally.released.Add(int64(cfg.qty))
	return nil
}

func callPlaceOrder(
	ctx context.Context,
	api orderAPI,
	cfg config,
	customerID, key string,
	col *collector,
) (placedOrder, error) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	order, err := api.PlaceOrder(reqCtx, customerID, key, newPlaceOrderBody(cfg, customerID))
	col.record(methodPlace, time.Since(start), resultCode(err, http.StatusCreated), err == nil || isStockRejection(err))
	return order, err
}

func callCancelOrder(
	ctx context.Context,
	api orderAPI,
	cfg config,
	customerID, orderID string,
	col *collector,
) error {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	err := api.CancelOrder(reqCtx, customerID, orderID)
	col.record(methodCancel, time.Since(start), resultCode(err, http.StatusOK), err == nil)
	return err
}

func callAvailability(ctx context.Context, api orderAPI, cfg config, col *collector) (int32, error) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	available, err := api.Availability(reqCtx, cfg.productID, cfg.size)
	if col != nil {
		col.record(methodAvailability, time.Since(start), resultCode(err, http.StatusOK), err == nil)
	}
	return available, err
}

func newPlaceOrderBody(cfg config, customerID string) placeOrderBody {
	return placeOrderBody{
		Items: []placeOrderLine{{
			ProductID: cfg.productID,
			Size:      cfg.size,
			Qty:       int32(cfg.qty),
		}},
		Address: placeOrderAddress{
			FirstName: "Load",
			LastName:  "Test",
			Email:     customerID + "@loadtest.invalid",
			Street:    "1 Bench St",
			City:      "Loadville",
			ZipCode:   "00000",
			Country:   "US",
		},
		PaymentMethod: cfg.paymentMethod,
	}
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == methodScenario {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}

	if s := result.Stock; s != nil {
		fmt.Printf("stock %s/%s: before=%d after=%d expected=%d placed=%d released=%d rejected=%d oversold=%t consistent=%t\n",
			s.ProductID, s.Size, s.Before, s.After, s.Expected, s.Placed, s.Released, s.Rejected, s.Oversold, s.Consistent)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// orderAPI — вызовы storefront API, которые нужны нагрузочному тесту.
type orderAPI interface {
	PlaceOrder(ctx context.Context, customerID, idempotencyKey string, body placeOrderBody) (placedOrder, error)
	CancelOrder(ctx context.Context, customerID, orderID string) error
	Availability(ctx context.Context, productID, size string) (int32, error)
}

type placeOrderLine struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Qty       int32  `json:"qty"`
}

type placeOrderAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Street    string `json:"street"`
	City      string `json:"city"`
	ZipCode   string `json:"zip_code"`
	Country   string `json:"country"`
}

type placeOrderBody struct {
	Items         []placeOrderLine  `json:"items"`
	Address       placeOrderAddress `json:"address"`
	PaymentMethod string            `json:"payment_method"`
}

type placedOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type apiEnvelope struct {
	Success      bool         `json:"success"`
	Order        *placedOrder `json:"order"`
	Availability *struct {
		Available int32 `json:"available"`
	} `json:"availability"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// apiError — ответ API с ошибкой или сбой транспорта (Status == 0).
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

func isStockRejection(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && apiErr.Code == codeStockUnavailable
}

func errorCode(err error) string {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 0 {
			return apiErr.Code
		}
		return strconv.Itoa(apiErr.Status)
	}
	return codeTransportError
}

func resultCode(err error, okStatus int) string {
	if err == nil {
		return strconv.Itoa(okStatus)
	}
	return errorCode(err)
}

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string, connections int) *apiClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = connections
	transport.MaxIdleConnsPerHost = connections
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport},
	}
}

func (c *apiClient) PlaceOrder(ctx context.Context, customerID, idempotencyKey string, body placeOrderBody) (placedOrder, error) {
	headers := map[string]string{headerCustomerID: customerID}
	if idempotencyKey != "" {
		headers[headerIdempotencyKey] = idempotencyKey
	}
	env, err := c.do(ctx, http.MethodPost, "/api/orders", headers, body)
	if err != nil {
		return placedOrder{}, err
	}
	if env.Order == nil {
		return placedOrder{}, nil
	}
	return *env.Order, nil
}

func (c *apiClient) CancelOrder(ctx context.Context, customerID, orderID string) error {
	headers := map[string]string{headerCustomerID: customerID}
	_, err := c.do(ctx, http.MethodPost, "/api/orders/"+url.PathEscape(orderID)+"/cancel", headers, map[string]string{"reason": "load-cancel"})
	return err
}

func (c *apiClient) Availability(ctx context.Context, productID, size string) (int32, error) {
	path := fmt.Sprintf("/api/products/%s/availability?size=%s", url.PathEscape(productID), url.QueryEscape(size))
	env, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return 0, err
	}
	if env.Availability == nil {
		return 0, &apiError{Code: "bad_response", Message: "availability missing in response"}
	}
	return env.Availability.Available, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, headers map[string]string, body any) (apiEnvelope, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apiEnvelope{}, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apiEnvelope{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apiEnvelope{}, &apiError{Code: codeTransportError, Message: err.Error()}
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return apiEnvelope{}, &apiError{Status: resp.StatusCode, Code: "bad_response", Message: err.Error()}
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		apiErr := &apiError{Status: resp.StatusCode, Code: "unknown"}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiEnvelope{}, apiErr
	}
	return env, nil
}
