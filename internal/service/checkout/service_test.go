package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/history"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/stock"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fixture struct {
	svc      *Service
	products domain.ProductRepository
	orders   domain.OrderRepository
	outbox   interface{ AllPending() []domain.OutboxMessage }
	timeline domain.TimelineRepository
	gateway  *payment.MockGateway
}

func newFixture(t *testing.T, gateway domain.PaymentGateway, orders domain.OrderRepository) *fixture {
	t.Helper()

	products := memory.NewProductRepository()
	ctx := context.Background()
	require.NoError(t, products.Upsert(ctx, domain.Product{
		ID: "tee", Name: "Tee", PriceMinor: 2000,
		Sizes: []domain.SizeStock{{Label: "S", Quantity: 1}, {Label: "M", Quantity: 3}},
	}))
	require.NoError(t, products.Upsert(ctx, domain.Product{
		ID: "cap", Name: "Cap", PriceMinor: 900,
		Sizes: []domain.SizeStock{{Label: domain.OneSizeLabel, Quantity: 2}},
	}))

	if orders == nil {
		orders = memory.NewOrderRepository()
	}
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()
	mock, _ := gateway.(*payment.MockGateway)

	svc := NewService(
		products,
		stock.NewLedger(products, nil, nil),
		orders,
		gateway,
		history.NewRecorder(outbox, timeline, nil, nil),
		Config{
			Currency:         "eur",
			DeliveryFeeMinor: 500,
			SuccessURL:       "https://shop.test/orders/{order_id}?success=1",
			CancelURL:        "https://shop.test/orders/{order_id}?success=0",
			GatewayTimeout:   time.Second,
		},
		nil,
		nil,
	)
	return &fixture{svc: svc, products: products, orders: orders, outbox: outbox, timeline: timeline, gateway: mock}
}

func (f *fixture) qty(t *testing.T, productID, size string) int32 {
	t.Helper()
	p, err := f.products.Get(context.Background(), productID)
	require.NoError(t, err)
	idx := p.Size(size)
	require.GreaterOrEqual(t, idx, 0)
	return p.Sizes[idx].Quantity
}

func (f *fixture) orderCount(t *testing.T) int {
	t.Helper()
	all, err := f.orders.ListAll(context.Background(), 0)
	require.NoError(t, err)
	return len(all)
}

func codRequest(items ...LineRequest) PlaceOrderRequest {
	return PlaceOrderRequest{
		CustomerID:    "cust-1",
		Items:         items,
		Address:       domain.Address{FirstName: "Ana", City: "Lisbon", Country: "PT"},
		PaymentMethod: domain.PaymentMethodCOD,
	}
}

func TestPlaceOrder_COD(t *testing.T) {
	f := newFixture(t, payment.NewMockGateway(), nil)
	ctx := context.Background()

	res, err := f.svc.PlaceOrder(ctx, codRequest(
		LineRequest{ProductID: "tee", SizeLabel: "M", Qty: 2},
		LineRequest{ProductID: "cap", Qty: 1},
	))
	require.NoError(t, err)
	require.Empty(t, res.SessionURL)

	order := res.Order
	require.Equal(t, domain.OrderStatusPlaced, order.Status)
	require.False(t, order.Paid)
	require.Equal(t, "EUR", order.Currency)
	require.EqualValues(t, 2*2000+900+500, order.AmountMinor)
	require.Equal(t, domain.OneSizeLabel, order.Items[1].SizeLabel)
	require.Equal(t, "Tee", order.Items[0].ProductName)

	require.EqualValues(t, 1, f.qty(t, "tee", "M"))
	require.EqualValues(t, 1, f.qty(t, "cap", domain.OneSizeLabel))
	require.Zero(t, f.gateway.Calls())

	stored, err := f.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, stored.ID)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.TimelineOrderPlaced, pending[0].EventType)

	events, err := f.timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestPlaceOrder_Online(t *testing.T) {
	f := newFixture(t, payment.NewMockGateway(), nil)
	ctx := context.Background()

	req := codRequest(LineRequest{ProductID: "tee", SizeLabel: "S", Qty: 1})
	req.PaymentMethod = domain.PaymentMethodOnline

	res, err := f.svc.PlaceOrder(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "https://shop.test/orders/"+res.Order.ID+"?success=1", res.SessionURL)
	require.NotEmpty(t, res.Order.PaymentSessionID)

	require.Equal(t, 1, f.gateway.Calls())
	sessionReq := f.gateway.Requests[0]
	require.Equal(t, res.Order.ID, sessionReq.OrderID)
	require.Equal(t, "cust-1", sessionReq.CustomerID)
	require.Len(t, sessionReq.LineItems, 2)
	require.Equal(t, "Tee (S)", sessionReq.LineItems[0].Name)
	require.Equal(t, "https://shop.test/orders/"+res.Order.ID+"?success=0", sessionReq.CancelURL)

	stored, err := f.orders.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	require.Equal(t, res.Order.PaymentSessionID, stored.PaymentSessionID)
	require.Equal(t, domain.OrderStatusPlaced, stored.Status)
	require.EqualValues(t, 0, f.qty(t, "tee", "S"))
}

func TestPlaceOrder_GatewayFailureLeavesNoOrder(t *testing.T) {
	gw := payment.NewMockGateway()
	gw.SetError(errors.New("provider 502"))
	f := newFixture(t, gw, nil)

	req := codRequest(
		LineRequest{ProductID: "tee", SizeLabel: "M", Qty: 3},
		LineRequest{ProductID: "cap", Qty: 2},
	)
	req.PaymentMethod = domain.PaymentMethodOnline

	_, err := f.svc.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrGatewayFailure)
	require.False(t, domain.IsStockUnavailable(err))

	require.Zero(t, f.orderCount(t))
	require.EqualValues(t, 3, f.qty(t, "tee", "M"))
	require.EqualValues(t, 2, f.qty(t, "cap", domain.OneSizeLabel))
}

type blockingGateway struct{}

func (blockingGateway) CreateSession(ctx context.Context, _ domain.SessionRequest) (domain.PaymentSession, error) {
	<-ctx.Done()
	return domain.PaymentSession{}, ctx.Err()
}

func TestPlaceOrder_GatewayTimeoutCompensates(t *testing.T) {
	f := newFixture(t, blockingGateway{}, nil)
	f.svc.cfg.GatewayTimeout = 20 * time.Millisecond

	req := codRequest(LineRequest{ProductID: "tee", SizeLabel: "S", Qty: 1})
	req.PaymentMethod = domain.PaymentMethodOnline

	_, err := f.svc.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrGatewayFailure)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, f.orderCount(t))
	require.EqualValues(t, 1, f.qty(t, "tee", "S"))
}

func TestPlaceOrder_CallerCancellationStillCompensates(t *testing.T) {
	f := newFixture(t, blockingGateway{}, nil)

	req := codRequest(LineRequest{ProductID: "cap", Qty: 2})
	req.PaymentMethod = domain.PaymentMethodOnline

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := f.svc.PlaceOrder(ctx, req)
	require.ErrorIs(t, err, domain.ErrGatewayFailure)
	require.Zero(t, f.orderCount(t))
	require.EqualValues(t, 2, f.qty(t, "cap", domain.OneSizeLabel))
}

func TestPlaceOrder_InsufficientStockRejected(t *testing.T) {
	f := newFixture(t, payment.NewMockGateway(), nil)

	_, err := f.svc.PlaceOrder(context.Background(), codRequest(
		LineRequest{ProductID: "cap", Qty: 1},
		LineRequest{ProductID: "tee", SizeLabel: "S", Qty: 2},
	))
	require.ErrorIs(t, err, domain.ErrOrderRejected)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var stockErr *domain.StockError
	require.True(t, errors.As(err, &stockErr))
	require.Equal(t, "tee", stockErr.ProductID)
	require.Equal(t, "S", stockErr.SizeLabel)
	require.EqualValues(t, 1, stockErr.Available)

	require.Zero(t, f.orderCount(t))
	require.EqualValues(t, 2, f.qty(t, "cap", domain.OneSizeLabel))
	require.Empty(t, f.outbox.AllPending())
}

func TestPlaceOrder_UnknownProductOrSize(t *testing.T) {
	f := newFixture(t, payment.NewMockGateway(), nil)

	for _, line := range []LineRequest{
		{ProductID: "ghost", SizeLabel: "M", Qty: 1},
		{ProductID: "tee", SizeLabel: "XXL", Qty: 1},
		{ProductID: "tee", Qty: 1},
	} {
		_, err := f.svc.PlaceOrder(context.Background(), codRequest(line))
		require.ErrorIs(t, err, domain.ErrOrderRejected, "line %+v", line)
		require.ErrorIs(t, err, domain.ErrSizeNotFound, "line %+v", line)
	}
	require.Zero(t, f.orderCount(t))
}

func TestPlaceOrder_Validation(t *testing.T) {
	f := newFixture(t, payment.NewMockGateway(), nil)

	tests := []struct {
		name string
		req  PlaceOrderRequest
		want error
	}{
		{name: "no customer", req: PlaceOrderRequest{Items: []LineRequest{{ProductID: "tee", SizeLabel: "M", Qty: 1}}, PaymentMethod: domain.PaymentMethodCOD}, want: domain.ErrCustomerRequired},
		{name: "no items", req: PlaceOrderRequest{CustomerID: "c", PaymentMethod: domain.PaymentMethodCOD}, want: domain.ErrItemsRequired},
		{name: "bad method", req: PlaceOrderRequest{CustomerID: "c", Items: []LineRequest{{ProductID: "tee", SizeLabel: "M", Qty: 1}}, PaymentMethod: "crypto"}, want: domain.ErrPaymentMethodInvalid},
		{name: "zero qty", req: codRequest(LineRequest{ProductID: "tee", SizeLabel: "M"}), want: domain.ErrItemQtyInvalid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(context.Background(), tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.EqualValues(t, 3, f.qty(t, "tee", "M"))
}

func TestPlaceOrder_OnlineWithoutGateway(t *testing.T) {
	f := newFixture(t, nil, nil)

	req := codRequest(LineRequest{ProductID: "tee", SizeLabel: "M", Qty: 1})
	req.PaymentMethod = domain.PaymentMethodOnline

	_, err := f.svc.PlaceOrder(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrGatewayFailure)
	require.EqualValues(t, 3, f.qty(t, "tee", "M"))
}

type failingCreateRepo struct{ domain.OrderRepository }

func (failingCreateRepo) Create(context.Context, domain.Order) error {
	return errors.New("db down")
}

func TestPlaceOrder_PersistFailureReleasesStock(t *testing.T) {
	f := newFixture(t, payment.NewMockGateway(), failingCreateRepo{memory.NewOrderRepository()})

	_, err := f.svc.PlaceOrder(context.Background(), codRequest(LineRequest{ProductID: "tee", SizeLabel: "M", Qty: 2}))
	require.ErrorContains(t, err, "db down")
	require.False(t, domain.IsStockUnavailable(err))
	require.EqualValues(t, 3, f.qty(t, "tee", "M"))
}

func TestPlaceOrder_ConcurrentLastUnit(t *testing.T) {
	f := newFixture(t, payment.NewMockGateway(), nil)

	var (
		wg       sync.WaitGroup
		placed   atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(context.Background(), codRequest(LineRequest{ProductID: "tee", SizeLabel: "S", Qty: 1}))
			switch {
			case err == nil:
				placed.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, placed.Load())
	require.EqualValues(t, 15, rejected.Load())
	require.EqualValues(t, 0, f.qty(t, "tee", "S"))
	require.Equal(t, 1, f.orderCount(t))
}

func TestExpandURL(t *testing.T) {
	require.Equal(t, "https://x/o/42?ok=1", expandURL("https://x/o/{order_id}?ok=1", "42"))
	require.Equal(t, "https://x/static", expandURL("https://x/static", "42"))
}
