package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func newGuardForTest() domain.WebhookGuard {
	return memory.NewWebhookGuard(0)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"stock", fmt.Errorf("%w: %w", domain.ErrOrderRejected, domain.NewInsufficientStock(domain.StockLine{ProductID: "p", SizeLabel: "M", Qty: 2}, 1)), http.StatusConflict, CodeStockUnavailable},
		{"gateway", fmt.Errorf("%w: timeout", domain.ErrGatewayFailure), http.StatusServiceUnavailable, CodePaymentUnavailable},
		{"not found", domain.ErrOrderNotFound, http.StatusNotFound, CodeOrderNotFound},
		{"foreign order", domain.ErrUnauthorized, http.StatusForbidden, CodeForbidden},
		{"not cancellable", domain.ErrNotCancellable, http.StatusConflict, CodeNotCancellable},
		{"version conflict", domain.ErrOrderVersionConflict, http.StatusConflict, CodeConflict},
		{"validation", errors.Join(domain.ErrCustomerRequired, domain.ErrItemsRequired), http.StatusBadRequest, CodeInvalidRequest},
		{"bad status", domain.ErrOrderStatusInvalid, http.StatusBadRequest, CodeInvalidRequest},
		{"signature", fmt.Errorf("%w: bad", domain.ErrWebhookSignature), http.StatusBadRequest, CodeInvalidSignature},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			if got.status != tt.status || got.code != tt.code {
				t.Fatalf("classifyError(%v) = %d/%s, want %d/%s", tt.err, got.status, got.code, tt.status, tt.code)
			}
		})
	}
}

func TestClassifyError_StockDetails(t *testing.T) {
	err := fmt.Errorf("%w: %w", domain.ErrOrderRejected, domain.NewInsufficientStock(domain.StockLine{ProductID: "tee", SizeLabel: "M", Qty: 3}, 1))
	got := classifyError(err)
	details, ok := got.details.(map[string]any)
	if !ok {
		t.Fatalf("expected stock details, got %T", got.details)
	}
	if details["product_id"] != "tee" || details["available"] != int32(1) {
		t.Fatalf("unexpected details: %+v", details)
	}
}
