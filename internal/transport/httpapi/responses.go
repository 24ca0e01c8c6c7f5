package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Коды ошибок API.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnauthenticated    = "unauthenticated"
	CodeForbidden          = "forbidden"
	CodeOrderNotFound      = "order_not_found"
	CodeProductNotFound    = "product_not_found"
	CodeStockUnavailable   = "stock_unavailable"
	CodeNotCancellable     = "not_cancellable"
	CodeConflict           = "conflict"
	CodeIdempotency        = "idempotency_conflict"
	CodeRequestInProgress  = "request_in_progress"
	CodePaymentUnavailable = "payment_unavailable"
	CodeInvalidSignature   = "invalid_signature"
	CodeInternal           = "internal"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// envelope — общий формат ответа API.
type envelope struct {
	Success      bool              `json:"success"`
	Order        *orderResponse    `json:"order,omitempty"`
	Orders       []orderResponse   `json:"orders,omitempty"`
	History      []timelineEntry   `json:"history,omitempty"`
	Availability *availabilityInfo `json:"availability,omitempty"`
	SessionURL   string            `json:"session_url,omitempty"`
	Error        *apiError         `json:"error,omitempty"`
}

// httpError — ошибка, уже привязанная к HTTP-статусу и коду API.
type httpError struct {
	status  int
	code    string
	message string
	details any
}

func (e *httpError) Error() string { return e.message }

func newHTTPError(status int, code, message string) *httpError {
	return &httpError{status: status, code: code, message: message}
}

var validationErrors = []error{
	domain.ErrCustomerRequired,
	domain.ErrCurrencyRequired,
	domain.ErrItemsRequired,
	domain.ErrAmountNegative,
	domain.ErrItemQtyInvalid,
	domain.ErrItemPriceInvalid,
	domain.ErrAmountMismatch,
	domain.ErrPaymentMethodInvalid,
	domain.ErrOrderStatusInvalid,
	domain.ErrOrderIDRequired,
	domain.ErrProductIDRequired,
	domain.ErrSizeLabelRequired,
	domain.ErrStockLinesRequired,
}

// classifyError сопоставляет доменную ошибку с HTTP-статусом и кодом API.
func classifyError(err error) *httpError {
	var typed *httpError
	if errors.As(err, &typed) {
		return typed
	}

	var stockErr *domain.StockError
	switch {
	case errors.As(err, &stockErr):
		herr := newHTTPError(http.StatusConflict, CodeStockUnavailable, stockErr.Error())
		herr.details = map[string]any{
			"product_id": stockErr.ProductID,
			"size":       stockErr.SizeLabel,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}
		return herr
	case errors.Is(err, domain.ErrOrderRejected):
		return newHTTPError(http.StatusConflict, CodeStockUnavailable, err.Error())
	case errors.Is(err, domain.ErrGatewayFailure):
		return newHTTPError(http.StatusServiceUnavailable, CodePaymentUnavailable, "payment provider is unavailable, please retry later")
	case errors.Is(err, domain.ErrOrderNotFound):
		return newHTTPError(http.StatusNotFound, CodeOrderNotFound, domain.ErrOrderNotFound.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		return newHTTPError(http.StatusNotFound, CodeProductNotFound, domain.ErrProductNotFound.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return newHTTPError(http.StatusForbidden, CodeForbidden, domain.ErrUnauthorized.Error())
	case errors.Is(err, domain.ErrNotCancellable):
		return newHTTPError(http.StatusConflict, CodeNotCancellable, domain.ErrNotCancellable.Error())
	case errors.Is(err, domain.ErrOrderVersionConflict):
		return newHTTPError(http.StatusConflict, CodeConflict, "order was modified concurrently, please retry")
	case errors.Is(err, domain.ErrWebhookSignature):
		return newHTTPError(http.StatusBadRequest, CodeInvalidSignature, domain.ErrWebhookSignature.Error())
	}

	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return newHTTPError(http.StatusBadRequest, CodeInvalidRequest, err.Error())
		}
	}

	return newHTTPError(http.StatusInternalServerError, CodeInternal, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func writeSuccess(w http.ResponseWriter, status int, body envelope) {
	body.Success = true
	writeJSON(w, status, body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	herr := classifyError(err)

	entry := s.logger.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": herr.status,
		"code":   herr.code,
	})
	if herr.status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	writeJSON(w, herr.status, envelope{
		Error: &apiError{Code: herr.code, Message: herr.message, Details: herr.details},
	})
}
