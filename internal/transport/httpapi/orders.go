package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())

	var req placeOrderRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.deps.Checkout.PlaceOrder(r.Context(), req.toCommand(actor.CustomerID))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	order := toOrderResponse(result.Order)
	writeSuccess(w, http.StatusCreated, envelope{Order: &order, SessionURL: result.SessionURL})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	orders, err := s.deps.Orders.ListByCustomer(r.Context(), actorFromContext(r.Context()).CustomerID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{Orders: toOrderResponses(orders)})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.loadVisibleOrder(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := toOrderResponse(order)
	writeSuccess(w, http.StatusOK, envelope{Order: &resp})
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	order, err := s.loadVisibleOrder(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	events, err := s.deps.Orders.History(r.Context(), order.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{History: toTimeline(events)})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSONBody(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by customer"
	}

	order, err := s.deps.Orders.Cancel(r.Context(), actorFromContext(r.Context()).CustomerID, chi.URLParam(r, "orderID"), reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := toOrderResponse(order)
	writeSuccess(w, http.StatusOK, envelope{Order: &resp})
}

// handleVerifyPayment обрабатывает возврат браузера со страницы оплаты.
// Флаг success недоверенный: отказ применяется к собственному заказу клиента,
// успех только после того, как провайдер подтвердил оплату сессии.
func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	customerID := actorFromContext(r.Context()).CustomerID
	orderID := chi.URLParam(r, "orderID")

	succeeded := *req.Success
	if succeeded {
		order, confirmed, err := s.sessionPaid(r, customerID, orderID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if !confirmed {
			// Оплату подтвердит webhook или событие из Kafka.
			resp := toOrderResponse(order)
			writeSuccess(w, http.StatusOK, envelope{Order: &resp})
			return
		}
	}

	order, err := s.deps.Orders.ConfirmPayment(r.Context(), customerID, orderID, succeeded)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if order.ID == "" {
		// Заказ удалён после неудачной оплаты.
		writeSuccess(w, http.StatusOK, envelope{})
		return
	}
	resp := toOrderResponse(order)
	writeSuccess(w, http.StatusOK, envelope{Order: &resp})
}

// sessionPaid проверяет владельца и спрашивает провайдера о сессии заказа.
// Без настроенного verifier успех из браузера не применяется.
func (s *Server) sessionPaid(r *http.Request, customerID, orderID string) (domain.Order, bool, error) {
	order, err := s.deps.Orders.Get(r.Context(), orderID)
	if err != nil {
		return domain.Order{}, false, err
	}
	if order.CustomerID != customerID {
		return domain.Order{}, false, domain.ErrUnauthorized
	}
	if order.Paid || order.PaymentMethod != domain.PaymentMethodOnline || s.deps.Payments == nil {
		return order, false, nil
	}

	paid, err := s.deps.Payments.SessionPaid(r.Context(), order.PaymentSessionID)
	if err != nil {
		return domain.Order{}, false, err
	}
	if !paid {
		s.logger.WithField("order_id", orderID).Warn("browser reported success for unpaid session")
	}
	return order, paid, nil
}

func (s *Server) handleListAllOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	orders, err := s.deps.Orders.ListAll(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, envelope{Orders: toOrderResponses(orders)})
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if err := decodeJSONBody(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}

	actor := actorFromContext(r.Context())
	orderID := chi.URLParam(r, "orderID")
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))

	order, err := s.deps.Orders.ChangeStatus(r.Context(), orderID, status, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.WithFields(log.Fields{
		"order_id": orderID,
		"status":   status,
		"actor_id": actor.CustomerID,
		"role":     actor.Role,
	}).Info("order status changed by staff")

	resp := toOrderResponse(order)
	writeSuccess(w, http.StatusOK, envelope{Order: &resp})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	size := strings.TrimSpace(r.URL.Query().Get("size"))
	if size == "" {
		size = domain.OneSizeLabel
	}

	available, err := s.deps.Stock.Available(r.Context(), productID, size)
	if err != nil {
		if domain.IsStockUnavailable(err) {
			s.writeError(w, r, newHTTPError(http.StatusNotFound, CodeProductNotFound, err.Error()))
			return
		}
		s.writeError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, envelope{Availability: &availabilityInfo{
		ProductID: productID,
		Size:      size,
		Available: available,
	}})
}

// loadVisibleOrder возвращает заказ, если он принадлежит клиенту или запрос сделал сотрудник.
func (s *Server) loadVisibleOrder(r *http.Request) (domain.Order, error) {
	actor := actorFromContext(r.Context())
	order, err := s.deps.Orders.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		return domain.Order{}, err
	}
	if !actor.Owns(order) && !actor.IsStaff() {
		return domain.Order{}, domain.ErrUnauthorized
	}
	return order, nil
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, newHTTPError(http.StatusBadRequest, CodeInvalidRequest, "limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
