package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

type lineRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Size      string `json:"size"`
	Qty       int32  `json:"qty" validate:"required,gt=0,lte=1000"`
}

type addressRequest struct {
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Street    string `json:"street" validate:"required"`
	City      string `json:"city" validate:"required"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code" validate:"required"`
	Country   string `json:"country" validate:"required"`
	Phone     string `json:"phone"`
}

type placeOrderRequest struct {
	Items         []lineRequest  `json:"items" validate:"required,min=1,dive"`
	Address       addressRequest `json:"address"`
	PaymentMethod string         `json:"payment_method" validate:"required,oneof=cod online"`
}

func (r placeOrderRequest) toCommand(customerID string) checkout.PlaceOrderRequest {
	items := make([]checkout.LineRequest, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, checkout.LineRequest{
			ProductID: item.ProductID,
			SizeLabel: item.Size,
			Qty:       item.Qty,
		})
	}
	return checkout.PlaceOrderRequest{
		CustomerID: customerID,
		Items:      items,
		Address: domain.Address{
			FirstName: r.Address.FirstName,
			LastName:  r.Address.LastName,
			Email:     r.Address.Email,
			Street:    r.Address.Street,
			City:      r.Address.City,
			State:     r.Address.State,
			ZipCode:   r.Address.ZipCode,
			Country:   r.Address.Country,
			Phone:     r.Address.Phone,
		},
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
	}
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type changeStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type verifyPaymentRequest struct {
	Success *bool `json:"success" validate:"required"`
}

// decodeJSONBody читает тело запроса и проверяет его теги validate.
// allowEmpty разрешает пустое тело для необязательных полей.
func decodeJSONBody(r *http.Request, dest any, allowEmpty bool) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			herr := newHTTPError(http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
			herr.details = map[string]string{"error": err.Error()}
			return herr
		}
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) *httpError {
	herr := newHTTPError(http.StatusBadRequest, CodeInvalidRequest, "validation failed")
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		details := make(map[string]string, len(errs))
		for _, fieldErr := range errs {
			details[fieldNamespace(fieldErr)] = validationMessage(fieldErr)
		}
		herr.details = details
	}
	return herr
}

// fieldNamespace убирает имя корневой структуры: items[0].qty вместо placeOrderRequest.items[0].qty.
func fieldNamespace(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "email":
		return "must be a valid email"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	}
	return "is invalid"
}

type orderItemResponse struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Size           string `json:"size"`
	Qty            int32  `json:"qty"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

type orderResponse struct {
	ID               string              `json:"id"`
	CustomerID       string              `json:"customer_id"`
	Status           string              `json:"status"`
	PaymentMethod    string              `json:"payment_method"`
	Paid             bool                `json:"paid"`
	Currency         string              `json:"currency"`
	AmountMinor      int64               `json:"amount_minor"`
	DeliveryFeeMinor int64               `json:"delivery_fee_minor"`
	Items            []orderItemResponse `json:"items"`
	Address          domain.Address      `json:"address"`
	PaymentSessionID string              `json:"payment_session_id,omitempty"`
	Version          int64               `json:"version"`
	PlacedAt         time.Time           `json:"placed_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:             item.ID,
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Size:           item.SizeLabel,
			Qty:            item.Qty,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}
	return orderResponse{
		ID:               order.ID,
		CustomerID:       order.CustomerID,
		Status:           string(order.Status),
		PaymentMethod:    string(order.PaymentMethod),
		Paid:             order.Paid,
		Currency:         order.Currency,
		AmountMinor:      order.AmountMinor,
		DeliveryFeeMinor: order.DeliveryFeeMinor,
		Items:            items,
		Address:          order.Address,
		PaymentSessionID: order.PaymentSessionID,
		Version:          order.Version,
		PlacedAt:         order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
}

func toOrderResponses(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderResponse(order))
	}
	return out
}

type timelineEntry struct {
	Type       string    `json:"type"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func toTimeline(events []domain.TimelineEvent) []timelineEntry {
	out := make([]timelineEntry, 0, len(events))
	for _, event := range events {
		out = append(out, timelineEntry{
			Type:       event.Type,
			FromStatus: string(event.FromStatus),
			ToStatus:   string(event.ToStatus),
			Reason:     event.Reason,
			OccurredAt: event.Occurred,
		})
	}
	return out
}

type availabilityInfo struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Available int32  `json:"available"`
}
