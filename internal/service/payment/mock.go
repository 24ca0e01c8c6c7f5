package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockGateway — конфигурируемая заглушка платёжного провайдера для разработки и тестов.
// Возвращает URL, ведущий сразу на страницу успеха, и считает выданные сессии оплаченными.
type MockGateway struct {
	mu sync.Mutex

	SessionErr error
	Requests   []domain.SessionRequest
	issued     map[string]bool
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// CreateSession возвращает заранее настроенный результат и запоминает запросы.
func (m *MockGateway) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.SessionErr != nil {
		return domain.PaymentSession{}, m.SessionErr
	}
	if err := ctx.Err(); err != nil {
		return domain.PaymentSession{}, err
	}
	id := fmt.Sprintf("mock_cs_%d", len(m.Requests))
	if m.issued == nil {
		m.issued = make(map[string]bool)
	}
	m.issued[id] = true
	return domain.PaymentSession{ID: id, URL: req.SuccessURL}, nil
}

// SessionPaid возвращает true только для выданных и не отмеченных MarkUnpaid сессий.
func (m *MockGateway) SessionPaid(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issued[sessionID], nil
}

// MarkUnpaid имитирует брошенную страницу оплаты.
func (m *MockGateway) MarkUnpaid(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.issued != nil {
		m.issued[sessionID] = false
	}
}

// Calls возвращает число вызовов CreateSession.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// SetError меняет результат следующих вызовов.
func (m *MockGateway) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionErr = err
}

var (
	_ domain.PaymentGateway  = (*MockGateway)(nil)
	_ domain.PaymentVerifier = (*MockGateway)(nil)
)
