package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrCircuitOpen — провайдер временно не вызывается после серии отказов.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker размыкает цепь после maxFailures подряд и через resetTimeout
// пропускает одну пробную операцию.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *log.Entry

	mu            sync.Mutex
	failures      int
	lastFailure   time.Time
	state         CircuitState
	probeInFlight bool
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 1
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker.
// Ошибки, для которых countable возвращает false, не влияют на счётчик отказов.
func (cb *CircuitBreaker) Execute(operation string, fn func() error, countable func(error) bool) error {
	probe, err := cb.before(operation)
	if err != nil {
		return err
	}

	err = fn()
	cb.after(operation, probe, err, err != nil && (countable == nil || countable(err)))
	return err
}

func (cb *CircuitBreaker) before(operation string) (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.probeInFlight = true
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
		return true, nil
	case CircuitHalfOpen:
		if cb.probeInFlight {
			return false, ErrCircuitOpen
		}
		cb.probeInFlight = true
		return true, nil
	default:
		return false, nil
	}
}

func (cb *CircuitBreaker) after(operation string, probe bool, err error, failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probeInFlight = false
	}

	if failed {
		cb.failures++
		cb.lastFailure = cb.now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			if cb.state != CircuitOpen {
				cb.logger.WithFields(log.Fields{
					"operation": operation,
					"failures":  cb.failures,
				}).WithError(err).Warn("circuit breaker opened")
			}
			cb.state = CircuitOpen
		}
		return
	}

	if err != nil {
		// Ошибка не засчитана: пробу нужно повторить следующим вызовом.
		return
	}

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.failures = 0
}

// BreakerGateway защищает платёжный провайдер circuit breaker'ом.
type BreakerGateway struct {
	next    domain.PaymentGateway
	breaker *CircuitBreaker
}

// NewBreakerGateway оборачивает gateway.
func NewBreakerGateway(next domain.PaymentGateway, breaker *CircuitBreaker) *BreakerGateway {
	return &BreakerGateway{next: next, breaker: breaker}
}

// CreateSession вызывает провайдера, если цепь не разомкнута.
func (g *BreakerGateway) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.PaymentSession, error) {
	var session domain.PaymentSession
	err := g.breaker.Execute("create_session", func() error {
		var err error
		session, err = g.next.CreateSession(ctx, req)
		return err
	}, func(err error) bool {
		// Отмена запроса клиентом не говорит о здоровье провайдера.
		return !errors.Is(err, context.Canceled)
	})
	if errors.Is(err, ErrCircuitOpen) {
		return domain.PaymentSession{}, fmt.Errorf("%w: %w", domain.ErrGatewayFailure, err)
	}
	return session, err
}

var _ domain.PaymentGateway = (*BreakerGateway)(nil)
