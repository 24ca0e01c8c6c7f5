package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// webhookGuardInMemory — guard обработанных webhook-событий для одного экземпляра сервиса.
type webhookGuardInMemory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

// NewWebhookGuard возвращает in-memory guard. ttl <= 0 — хранить без срока.
func NewWebhookGuard(ttl time.Duration) domain.WebhookGuard {
	return &webhookGuardInMemory{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

func (g *webhookGuardInMemory) CheckAndMark(_ context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expiresAt, ok := g.seen[eventID]; ok && (expiresAt.IsZero() || now.Before(expiresAt)) {
		return false, nil
	}

	var expiresAt time.Time
	if g.ttl > 0 {
		expiresAt = now.Add(g.ttl)
	}
	g.seen[eventID] = expiresAt
	return true, nil
}

func (g *webhookGuardInMemory) Delete(_ context.Context, eventID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, eventID)
	return nil
}
