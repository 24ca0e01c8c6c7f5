package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultGuardTTL = 72 * time.Hour

var errEventIDRequired = errors.New("event id is required")

// WebhookGuard отмечает обработанные события провайдера через SETNX с TTL.
// Отметка общая для всех реплик сервиса.
type WebhookGuard struct {
	store cmdable
	ttl   time.Duration
	scope string
}

// NewWebhookGuard создаёт guard для события с областью scope (например, "stripe-webhook").
func NewWebhookGuard(client *Client, ttl time.Duration, scope string) (*WebhookGuard, error) {
	if client == nil || client.store == nil {
		return nil, errors.New("redis client is required")
	}
	return newWebhookGuard(client.store, ttl, scope)
}

func newWebhookGuard(store cmdable, ttl time.Duration, scope string) (*WebhookGuard, error) {
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if ttl == 0 {
		ttl = defaultGuardTTL
	}
	return &WebhookGuard{store: store, ttl: ttl, scope: scope}, nil
}

// CheckAndMark возвращает true, если событие пришло впервые.
func (g *WebhookGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errEventIDRequired
	}
	set, err := g.store.SetNX(ctx, key(g.scope, eventID), "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set webhook guard key: %w", err)
	}
	return set, nil
}

// Delete снимает отметку после неудачной обработки, чтобы провайдер мог повторить доставку.
func (g *WebhookGuard) Delete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errEventIDRequired
	}
	if err := g.store.Del(ctx, key(g.scope, eventID)).Err(); err != nil {
		return fmt.Errorf("delete webhook guard key: %w", err)
	}
	return nil
}

var _ domain.WebhookGuard = (*WebhookGuard)(nil)
