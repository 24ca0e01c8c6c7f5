package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Заголовки, которые выставляет вышестоящий auth-proxy после проверки сессии.
const (
	HeaderCustomerID = "X-Customer-ID"
	HeaderRole       = "X-Role"
)

type actorKey struct{}

// identity кладёт в контекст инициатора запроса из заголовков auth-proxy.
func identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			CustomerID: strings.TrimSpace(r.Header.Get(HeaderCustomerID)),
			Role:       domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderRole)))),
		}
		if actor.Role == "" && actor.CustomerID != "" {
			actor.Role = domain.RoleCustomer
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFromContext(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(domain.Actor)
	return actor
}

func (s *Server) requireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorFromContext(r.Context()).CustomerID == "" {
			s.writeError(w, r, newHTTPError(http.StatusUnauthorized, CodeUnauthenticated, "authentication required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := actorFromContext(r.Context())
		if actor.CustomerID == "" {
			s.writeError(w, r, newHTTPError(http.StatusUnauthorized, CodeUnauthenticated, "authentication required"))
			return
		}
		if !actor.IsStaff() {
			s.writeError(w, r, newHTTPError(http.StatusForbidden, CodeForbidden, "admin or seller role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
