package httpapi

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// HeaderIdempotencyKey — ключ повторяемого запроса оформления заказа.
	HeaderIdempotencyKey = "Idempotency-Key"
	idempotencyTTL       = 24 * time.Hour
	maxIdempotencyKeyLen = 200
)

// idempotent сохраняет ответ на запрос с Idempotency-Key и повторяет его для того же тела.
// Тот же ключ с другим телом даёт 422, ключ в обработке даёт 409.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" || s.deps.Idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}
		if len(key) > maxIdempotencyKeyLen {
			s.writeError(w, r, newHTTPError(http.StatusBadRequest, CodeInvalidRequest, "idempotency key is too long"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			s.writeError(w, r, newHTTPError(http.StatusBadRequest, CodeInvalidRequest, "failed to read request body"))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		actor := actorFromContext(r.Context())
		// Ключ привязан к клиенту: разные клиенты не видят ответы друг друга.
		scopedKey := actor.CustomerID + ":" + key
		reqHash := requestHash(r.Method, r.URL.Path, body)

		record, err := s.deps.Idempotency.CreateProcessing(r.Context(), scopedKey, reqHash, s.now().Add(idempotencyTTL))
		if err != nil {
			s.replayIdempotent(w, r, err, record)
			return
		}

		rec := &responseCapture{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.statusCode()
		// Ответ сохраняем даже если клиент отключился.
		ctx := context.WithoutCancel(r.Context())
		logger := s.logger.WithField("idempotency_key", key)
		if status < http.StatusBadRequest {
			if err := s.deps.Idempotency.MarkDone(ctx, scopedKey, rec.body.Bytes(), status); err != nil {
				logger.WithError(err).Warn("failed to store idempotent success response")
			}
			return
		}
		if err := s.deps.Idempotency.MarkFailed(ctx, scopedKey, rec.body.Bytes(), status); err != nil {
			logger.WithError(err).Warn("failed to store idempotent failure response")
		}
	})
}

func (s *Server) replayIdempotent(w http.ResponseWriter, r *http.Request, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		s.writeError(w, r, newHTTPError(http.StatusUnprocessableEntity, CodeIdempotency, "idempotency key is already used with different request payload"))
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if len(record.ResponseBody) == 0 || record.HTTPStatus == 0 {
				s.writeError(w, r, errors.New("idempotency cache is empty"))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(record.HTTPStatus)
			_, _ = w.Write(record.ResponseBody)
		case domain.IdempotencyStatusProcessing:
			s.writeError(w, r, newHTTPError(http.StatusConflict, CodeRequestInProgress, "request with the same idempotency key is already processing"))
		default:
			s.writeError(w, r, errors.New("unknown idempotency record status"))
		}
	default:
		s.logger.WithError(createErr).Warn("failed to create idempotency record")
		s.writeError(w, r, createErr)
	}
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	_, _ = h.Write([]byte(method))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(path))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write(bytes.TrimSpace(body))
	return hex.EncodeToString(h.Sum(nil))
}

type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *responseCapture) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
