package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"metaserver/internal/observability/logging"
)

type idGenerator func() string

// requestIDMiddleware tags every request with an identifier, honouring one
// supplied by an upstream proxy, and threads a request-scoped logger through
// the context.
func requestIDMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return requestIDMiddlewareWithGenerator(logger, nil, next)
}

func requestIDMiddlewareWithGenerator(logger *slog.Logger, generate idGenerator, next http.Handler) http.Handler {
	if generate == nil {
		generate = newRequestID
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = generate()
		}
		w.Header().Set("X-Request-Id", id)

		ctx := logging.ContextWithRequestID(r.Context(), id)
		ctx = logging.ContextWithLogger(ctx, logging.WithContext(ctx, logger))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return hex.EncodeToString(raw[:])
}
