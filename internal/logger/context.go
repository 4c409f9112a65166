package logger

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey struct{}

// Middleware attaches a logger tagged with the chi request id to the request
// context. Register it after middleware.RequestID.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := slog.Default()
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			log = log.With("req_id", reqID)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKey{}, log)))
	})
}

// Ctx returns the request-scoped logger, or the default logger outside of a
// request.
func Ctx(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return log
	}
	return slog.Default()
}
