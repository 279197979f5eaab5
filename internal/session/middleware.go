package session

import (
	"context"
	"errors"
	"net/http"
)

type dataKey struct{}

// Middleware attaches the session, when there is one, to the request context.
// An expired session's cookie is cleared so the browser stops sending it.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := m.GetSession(r.Context(), r)
		switch {
		case err == nil:
			r = r.WithContext(WithData(r.Context(), data))
		case errors.Is(err, ErrSessionExpired):
			_ = m.DestroySession(r.Context(), w, r)
		}
		next.ServeHTTP(w, r)
	})
}

func WithData(ctx context.Context, data *Data) context.Context {
	return context.WithValue(ctx, dataKey{}, data)
}

// FromContext returns the session attached by Middleware, or nil.
func FromContext(ctx context.Context) *Data {
	if ctx == nil {
		return nil
	}
	data, _ := ctx.Value(dataKey{}).(*Data)
	return data
}
