package handlers

import (
	"context"
	"net/http"

	"github.com/gitshopapp/grocer/internal/auth"
	"github.com/gitshopapp/grocer/internal/logging"
	"github.com/gitshopapp/grocer/internal/services"
	"github.com/gitshopapp/grocer/internal/session"
)

func (h *Handlers) sessionFromRequest(ctx context.Context, r *http.Request) *session.Data {
	if ctx == nil {
		ctx = context.Background()
	}
	if sess := session.FromContext(ctx); sess != nil {
		return sess
	}
	if h == nil || h.sessionManager == nil || r == nil {
		return nil
	}
	sess, err := h.sessionManager.GetSession(ctx, r)
	if err != nil {
		return nil
	}
	return sess
}

// RequireSession rejects requests without a live session and tags the
// request logger with the session's user.
func (h *Handlers) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := h.sessionFromRequest(ctx, r)
		if sess == nil {
			writeError(ctx, w, session.ErrNoSession)
			return
		}
		ctx = logging.With(ctx, h.logger, "user_id", sess.UserID, "role", sess.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects sessions without an admin role.
func (h *Handlers) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := h.sessionFromRequest(ctx, r)
		if sess == nil {
			writeError(ctx, w, session.ErrNoSession)
			return
		}
		if !auth.IsAdminRole(sess.Role) {
			h.loggerFromContext(ctx).Warn("admin route requested without admin role")
			writeError(ctx, w, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestSession resolves the session and its opened bearer token.
func (h *Handlers) requestSession(w http.ResponseWriter, r *http.Request) (*session.Data, string, bool) {
	ctx := r.Context()
	sess := h.sessionFromRequest(ctx, r)
	if sess == nil {
		writeError(ctx, w, session.ErrNoSession)
		return nil, "", false
	}
	token, err := h.sessionManager.Token(sess)
	if err != nil {
		h.loggerFromContext(ctx).Warn("failed to open session token", "error", err, "user_id", sess.UserID)
		writeError(ctx, w, session.ErrNoSession)
		return nil, "", false
	}
	return sess, token, true
}

func (h *Handlers) adminActor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	sess, token, ok := h.requestSession(w, r)
	if !ok {
		return services.Actor{}, false
	}
	return services.Actor{SessionID: sess.ID, UserID: sess.UserID, Token: token}, true
}
