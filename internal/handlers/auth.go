package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gitshopapp/grocer/internal/auth"
	"github.com/gitshopapp/grocer/internal/session"
)

type createSessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Admin     bool      `json:"admin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateSession exchanges a backend bearer token for a session cookie. The
// token comes from the JSON body or the Authorization header.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		var req createSessionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(ctx, w, err)
			return
		}
		raw = req.Token
	}

	claims, err := h.verifier.Parse(raw)
	if err != nil {
		logger.Warn("rejected session token", "error", err)
		h.metrics.RecordEvent("session.create", "rejected")
		writeError(ctx, w, err)
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))

	profile, err := h.profiles(token).GetProfile(ctx)
	if err != nil {
		logger.Warn("failed to load profile for session", "error", err)
		h.metrics.RecordEvent("session.create", "failed")
		writeError(ctx, w, err)
		return
	}

	data := &session.Data{
		UserID: firstNonEmpty(profile.ID.String(), claims.UserSubject()),
		Name:   firstNonEmpty(profile.Name, claims.Name),
		Email:  firstNonEmpty(profile.Email, claims.Email),
		Role:   firstNonEmpty(profile.Role, claims.Role),
	}
	if prev := h.sessionFromRequest(ctx, r); prev != nil {
		h.checkoutService.Forget(prev.ID)
	}

	created, err := h.sessionManager.CreateSession(ctx, w, data, token, claims.Expiry())
	if err != nil {
		logger.Error("failed to create session", "error", err, "user_id", data.UserID)
		h.metrics.RecordEvent("session.create", "failed")
		writeError(ctx, w, err)
		return
	}

	h.metrics.RecordEvent("session.create", "ok")
	logger.Info("session created", "user_id", created.UserID, "role", created.Role)
	writeJSON(ctx, w, http.StatusCreated, newSessionResponse(created))
}

// CurrentSession returns who the cookie belongs to.
func (h *Handlers) CurrentSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.sessionFromRequest(ctx, r)
	if sess == nil {
		writeError(ctx, w, session.ErrNoSession)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newSessionResponse(sess))
}

func (h *Handlers) DestroySession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if sess := h.sessionFromRequest(ctx, r); sess != nil {
		h.checkoutService.Forget(sess.ID)
	}
	if err := h.sessionManager.DestroySession(ctx, w, r); err != nil {
		h.loggerFromContext(ctx).Error("failed to destroy session", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func newSessionResponse(data *session.Data) sessionResponse {
	resp := sessionResponse{
		UserID: data.UserID,
		Name:   data.Name,
		Email:  data.Email,
		Role:   data.Role,
		Admin:  auth.IsAdminRole(data.Role),
	}
	if data.ExpiresAt > 0 {
		resp.ExpiresAt = time.Unix(data.ExpiresAt, 0).UTC()
	}
	return resp
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
