// Package session keeps buyer and admin sessions for the storefront API.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gitshopapp/grocer/internal/crypto"
)

const (
	CookieName = "grocer_session"
	maxTTL     = 24 * time.Hour
)

var (
	ErrNoSession        = errors.New("no session")
	ErrSessionExpired   = errors.New("session expired")
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Data is what a session stores. The backend bearer token is only kept
// sealed and is bound to the session id.
type Data struct {
	ID          string `json:"-"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id,omitempty"`
	SealedToken string `json:"sealed_token"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

type Store interface {
	Get(ctx context.Context, key string) (*Data, bool)
	Set(ctx context.Context, key string, data *Data, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type Manager struct {
	store  Store
	sealer crypto.Sealer
	secure bool
	now    func() time.Time
}

func NewManager(store Store, sealer crypto.Sealer, secure bool) *Manager {
	return &Manager{
		store:  store,
		sealer: sealer,
		secure: secure,
		now:    time.Now,
	}
}

func (m *Manager) Close() error {
	if m == nil || m.store == nil {
		return nil
	}
	return m.store.Close()
}

// CreateSession stores data with the sealed token and sets the cookie. The
// session never outlives the token: expiresAt caps the TTL when set. No cookie
// is set when the store refuses the write.
func (m *Manager) CreateSession(ctx context.Context, w http.ResponseWriter, data *Data, token string, expiresAt time.Time) (*Data, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if data == nil {
		return nil, fmt.Errorf("session data is required")
	}
	if token == "" {
		return nil, fmt.Errorf("bearer token is required")
	}

	now := m.now()
	ttl := maxTTL
	if !expiresAt.IsZero() {
		if until := expiresAt.Sub(now); until < ttl {
			ttl = until
		}
	}
	if ttl <= 0 {
		return nil, ErrSessionExpired
	}

	sessionID := uuid.NewString()
	sealed, err := m.sealer.Seal(token, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to seal token: %w", err)
	}

	sessionData := cloneData(data)
	sessionData.ID = sessionID
	sessionData.SealedToken = sealed
	sessionData.CreatedAt = now.Unix()
	sessionData.ExpiresAt = now.Add(ttl).Unix()
	if err := m.store.Set(ctx, sessionID, sessionData, ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return sessionData, nil
}

// GetSession loads the session named by the request cookie.
func (m *Manager) GetSession(ctx context.Context, r *http.Request) (*Data, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}

	if ctx == nil {
		ctx = r.Context()
	}

	data, ok := m.store.Get(ctx, cookie.Value)
	if !ok {
		return nil, ErrNoSession
	}

	if data.ExpiresAt > 0 && m.now().Unix() >= data.ExpiresAt {
		// The store's own TTL removes it if this delete fails.
		_ = m.store.Delete(ctx, cookie.Value)
		return nil, ErrSessionExpired
	}

	data.ID = cookie.Value
	return data, nil
}

// Token opens the bearer token sealed in data.
func (m *Manager) Token(data *Data) (string, error) {
	if data == nil || data.SealedToken == "" {
		return "", ErrNoSession
	}
	return m.sealer.Open(data.SealedToken, data.ID)
}

// DestroySession removes the session and clears the cookie.
func (m *Manager) DestroySession(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(CookieName)
	if ctx == nil {
		ctx = r.Context()
	}
	var deleteErr error
	if err == nil {
		if err := m.store.Delete(ctx, cookie.Value); err != nil {
			deleteErr = fmt.Errorf("failed to delete session: %w", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	return deleteErr
}

func cloneData(data *Data) *Data {
	if data == nil {
		return nil
	}
	cloned := *data
	return &cloned
}
