package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gitshopapp/grocer/internal/models"
)

const (
	OutcomePerformed = "performed"
	OutcomeFailed    = "failed"
)

// ActionLogEntry records one admin action attempt against an order.
type ActionLogEntry struct {
	ID         uuid.UUID          `json:"id"`
	OrderID    models.ID          `json:"orderId"`
	Action     string             `json:"action"`
	Actor      string             `json:"actor"`
	FromStatus models.OrderStatus `json:"fromStatus"`
	ToStatus   models.OrderStatus `json:"toStatus"`
	Outcome    string             `json:"outcome"`
	Error      string             `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

type ActionLog interface {
	Record(ctx context.Context, entry ActionLogEntry) error
	List(ctx context.Context, orderID models.ID, limit int) ([]ActionLogEntry, error)
}

type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type ActionLogStore struct {
	db  dbtx
	now func() time.Time
}

func NewActionLogStore(db dbtx) *ActionLogStore {
	return &ActionLogStore{db: db, now: time.Now}
}

const createActionLogTable = `
CREATE TABLE IF NOT EXISTS admin_order_actions (
	id          UUID PRIMARY KEY,
	order_id    TEXT NOT NULL,
	action      TEXT NOT NULL,
	actor       TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS admin_order_actions_order_idx ON admin_order_actions (order_id, created_at DESC);
`

func (s *ActionLogStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createActionLogTable); err != nil {
		return fmt.Errorf("failed to create admin_order_actions: %w", err)
	}
	return nil
}

const insertActionLog = `
INSERT INTO admin_order_actions (id, order_id, action, actor, from_status, to_status, outcome, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (s *ActionLogStore) Record(ctx context.Context, entry ActionLogEntry) error {
	if entry.OrderID == "" {
		return fmt.Errorf("order id is required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}

	_, err := s.db.Exec(ctx, insertActionLog,
		entry.ID,
		entry.OrderID.String(),
		entry.Action,
		entry.Actor,
		entry.FromStatus.String(),
		entry.ToStatus.String(),
		entry.Outcome,
		entry.Error,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record admin action: %w", err)
	}
	return nil
}

const listActionLog = `
SELECT id, order_id, action, actor, from_status, to_status, outcome, error, created_at
FROM admin_order_actions
WHERE order_id = $1
ORDER BY created_at DESC
LIMIT $2`

func (s *ActionLogStore) List(ctx context.Context, orderID models.ID, limit int) ([]ActionLogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, listActionLog, orderID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list admin actions: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ActionLogEntry, error) {
		var (
			entry      ActionLogEntry
			orderIDRaw string
			from, to   string
		)
		if err := row.Scan(&entry.ID, &orderIDRaw, &entry.Action, &entry.Actor, &from, &to, &entry.Outcome, &entry.Error, &entry.CreatedAt); err != nil {
			return ActionLogEntry{}, err
		}
		entry.OrderID = models.ID(orderIDRaw)
		entry.FromStatus = models.NormalizeOrderStatus(from)
		entry.ToStatus = models.NormalizeOrderStatus(to)
		return entry, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan admin actions: %w", err)
	}
	return entries, nil
}

// NoopActionLog is used when no database is configured.
type NoopActionLog struct{}

func (NoopActionLog) Record(context.Context, ActionLogEntry) error { return nil }

func (NoopActionLog) List(context.Context, models.ID, int) ([]ActionLogEntry, error) {
	return nil, nil
}
