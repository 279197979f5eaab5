package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// OrderStatus is the lifecycle state of an order. The numeric value is the
// ordinal the backend uses when it serializes statuses as numbers.
type OrderStatus int

const (
	StatusUnknown OrderStatus = iota - 1
	StatusWaitingForPayment
	StatusWaitingConfirmationPayment
	StatusInProcess
	StatusDelivered
	StatusOrderConfirmation
	StatusCancelled
)

var orderStatusNames = [...]string{
	StatusWaitingForPayment:          "WAITING_FOR_PAYMENT",
	StatusWaitingConfirmationPayment: "WAITING_CONFIRMATION_PAYMENT",
	StatusInProcess:                  "IN_PROCESS",
	StatusDelivered:                  "DELIVERED",
	StatusOrderConfirmation:          "ORDER_CONFIRMATION",
	StatusCancelled:                  "CANCELLED",
}

var ErrUnknownOrderStatus = errors.New("unknown order status")

// StatusParseError reports a raw status value that matched neither an ordinal
// nor a name.
type StatusParseError struct {
	Raw any
}

func (e *StatusParseError) Error() string {
	return fmt.Sprintf("%s: %v", ErrUnknownOrderStatus, e.Raw)
}

func (e *StatusParseError) Unwrap() error {
	return ErrUnknownOrderStatus
}

// OrderStatuses returns every known status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		StatusWaitingForPayment,
		StatusWaitingConfirmationPayment,
		StatusInProcess,
		StatusDelivered,
		StatusOrderConfirmation,
		StatusCancelled,
	}
}

func (s OrderStatus) Valid() bool {
	return s >= StatusWaitingForPayment && s <= StatusCancelled
}

func (s OrderStatus) String() string {
	if !s.Valid() {
		return "UNKNOWN"
	}
	return orderStatusNames[s]
}

// ParseOrderStatus accepts either an ordinal (any signed or unsigned integer
// kind, an integral float32 or float64 as produced by encoding/json, or a
// numeric string) or a symbolic name and returns the canonical status.
func ParseOrderStatus(raw any) (OrderStatus, error) {
	switch v := raw.(type) {
	case OrderStatus:
		if v.Valid() {
			return v, nil
		}
	case int:
		return statusFromOrdinal(int64(v), raw)
	case int8:
		return statusFromOrdinal(int64(v), raw)
	case int16:
		return statusFromOrdinal(int64(v), raw)
	case int32:
		return statusFromOrdinal(int64(v), raw)
	case int64:
		return statusFromOrdinal(v, raw)
	case uint:
		return statusFromUnsigned(uint64(v), raw)
	case uint8:
		return statusFromUnsigned(uint64(v), raw)
	case uint16:
		return statusFromUnsigned(uint64(v), raw)
	case uint32:
		return statusFromUnsigned(uint64(v), raw)
	case uint64:
		return statusFromUnsigned(v, raw)
	case float32:
		return statusFromFloat(float64(v), raw)
	case float64:
		return statusFromFloat(v, raw)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return statusFromOrdinal(n, raw)
		}
	case string:
		return statusFromString(v)
	}
	return StatusUnknown, &StatusParseError{Raw: raw}
}

// NormalizeOrderStatus is the lenient form of ParseOrderStatus used for
// rendering: anything unrecognized becomes StatusUnknown.
func NormalizeOrderStatus(raw any) OrderStatus {
	status, err := ParseOrderStatus(raw)
	if err != nil {
		return StatusUnknown
	}
	return status
}

func statusFromUnsigned(n uint64, raw any) (OrderStatus, error) {
	if n > math.MaxInt64 {
		return StatusUnknown, &StatusParseError{Raw: raw}
	}
	return statusFromOrdinal(int64(n), raw)
}

func statusFromFloat(f float64, raw any) (OrderStatus, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || f < math.MinInt64 || f > math.MaxInt64 {
		return StatusUnknown, &StatusParseError{Raw: raw}
	}
	return statusFromOrdinal(int64(f), raw)
}

func statusFromOrdinal(n int64, raw any) (OrderStatus, error) {
	status := OrderStatus(n)
	if n < 0 || n > int64(StatusCancelled) || !status.Valid() {
		return StatusUnknown, &StatusParseError{Raw: raw}
	}
	return status, nil
}

func statusFromString(raw string) (OrderStatus, error) {
	trimmed := strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return statusFromOrdinal(n, raw)
	}
	name := strings.ToUpper(trimmed)
	for i, candidate := range orderStatusNames {
		if candidate == name {
			return OrderStatus(i), nil
		}
	}
	return StatusUnknown, &StatusParseError{Raw: raw}
}

func (s OrderStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts a number or a string. Unrecognized values decode to
// StatusUnknown so a new backend status does not break decoding of the whole order.
func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(strings.NewReader(string(data)))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return fmt.Errorf("decode order status: %w", err)
	}
	*s = NormalizeOrderStatus(raw)
	return nil
}

// IsTerminal reports whether no further lifecycle transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusOrderConfirmation || s == StatusCancelled
}

// AdminActionsLocked reports whether admin mutations are closed for the status.
func (s OrderStatus) AdminActionsLocked() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusOrderConfirmation:
		return true
	}
	return !s.Valid()
}

var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	StatusWaitingForPayment:          {StatusWaitingConfirmationPayment, StatusCancelled},
	StatusWaitingConfirmationPayment: {StatusInProcess, StatusWaitingForPayment, StatusCancelled},
	StatusInProcess:                  {StatusDelivered, StatusCancelled},
	StatusDelivered:                  {StatusOrderConfirmation},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
// A declined payment moves the order back to WAITING_FOR_PAYMENT.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusStyle is the presentation hint for a status badge.
type StatusStyle struct {
	Label    string `json:"label"`
	Category string `json:"category"`
	Icon     string `json:"icon"`
}

var statusStyles = map[OrderStatus]StatusStyle{
	StatusWaitingForPayment:          {Label: "Waiting for Payment", Category: "warning", Icon: "clock"},
	StatusWaitingConfirmationPayment: {Label: "Waiting for Confirmation", Category: "info", Icon: "hourglass"},
	StatusInProcess:                  {Label: "In Process", Category: "primary", Icon: "package"},
	StatusDelivered:                  {Label: "Delivered", Category: "success", Icon: "truck"},
	StatusOrderConfirmation:          {Label: "Order Confirmed", Category: "success", Icon: "check-circle"},
	StatusCancelled:                  {Label: "Cancelled", Category: "danger", Icon: "x-circle"},
}

func StyleFor(status OrderStatus) StatusStyle {
	if style, ok := statusStyles[status]; ok {
		return style
	}
	return StatusStyle{Label: "Unknown", Category: "neutral", Icon: "help-circle"}
}

// PaymentStatus is the collapsed Paid/Unpaid view of an order status.
type PaymentStatus struct {
	Label    string `json:"label"`
	Category string `json:"category"`
}

var (
	PaymentUnpaid = PaymentStatus{Label: "Unpaid", Category: "warning"}
	PaymentPaid   = PaymentStatus{Label: "Paid", Category: "success"}
)

// PaymentStatusFor treats only WAITING_FOR_PAYMENT as unpaid. Cancelled and
// unknown statuses report Paid as well.
func PaymentStatusFor(status OrderStatus) PaymentStatus {
	if status == StatusWaitingForPayment {
		return PaymentUnpaid
	}
	return PaymentPaid
}
