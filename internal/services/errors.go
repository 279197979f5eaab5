// Package services coordinates the checkout, order and admin components on
// behalf of HTTP handlers.
package services

import "errors"

// UserError carries a message that is safe to show to the buyer or admin.
// Err, when set, decides the response status.
type UserError struct {
	Message string
	Err     error
}

func (e UserError) Error() string {
	return e.Message
}

func (e UserError) Unwrap() error {
	return e.Err
}

var (
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderStatusConflict = errors.New("order status does not allow this change")
	ErrServiceUnavailable  = errors.New("service unavailable")
)
