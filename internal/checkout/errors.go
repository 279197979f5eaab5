package checkout

import "errors"

// Precondition errors double as the user-facing message.
var (
	ErrNotAuthenticated = errors.New("please log in to continue checkout")
	ErrAddressRequired  = errors.New("select shipping address")
	ErrShippingRequired = errors.New("select shipping option")
)

var (
	ErrNotLoaded              = errors.New("checkout is not loaded")
	ErrAddressNotFound        = errors.New("address not found")
	ErrShippingOptionNotFound = errors.New("shipping option not found")
	ErrUnsupportedCourier     = errors.New("unsupported courier")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")
	ErrQuoteSuperseded        = errors.New("shipping quote superseded by a newer selection")
	ErrSubmitInProgress       = errors.New("order submission already in progress")
	ErrOrderSubmission        = errors.New("failed to create order")
	ErrGatewayUnavailable     = errors.New("failed to start gateway payment")
)
