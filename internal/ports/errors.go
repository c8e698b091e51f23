package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so the engine
// never branches on transport details.
var (
	// General
	ErrNotFound           = errors.New("resource not found")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Broker
	ErrBrokerUnavailable    = errors.New("broker API is unavailable")
	ErrAuthenticationFailed = errors.New("broker authentication failed (check app key/secret)")
	ErrQuoteUnavailable     = errors.New("quote unavailable or non-positive")
	ErrOrderRejected        = errors.New("order rejected by broker")
	ErrOrderAmbiguous       = errors.New("order response carried no recognized success code")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Store
	ErrQueryFailed  = errors.New("store query failed")
	ErrUpdateFailed = errors.New("store update failed")
)
