package matching

import "errors"

var (
	// ErrUnknownOrder is returned by Cancel when the order id was never
	// admitted by this engine.
	ErrUnknownOrder = errors.New("matching: unknown order id")
	// ErrNotOwner is returned by Cancel when a non-admin caller tries to
	// cancel another account's order.
	ErrNotOwner = errors.New("matching: order does not belong to requesting account")
)
