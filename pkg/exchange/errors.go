package exchange

import "errors"

var (
	ErrExchangeClosed  = errors.New("exchange: exchange is closed")
	ErrExchangeClosing = errors.New("exchange: exchange is closing")
	ErrExchangeExists  = errors.New("exchange: exchange already exists")

	// ErrNoHandler: an unsolicited message named a protocol id nothing
	// registered for.
	ErrNoHandler = errors.New("exchange: no handler registered for protocol")

	ErrSessionNotFound = errors.New("exchange: session not found")
	ErrInvalidMessage  = errors.New("exchange: invalid message")

	// ErrPendingRetransmit: MRP allows one outstanding reliable message
	// per exchange; the previous one has not been acked yet.
	ErrPendingRetransmit = errors.New("exchange: reliable message pending")

	// ErrUnsolicitedNotInitiator: a message for an unknown exchange must
	// carry the I flag to open one.
	ErrUnsolicitedNotInitiator = errors.New("exchange: unsolicited message must have I flag set")
)
