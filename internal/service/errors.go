package service

import "errors"

var (
	// ErrNoBrokerAvailable means every active broker is at capacity.
	ErrNoBrokerAvailable = errors.New("no broker available")
	// ErrBrokerAtCapacity means the requested broker had no free slot; the
	// caller did not get one.
	ErrBrokerAtCapacity = errors.New("broker at capacity")
	// ErrCapacityReservation means the reservation could not be persisted.
	// The caller must not treat the broker as busy.
	ErrCapacityReservation = errors.New("capacity reservation failed")

	ErrBrokerNotFound       = errors.New("broker not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrInvalidMessage       = errors.New("invalid message")
)
