package exception

import "github.com/yanun0323/errors"

// Aggregate errors
var (
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrInvalidTransitionTable = errors.New("order: invalid state transition table")
	ErrInvalidFill            = errors.New("order: invalid fill quantity")
	ErrInvalidExpireTime      = errors.New("order: invalid expire time")
	ErrEventMismatch          = errors.New("aggregate: event does not target this aggregate")
	ErrInvalidIdentifier      = errors.New("identifier: invalid value")
)

// Database errors
var (
	ErrDuplicateAggregate = errors.New("database: aggregate already exists")
	ErrNotFound           = errors.New("database: not found")
	ErrSerialization      = errors.New("database: serialization failure")
)

// Engine errors
var (
	ErrUnknownMessage = errors.New("engine: unknown message")
)
