// Package store defines the collaborator contracts the engine executes
// root operations against : variable access, method invocation and the
// pollable handle returned by long-running methods.
package store

import "errors"

var (
	ErrKeyNotFound    = errors.New("store: key not found")
	ErrMethodNotFound = errors.New("store: method not found")
	ErrReadOnly       = errors.New("store: variable is read only")
)

// VariableAccessor gives the engine read/write access to named variables.
// Both calls happen synchronously from within the engine poll, so
// implementations must not block.
type VariableAccessor interface {
	// Get returns the value of a variable, or false if it does not exist.
	Get(key string) ([]byte, bool)
	// Set updates a variable. The returned error message is reported to
	// the remote peer as response data.
	Set(key string, value []byte) error
}

// MethodAccessor dispatches method invocations. Invoke returns
// immediately with a handle ; the actual work may run elsewhere.
type MethodAccessor interface {
	Invoke(key string, param []byte) (Pollable, error)
}

// PollState is the readiness of a [Pollable].
type PollState uint8

const (
	Pending PollState = iota
	Ready
)

// Result of polling a [Pollable]. Data and Err are only meaningful when
// State is Ready.
type Result struct {
	State PollState
	Data  []byte
	Err   error
}

// Pollable is a lazy handle for a long-running method invocation.
// The engine polls it repeatedly from its own scheduling point until it
// reports Ready ; implementations must never block inside Poll.
type Pollable interface {
	Poll() Result
}
