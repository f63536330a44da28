package kbinder

import "errors"

// Error taxonomy of the binder runtime. Every error surfaced by the runtime
// wraps one of these sentinels so callers can classify with errors.Is.
var (
	// ErrConfiguration covers missing or invalid bindings, unresolvable
	// serdes and unresolvable destination topics. Fatal at Start, before
	// the poll loop begins.
	ErrConfiguration = errors.New("kbinder: invalid configuration")

	// ErrSerialization covers payloads that do not match the expected
	// schema. Per-record; fails the processing loop.
	ErrSerialization = errors.New("kbinder: serialization failed")

	// ErrStore covers state store read/write failures. Fatal; terminates
	// the loop and surfaces as a terminal binder state.
	ErrStore = errors.New("kbinder: state store failure")

	// ErrBrokerUnavailable is retried with backoff at the poll/publish
	// boundary and becomes fatal once retries are exhausted.
	ErrBrokerUnavailable = errors.New("kbinder: broker unavailable")
)

var (
	ErrNodeAlreadyExists = errors.New("kbinder: node exists already")
	ErrNodeNotFound      = errors.New("kbinder: node not found")
)
