package kbinder

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

// Option customizes a Binder at construction time.
type Option func(*Binder)

// WithBrokers sets the seed brokers. Defaults to localhost:9092.
func WithBrokers(brokers ...string) Option {
	return func(b *Binder) {
		b.brokers = brokers
	}
}

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(log logr.Logger) Option {
	return func(b *Binder) {
		b.log = log
	}
}

// WithNumRoutines sets how many worker loops the binder runs. Each worker is
// a separate consumer group member. Defaults to 1.
func WithNumRoutines(n int) Option {
	return func(b *Binder) {
		if n > 0 {
			b.numRoutines = n
		}
	}
}

// WithPollTimeout sets the poll timeout of the worker loops.
func WithPollTimeout(d time.Duration) Option {
	return func(b *Binder) {
		b.pollTimeout = d
	}
}

// WithMaxPollRecords caps how many records a single poll may return.
func WithMaxPollRecords(n int) Option {
	return func(b *Binder) {
		b.maxPollRecords = n
	}
}

// WithStateDir sets the root directory for persistent state stores, and the
// directory the cleanup policy acts on.
func WithStateDir(dir string) Option {
	return func(b *Binder) {
		b.stateDir = dir
	}
}

// WithMetrics registers the binder's counters with reg and attaches them to
// the worker loops.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(b *Binder) {
		b.metrics = NewMetrics(reg)
	}
}

// StateDir returns the binder's local state directory, for use with
// persistent store backends.
func (b *Binder) StateDir() string {
	return b.stateDir
}
