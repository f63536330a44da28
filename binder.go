package kbinder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// BinderState is the externally observable lifecycle state of a Binder.
type BinderState string

const (
	StateCreated  BinderState = "CREATED"
	StateStarting BinderState = "STARTING"
	StateRunning  BinderState = "RUNNING"
	StateStopping BinderState = "STOPPING"
	StateStopped  BinderState = "STOPPED"
)

// Binder connects a built topology to the broker: it validates the channel
// bindings, manages local state directories according to the cleanup policy,
// and runs the worker loops that poll, process and publish.
//
// Lifecycle: New -> Start -> Close. Close blocks until all workers have
// fully stopped and is safe to call any number of times, from any
// goroutine; every call observes the same completed shutdown.
type Binder struct {
	topology *Topology
	cfg      Config
	registry *SerdeRegistry
	log      logr.Logger

	brokers        []string
	numRoutines    int
	pollTimeout    time.Duration
	maxPollRecords int
	stateDir       string
	metrics        *Metrics

	mtx     sync.Mutex
	state   BinderState
	workers []*Worker
	group   *errgroup.Group

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func New(t *Topology, cfg Config, registry *SerdeRegistry, opts ...Option) (*Binder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = NewSerdeRegistry()
	}
	b := &Binder{
		topology:       t,
		cfg:            cfg,
		registry:       registry,
		log:            logr.Discard(),
		brokers:        []string{"localhost:9092"},
		numRoutines:    1,
		pollTimeout:    10 * time.Second,
		maxPollRecords: 1000,
		stateDir:       filepath.Join(os.TempDir(), "kbinder", cfg.ApplicationID),
		state:          StateCreated,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// State returns the binder's current lifecycle state.
func (b *Binder) State() BinderState {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.state
}

// CleanupConfig returns the effective cleanup policy. Unless configured
// otherwise, both flags are false and local state survives restarts.
func (b *Binder) CleanupConfig() CleanupConfig {
	return b.cfg.Cleanup
}

// failStart settles the lifecycle as stopped after a failed startup so that
// a later Close still returns cleanly.
func (b *Binder) failStart(err error) {
	b.closeOnce.Do(func() {
		b.closeErr = err
		b.setState(StateStopped)
		close(b.done)
	})
}

func (b *Binder) setState(s BinderState) {
	b.mtx.Lock()
	b.log.V(1).Info("Binder state change", "from", string(b.state), "to", string(s))
	b.state = s
	b.mtx.Unlock()
}

// Start validates the bindings against the broker, applies the on-start
// cleanup policy, and launches the worker loops. It returns once the binder
// is running; use Run to also block until shutdown.
func (b *Binder) Start(ctx context.Context) error {
	b.mtx.Lock()
	if b.state != StateCreated {
		b.mtx.Unlock()
		return fmt.Errorf("%w: binder already started", ErrConfiguration)
	}
	b.state = StateStarting
	b.mtx.Unlock()

	if err := b.validateBindings(ctx); err != nil {
		b.failStart(err)
		return err
	}

	if b.cfg.Cleanup.OnStart {
		b.log.Info("Removing local state before start", "dir", b.stateDir)
		if err := os.RemoveAll(b.stateDir); err != nil {
			err = fmt.Errorf("%w: cleanup on start: %v", ErrStore, err)
			b.failStart(err)
			return err
		}
	}

	b.group = &errgroup.Group{}
	for i := 0; i < b.numRoutines; i++ {
		worker, err := NewWorker(
			b.log,
			fmt.Sprintf("%s-worker-%d", b.cfg.ApplicationID, i),
			b.topology,
			b.cfg.ApplicationID,
			b.brokers,
			WorkerConfig{
				PollTimeout:    b.pollTimeout,
				CommitInterval: b.cfg.CommitInterval,
				MaxPollRecords: b.maxPollRecords,
			},
			b.metrics,
		)
		if err != nil {
			closeErr := b.Close()
			return multierr.Append(err, closeErr)
		}
		b.workers = append(b.workers, worker)
		b.group.Go(worker.Run)
	}

	b.setState(StateRunning)
	b.log.Info("Binder running", "application", b.cfg.ApplicationID, "workers", b.numRoutines)
	return nil
}

// Run starts the binder and blocks until ctx is cancelled or a worker fails
// fatally, then shuts down.
func (b *Binder) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}

	workersDone := make(chan error, 1)
	go func() {
		workersDone <- b.group.Wait()
	}()

	select {
	case <-ctx.Done():
		return b.Close()
	case err := <-workersDone:
		return multierr.Append(err, b.Close())
	}
}

// Close stops the binder. It is idempotent: the first call performs the
// shutdown, later calls block until that shutdown has completed and return
// the same result. In-flight records finish processing before workers stop.
func (b *Binder) Close() error {
	b.closeOnce.Do(func() {
		b.setState(StateStopping)

		var errs error
		for _, worker := range b.workers {
			errs = multierr.Append(errs, worker.Close())
		}
		if b.group != nil {
			errs = multierr.Append(errs, b.group.Wait())
		}

		if b.cfg.Cleanup.OnStop {
			b.log.Info("Removing local state after stop", "dir", b.stateDir)
			if err := os.RemoveAll(b.stateDir); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%w: cleanup on stop: %v", ErrStore, err))
			}
		}

		b.closeErr = errs
		b.setState(StateStopped)
		close(b.done)
	})

	<-b.done
	return b.closeErr
}

// validateBindings checks that every declared channel has a resolvable serde
// and that its destination topic exists on the broker. Metadata fetches are
// retried with backoff while the broker is still coming up.
func (b *Binder) validateBindings(ctx context.Context) error {
	bindings := b.topology.Bindings().All()
	for _, binding := range bindings {
		if b.registry.Registered(binding.Name) {
			continue
		}
		// Fall back to the configured defaults; Validate already checked the
		// names resolve.
		if _, err := DefaultSerde(b.cfg.DefaultKeySerde); err != nil {
			return fmt.Errorf("%w: channel %q", err, binding.Name)
		}
		if _, err := DefaultSerde(b.cfg.DefaultValueSerde); err != nil {
			return fmt.Errorf("%w: channel %q", err, binding.Name)
		}
	}
	if len(bindings) == 0 {
		return nil
	}

	client, err := kgo.NewClient(kgo.SeedBrokers(b.brokers...))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	defer client.Close()
	adm := kadm.NewClient(client)

	ebo := backoff.NewExponentialBackOff()
	ebo.MaxElapsedTime = 30 * time.Second
	bo := backoff.WithContext(ebo, ctx)
	var topics kadm.TopicDetails
	err = backoff.Retry(func() error {
		details, err := adm.ListTopics(ctx)
		if err != nil {
			return err
		}
		topics = details
		return nil
	}, bo)
	if err != nil {
		return fmt.Errorf("%w: listing topics: %v", ErrBrokerUnavailable, err)
	}

	for _, binding := range bindings {
		if !topics.Has(binding.Topic) {
			return fmt.Errorf("%w: %s binding %q references topic %q, which does not exist",
				ErrConfiguration, binding.Direction, binding.Name, binding.Topic)
		}
	}
	return nil
}
