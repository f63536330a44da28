package kbinder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kgo"
)

type workerState string

const (
	workerCreated            workerState = "CREATED"
	workerPartitionsAssigned workerState = "PARTITIONS_ASSIGNED"
	workerRunning            workerState = "RUNNING"
	workerCloseRequested     workerState = "CLOSE_REQUESTED"
	workerClosed             workerState = "CLOSED"
)

// Worker drives the poll-process-publish loop of one consumer group member.
// It is a state machine; transitions happen only inside Run's loop.
type Worker struct {
	client *kgo.Client
	log    logr.Logger
	group  string
	name   string

	topology *Topology

	state workerState

	assignedOrRevoked chan assignedOrRevoked
	newlyAssigned     map[string][]int32
	newlyRevoked      map[string][]int32

	closeRequested chan struct{}

	cancelPollMtx sync.Mutex
	cancelPoll    func()

	closed sync.WaitGroup

	pollTimeout    time.Duration
	commitInterval time.Duration
	maxPollRecords int
	lastCommit     time.Time

	pollBackoff backoff.BackOff

	taskManager *TaskManager
	metrics     *Metrics

	terminalErr error
}

type assignedOrRevoked struct {
	Assigned map[string][]int32
	Revoked  map[string][]int32
}

// WorkerConfig bundles the tunables of a worker loop.
type WorkerConfig struct {
	PollTimeout    time.Duration
	CommitInterval time.Duration
	MaxPollRecords int
}

func NewWorker(log logr.Logger, name string, t *Topology, group string, brokers []string, cfg WorkerConfig, metrics *Metrics) (*Worker, error) {
	// Close hangs if this channel is full/not read
	par := make(chan assignedOrRevoked)

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.Balancers(NewPartitionGroupBalancer(t.PartitionGroups())),
		kgo.DisableAutoCommit(),
		kgo.ConsumeTopics(t.GetTopics()...),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, m map[string][]int32) {
			par <- assignedOrRevoked{Assigned: m}
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, m map[string][]int32) {
			par <- assignedOrRevoked{Revoked: m}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute

	w := &Worker{
		client:            client,
		log:               log.WithValues("worker", name),
		group:             group,
		name:              name,
		topology:          t,
		state:             workerCreated,
		assignedOrRevoked: par,
		closeRequested:    make(chan struct{}, 1),
		pollTimeout:       cfg.PollTimeout,
		commitInterval:    cfg.CommitInterval,
		maxPollRecords:    cfg.MaxPollRecords,
		lastCommit:        time.Now(),
		pollBackoff:       bo,
		taskManager:       NewTaskManager(client, t, log.WithValues("worker", name)),
		metrics:           metrics,
	}
	w.closed.Add(1)
	return w, nil
}

func (r *Worker) changeState(newState workerState) {
	r.log.V(1).Info("Change state", "from", string(r.state), "to", string(newState))
	r.state = newState
}

func (r *Worker) fail(err error) {
	if r.terminalErr == nil {
		r.terminalErr = err
	}
	r.changeState(workerCloseRequested)
}

// Run blocks until the worker has fully shut down, either due to a fatal
// error or a call to Close. State transitions may only be done from within
// this loop.
func (r *Worker) Run() error {
	for {
		switch r.state {
		case workerClosed:
			r.closed.Done()
			return r.terminalErr
		case workerCloseRequested:
			r.handleCloseRequested()
		case workerCreated:
			select {
			case ev := <-r.assignedOrRevoked:
				r.newlyAssigned = ev.Assigned
				r.newlyRevoked = ev.Revoked
				r.changeState(workerPartitionsAssigned)
			case <-r.closeRequested:
				r.changeState(workerCloseRequested)
			}
		case workerPartitionsAssigned:
			r.handlePartitionsAssigned()
		case workerRunning:
			r.handleRunning()
		}
	}
}

func (r *Worker) handlePartitionsAssigned() {
	if err := r.taskManager.Revoked(r.newlyRevoked); err != nil {
		r.log.Error(err, "Failed to tear down tasks for revoked partitions")
		r.fail(err)
		return
	}
	if err := r.taskManager.Assigned(r.newlyAssigned); err != nil {
		r.log.Error(err, "Failed to set up tasks for assigned partitions")
		r.fail(err)
		return
	}

	r.newlyAssigned = nil
	r.newlyRevoked = nil

	if r.taskManager.Tasks() > 0 {
		r.changeState(workerRunning)
	} else {
		r.changeState(workerCreated)
	}
}

func (r *Worker) handleRunning() {
	r.cancelPollMtx.Lock()

	select {
	case ev := <-r.assignedOrRevoked:
		r.newlyAssigned = ev.Assigned
		r.newlyRevoked = ev.Revoked
		r.changeState(workerPartitionsAssigned)
		r.cancelPollMtx.Unlock()
		return
	default:
	}

	select {
	case <-r.closeRequested:
		r.changeState(workerCloseRequested)
		r.cancelPollMtx.Unlock()
		return
	default:
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.pollTimeout)
	defer cancel()
	r.cancelPoll = cancel

	r.cancelPollMtx.Unlock()

	f := r.client.PollRecords(ctx, r.maxPollRecords)

	if f.IsClientClosed() {
		r.changeState(workerCloseRequested)
		return
	}

	if err := r.pollErr(f); err != nil {
		wait := r.pollBackoff.NextBackOff()
		if wait == backoff.Stop {
			r.fail(fmt.Errorf("%w: poll retries exhausted: %v", ErrBrokerUnavailable, err))
			return
		}
		r.log.Error(err, "Poll failed, backing off", "wait", wait)
		time.Sleep(wait)
		return
	}
	r.pollBackoff.Reset()

	f.EachPartition(func(fetch kgo.FetchTopicPartition) {
		if r.state != workerRunning {
			return
		}
		task, err := r.taskManager.TaskFor(fetch.Topic, fetch.Partition)
		if err != nil {
			r.fail(err)
			return
		}

		if err := task.Process(context.Background(), fetch.Records...); err != nil {
			r.log.Error(err, "Failed to process records", "topic", fetch.Topic, "partition", fetch.Partition)
			if r.metrics != nil {
				r.metrics.ProcessErrors.Inc()
			}
			r.fail(err)
			return
		}
		if r.metrics != nil {
			r.metrics.RecordsProcessed.Add(float64(len(fetch.Records)))
		}
	})

	if r.state != workerRunning {
		return
	}

	if time.Since(r.lastCommit) >= r.commitInterval {
		if err := r.taskManager.Commit(context.Background()); err != nil {
			r.fail(err)
			return
		}
		r.lastCommit = time.Now()
		if r.metrics != nil {
			r.metrics.Commits.Inc()
		}
	}
}

// pollErr filters fetch errors down to the ones that mean the broker is
// unhealthy. A deadline on an empty poll is normal operation.
func (r *Worker) pollErr(f kgo.Fetches) error {
	for _, fetchErr := range f.Errors() {
		if errors.Is(fetchErr.Err, context.DeadlineExceeded) || errors.Is(fetchErr.Err, context.Canceled) {
			continue
		}
		return fmt.Errorf("%w: fetch %s/%d: %v", ErrBrokerUnavailable, fetchErr.Topic, fetchErr.Partition, fetchErr.Err)
	}
	return nil
}

func (r *Worker) handleCloseRequested() {
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		// Drain rebalance events until the client has closed this channel's
		// writer.
		for range r.assignedOrRevoked {
		}
		wg.Done()
	}()

	if err := r.taskManager.Commit(context.Background()); err != nil {
		r.log.Error(err, "Failed to commit tasks on close")
	}
	if err := r.taskManager.Close(); err != nil {
		r.log.Error(err, "Failed to close tasks")
	}

	r.client.Close()
	close(r.assignedOrRevoked) // Only after client close; the client writes to this channel.
	wg.Wait()
	r.changeState(workerClosed)
}

// Close requests shutdown and blocks until the loop has fully exited. The
// in-flight poll is cancelled; in-flight record processing completes first.
func (r *Worker) Close() error {
	r.cancelPollMtx.Lock()
	select {
	case r.closeRequested <- struct{}{}:
	default:
	}
	if r.cancelPoll != nil {
		r.cancelPoll()
	}
	r.cancelPollMtx.Unlock()

	r.closed.Wait()
	return nil
}
