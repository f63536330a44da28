package kbinder

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-logr/logr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"go.uber.org/multierr"
)

// TaskManager tracks the live tasks of one worker. Tasks are created and
// torn down as the consumer group assigns and revokes partitions.
type TaskManager struct {
	tasks    []*Task
	client   *kgo.Client
	log      logr.Logger
	topology *Topology
}

func NewTaskManager(client *kgo.Client, topology *Topology, log logr.Logger) *TaskManager {
	return &TaskManager{
		client:   client,
		topology: topology,
		log:      log,
	}
}

// Assigned creates tasks for newly assigned partitions. Topics of the same
// partition group share a task per partition so that co-partitioned state
// stays together.
func (tm *TaskManager) Assigned(assigned map[string][]int32) error {
	for topic, partitions := range assigned {
		pg, err := tm.topology.groupForTopic(topic)
		if err != nil {
			return err
		}
		for _, partition := range partitions {
			if tm.taskFor(pg, partition) != nil {
				continue
			}
			task, err := tm.topology.createTask(pg, partition, tm.client)
			if err != nil {
				return err
			}
			tm.log.Info("Created task", "task", task.String())
			tm.tasks = append(tm.tasks, task)
		}
	}
	return nil
}

// Revoked commits and closes the tasks of revoked partitions.
func (tm *TaskManager) Revoked(revoked map[string][]int32) error {
	var err error
	for topic, partitions := range revoked {
		pg, groupErr := tm.topology.groupForTopic(topic)
		if groupErr != nil {
			err = multierr.Append(err, groupErr)
			continue
		}
		for _, partition := range partitions {
			task := tm.taskFor(pg, partition)
			if task == nil {
				continue
			}
			err = multierr.Append(err, tm.commitTask(context.Background(), task))
			err = multierr.Append(err, task.Close())
			tm.log.Info("Closed task", "task", task.String())
			tm.tasks = slices.DeleteFunc(tm.tasks, func(t *Task) bool { return t == task })
		}
	}
	return err
}

// TaskFor returns the task processing the given topic-partition.
func (tm *TaskManager) TaskFor(topic string, partition int32) (*Task, error) {
	pg, err := tm.topology.groupForTopic(topic)
	if err != nil {
		return nil, err
	}
	if task := tm.taskFor(pg, partition); task != nil {
		return task, nil
	}
	return nil, fmt.Errorf("%w: no task for %s/%d", ErrNodeNotFound, topic, partition)
}

func (tm *TaskManager) taskFor(pg *PartitionGroup, partition int32) *Task {
	for _, task := range tm.tasks {
		if task.partition != partition {
			continue
		}
		if slices.Equal(task.topics, pg.sourceTopics) {
			return task
		}
	}
	return nil
}

// Commit flushes all tasks and commits their offsets.
func (tm *TaskManager) Commit(ctx context.Context) error {
	var err error
	for _, task := range tm.tasks {
		err = multierr.Append(err, tm.commitTask(ctx, task))
	}
	return err
}

// commitTask flushes stores and sinks first so that no offset is committed
// before its record's effects are durable.
func (tm *TaskManager) commitTask(ctx context.Context, task *Task) error {
	if err := task.Flush(ctx); err != nil {
		return err
	}

	offsets := task.GetOffsetsToCommit()
	if len(offsets) == 0 {
		return nil
	}
	uncommitted := map[string]map[int32]kgo.EpochOffset{}
	for topic, offset := range offsets {
		uncommitted[topic] = map[int32]kgo.EpochOffset{task.partition: offset}
	}

	var commitErr error
	tm.client.CommitOffsetsSync(ctx, uncommitted, func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, _ *kmsg.OffsetCommitResponse, err error) {
		commitErr = err
	})
	if commitErr != nil {
		return fmt.Errorf("%w: offset commit for task %s: %v", ErrBrokerUnavailable, task.String(), commitErr)
	}

	task.ClearOffsets()
	return nil
}

func (tm *TaskManager) Close() error {
	var err error
	for _, task := range tm.tasks {
		err = multierr.Append(err, task.Close())
	}
	tm.tasks = nil
	return err
}

// Tasks returns the number of live tasks.
func (tm *TaskManager) Tasks() int {
	return len(tm.tasks)
}
