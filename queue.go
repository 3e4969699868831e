package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// PotentialJob asks a worker to process one potential unit.
type PotentialJob struct {
	RunID        string  `json:"run_id"`
	Unit         UnitKey `json:"unit"`
	SourceFamily string  `json:"source_family"`
}

/*
JobQueue distributes potential jobs to workers.
Consume blocks until ctx is done; handler errors do not stop consumption.
Concurrent Consume calls are allowed.
*/
type JobQueue interface {
	Publish(ctx context.Context, jobs ...PotentialJob) error
	Consume(ctx context.Context, handle func(context.Context, PotentialJob) error) error
	Close() error
}

// KafkaConfig defines the job topic.
type KafkaConfig struct {
	Brokers []string `yaml:"Brokers"`
	Topic   string   `yaml:"Topic"`
	GroupID string   `yaml:"GroupID"`
	MaxWait int      `yaml:"MaxWait"` // ms
}

/*
KafkaQueue publishes jobs to a Kafka topic; every Consume call joins the consumer group
with its own reader.
*/
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
}

/*
NewKafkaQueue creates the topic writer.
*/
func NewKafkaQueue(cfg KafkaConfig) *KafkaQueue {
	return &KafkaQueue{
		config: cfg,
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

/*
Publish writes the jobs, keyed by unit so repeated jobs of a unit stay ordered.
*/
func (q *KafkaQueue) Publish(ctx context.Context, jobs ...PotentialJob) error {
	messages := make([]kafka.Message, 0, len(jobs))
	for _, job := range jobs {
		value, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("error [%w] at json.Marshal()", err)
		}
		messages = append(messages, kafka.Message{Key: []byte(job.Unit.String()), Value: value})
	}
	err := q.writer.WriteMessages(ctx, messages...)
	if err != nil {
		return fmt.Errorf("%w: error [%w] at writer.WriteMessages()", ErrUpstreamUnavailable, err)
	}
	return nil
}

/*
Consume reads jobs and commits each one after it was handled.
*/
func (q *KafkaQueue) Consume(ctx context.Context, handle func(context.Context, PotentialJob) error) error {
	maxWait := time.Duration(q.config.MaxWait) * time.Millisecond
	if maxWait <= 0 {
		maxWait = time.Second
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  q.config.Brokers,
		Topic:    q.config.Topic,
		GroupID:  q.config.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  maxWait,
	})
	defer reader.Close()

	for {
		message, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("error fetching job", "topic", q.config.Topic, "error", err)
			continue
		}
		var job PotentialJob
		err = json.Unmarshal(message.Value, &job)
		if err != nil {
			slog.Error("dropping undecodable job", "topic", q.config.Topic, "key", string(message.Key), "error", err)
		} else {
			err = handle(ctx, job)
			if err != nil {
				slog.Error("job handler failed", "unit", job.Unit.String(), "error", err)
			}
		}
		err = reader.CommitMessages(ctx, message)
		if err != nil && ctx.Err() == nil {
			slog.Warn("error committing job", "topic", q.config.Topic, "error", err)
		}
	}
}

/*
Close closes the writer.
*/
func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}

/*
MemoryQueue is an in-process job queue (single node setups, tests).
*/
type MemoryQueue struct {
	jobs      chan PotentialJob
	closeOnce sync.Once
}

/*
NewMemoryQueue creates a queue buffering up to size jobs.
*/
func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{jobs: make(chan PotentialJob, size)}
}

// ErrQueueClosed is returned when publishing to a closed queue.
var ErrQueueClosed = errors.New("queue closed")

/*
Publish enqueues the jobs, blocking while the buffer is full.
*/
func (q *MemoryQueue) Publish(ctx context.Context, jobs ...PotentialJob) (err error) {
	defer func() {
		if recover() != nil {
			err = ErrQueueClosed
		}
	}()
	for _, job := range jobs {
		select {
		case q.jobs <- job:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

/*
Consume handles jobs until ctx is done or the queue is closed and drained.
*/
func (q *MemoryQueue) Consume(ctx context.Context, handle func(context.Context, PotentialJob) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-q.jobs:
			if !ok {
				return nil
			}
			err := handle(ctx, job)
			if err != nil {
				slog.Error("job handler failed", "unit", job.Unit.String(), "error", err)
			}
		}
	}
}

/*
Close stops accepting jobs; queued jobs are still delivered.
*/
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.jobs) })
	return nil
}
