package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const jobsQueue = "workflow_guard_jobs"

// RabbitMQ carries jobs from webhook intake to the worker pool through a
// durable queue. Publishing uses one mutex-guarded channel and consuming
// another. A delivery stays unacked until its job has run, so jobs lost to a
// crash or an expired shutdown deadline are redelivered.
type RabbitMQ struct {
	conn      *amqp.Connection
	publishMu sync.Mutex
	pubCh     *amqp.Channel

	ackMu     sync.Mutex
	consumeCh *amqp.Channel
	pending   map[string]amqp.Delivery // job ID -> unacked delivery
}

// NewRabbitMQ dials the broker at url and declares the jobs queue.
func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: failed to connect: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: failed to open publish channel: %w", err)
	}

	mq := &RabbitMQ{conn: conn, pubCh: pubCh, pending: map[string]amqp.Delivery{}}
	if _, err := pubCh.QueueDeclare(
		jobsQueue,
		true,  // durable
		false, // auto-delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		mq.Close()
		return nil, fmt.Errorf("rabbitmq: failed to declare queue %q: %w", jobsQueue, err)
	}
	log.Printf("[RabbitMQ] Queue declared: %q\n", jobsQueue)
	return mq, nil
}

// Dispatch publishes job as a persistent JSON message.
func (mq *RabbitMQ) Dispatch(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("rabbitmq: failed to marshal job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	mq.publishMu.Lock()
	defer mq.publishMu.Unlock()

	if err := mq.pubCh.PublishWithContext(ctx,
		"",        // default exchange
		jobsQueue, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.ID,
			Timestamp:    job.EnqueuedAt,
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("rabbitmq: failed to publish job %s: %w", job.ID, err)
	}

	log.Printf("[RabbitMQ] Published job %s (%s %s) to %q\n", job.ID, job.Kind, job.Key(), jobsQueue)
	return nil
}

// ConsumeJobs hands every delivery of the jobs queue to pool. A delivery is
// acked by Report once its job finished, and requeued if the pool refused it.
// Undecodable messages are discarded. At most prefetch deliveries are
// outstanding. It blocks until ctx ends or the broker closes the channel; the
// channel itself stays open for late acks until Close.
func (mq *RabbitMQ) ConsumeJobs(ctx context.Context, pool Dispatcher, prefetch int) error {
	ch, err := mq.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: failed to open consumer channel for %q: %w", jobsQueue, err)
	}
	if err := ch.Qos(max(prefetch, 1), 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("rabbitmq: failed to set prefetch on %q: %w", jobsQueue, err)
	}
	mq.ackMu.Lock()
	mq.consumeCh = ch
	mq.ackMu.Unlock()

	deliveries, err := ch.ConsumeWithContext(ctx,
		jobsQueue,
		"",    // consumer tag (auto-generated)
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: failed to register consumer on %q: %w", jobsQueue, err)
	}

	log.Printf("[RabbitMQ] Consumer started, listening on queue %q\n", jobsQueue)

	for d := range deliveries {
		mq.handle(ctx, pool, d)
	}
	return nil
}

func (mq *RabbitMQ) handle(ctx context.Context, pool Dispatcher, d amqp.Delivery) {
	job, err := decodeJob(d.Body)
	if err != nil {
		log.Printf("[RabbitMQ] Warning: could not decode delivery, discarding: %v\n", err)
		d.Nack(false, false) // requeue=false avoids a poison-message loop
		return
	}

	mq.ackMu.Lock()
	if _, dup := mq.pending[job.ID]; dup || job.ID == "" {
		job.ID = uuid.NewString()
	}
	mq.pending[job.ID] = d
	mq.ackMu.Unlock()

	if err := pool.Dispatch(ctx, job); err != nil {
		log.Printf("[RabbitMQ] Warning: could not hand off job %s, requeueing: %v\n", job.ID, err)
		mq.ackMu.Lock()
		delete(mq.pending, job.ID)
		mq.ackMu.Unlock()
		d.Nack(false, true)
	}
}

// Report acks the delivery that carried a finished job. Failed jobs are acked
// too: their errors are terminal and redelivery would repeat them. It is a
// WorkerPool reporter.
func (mq *RabbitMQ) Report(result JobResult) {
	mq.ackMu.Lock()
	defer mq.ackMu.Unlock()
	d, ok := mq.pending[result.Job.ID]
	if !ok {
		return
	}
	delete(mq.pending, result.Job.ID)
	if err := d.Ack(false); err != nil {
		log.Printf("[RabbitMQ] Warning: could not ack job %s, it will be redelivered: %v\n", result.Job.ID, err)
	}
}

func decodeJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return job, err
	}
	switch job.Kind {
	case JobRejectPullRequest, JobCancelWorkflowRun:
	default:
		return job, fmt.Errorf("%w: %q", ErrUnknownJobKind, job.Kind)
	}
	if job.InstallationID == 0 || job.Repository == "" {
		return job, fmt.Errorf("job %s is missing installation or repository", job.ID)
	}
	return job, nil
}

// Close releases the channels and the connection. Deliveries still unacked
// return to the queue.
func (mq *RabbitMQ) Close() {
	if mq.pubCh != nil {
		mq.pubCh.Close()
	}
	mq.ackMu.Lock()
	if mq.consumeCh != nil {
		mq.consumeCh.Close()
	}
	mq.ackMu.Unlock()
	if mq.conn != nil {
		mq.conn.Close()
	}
}
