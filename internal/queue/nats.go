package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/instant-demo/smake/internal/config"
	"github.com/instant-demo/smake/pkg/logging"
)

// Subject suffixes under the stream name.
const (
	subjectProvision = ".provision"
	subjectTerminate = ".terminate"
)

// Handler deadlines. They match the consumers' AckWait; every task is
// delivered at most once.
const (
	provisionTimeout = 30 * time.Second
	terminateTimeout = 60 * time.Second
)

func connect(cfg *config.QueueConfig) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NATSPublisher implements Publisher using NATS JetStream.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	cfg    *config.QueueConfig
}

// Compile-time check that NATSPublisher implements Publisher.
var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to NATS and ensures the work-queue stream exists.
func NewNATSPublisher(cfg *config.QueueConfig) (*NATSPublisher, error) {
	nc, js, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamConfig := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Fleet create and terminate tasks",
		Subjects: []string{
			cfg.StreamName + subjectProvision,
			cfg.StreamName + subjectTerminate,
		},
		Retention:    jetstream.WorkQueuePolicy,
		MaxConsumers: -1,
		MaxMsgs:      -1,
		MaxBytes:     -1,
		MaxAge:       24 * time.Hour,
		Storage:      jetstream.FileStorage,
		Replicas:     1,
		Discard:      jetstream.DiscardOld,
	}

	stream, err := js.CreateOrUpdateStream(ctx, streamConfig)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &NATSPublisher{
		nc:     nc,
		js:     js,
		stream: stream,
		cfg:    cfg,
	}, nil
}

// PublishProvisionTask publishes a provisioning task to the stream.
func (p *NATSPublisher) PublishProvisionTask(ctx context.Context, task ProvisionTask) error {
	return p.publish(ctx, subjectProvision, task.TaskID, task)
}

// PublishTerminateTask publishes a termination task to the stream.
func (p *NATSPublisher) PublishTerminateTask(ctx context.Context, task TerminateTask) error {
	return p.publish(ctx, subjectTerminate, task.TaskID, task)
}

func (p *NATSPublisher) publish(ctx context.Context, suffix, msgID string, task any) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	subject := p.cfg.StreamName + suffix
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("failed to publish %s task: %w", suffix[1:], err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}

// NATSConsumer implements Consumer using NATS JetStream pull consumers.
type NATSConsumer struct {
	nc               *nats.Conn
	js               jetstream.JetStream
	stream           jetstream.Stream
	provisionHandler ProvisionHandler
	terminateHandler TerminateHandler
	cfg              *config.QueueConfig
	logger           *logging.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
}

// Compile-time check that NATSConsumer implements Consumer.
var _ Consumer = (*NATSConsumer)(nil)

// NewNATSConsumer creates a new NATS JetStream consumer. The stream must
// already exist; NewNATSPublisher creates it.
func NewNATSConsumer(
	cfg *config.QueueConfig,
	provisionHandler ProvisionHandler,
	terminateHandler TerminateHandler,
	logger *logging.Logger,
) (*NATSConsumer, error) {
	nc, js, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get stream %s: %w", cfg.StreamName, err)
	}

	return &NATSConsumer{
		nc:               nc,
		js:               js,
		stream:           stream,
		provisionHandler: provisionHandler,
		terminateHandler: terminateHandler,
		cfg:              cfg,
		logger:           logger.With("component", "nats-consumer"),
	}, nil
}

// Start begins consuming messages with WorkerCount goroutines per task type.
func (c *NATSConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer already running")
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true
	c.mu.Unlock()

	provisionCons, err := c.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "provision-workers",
		Description:   "Workers that create pool instances",
		FilterSubject: c.cfg.StreamName + subjectProvision,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       provisionTimeout,
		MaxDeliver:    1,
		MaxAckPending: c.cfg.WorkerCount * 2,
	})
	if err != nil {
		return fmt.Errorf("failed to create provision consumer: %w", err)
	}

	terminateCons, err := c.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "terminate-workers",
		Description:   "Workers that terminate instances",
		FilterSubject: c.cfg.StreamName + subjectTerminate,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       terminateTimeout,
		MaxDeliver:    1,
		MaxAckPending: c.cfg.WorkerCount * 2,
	})
	if err != nil {
		return fmt.Errorf("failed to create terminate consumer: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.WorkerCount; i++ {
		wg.Add(2)
		go func(workerID int) {
			defer wg.Done()
			c.runWorker(provisionCons, "provision", workerID, c.processProvisionMessage)
		}(i)
		go func(workerID int) {
			defer wg.Done()
			c.runWorker(terminateCons, "terminate", workerID, c.processTerminateMessage)
		}(i)
	}

	go func() {
		wg.Wait()
		close(c.doneCh)
	}()

	c.logger.Info("NATS consumer started", "workersPerType", c.cfg.WorkerCount)
	return nil
}

// runWorker fetches one message at a time until Stop.
func (c *NATSConsumer) runWorker(cons jetstream.Consumer, kind string, workerID int, process func(jetstream.Msg, *logging.Logger)) {
	logger := c.logger.With("worker", kind, "workerID", workerID)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		msgs, err := cons.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) {
				logger.Warn("fetch error", "error", err)
			}
			continue
		}

		for msg := range msgs.Messages() {
			process(msg, logger)
		}

		if err := msgs.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("messages error", "error", err)
		}
	}
}

func (c *NATSConsumer) processProvisionMessage(msg jetstream.Msg, logger *logging.Logger) {
	var task ProvisionTask
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		logger.Error("malformed provision task", "error", err)
		_ = msg.Term()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), provisionTimeout)
	defer cancel()

	if err := c.provisionHandler(ctx, task); err != nil {
		logger.Error("provision task failed, dropping", "taskID", task.TaskID, "error", err)
		_ = msg.Term()
		return
	}
	_ = msg.Ack()
}

func (c *NATSConsumer) processTerminateMessage(msg jetstream.Msg, logger *logging.Logger) {
	var task TerminateTask
	if err := json.Unmarshal(msg.Data(), &task); err != nil {
		logger.Error("malformed terminate task", "error", err)
		_ = msg.Term()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), terminateTimeout)
	defer cancel()

	if err := c.terminateHandler(ctx, task); err != nil {
		logger.Error("terminate task failed, dropping", "taskID", task.TaskID, "error", err)
		_ = msg.Term()
		return
	}
	_ = msg.Ack()
}

// Stop gracefully stops the consumer.
func (c *NATSConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	close(c.stopCh)
	c.running = false
	c.mu.Unlock()

	select {
	case <-c.doneCh:
		c.logger.Info("all NATS consumer workers stopped")
	case <-ctx.Done():
		c.logger.Warn("NATS consumer stop timed out")
	}

	return c.nc.Drain()
}
