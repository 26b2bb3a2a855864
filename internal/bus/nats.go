// Package bus is the NATS JetStream transport for the command queue.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"todoq/internal/queue"
)

// JobIDHeader carries the message key, mirroring the Kafka message key.
const JobIDHeader = "Job-Id"

const fetchWait = 5 * time.Second

type Config struct {
	URL        string        `yaml:"url"`
	Stream     string        `yaml:"stream"`
	Subject    string        `yaml:"subject"`
	DLQSubject string        `yaml:"dlq_subject"`
	Durable    string        `yaml:"durable"`
	AckWait    time.Duration `yaml:"ack_wait"`
}

func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = nats.DefaultURL
	}
	if strings.TrimSpace(c.Stream) == "" {
		c.Stream = "TODO_TASKS"
	}
	if strings.TrimSpace(c.Subject) == "" {
		c.Subject = "todo.tasks"
	}
	if strings.TrimSpace(c.DLQSubject) == "" {
		c.DLQSubject = c.Subject + ".dlq"
	}
	if strings.TrimSpace(c.Durable) == "" {
		c.Durable = "processor"
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("nats.url is required")
	}
	if strings.TrimSpace(c.Stream) == "" {
		return fmt.Errorf("nats.stream is required")
	}
	if strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("nats.subject is required")
	}
	if c.DLQSubject == c.Subject {
		return fmt.Errorf("nats.dlq_subject must differ from nats.subject")
	}
	return nil
}

type Client struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Client{nc: nc, js: js}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// EnsureStream creates the file-backed stream holding the job and
// dead-letter subjects if it does not exist yet.
func (c *Client) EnsureStream(cfg Config) error {
	_, err := c.js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info: %w", err)
	}
	subjects := []string{cfg.Subject}
	if cfg.DLQSubject != "" {
		subjects = append(subjects, cfg.DLQSubject)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: subjects,
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("add stream: %w", err)
	}
	return nil
}

// Publish implements queue.Publisher; topic is the subject.
func (c *Client) Publish(ctx context.Context, topic string, msg queue.Message) error {
	m := nats.NewMsg(topic)
	m.Data = msg.Value
	if msg.Key != "" {
		m.Header.Set(JobIDHeader, msg.Key)
	}
	if _, err := c.js.PublishMsg(m, nats.Context(ctx)); err != nil {
		return fmt.Errorf("jetstream publish: %w", err)
	}
	return nil
}

// Consumer pulls from a durable consumer with explicit acks. Messages that
// are not acked within AckWait are redelivered.
type Consumer struct {
	sub *nats.Subscription
}

func (c *Client) NewConsumer(cfg Config) (*Consumer, error) {
	sub, err := c.js.PullSubscribe(cfg.Subject, cfg.Durable,
		nats.BindStream(cfg.Stream),
		nats.AckExplicit(),
		nats.AckWait(cfg.AckWait),
	)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe: %w", err)
	}
	return &Consumer{sub: sub}, nil
}

func (c *Consumer) Poll(ctx context.Context) (queue.Message, error) {
	for {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := c.sub.Fetch(1, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return queue.Message{}, ctx.Err()
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return queue.Message{}, err
		}
		if len(msgs) == 0 {
			continue
		}
		return toMessage(msgs[0]), nil
	}
}

func (c *Consumer) Commit(ctx context.Context, msg queue.Message) error {
	m, ok := msg.Ref.(*nats.Msg)
	if !ok || m == nil {
		return fmt.Errorf("nats: message was not fetched by this consumer")
	}
	return m.AckSync(nats.Context(ctx))
}

func (c *Consumer) Close() error {
	if c == nil || c.sub == nil {
		return nil
	}
	return c.sub.Drain()
}

func toMessage(m *nats.Msg) queue.Message {
	key := ""
	if m.Header != nil {
		key = m.Header.Get(JobIDHeader)
	}
	return queue.Message{Key: key, Value: m.Data, Ref: m}
}
