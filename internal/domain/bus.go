package domain

import (
	"context"
	"time"
)

// EventBus carries scoring requests and results between components. The
// Community tier runs on Go channels, Pro on NATS.
type EventBus interface {
	// Publish delivers payload to every subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe calls handler for each message on topic until the returned
	// subscription is cancelled.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes payload and waits for one reply. Without a context
	// deadline it gives up after DefaultRequestTimeout.
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// DefaultRequestTimeout bounds Request calls whose context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// MetadataReplyTo is the metadata key holding the topic a requester waits on.
const MetadataReplyTo = "reply_to"

// MessageHandler processes one delivered message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus implementation transports.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// ReplyTo returns the reply topic, or "" when the sender expects no answer.
func (m *Message) ReplyTo() string {
	return m.Metadata[MetadataReplyTo]
}

// Subscription is an active topic registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus implementation.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds

	// NATSQueueGroup load-balances submitted transactions across worker
	// replicas. Prediction and alert topics always fan out.
	NATSQueueGroup string
}

// Topics of the scoring pipeline.
const (
	TopicTransactionSubmitted = "fraudshield.transaction.submitted"
	TopicPrediction           = "fraudshield.prediction"
	TopicFraudAlert           = "fraudshield.fraud.alert"
)
