package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fraudshield/fraudshield/internal/domain"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// maxConnectBackoff caps the wait between initial connection attempts.
const maxConnectBackoff = 30 * time.Second

// NATSBus carries pipeline messages over NATS core subjects. Trace
// context rides in message headers so a worker span continues the API
// request that published the transaction.
type NATSBus struct {
	mu            sync.RWMutex
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
	queueGroup    string
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// NewNATSBus connects with the configured retry budget.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	return NewNATSBusContext(context.Background(), cfg)
}

// NewNATSBusContext connects to NATS, retrying with exponential backoff
// until the attempt budget is spent or ctx is cancelled.
func NewNATSBusContext(ctx context.Context, cfg domain.EventBusConfig) (*NATSBus, error) {
	cfg = natsDefaults(cfg)
	opts := natsOptions(cfg)

	conn, err := connectWithRetry(ctx, cfg.NATSMaxReconnects, time.Duration(cfg.NATSReconnectWait)*time.Second,
		func() (*nats.Conn, error) { return nats.Connect(cfg.NATSUrl, opts...) })
	if err != nil {
		return nil, err
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
		"queue_group", cfg.NATSQueueGroup,
	)

	return &NATSBus{
		conn:          conn,
		subscriptions: make(map[string]*natsSubscription),
		queueGroup:    cfg.NATSQueueGroup,
	}, nil
}

func natsDefaults(cfg domain.EventBusConfig) domain.EventBusConfig {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects <= 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait <= 0 {
		cfg.NATSReconnectWait = 5
	}
	return cfg
}

func natsOptions(cfg domain.EventBusConfig) []nats.Option {
	opts := []nats.Option{
		nats.Name("fraudshield"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

// connectWithRetry calls dial up to attempts times, doubling wait after
// each failure up to maxConnectBackoff.
func connectWithRetry(ctx context.Context, attempts int, wait time.Duration, dial func() (*nats.Conn, error)) (*nats.Conn, error) {
	var err error
	for i := 1; i <= attempts; i++ {
		var conn *nats.Conn
		if conn, err = dial(); err == nil {
			return conn, nil
		}
		if i == attempts {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", i,
			"max_attempts", attempts,
			"retry_in", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("NATS connect cancelled after %d attempts: %w", i, ctx.Err())
		case <-time.After(wait):
		}
		if wait *= 2; wait > maxConnectBackoff {
			wait = maxConnectBackoff
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", attempts, err)
}

// queueFor returns the queue group for topic. Only submitted
// transactions are work items; everything else is a broadcast.
func (b *NATSBus) queueFor(topic string) string {
	if topic == domain.TopicTransactionSubmitted {
		return b.queueGroup
	}
	return ""
}

// encodeMsg wraps payload in the bus envelope with ctx's trace headers.
func encodeMsg(ctx context.Context, topic string, payload []byte) (*nats.Msg, error) {
	data, err := json.Marshal(newMessage(topic, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	m := nats.NewMsg(topic)
	m.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(m.Header))
	return m, nil
}

// decodeMsg unwraps the envelope and returns ctx joined to the sender's
// trace. A NATS reply inbox is exposed as the message's reply topic.
func decodeMsg(ctx context.Context, m *nats.Msg) (context.Context, *domain.Message, error) {
	var msg domain.Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		return ctx, nil, err
	}
	if m.Reply != "" {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]string)
		}
		msg.Metadata[domain.MetadataReplyTo] = m.Reply
	}
	if m.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(m.Header))
	}
	return ctx, &msg, nil
}

// Publish sends a message to a NATS subject. Topics map to subjects
// unchanged.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	m, err := encodeMsg(ctx, topic, payload)
	if err != nil {
		return err
	}
	return b.conn.PublishMsg(m)
}

// Subscribe registers handler on topic, joining the configured queue
// group for work topics.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	cb := func(m *nats.Msg) {
		msgCtx, msg, err := decodeMsg(ctx, m)
		if err != nil {
			slog.Error("failed to unmarshal NATS message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(msgCtx, msg); err != nil {
			slog.Error("handler error", "subject", m.Subject, "message_id", msg.ID, "error", err)
		}
	}

	var natsSub *nats.Subscription
	var err error
	if queue := b.queueFor(topic); queue != "" {
		natsSub, err = b.conn.QueueSubscribe(topic, queue, cb)
	} else {
		natsSub, err = b.conn.Subscribe(topic, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{
		id:    uuid.New().String(),
		topic: topic,
		sub:   natsSub,
		bus:   b,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Request publishes to a NATS subject and waits on an inbox for the reply.
func (b *NATSBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	m, err := encodeMsg(ctx, topic, payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := requestContext(ctx)
	defer cancel()

	reply, err := b.conn.RequestMsgWithContext(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("request on %s: %w", topic, err)
	}

	var replyMsg domain.Message
	if err := json.Unmarshal(reply.Data, &replyMsg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	return replyMsg.Payload, nil
}

// Ping checks NATS connectivity.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains in-flight messages before closing the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	b.subscriptions = make(map[string]*natsSubscription)
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
