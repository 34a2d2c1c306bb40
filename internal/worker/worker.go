// Package worker scores transactions submitted over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fraudshield/fraudshield/internal/domain"
	"github.com/fraudshield/fraudshield/internal/metrics"
	"github.com/google/uuid"
)

// SourceWorker marks predictions logged by the worker.
const SourceWorker = "worker"

// Scorer scores a single transaction.
type Scorer interface {
	Predict(ctx context.Context, rec domain.TransactionRecord) (*domain.PredictionResult, error)
}

// PredictionStore persists scored transactions.
type PredictionStore interface {
	SavePrediction(ctx context.Context, p *domain.PredictionLog) error
}

// FrequencyResolver derives a customer's transaction frequency.
type FrequencyResolver interface {
	Resolve(ctx context.Context, explicit *int, customerID string, fallback int) int
}

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	scorer    Scorer
	store     PredictionStore
	frequency FrequencyResolver

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker. store and frequency may be nil.
func NewWorker(eventBus domain.EventBus, scorer Scorer, store PredictionStore, frequency FrequencyResolver) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		scorer:    scorer,
		store:     store,
		frequency: frequency,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the submitted-transaction topic.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started", "topic", domain.TopicTransactionSubmitted)
	return nil
}

// TransactionMessage is the payload on TopicTransactionSubmitted.
type TransactionMessage struct {
	TxID        string                   `json:"txId"`
	CustomerID  string                   `json:"customerId,omitempty"`
	TraceID     string                   `json:"traceId,omitempty"`
	Transaction domain.TransactionRecord `json:"transaction"`

	// TransactionFrequency overrides Transaction.TransactionFrequency. When
	// both are absent and CustomerID is set the frequency is derived.
	TransactionFrequency *int `json:"transactionFrequency,omitempty"`
}

// handleMessage scores one submitted transaction.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	event, err := w.processTransaction(ctx, msg)
	if err != nil {
		metrics.WorkerMessagesTotal.WithLabelValues("error").Inc()
		w.reply(ctx, msg, map[string]string{"error": err.Error()})
		return err
	}
	metrics.WorkerMessagesTotal.WithLabelValues("scored").Inc()
	w.reply(ctx, msg, event)
	return nil
}

func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) (*domain.PredictionEvent, error) {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to parse transaction message: %w", err)
	}

	traceID := txMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	rec := txMsg.Transaction
	explicit := txMsg.TransactionFrequency
	if explicit == nil && rec.TransactionFrequency > 0 {
		explicit = &rec.TransactionFrequency
	}
	if w.frequency != nil {
		rec.TransactionFrequency = w.frequency.Resolve(ctx, explicit, txMsg.CustomerID, 1)
	} else if explicit != nil {
		rec.TransactionFrequency = *explicit
	} else {
		rec.TransactionFrequency = 1
	}

	result, err := w.scorer.Predict(ctx, rec)
	if err != nil {
		slog.Error("scoring failed",
			"tx_id", txMsg.TxID,
			"trace_id", traceID,
			"error", err,
		)
		return nil, err
	}

	event := &domain.PredictionEvent{
		ID:         uuid.New().String(),
		TxID:       txMsg.TxID,
		CustomerID: txMsg.CustomerID,
		TraceID:    traceID,
		Source:     SourceWorker,
		Result:     *result,
		ScoredAt:   time.Now().UTC(),
	}

	if w.store != nil {
		entry := &domain.PredictionLog{
			ID:         event.ID,
			CustomerID: txMsg.CustomerID,
			Source:     SourceWorker,
			Record:     rec.Canonical(),
			Result:     *result,
			CreatedAt:  event.ScoredAt,
		}
		if err := w.store.SavePrediction(ctx, entry); err != nil {
			slog.Error("failed to save prediction",
				"tx_id", txMsg.TxID,
				"error", err,
			)
		}
	}

	Publish(ctx, w.bus, event)

	slog.Info("transaction scored",
		"tx_id", txMsg.TxID,
		"prediction_id", event.ID,
		"is_fraud", result.IsFraud,
		"fraud_probability", result.FraudProbability,
		"risk_level", result.RiskLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return event, nil
}

// Publish sends event to the prediction topic and, for positive decisions,
// to the fraud alert topic. Failures are logged.
func Publish(ctx context.Context, eventBus domain.EventBus, event *domain.PredictionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal prediction event", "prediction_id", event.ID, "error", err)
		return
	}

	if err := eventBus.Publish(ctx, domain.TopicPrediction, payload); err != nil {
		slog.Error("failed to publish prediction",
			"prediction_id", event.ID,
			"error", err,
		)
	}

	if event.Result.IsFraud {
		if err := eventBus.Publish(ctx, domain.TopicFraudAlert, payload); err != nil {
			slog.Error("failed to publish fraud alert",
				"prediction_id", event.ID,
				"error", err,
			)
		}
	}
}

// reply answers a request-reply sender, if there is one.
func (w *Worker) reply(ctx context.Context, msg *domain.Message, v any) {
	replyTo := msg.ReplyTo()
	if replyTo == "" {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal reply", "message_id", msg.ID, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, replyTo, payload); err != nil {
		slog.Error("failed to publish reply",
			"message_id", msg.ID,
			"reply_to", replyTo,
			"error", err,
		)
	}
}

// Stop gracefully stops all subscriptions.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
