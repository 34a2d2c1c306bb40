package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fraudshield/fraudshield/internal/bus"
	"github.com/fraudshield/fraudshield/internal/domain"
)

// stubScorer flags any transaction above 1000.
type stubScorer struct {
	mu   sync.Mutex
	seen []domain.TransactionRecord
	err  error
}

func (s *stubScorer) Predict(ctx context.Context, rec domain.TransactionRecord) (*domain.PredictionResult, error) {
	s.mu.Lock()
	s.seen = append(s.seen, rec)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if rec.Amount > 1000 {
		return domain.NewPredictionResult(0.92, []string{"High transaction amount"}), nil
	}
	return domain.NewPredictionResult(0.04, nil), nil
}

func (s *stubScorer) last() domain.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[len(s.seen)-1]
}

type memStore struct {
	mu   sync.Mutex
	logs []*domain.PredictionLog
}

func (s *memStore) SavePrediction(ctx context.Context, p *domain.PredictionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, p)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

type fixedFrequency int

func (f fixedFrequency) Resolve(ctx context.Context, explicit *int, customerID string, fallback int) int {
	if explicit != nil {
		return *explicit
	}
	if customerID == "" {
		return fallback
	}
	return int(f)
}

// collector records events published on a topic.
type collector struct {
	mu     sync.Mutex
	events []domain.PredictionEvent
}

func collect(t *testing.T, b domain.EventBus, topic string) *collector {
	t.Helper()
	c := &collector{}
	sub, err := b.Subscribe(context.Background(), topic, func(ctx context.Context, msg *domain.Message) error {
		var ev domain.PredictionEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return c
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) first() domain.PredictionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[0]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func submit(t *testing.T, b domain.EventBus, msg TransactionMessage) {
	t.Helper()
	payload, _ := json.Marshal(msg)
	if err := b.Publish(context.Background(), domain.TopicTransactionSubmitted, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

var ordinary = domain.TransactionRecord{
	Amount:               45,
	Hour:                 14,
	MerchantCategory:     "grocery",
	PaymentMethod:        "card",
	CustomerAge:          40,
	TransactionFrequency: 8,
	LocationRiskScore:    0.1,
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, &stubScorer{}, nil, nil)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicTransactionSubmitted {
			t.Errorf("unexpected stats: %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessTransaction", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		store := &memStore{}
		w := NewWorker(eventBus, &stubScorer{}, store, nil)
		w.Start()
		defer w.Stop()

		predictions := collect(t, eventBus, domain.TopicPrediction)
		alerts := collect(t, eventBus, domain.TopicFraudAlert)

		submit(t, eventBus, TransactionMessage{
			TxID:        "tx-001",
			CustomerID:  "cust-001",
			TraceID:     "trace-001",
			Transaction: ordinary,
		})

		waitFor(t, func() bool { return predictions.len() == 1 })

		ev := predictions.first()
		if ev.TxID != "tx-001" || ev.TraceID != "trace-001" || ev.CustomerID != "cust-001" {
			t.Errorf("unexpected event identity: %+v", ev)
		}
		if ev.Source != SourceWorker || ev.ID == "" {
			t.Errorf("unexpected event source/id: %+v", ev)
		}
		if ev.Result.IsFraud {
			t.Error("ordinary transaction flagged")
		}
		if store.count() != 1 {
			t.Errorf("expected 1 logged prediction, got %d", store.count())
		}
		if alerts.len() != 0 {
			t.Error("alert published for legitimate transaction")
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, &stubScorer{}, nil, nil)
		w.Start()
		defer w.Stop()

		alerts := collect(t, eventBus, domain.TopicFraudAlert)

		rec := ordinary
		rec.Amount = 5000
		submit(t, eventBus, TransactionMessage{TxID: "tx-alert", Transaction: rec})

		waitFor(t, func() bool { return alerts.len() == 1 })
		if ev := alerts.first(); !ev.Result.IsFraud || ev.Result.RiskLevel != domain.RiskHigh {
			t.Errorf("unexpected alert result: %+v", ev.Result)
		}
	})

	t.Run("FrequencyResolution", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		scorer := &stubScorer{}
		w := NewWorker(eventBus, scorer, nil, fixedFrequency(6))
		w.Start()
		defer w.Stop()

		predictions := collect(t, eventBus, domain.TopicPrediction)

		rec := ordinary
		rec.TransactionFrequency = 0
		three := 3

		cases := []struct {
			msg  TransactionMessage
			want int
		}{
			{TransactionMessage{TxID: "derived", CustomerID: "cust-1", Transaction: rec}, 6},
			{TransactionMessage{TxID: "override", CustomerID: "cust-1", Transaction: rec, TransactionFrequency: &three}, 3},
			{TransactionMessage{TxID: "anonymous", Transaction: rec}, 1},
			{TransactionMessage{TxID: "in-record", CustomerID: "cust-1", Transaction: ordinary}, 8},
		}
		for i, c := range cases {
			submit(t, eventBus, c.msg)
			waitFor(t, func() bool { return predictions.len() == i+1 })
			if got := scorer.last().TransactionFrequency; got != c.want {
				t.Errorf("%s: frequency = %d, want %d", c.msg.TxID, got, c.want)
			}
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, &stubScorer{}, nil, nil)
		w.Start()
		defer w.Stop()

		payload, _ := json.Marshal(TransactionMessage{TxID: "tx-req", Transaction: ordinary})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, domain.TopicTransactionSubmitted, payload)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		var ev domain.PredictionEvent
		if err := json.Unmarshal(reply, &ev); err != nil {
			t.Fatalf("failed to parse reply: %v", err)
		}
		if ev.TxID != "tx-req" || ev.Result.FraudProbability != 0.04 {
			t.Errorf("unexpected reply: %+v", ev)
		}
	})

	t.Run("ScoringFailure", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		store := &memStore{}
		w := NewWorker(eventBus, &stubScorer{err: errors.New("boom")}, store, nil)
		w.Start()
		defer w.Stop()

		payload, _ := json.Marshal(TransactionMessage{TxID: "tx-fail", Transaction: ordinary})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, domain.TopicTransactionSubmitted, payload)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		var body map[string]string
		if err := json.Unmarshal(reply, &body); err != nil {
			t.Fatalf("failed to parse reply: %v", err)
		}
		if body["error"] != "boom" {
			t.Errorf("unexpected error reply: %v", body)
		}
		if store.count() != 0 {
			t.Error("failed prediction should not be logged")
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		scorer := &stubScorer{}
		w := NewWorker(eventBus, scorer, nil, nil)

		msg := &domain.Message{ID: "m-1", Payload: []byte("{not json"), Metadata: map[string]string{}}
		if err := w.handleMessage(context.Background(), msg); err == nil {
			t.Error("expected parse error")
		}
		if len(scorer.seen) != 0 {
			t.Error("malformed payload should not be scored")
		}
	})
}

func TestTransactionMessageParsing(t *testing.T) {
	raw := `{"txId":"tx-123","customerId":"c-9","transaction":{"amount":1234.56,"hour":3,"merchant_category":"atm","payment_method":"card","customer_age":30,"transaction_frequency":0,"location_risk_score":0.8},"transactionFrequency":4}`

	var parsed TransactionMessage
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if parsed.TxID != "tx-123" || parsed.CustomerID != "c-9" {
		t.Errorf("unexpected identity: %+v", parsed)
	}
	if parsed.Transaction.Amount != 1234.56 || parsed.Transaction.MerchantCategory != "atm" {
		t.Errorf("unexpected transaction: %+v", parsed.Transaction)
	}
	if parsed.TransactionFrequency == nil || *parsed.TransactionFrequency != 4 {
		t.Errorf("expected frequency override 4, got %v", parsed.TransactionFrequency)
	}
}
