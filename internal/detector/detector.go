// Package detector owns the fitted scoring state and exposes train, predict
// and persistence operations over it.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fraudshield/fraudshield/internal/dataset"
	"github.com/fraudshield/fraudshield/internal/domain"
	"github.com/fraudshield/fraudshield/internal/explain"
	"github.com/fraudshield/fraudshield/internal/features"
	"github.com/fraudshield/fraudshield/internal/forest"
	"github.com/fraudshield/fraudshield/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("fraudshield-detector")

// Training data sources reported in logs, metrics and ModelInfo.
const (
	SourceDataset   = "dataset"
	SourceSynthetic = "synthetic"
	SourceStorage   = "storage"
)

// DataSource supplies a raw training table. Load returns (nil, nil) when no
// table is available.
type DataSource interface {
	Load(ctx context.Context) (*dataset.Frame, error)
}

// Options configures a Detector.
type Options struct {
	Forest           forest.Config
	SyntheticSamples int
	Seed             uint64
	ArtifactName     string

	// ExtraRules are appended to the built-in risk rules.
	ExtraRules []explain.Rule
}

// DefaultOptions returns the production configuration.
func DefaultOptions() Options {
	return Options{
		Forest:           forest.DefaultConfig(),
		SyntheticSamples: dataset.DefaultSyntheticSamples,
		Seed:             42,
		ArtifactName:     "fraud_model",
	}
}

// OptionsFromConfig maps service configuration onto detector options.
func OptionsFromConfig(cfg domain.ModelConfig) Options {
	opts := DefaultOptions()
	if cfg.Trees > 0 {
		opts.Forest.Trees = cfg.Trees
	}
	if cfg.MaxDepth > 0 {
		opts.Forest.MaxDepth = cfg.MaxDepth
	}
	if cfg.TestFraction > 0 && cfg.TestFraction < 1 {
		opts.Forest.TestFraction = cfg.TestFraction
	}
	if cfg.SyntheticSamples > 0 {
		opts.SyntheticSamples = cfg.SyntheticSamples
	}
	if cfg.ArtifactName != "" {
		opts.ArtifactName = cfg.ArtifactName
	}
	opts.Seed = cfg.Seed
	opts.Forest.Seed = cfg.Seed
	return opts
}

// model is one generation of fitted state. It is never modified after it
// is published, so readers need no lock.
type model struct {
	encoder   *features.Encoder
	forest    *forest.Forest
	accuracy  float64
	source    string
	rows      int
	trainedAt time.Time
}

// Info describes the model currently in memory.
type Info struct {
	Ready           bool      `json:"ready"`
	Accuracy        float64   `json:"accuracy"`
	Source          string    `json:"source,omitempty"`
	TrainingRows    int       `json:"training_rows,omitempty"`
	TrainedAt       time.Time `json:"trained_at,omitempty"`
	Trees           int       `json:"trees,omitempty"`
	MerchantClasses []string  `json:"merchant_classes,omitempty"`
	PaymentClasses  []string  `json:"payment_classes,omitempty"`
}

// Detector scores transactions. The encoder, scaler and forest are swapped
// together as one generation; counters are updated atomically.
type Detector struct {
	opts      Options
	source    DataSource
	store     domain.ArtifactStore
	explainer *explain.Explainer

	current atomic.Pointer[model]

	// trainMu serializes Train, LoadFromStorage and lazy initialization.
	trainMu sync.Mutex

	totalPredictions atomic.Int64
	fraudDetected    atomic.Int64
}

// New creates a detector with no model in memory. source and store may be
// nil: training then always uses synthetic data and nothing is persisted.
func New(opts Options, source DataSource, store domain.ArtifactStore) (*Detector, error) {
	explainer, err := explain.New(opts.ExtraRules...)
	if err != nil {
		return nil, fmt.Errorf("failed to create explainer: %w", err)
	}
	if opts.ArtifactName == "" {
		opts.ArtifactName = "fraud_model"
	}
	if opts.SyntheticSamples <= 0 {
		opts.SyntheticSamples = dataset.DefaultSyntheticSamples
	}
	return &Detector{
		opts:      opts,
		source:    source,
		store:     store,
		explainer: explainer,
	}, nil
}

// Ready reports whether a model is loaded or trained.
func (d *Detector) Ready() bool {
	return d.current.Load() != nil
}

// Train fits a new model end to end, publishes it and persists it. A
// persistence failure is logged and does not fail training.
func (d *Detector) Train(ctx context.Context) (float64, error) {
	ctx, span := tracer.Start(ctx, "detector.Train")
	defer span.End()

	d.trainMu.Lock()
	defer d.trainMu.Unlock()

	m, err := d.trainLocked(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(
		attribute.String("training.source", m.source),
		attribute.Int("training.rows", m.rows),
		attribute.Float64("model.accuracy", m.accuracy),
	)
	return m.accuracy, nil
}

func (d *Detector) trainLocked(ctx context.Context) (*model, error) {
	start := time.Now()

	ds, source := d.trainingData(ctx)

	encoder, X, err := features.Fit(ds.Records())
	if err != nil {
		return nil, fmt.Errorf("failed to fit encoder: %w", err)
	}

	f := forest.New(d.opts.Forest)
	accuracy, err := f.Fit(X, ds.Labels())
	if err != nil {
		return nil, fmt.Errorf("failed to fit classifier: %w", err)
	}

	m := &model{
		encoder:   encoder,
		forest:    f,
		accuracy:  accuracy,
		source:    source,
		rows:      ds.Len(),
		trainedAt: time.Now().UTC(),
	}
	d.publish(m)

	duration := time.Since(start)
	metrics.TrainingRunsTotal.WithLabelValues(source).Inc()
	metrics.TrainingDuration.Observe(duration.Seconds())

	slog.Info("model trained",
		"source", source,
		"rows", ds.Len(),
		"fraud_pct", fmt.Sprintf("%.2f", ds.FraudRatio()*100),
		"trees", len(f.Trees),
		"accuracy", fmt.Sprintf("%.4f", accuracy),
		"duration_ms", duration.Milliseconds(),
	)

	if d.store != nil {
		if err := d.save(ctx, m); err != nil {
			slog.Error("failed to persist trained model", "error", err)
		}
	}
	return m, nil
}

// trainingData loads and normalizes the real dataset, falling back to
// synthetic data whenever the real one is absent or unusable.
func (d *Detector) trainingData(ctx context.Context) (*dataset.Dataset, string) {
	if ds, ok := d.realData(ctx); ok {
		return ds, SourceDataset
	}
	gen := dataset.NewGenerator(d.opts.SyntheticSamples, d.opts.Seed)
	slog.Info("generating synthetic training data", "samples", gen.Samples, "seed", gen.Seed)
	return gen.Generate(), SourceSynthetic
}

func (d *Detector) realData(ctx context.Context) (*dataset.Dataset, bool) {
	if d.source == nil {
		return nil, false
	}

	frame, err := d.source.Load(ctx)
	if err != nil {
		slog.Warn("failed to load dataset, using synthetic data", "error", err)
		return nil, false
	}
	if frame == nil {
		return nil, false
	}

	ds, report, err := dataset.Normalize(frame, seededRand(d.opts.Seed))
	if err != nil {
		slog.Warn("dataset unusable, using synthetic data", "error", err)
		return nil, false
	}
	if report.LabelDefaulted {
		slog.Warn("dataset has no fraud label, requires manual labeling before meaningful training")
	}

	if err := checkTrainable(ds); err != nil {
		slog.Warn("dataset unusable, using synthetic data", "error", err)
		return nil, false
	}
	return ds, true
}

// minTrainingRows is the smallest table a stratified split can serve.
const minTrainingRows = 10

// checkTrainable rejects datasets a binary classifier cannot learn from.
func checkTrainable(ds *dataset.Dataset) error {
	if ds.Len() < minTrainingRows {
		return &domain.DataFormatError{Column: dataset.ColIsFraud, Reason: fmt.Sprintf("only %d rows", ds.Len())}
	}
	fraud := ds.FraudCount()
	if fraud == 0 || fraud == ds.Len() {
		return &domain.DataFormatError{Column: dataset.ColIsFraud, Reason: "contains a single class"}
	}
	return nil
}

func (d *Detector) publish(m *model) {
	d.current.Store(m)
	metrics.ModelAccuracy.Set(m.accuracy)
	metrics.ModelReady.Set(1)
}

// ensureModel returns the current model, restoring or training one first
// when none is in memory.
func (d *Detector) ensureModel(ctx context.Context) (*model, error) {
	if m := d.current.Load(); m != nil {
		return m, nil
	}

	d.trainMu.Lock()
	defer d.trainMu.Unlock()

	// Another caller may have finished while we waited.
	if m := d.current.Load(); m != nil {
		return m, nil
	}
	m, err := d.loadLocked(ctx)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("stored model unusable, training a new one", "error", err)
	}
	return d.trainLocked(ctx)
}

// Predict scores rec. When no model is in memory one is restored from
// storage or trained first.
func (d *Detector) Predict(ctx context.Context, rec domain.TransactionRecord) (*domain.PredictionResult, error) {
	ctx, span := tracer.Start(ctx, "detector.Predict")
	defer span.End()

	rec = rec.Canonical()
	if err := rec.Validate(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	m, err := d.ensureModel(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	probability, err := m.score(rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := domain.NewPredictionResult(probability, d.explainer.Explain(rec, probability))
	metrics.PredictionDuration.Observe(time.Since(start).Seconds())

	d.totalPredictions.Add(1)
	if result.IsFraud {
		d.fraudDetected.Add(1)
	}
	metrics.PredictionsTotal.WithLabelValues(metrics.Decision(result.IsFraud)).Inc()

	span.SetAttributes(
		attribute.Float64("fraud.probability", result.FraudProbability),
		attribute.Bool("fraud.decision", result.IsFraud),
		attribute.String("fraud.risk_level", string(result.RiskLevel)),
	)
	return result, nil
}

func (m *model) score(rec domain.TransactionRecord) (float64, error) {
	x, err := m.encoder.Transform(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode transaction: %w", err)
	}
	p, err := m.forest.PredictProba(x)
	if err != nil {
		return 0, fmt.Errorf("failed to score transaction: %w", err)
	}
	return p, nil
}

// Stats returns a snapshot of the running counters. Accuracy is 0 until a
// model is ready.
func (d *Detector) Stats() domain.Stats {
	s := domain.Stats{
		TotalPredictions: d.totalPredictions.Load(),
		FraudDetected:    d.fraudDetected.Load(),
	}
	if m := d.current.Load(); m != nil {
		s.ModelAccuracy = m.accuracy
	}
	return s
}

// ModelInfo describes the model in memory.
func (d *Detector) ModelInfo() Info {
	m := d.current.Load()
	if m == nil {
		return Info{}
	}
	return Info{
		Ready:           true,
		Accuracy:        m.accuracy,
		Source:          m.source,
		TrainingRows:    m.rows,
		TrainedAt:       m.trainedAt,
		Trees:           len(m.forest.Trees),
		MerchantClasses: m.encoder.Merchants().Classes(),
		PaymentClasses:  m.encoder.Payments().Classes(),
	}
}

// Explainer returns the rule set used for risk factors.
func (d *Detector) Explainer() *explain.Explainer {
	return d.explainer
}
