package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/fraudshield/fraudshield/internal/artifact"
	"github.com/fraudshield/fraudshield/internal/domain"
	"github.com/fraudshield/fraudshield/internal/features"
	"github.com/fraudshield/fraudshield/internal/forest"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// artifactVersion is bumped whenever the stored layout changes.
const artifactVersion = 1

// storedModel is the persisted form of one model generation.
type storedModel struct {
	Version   int            `json:"version"`
	TrainedAt time.Time      `json:"trained_at"`
	Source    string         `json:"source"`
	Rows      int            `json:"rows"`
	Accuracy  float64        `json:"accuracy"`
	Encoder   features.State `json:"encoder"`
	Forest    *forest.Forest `json:"forest"`
}

// LoadFromStorage restores the persisted model. It reports false when
// nothing is stored or the stored state cannot be used.
func (d *Detector) LoadFromStorage(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "detector.LoadFromStorage")
	defer span.End()

	d.trainMu.Lock()
	defer d.trainMu.Unlock()

	m, err := d.loadLocked(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Info("no stored model", "name", d.opts.ArtifactName)
		} else {
			slog.Warn("failed to load stored model", "name", d.opts.ArtifactName, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Bool("model.loaded", false))
		return false
	}
	span.SetAttributes(
		attribute.Bool("model.loaded", true),
		attribute.Float64("model.accuracy", m.accuracy),
	)
	return true
}

// loadLocked returns domain.ErrNotFound when nothing is stored and an
// ErrPersistence error when the stored state is unusable.
func (d *Detector) loadLocked(ctx context.Context) (*model, error) {
	if d.store == nil {
		return nil, domain.ErrNotFound
	}

	blob, err := d.store.LoadArtifact(ctx, d.opts.ArtifactName)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	m, err := decodeModel(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	d.publish(m)

	slog.Info("model loaded from storage",
		"name", d.opts.ArtifactName,
		"source", m.source,
		"trained_at", m.trainedAt,
		"accuracy", fmt.Sprintf("%.4f", m.accuracy),
	)
	return m, nil
}

// SaveToStorage persists the model in memory.
func (d *Detector) SaveToStorage(ctx context.Context) error {
	m := d.current.Load()
	if m == nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, domain.ErrModelNotTrained)
	}
	return d.save(ctx, m)
}

func (d *Detector) save(ctx context.Context, m *model) error {
	if d.store == nil {
		return fmt.Errorf("%w: no artifact store configured", domain.ErrPersistence)
	}

	blob, err := encodeModel(m)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	if err := d.store.SaveArtifact(ctx, d.opts.ArtifactName, blob); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	slog.Info("model saved", "name", d.opts.ArtifactName, "bytes", len(blob))
	return nil
}

func encodeModel(m *model) ([]byte, error) {
	state, err := m.encoder.State()
	if err != nil {
		return nil, err
	}
	return artifact.Encode(storedModel{
		Version:   artifactVersion,
		TrainedAt: m.trainedAt,
		Source:    m.source,
		Rows:      m.rows,
		Accuracy:  m.accuracy,
		Encoder:   state,
		Forest:    m.forest,
	})
}

func decodeModel(blob []byte) (*model, error) {
	var stored storedModel
	if err := artifact.Decode(blob, &stored); err != nil {
		return nil, err
	}
	if stored.Version != artifactVersion {
		return nil, fmt.Errorf("unsupported artifact version %d", stored.Version)
	}

	encoder, err := features.FromState(stored.Encoder)
	if err != nil {
		return nil, err
	}
	if stored.Forest == nil {
		return nil, fmt.Errorf("artifact has no classifier")
	}
	if err := stored.Forest.Validate(); err != nil {
		return nil, err
	}
	if stored.Forest.NumFeatures != features.NumFeatures {
		return nil, fmt.Errorf("classifier expects %d features, encoder produces %d", stored.Forest.NumFeatures, features.NumFeatures)
	}

	return &model{
		encoder:   encoder,
		forest:    stored.Forest,
		accuracy:  stored.Accuracy,
		source:    stored.Source,
		rows:      stored.Rows,
		trainedAt: stored.TrainedAt,
	}, nil
}

func seededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))
}
