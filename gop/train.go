package gop

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ieee0824/gopscore/forest"
	"gonum.org/v1/gonum/mat"
)

// TrainConfig holds per-phone training parameters.
type TrainConfig struct {
	Forest      forest.Config
	BalanceSeed int64 // phone id is added to get each phone's balancing seed
}

// DefaultTrainConfig returns stock forest settings and balancing seed 0.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{Forest: forest.DefaultConfig()}
}

// Train fits one independent regressor per phone in ds. Phones are visited
// in ascending id order; a phone without samples gets no model.
func Train(ctx context.Context, ds *Dataset, cfg TrainConfig, log *slog.Logger) (*ModelSet, error) {
	log = orDiscard(log)
	if err := cfg.Forest.Validate(); err != nil {
		return nil, err
	}

	ms := NewModelSet()
	for _, ph := range ds.Phones() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		samples := ds.Groups[ph]
		balanced := Balance(samples, cfg.BalanceSeed+int64(ph))
		X, y := trainingMatrix(balanced)

		m := forest.NewRegressor(cfg.Forest)
		if err := m.Fit(ctx, X, y); err != nil {
			return nil, fmt.Errorf("phone %d: %w", ph, err)
		}
		r2, err := m.Score(X, y)
		if err != nil {
			return nil, fmt.Errorf("phone %d: %w", ph, err)
		}

		attrs := []any{"phone", ph, "samples", len(samples), "balanced", len(balanced), "r2", r2}
		if m.HasOOB {
			attrs = append(attrs, "oob_r2", m.OOBScore)
		}
		log.Info("model trained", attrs...)
		ms.Models[ph] = m
	}
	return ms, nil
}

// trainingMatrix packs samples into a row-major feature matrix and a label
// vector. All samples must share one feature dimension.
func trainingMatrix(samples []Sample) (*mat.Dense, []float64) {
	dim := len(samples[0].Feature)
	data := make([]float64, 0, len(samples)*dim)
	y := make([]float64, len(samples))
	for i, s := range samples {
		data = append(data, s.Feature...)
		y[i] = s.Score
	}
	return mat.NewDense(len(samples), dim, data), y
}
