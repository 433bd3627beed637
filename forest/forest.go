// Package forest implements a random forest of CART regression trees.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrNotFitted is returned when a prediction is requested before Fit.
var ErrNotFitted = errors.New("forest: regressor not fitted")

// Regressor is a random forest regressor. All fields are plain data so a
// fitted regressor can be encoded with gob or msgpack.
type Regressor struct {
	Config      Config
	NumFeatures int
	Trees       []Tree
	Importances []float64 // normalised mean impurity decrease per feature
	HasOOB      bool
	OOBScore    float64 // R^2 of out-of-bag predictions, valid when HasOOB
}

// NewRegressor creates an unfitted regressor.
func NewRegressor(cfg Config) *Regressor {
	return &Regressor{Config: cfg}
}

// Fit grows cfg.NumTrees trees on X (one sample per row) and y. Every tree
// draws its bootstrap sample from its own seed, derived from Config.Seed, so
// the fitted forest does not depend on Config.Jobs.
func (f *Regressor) Fit(ctx context.Context, X *mat.Dense, y []float64) error {
	if err := f.Config.Validate(); err != nil {
		return err
	}
	if X == nil || X.IsEmpty() {
		return errors.New("forest: empty training matrix")
	}
	rows, cols := X.Dims()
	if rows != len(y) {
		return fmt.Errorf("forest: %d rows but %d labels", rows, len(y))
	}

	raw := X.RawMatrix()
	cfg := f.Config
	master := rand.New(rand.NewSource(cfg.Seed))
	seeds := make([]int64, cfg.NumTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]Tree, cfg.NumTrees)
	importances := make([][]float64, cfg.NumTrees)
	inBag := make([][]bool, cfg.NumTrees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Jobs)
	for t := range trees {
		t := t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[t]))
			idx := make([]int, rows)
			if cfg.Bootstrap {
				bag := make([]bool, rows)
				for i := range idx {
					idx[i] = rng.Intn(rows)
					bag[idx[i]] = true
				}
				inBag[t] = bag
			} else {
				for i := range idx {
					idx[i] = i
				}
			}
			b := newTreeBuilder(raw.Data, raw.Stride, cols, y, cfg, rng)
			trees[t] = b.grow(idx)
			importances[t] = b.importances
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.NumFeatures = cols
	f.Trees = trees
	f.Importances = meanImportances(importances, cols)
	f.HasOOB = false
	if cfg.OOBScore {
		score, ok := f.oobScore(X, y, inBag)
		f.HasOOB = ok
		f.OOBScore = score
	}
	return nil
}

// Predict returns the mean prediction of all trees for one sample.
func (f *Regressor) Predict(x []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, ErrNotFitted
	}
	if len(x) != f.NumFeatures {
		return 0, fmt.Errorf("forest: sample has %d features, want %d", len(x), f.NumFeatures)
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

// PredictBatch predicts every row of X.
func (f *Regressor) PredictBatch(X mat.Matrix) ([]float64, error) {
	if len(f.Trees) == 0 {
		return nil, ErrNotFitted
	}
	rows, cols := X.Dims()
	if cols != f.NumFeatures {
		return nil, fmt.Errorf("forest: matrix has %d features, want %d", cols, f.NumFeatures)
	}
	out := make([]float64, rows)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, X)
		p, err := f.Predict(row)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

// Score returns the coefficient of determination of the predictions on X.
func (f *Regressor) Score(X mat.Matrix, y []float64) (float64, error) {
	pred, err := f.PredictBatch(X)
	if err != nil {
		return 0, err
	}
	if len(pred) != len(y) {
		return 0, fmt.Errorf("forest: %d rows but %d labels", len(pred), len(y))
	}
	return stat.RSquaredFrom(pred, y, nil), nil
}

// oobScore averages, for each sample, the trees that did not see it and
// returns R^2 over the samples that received at least one such prediction.
func (f *Regressor) oobScore(X *mat.Dense, y []float64, inBag [][]bool) (float64, bool) {
	rows, _ := X.Dims()
	var pred, truth []float64
	for i := 0; i < rows; i++ {
		x := X.RawRowView(i)
		var sum float64
		var n int
		for t := range f.Trees {
			if inBag[t][i] {
				continue
			}
			sum += f.Trees[t].Predict(x)
			n++
		}
		if n == 0 {
			continue
		}
		pred = append(pred, sum/float64(n))
		truth = append(truth, y[i])
	}
	if len(pred) < 2 {
		return 0, false
	}
	return stat.RSquaredFrom(pred, truth, nil), true
}

func meanImportances(perTree [][]float64, cols int) []float64 {
	out := make([]float64, cols)
	for _, imp := range perTree {
		total := floats.Sum(imp)
		if total == 0 {
			continue
		}
		floats.AddScaled(out, 1/total, imp)
	}
	if total := floats.Sum(out); total > 0 {
		floats.Scale(1/total, out)
	}
	return out
}
